// Package decoder converts between decoded pixel buffers and image.Image, and
// provides whole-image fallback decoders for formats without a streaming
// session.
package decoder

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
)

// ToImage wraps a decoded pixel buffer in the closest image.Image type.
// Gray layouts become *image.Gray or *image.Gray16; everything else becomes
// *image.NRGBA or *image.NRGBA64.  Bottom-up buffers are flipped.
func ToImage(img *core.DecodedImage) (image.Image, error) {
	if img == nil || img.Pixels == nil {
		return nil, apperrors.New(apperrors.CategoryParameter, "decoder.to_image", apperrors.ErrEmptyInput)
	}
	l := img.Meta.Layout
	w, h := int(img.Meta.Width), int(img.Meta.Height)
	if img.RowStride < l.RowStride(img.Meta.Width) || len(img.Pixels) < img.RowStride*h {
		return nil, apperrors.New(apperrors.CategoryParameter, "decoder.to_image", apperrors.ErrBufferTooSmall)
	}
	rect := image.Rect(0, 0, w, h)
	row := func(y int) []byte {
		if img.Meta.Orientation == core.BottomUp {
			y = h - 1 - y
		}
		return img.Pixels[y*img.RowStride : y*img.RowStride+l.RowStride(img.Meta.Width)]
	}

	switch {
	case l == core.LayoutGray8:
		out := image.NewGray(rect)
		for y := 0; y < h; y++ {
			copy(out.Pix[y*out.Stride:], row(y))
		}
		return out, nil
	case l == core.LayoutGray16:
		out := image.NewGray16(rect)
		for y := 0; y < h; y++ {
			copy(out.Pix[y*out.Stride:], row(y))
		}
		return out, nil
	case l.BitDepth == 8:
		out := image.NewNRGBA(rect)
		for y := 0; y < h; y++ {
			expand(out.Pix[y*out.Stride:], row(y), l, 1)
		}
		return out, nil
	case l.BitDepth == 16:
		out := image.NewNRGBA64(rect)
		for y := 0; y < h; y++ {
			expand(out.Pix[y*out.Stride:], row(y), l, 2)
		}
		return out, nil
	}
	return nil, apperrors.Unsupported("decoder.to_image", "layout %+v", l)
}

// expand widens one row of a 1 to 4 channel layout to four channels of size
// bytes each.  Missing alpha is opaque.
func expand(dst, src []byte, l core.ColorLayout, size int) {
	px := l.BytesPerPixel()
	for i := 0; i+px <= len(src); i += px {
		s := src[i : i+px]
		d := dst[(i/px)*4*size:]
		var r, g, b, a []byte
		switch l.Channels {
		case 1:
			r, g, b = s[:size], s[:size], s[:size]
		case 2:
			r, g, b, a = s[:size], s[:size], s[:size], s[size:2*size]
		case 3:
			r, g, b = s[:size], s[size:2*size], s[2*size:3*size]
		default:
			r, g, b, a = s[:size], s[size:2*size], s[2*size:3*size], s[3*size:4*size]
		}
		copy(d[0:], r)
		copy(d[size:], g)
		copy(d[2*size:], b)
		if a != nil {
			copy(d[3*size:], a)
		} else {
			for k := 0; k < size; k++ {
				d[3*size+k] = 0xff
			}
		}
	}
}

// FromImage converts img to an RGBA8, top-down decoded image.
func FromImage(img image.Image, format core.Format) *core.DecodedImage {
	b := img.Bounds()
	n, ok := img.(*image.NRGBA)
	if !ok || b.Min != (image.Point{}) || n.Stride != 4*b.Dx() {
		n = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(n, n.Bounds(), img, b.Min, draw.Src)
	}
	return &core.DecodedImage{
		Format: format,
		Meta: core.Metadata{
			Format:      format,
			Width:       uint32(b.Dx()),
			Height:      uint32(b.Dy()),
			Layout:      core.LayoutRGBA8,
			Orientation: core.TopDown,
			Color:       core.ColorInfo{SRGBIntent: -1},
		},
		Pixels:    n.Pix,
		RowStride: n.Stride,
	}
}
