package png

import (
	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
)

// Color type, as defined by the PNG format.
const (
	ctGrayscale      = 0
	ctTrueColor      = 2
	ctPaletted       = 3
	ctGrayscaleAlpha = 4
	ctTrueColorAlpha = 6
)

// channelsOf returns the number of samples per pixel of a color type.
func channelsOf(colorType int) int {
	switch colorType {
	case ctTrueColor:
		return 3
	case ctGrayscaleAlpha:
		return 2
	case ctTrueColorAlpha:
		return 4
	}
	return 1
}

// checkDepth validates the bit depth against the color type.
func checkDepth(depth, colorType int) error {
	ok := false
	switch colorType {
	case ctGrayscale:
		ok = depth == 1 || depth == 2 || depth == 4 || depth == 8 || depth == 16
	case ctPaletted:
		ok = depth == 1 || depth == 2 || depth == 4 || depth == 8
	case ctTrueColor, ctGrayscaleAlpha, ctTrueColorAlpha:
		ok = depth == 8 || depth == 16
	default:
		return apperrors.Format("png.ihdr", "bad color type %d", colorType)
	}
	if !ok {
		return apperrors.Format("png.ihdr", "bit depth %d, color type %d", depth, colorType)
	}
	return nil
}

// transform converts unfiltered source rows into the decoded layout.
type transform struct {
	depth     int
	colorType int
	layout    core.ColorLayout

	palette []byte // RGB triples
	alpha   []byte // palette alpha from tRNS
	hasTRNS bool
	key     [3]uint16 // gray or RGB transparent sample
}

func newTransform(depth, colorType int, palette, alpha []byte, hasTRNS bool, key [3]uint16) *transform {
	t := &transform{
		depth:     depth,
		colorType: colorType,
		palette:   palette,
		alpha:     alpha,
		hasTRNS:   hasTRNS,
		key:       key,
	}
	t.layout = t.outputLayout()
	return t
}

func (t *transform) outputLayout() core.ColorLayout {
	wide := t.depth == 16
	switch t.colorType {
	case ctGrayscale:
		switch {
		case t.hasTRNS && wide:
			return core.LayoutGA16
		case t.hasTRNS:
			return core.LayoutGA8
		case wide:
			return core.LayoutGray16
		}
		return core.LayoutGray8
	case ctTrueColor:
		switch {
		case t.hasTRNS && wide:
			return core.LayoutRGBA16
		case t.hasTRNS:
			return core.LayoutRGBA8
		case wide:
			return core.LayoutRGB16
		}
		return core.LayoutRGB8
	case ctPaletted:
		if t.hasTRNS {
			return core.LayoutRGBA8
		}
		return core.LayoutRGB8
	case ctGrayscaleAlpha:
		if wide {
			return core.LayoutGA16
		}
		return core.LayoutGA8
	}
	if wide {
		return core.LayoutRGBA16
	}
	return core.LayoutRGBA8
}

// sourceBitsPerPixel returns the width of one undecoded pixel.
func (t *transform) sourceBitsPerPixel() int { return channelsOf(t.colorType) * t.depth }

// sample returns the x'th packed sample of a sub-byte row.
func (t *transform) sample(src []byte, x int) uint8 {
	bit := x * t.depth
	shift := 8 - t.depth - bit%8
	return (src[bit/8] >> uint(shift)) & uint8(1<<uint(t.depth)-1)
}

// apply writes width decoded pixels of src into dst.
func (t *transform) apply(dst, src []byte, width int) {
	switch t.colorType {
	case ctGrayscale:
		t.gray(dst, src, width)
	case ctTrueColor:
		t.trueColor(dst, src, width)
	case ctPaletted:
		t.paletted(dst, src, width)
	default:
		copy(dst, src[:t.layout.RowStride(uint32(width))])
	}
}

func (t *transform) gray(dst, src []byte, width int) {
	switch {
	case t.depth < 8:
		maxv := 1<<uint(t.depth) - 1
		for x := 0; x < width; x++ {
			v := t.sample(src, x)
			g := uint8(int(v) * 255 / maxv)
			if t.hasTRNS {
				dst[2*x] = g
				dst[2*x+1] = opaque8(uint16(v) != t.key[0])
			} else {
				dst[x] = g
			}
		}
	case t.depth == 8 && t.hasTRNS:
		for x := 0; x < width; x++ {
			dst[2*x] = src[x]
			dst[2*x+1] = opaque8(uint16(src[x]) != t.key[0])
		}
	case t.depth == 16 && t.hasTRNS:
		for x := 0; x < width; x++ {
			v := uint16(src[2*x])<<8 | uint16(src[2*x+1])
			dst[4*x], dst[4*x+1] = src[2*x], src[2*x+1]
			a := opaque8(v != t.key[0])
			dst[4*x+2], dst[4*x+3] = a, a
		}
	default:
		copy(dst, src[:width*t.depth/8])
	}
}

func (t *transform) trueColor(dst, src []byte, width int) {
	if !t.hasTRNS {
		copy(dst, src[:width*3*t.depth/8])
		return
	}
	if t.depth == 8 {
		for x := 0; x < width; x++ {
			r, g, b := src[3*x], src[3*x+1], src[3*x+2]
			dst[4*x], dst[4*x+1], dst[4*x+2] = r, g, b
			dst[4*x+3] = opaque8(uint16(r) != t.key[0] || uint16(g) != t.key[1] || uint16(b) != t.key[2])
		}
		return
	}
	for x := 0; x < width; x++ {
		s := src[6*x : 6*x+6]
		r := uint16(s[0])<<8 | uint16(s[1])
		g := uint16(s[2])<<8 | uint16(s[3])
		b := uint16(s[4])<<8 | uint16(s[5])
		copy(dst[8*x:8*x+6], s)
		a := opaque8(r != t.key[0] || g != t.key[1] || b != t.key[2])
		dst[8*x+6], dst[8*x+7] = a, a
	}
}

func (t *transform) paletted(dst, src []byte, width int) {
	n := len(t.palette) / 3
	for x := 0; x < width; x++ {
		var idx int
		if t.depth == 8 {
			idx = int(src[x])
		} else {
			idx = int(t.sample(src, x))
		}
		r, g, b, a := uint8(0), uint8(0), uint8(0), uint8(0xff)
		if idx < n {
			r, g, b = t.palette[3*idx], t.palette[3*idx+1], t.palette[3*idx+2]
			if idx < len(t.alpha) {
				a = t.alpha[idx]
			}
		}
		if t.hasTRNS {
			dst[4*x], dst[4*x+1], dst[4*x+2], dst[4*x+3] = r, g, b, a
		} else {
			dst[3*x], dst[3*x+1], dst[3*x+2] = r, g, b
		}
	}
}

func opaque8(opaque bool) uint8 {
	if opaque {
		return 0xff
	}
	return 0
}
