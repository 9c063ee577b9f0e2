package bmp_test

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/Skryldev/streamcodec/core"
	"github.com/Skryldev/streamcodec/utils"
)

// ── Fixture builders ──────────────────────────────────────────────────────────

type dibOpts struct {
	size        int // DIB header length
	width       int32
	height      int32
	bpp         uint16
	compression uint32
	clrUsed     uint32
	masks       [4]uint32 // stored inline when size >= 56
}

func dibHeader(o dibOpts) []byte {
	d := make([]byte, o.size)
	binary.LittleEndian.PutUint32(d[0:], uint32(o.size))
	if o.size == 12 {
		binary.LittleEndian.PutUint16(d[4:], uint16(o.width))
		binary.LittleEndian.PutUint16(d[6:], uint16(o.height))
		binary.LittleEndian.PutUint16(d[8:], 1)
		binary.LittleEndian.PutUint16(d[10:], o.bpp)
		return d
	}
	binary.LittleEndian.PutUint32(d[4:], uint32(o.width))
	binary.LittleEndian.PutUint32(d[8:], uint32(o.height))
	binary.LittleEndian.PutUint16(d[12:], 1)
	binary.LittleEndian.PutUint16(d[14:], o.bpp)
	binary.LittleEndian.PutUint32(d[16:], o.compression)
	binary.LittleEndian.PutUint32(d[32:], o.clrUsed)
	if o.size >= 56 {
		for i, m := range o.masks {
			binary.LittleEndian.PutUint32(d[40+4*i:], m)
		}
	}
	return d
}

// bmpFile assembles a file whose pixel data starts right after extra.
func bmpFile(dib, extra, pixels []byte) []byte {
	offset := 14 + len(dib) + len(extra)
	f := make([]byte, 14, offset+len(pixels))
	f[0], f[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(f[2:], uint32(offset+len(pixels)))
	binary.LittleEndian.PutUint32(f[10:], uint32(offset))
	f = append(f, dib...)
	f = append(f, extra...)
	return append(f, pixels...)
}

// palette encodes RGB triples as BGRX entries.
func palette(colors ...[3]byte) []byte {
	var p []byte
	for _, c := range colors {
		p = append(p, c[2], c[1], c[0], 0)
	}
	return p
}

func encodeBMP(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		t.Fatalf("bmp.Encode: %v", err)
	}
	return buf.Bytes()
}

func opaqueRGBA(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(40 * x), uint8(70 * y), uint8(x*y + 9), 0xff})
		}
	}
	return img
}

func grayImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 13)
	}
	return img
}

// palettedImage uses more than 16 colors so the encoder picks 8 bits per
// pixel.
func palettedImage(w, h int) *image.Paletted {
	pal := make(color.Palette, 20)
	for i := range pal {
		pal[i] = color.RGBA{uint8(i * 12), uint8(255 - i*12), uint8(i * 5), 0xff}
	}
	img := image.NewPaletted(image.Rect(0, 0, w, h), pal)
	for i := range img.Pix {
		img.Pix[i] = uint8(i % len(pal))
	}
	return img
}

// ── Session drivers ───────────────────────────────────────────────────────────

type driver struct {
	t    *testing.T
	data []byte
	pos  int
	step int
	src  *utils.FeedSource
}

func newDriver(t *testing.T, data []byte, step int) *driver {
	return &driver{t: t, data: data, step: step, src: utils.NewFeedSource(nil)}
}

// until repeats op, feeding step more bytes after every IncompleteInput.
func (d *driver) until(op func() core.Result) core.Result {
	d.t.Helper()
	for {
		res := op()
		if res != core.IncompleteInput || d.pos >= len(d.data) {
			return res
		}
		n := min(d.step, len(d.data)-d.pos)
		d.src.Feed(d.data[d.pos : d.pos+n])
		d.pos += n
	}
}

// pixelAt returns the decoded pixel at (x, y) as RGBA, opaque when the layout
// has no alpha.
func pixelAt(pix []byte, stride int, l core.ColorLayout, x, y int) [4]byte {
	off := y*stride + x*l.BytesPerPixel()
	if l.HasAlpha {
		return [4]byte{pix[off], pix[off+1], pix[off+2], pix[off+3]}
	}
	return [4]byte{pix[off], pix[off+1], pix[off+2], 0xff}
}

// assertMatches compares decoded pixels against the reference image.
func assertMatches(t *testing.T, pix []byte, stride int, l core.ColorLayout, ref image.Image) {
	t.Helper()
	b := ref.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(ref.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			want := [4]byte{c.R, c.G, c.B, c.A}
			if got := pixelAt(pix, stride, l, x, y); got != want {
				t.Fatalf("pixel (%d,%d): got %v, want %v", x, y, got, want)
			}
		}
	}
}
