package bmp

import (
	apperrors "github.com/Skryldev/streamcodec/errors"
)

// decodeRows converts every complete stored row the cursor can supply.
func (s *Session) decodeRows() error {
	srcStride := s.hdr.rowStride()
	conv := s.converter()
	for s.fileRows < s.meta.Height {
		if !s.cur.Ensure(srcStride) {
			return apperrors.Incomplete("bmp.pixels")
		}
		off := s.imageRow(s.fileRows) * s.stride
		conv(s.pixels[off:off+s.stride], s.cur.Next(srcStride))
		s.cur.Commit()
		s.fileRows++
	}
	return nil
}

// converter returns the function that turns one stored row into RGB8 or
// RGBA8 pixels.
func (s *Session) converter() func(dst, src []byte) {
	h := &s.hdr
	w := int(h.width)
	switch h.bpp {
	case 1, 4, 8:
		return func(dst, src []byte) {
			for x := 0; x < w; x++ {
				idx := paletteIndex(src, x, h.bpp)
				putPalette(dst[3*x:], h.palette, idx)
			}
		}
	case 24:
		return func(dst, src []byte) {
			for x := 0; x < w; x++ {
				dst[3*x], dst[3*x+1], dst[3*x+2] = src[3*x+2], src[3*x+1], src[3*x]
			}
		}
	}

	r, g, b, a := newChannel(h.masks[0]), newChannel(h.masks[1]), newChannel(h.masks[2]), newChannel(h.masks[3])
	alpha := h.masks[3] != 0
	read := func(src []byte, x int) uint32 { return le32(src[4*x:]) }
	if h.bpp == 16 {
		read = func(src []byte, x int) uint32 { return uint32(le16(src[2*x:])) }
	}
	return func(dst, src []byte) {
		for x := 0; x < w; x++ {
			px := read(src, x)
			if alpha {
				dst[4*x], dst[4*x+1], dst[4*x+2], dst[4*x+3] = r.value(px), g.value(px), b.value(px), a.value(px)
			} else {
				dst[3*x], dst[3*x+1], dst[3*x+2] = r.value(px), g.value(px), b.value(px)
			}
		}
	}
}

// paletteIndex returns the x'th index of a 1, 4 or 8 bit row, most
// significant bits first.
func paletteIndex(src []byte, x, bpp int) int {
	switch bpp {
	case 8:
		return int(src[x])
	case 4:
		return int(src[x/2]>>(4*uint(1-x%2))) & 0x0f
	}
	return int(src[x/8]>>(7-uint(x%8))) & 1
}

// putPalette writes the RGB of a palette entry; indices past the palette are
// opaque black.
func putPalette(dst, palette []byte, idx int) {
	if 3*idx+2 < len(palette) {
		dst[0], dst[1], dst[2] = palette[3*idx], palette[3*idx+1], palette[3*idx+2]
		return
	}
	dst[0], dst[1], dst[2] = 0, 0, 0
}
