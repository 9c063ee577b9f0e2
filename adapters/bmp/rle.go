package bmp

import (
	apperrors "github.com/Skryldev/streamcodec/errors"
)

// rleState is the position of an RLE decode.  y counts stored rows from the
// bottom of the image.
type rleState struct {
	x, y uint32
	done bool
}

func (r *rleState) completeRows(height uint32) uint32 {
	if r.done || r.y >= height {
		return height
	}
	return r.y
}

// decodeRLE runs RLE8 or RLE4 opcodes until the end of the bitmap.  Each
// opcode is consumed whole or not at all.  Pixels the stream skips stay
// transparent.
func (s *Session) decodeRLE() error {
	rle := &s.rle
	h := s.meta.Height
	rle4 := s.hdr.compression == biRLE4
	for !rle.done && rle.y < h {
		if !s.cur.Ensure(2) {
			return apperrors.Incomplete("bmp.rle")
		}
		op := s.cur.Peek(2)
		n, code := int(op[0]), op[1]
		switch {
		case n > 0:
			// A run of n pixels; RLE4 alternates between two indices.
			for k := 0; k < n; k++ {
				idx := code
				if rle4 {
					idx = code >> 4
					if k%2 == 1 {
						idx = code & 0x0f
					}
				}
				s.putRLE(int(idx))
			}
			s.cur.Next(2)
		case code == 0:
			rle.x = 0
			rle.y++
			s.cur.Next(2)
		case code == 1:
			rle.done = true
			s.cur.Next(2)
		case code == 2:
			if !s.cur.Ensure(4) {
				return apperrors.Incomplete("bmp.rle")
			}
			d := s.cur.Next(4)
			rle.x += uint32(d[2])
			rle.y += uint32(d[3])
		default:
			// A literal run of code indices, padded to a 16-bit boundary.
			count := int(code)
			size := count
			if rle4 {
				size = (count + 1) / 2
			}
			size = (size + 1) &^ 1
			if !s.cur.Ensure(2 + size) {
				return apperrors.Incomplete("bmp.rle")
			}
			lit := s.cur.Next(2 + size)[2:]
			for k := 0; k < count; k++ {
				if rle4 {
					s.putRLE(paletteIndex(lit, k, 4))
				} else {
					s.putRLE(int(lit[k]))
				}
			}
		}
		s.cur.Commit()
	}
	rle.done = true
	return nil
}

// putRLE writes one pixel at the current position and advances it.  Writes
// past the right edge are dropped.
func (s *Session) putRLE(idx int) {
	rle := &s.rle
	if rle.x < s.meta.Width && rle.y < s.meta.Height {
		off := s.imageRow(rle.y)*s.stride + 4*int(rle.x)
		putPalette(s.pixels[off:], s.hdr.palette, idx)
		s.pixels[off+3] = 0xff
	}
	rle.x++
}
