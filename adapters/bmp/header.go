package bmp

import (
	"encoding/binary"
	"math/bits"

	apperrors "github.com/Skryldev/streamcodec/errors"
	"github.com/Skryldev/streamcodec/utils"
)

// Compression, as per the BITMAPINFOHEADER documentation.
const (
	biRGB            = 0
	biRLE8           = 1
	biRLE4           = 2
	biBitfields      = 3
	biJPEG           = 4
	biPNG            = 5
	biAlphaBitfields = 6
)

const fileHeaderLen = 14

// header is the parsed BITMAPFILEHEADER, DIB header, masks and palette.
type header struct {
	fileSize    uint32
	offset      uint32
	dibLen      uint32
	width       uint32
	height      uint32
	topDown     bool
	bpp         int
	compression uint32

	masks   [4]uint32 // red, green, blue, alpha
	palette []byte    // RGB triples

	consumed int // bytes from the start of the file through the palette
}

func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func le32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

func incomplete() error { return apperrors.Incomplete("bmp.header") }

// parseHeader reads everything up to the end of the palette.  On success the
// cursor has consumed header.consumed bytes; the caller commits or rewinds.
func parseHeader(c *utils.InputCursor) (header, error) {
	var h header
	if !c.Ensure(fileHeaderLen + 4) {
		return h, incomplete()
	}
	b := c.Peek(fileHeaderLen + 4)
	if !utils.IsBMPData(b) {
		return h, apperrors.Format("bmp.header", "not a BMP file")
	}
	h.fileSize = le32(b[2:])
	h.offset = le32(b[10:])
	h.dibLen = le32(b[14:])
	switch h.dibLen {
	case 12, 40, 52, 56, 64, 108, 124:
	default:
		if h.dibLen < 12 {
			return h, apperrors.Format("bmp.header", "bad DIB header size %d", h.dibLen)
		}
		return h, apperrors.Unsupported("bmp.header", "DIB header size %d", h.dibLen)
	}

	n := fileHeaderLen + int(h.dibLen)
	if !c.Ensure(n) {
		return h, incomplete()
	}
	d := c.Peek(n)[fileHeaderLen:]
	if err := h.parseDIB(d); err != nil {
		return h, err
	}

	// A plain INFO header keeps its masks right after it.
	if h.dibLen == 40 && (h.compression == biBitfields || h.compression == biAlphaBitfields) {
		m := 12
		if h.compression == biAlphaBitfields {
			m = 16
		}
		if !c.Ensure(n + m) {
			return h, incomplete()
		}
		mb := c.Peek(n + m)[n:]
		for i := 0; i < m/4; i++ {
			h.masks[i] = le32(mb[4*i:])
		}
		n += m
	}
	if err := h.settleMasks(); err != nil {
		return h, err
	}

	if h.bpp <= 8 {
		entry := 4
		if h.dibLen == 12 {
			entry = 3
		}
		count := h.paletteCount(d)
		if room := (int(h.offset) - n) / entry; int(h.offset) >= n && count > room {
			count = room
		}
		if !c.Ensure(n + count*entry) {
			return h, incomplete()
		}
		pb := c.Peek(n + count*entry)[n:]
		h.palette = make([]byte, 3*count)
		for i := 0; i < count; i++ {
			e := pb[i*entry:]
			h.palette[3*i], h.palette[3*i+1], h.palette[3*i+2] = e[2], e[1], e[0]
		}
		n += count * entry
	}

	if int(h.offset) < n {
		return h, apperrors.Format("bmp.header", "pixel data offset %d overlaps the header", h.offset)
	}
	c.Next(n)
	h.consumed = n
	return h, nil
}

func (h *header) parseDIB(d []byte) error {
	if h.dibLen == 12 {
		h.width = uint32(le16(d[4:]))
		h.height = uint32(le16(d[6:]))
		h.bpp = int(le16(d[10:]))
		h.compression = biRGB
	} else {
		w := int32(le32(d[4:]))
		ht := int32(le32(d[8:]))
		if w <= 0 || ht == 0 || ht == -1<<31 {
			return apperrors.Format("bmp.header", "invalid dimensions %dx%d", w, ht)
		}
		h.width = uint32(w)
		if ht < 0 {
			h.topDown = true
			ht = -ht
		}
		h.height = uint32(ht)
		h.bpp = int(le16(d[14:]))
		h.compression = le32(d[16:])
		if h.dibLen >= 52 {
			h.masks[0], h.masks[1], h.masks[2] = le32(d[40:]), le32(d[44:]), le32(d[48:])
		}
		if h.dibLen >= 56 {
			h.masks[3] = le32(d[52:])
		}
	}
	if h.width == 0 || h.height == 0 {
		return apperrors.Format("bmp.header", "invalid dimensions %dx%d", h.width, h.height)
	}

	if h.dibLen == 64 && (h.compression == 3 || h.compression == 4) {
		return apperrors.Unsupported("bmp.header", "OS/2 compression %d", h.compression)
	}
	switch h.compression {
	case biJPEG, biPNG:
		return apperrors.Unsupported("bmp.header", "embedded JPEG or PNG data")
	case biRGB:
	case biRLE8:
		if h.bpp != 8 {
			return apperrors.Format("bmp.header", "RLE8 with %d bits per pixel", h.bpp)
		}
	case biRLE4:
		if h.bpp != 4 {
			return apperrors.Format("bmp.header", "RLE4 with %d bits per pixel", h.bpp)
		}
	case biBitfields, biAlphaBitfields:
		if h.bpp != 16 && h.bpp != 32 {
			return apperrors.Format("bmp.header", "bit fields with %d bits per pixel", h.bpp)
		}
	default:
		return apperrors.Unsupported("bmp.header", "compression %d", h.compression)
	}
	if h.isRLE() && h.topDown {
		return apperrors.Format("bmp.header", "top-down RLE bitmap")
	}

	switch h.bpp {
	case 1, 4, 8, 16, 24, 32:
	case 2, 64:
		return apperrors.Unsupported("bmp.header", "%d bits per pixel", h.bpp)
	default:
		return apperrors.Format("bmp.header", "bad bits per pixel %d", h.bpp)
	}
	return nil
}

// settleMasks fills in the implied masks of uncompressed 16 and 32 bit data.
func (h *header) settleMasks() error {
	switch {
	case h.compression == biRGB && h.bpp == 16:
		h.masks = [4]uint32{0x7c00, 0x03e0, 0x001f, 0}
	case h.compression == biRGB && h.bpp == 32:
		h.masks = [4]uint32{0xff0000, 0xff00, 0xff, 0}
	case h.compression == biBitfields && h.dibLen == 40:
		h.masks[3] = 0
	}
	if h.bpp == 16 {
		for _, m := range h.masks {
			if m > 0xffff {
				return apperrors.Format("bmp.header", "bit mask %#x wider than 16 bits", m)
			}
		}
	}
	return nil
}

func (h *header) paletteCount(d []byte) int {
	limit := 1 << uint(h.bpp)
	if h.dibLen >= 36 {
		if used := int(le32(d[32:])); used > 0 && used < limit {
			return used
		}
	}
	return limit
}

func (h *header) isRLE() bool { return h.compression == biRLE8 || h.compression == biRLE4 }

// rowStride is the padded size of one stored row.
func (h *header) rowStride() int { return ((h.bpp*int(h.width) + 31) / 32) * 4 }

func (h *header) hasAlpha() bool { return h.isRLE() || ((h.bpp == 16 || h.bpp == 32) && h.masks[3] != 0) }

// channel extracts one masked field and scales it to 8 bits.
type channel struct {
	mask  uint32
	shift int
	width int
}

func newChannel(mask uint32) channel {
	if mask == 0 {
		return channel{}
	}
	shift := bits.TrailingZeros32(mask)
	return channel{mask: mask, shift: shift, width: bits.OnesCount32(mask >> uint(shift))}
}

func (c channel) value(px uint32) uint8 {
	if c.width == 0 {
		return 0
	}
	v := (px & c.mask) >> uint(c.shift)
	switch {
	case c.width >= 8:
		return uint8(v >> uint(c.width-8))
	default:
		return uint8(v * 255 / (1<<uint(c.width) - 1))
	}
}
