package png_test

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/Skryldev/streamcodec/core"
	"github.com/Skryldev/streamcodec/utils"
)

// ── PNG construction helpers ──────────────────────────────────────────────────

func chunk(typ string, data []byte) []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(len(data)))
	out = append(out, typ...)
	out = append(out, data...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out[4:]))
}

func ihdr(w, h, depth, colorType int, interlaced bool) []byte {
	d := binary.BigEndian.AppendUint32(nil, uint32(w))
	d = binary.BigEndian.AppendUint32(d, uint32(h))
	il := byte(0)
	if interlaced {
		il = 1
	}
	d = append(d, byte(depth), byte(colorType), 0, 0, il)
	return chunk("IHDR", d)
}

var testAdam7 = [7][4]int{
	{0, 0, 8, 8}, {4, 0, 8, 8}, {0, 4, 4, 8}, {2, 0, 4, 4},
	{0, 2, 2, 4}, {1, 0, 2, 2}, {0, 1, 1, 2},
}

func paethPredict(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := absInt(p-int(a)), absInt(p-int(b)), absInt(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// filterRow applies filter type ft to cur and prefixes the filter byte.
func filterRow(ft byte, cur, prev []byte, bpp int) []byte {
	out := make([]byte, 1+len(cur))
	out[0] = ft
	for i := range cur {
		var a, c byte
		if i >= bpp {
			a, c = cur[i-bpp], prev[i-bpp]
		}
		b := prev[i]
		switch ft {
		case 0:
			out[1+i] = cur[i]
		case 1:
			out[1+i] = cur[i] - a
		case 2:
			out[1+i] = cur[i] - b
		case 3:
			out[1+i] = cur[i] - byte((int(a)+int(b))/2)
		case 4:
			out[1+i] = cur[i] - paethPredict(a, b, c)
		}
	}
	return out
}

// scanlines serializes byte-aligned pixel rows, cycling through every filter
// type.
func scanlines(rows [][]byte, w, h, bpp int, interlaced bool) []byte {
	var out []byte
	n := 0
	emit := func(cur, prev []byte) {
		out = append(out, filterRow(byte(n%5), cur, prev, bpp)...)
		n++
	}
	if !interlaced {
		prev := make([]byte, w*bpp)
		for _, r := range rows {
			emit(r, prev)
			prev = r
		}
		return out
	}
	for _, p := range testAdam7 {
		var prev []byte
		for y := p[1]; y < h; y += p[3] {
			var cur []byte
			for x := p[0]; x < w; x += p[2] {
				cur = append(cur, rows[y][x*bpp:(x+1)*bpp]...)
			}
			if len(cur) == 0 {
				continue
			}
			if prev == nil {
				prev = make([]byte, len(cur))
			}
			emit(cur, prev)
			prev = cur
		}
	}
	return out
}

func deflate(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return buf.Bytes()
}

// idats splits z into IDAT chunks of at most size bytes.
func idats(z []byte, size int) []byte {
	var out []byte
	for len(z) > 0 {
		n := min(size, len(z))
		out = append(out, chunk("IDAT", z[:n])...)
		z = z[n:]
	}
	return out
}

type pngOpts struct {
	depth, colorType int
	interlaced       bool
	before           [][]byte // chunks between IHDR and IDAT
	idatSize         int
}

// buildPNG assembles a complete file from byte-aligned rows.
func buildPNG(t *testing.T, rows [][]byte, w int, o pngOpts) []byte {
	t.Helper()
	h := len(rows)
	bpp := max(1, len(rows[0])/w)
	z := deflate(t, scanlines(rows, w, h, bpp, o.interlaced))
	if o.idatSize == 0 {
		o.idatSize = 64
	}
	out := []byte(utils.PNGSignature)
	out = append(out, ihdr(w, h, o.depth, o.colorType, o.interlaced)...)
	for _, c := range o.before {
		out = append(out, c...)
	}
	out = append(out, idats(z, o.idatSize)...)
	return append(out, chunk("IEND", nil)...)
}

// gradientRows returns h rows of w pixels with bpp bytes each.
func gradientRows(w, h, bpp int) [][]byte {
	rows := make([][]byte, h)
	for y := range rows {
		rows[y] = make([]byte, w*bpp)
		for i := range rows[y] {
			rows[y][i] = byte(y*31 + i*7 + (i%bpp)*50)
		}
	}
	return rows
}

// ── Session drivers ───────────────────────────────────────────────────────────

type driver struct {
	t    *testing.T
	data []byte
	pos  int
	step int // bytes fed per IncompleteInput
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
		if res != core.IncompleteInput {
			return res
		}
		if d.pos >= len(d.data) {
			return res
		}
		n := min(d.step, len(d.data)-d.pos)
		d.src.Feed(d.data[d.pos : d.pos+n])
		d.pos += n
	}
}

func concat(rows [][]byte) []byte {
	var out []byte
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
