package png

import (
	"errors"

	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
)

// errFrameDone is returned by rowDecoder.next once every row of the frame has
// been produced.
var errFrameDone = errors.New("png: frame complete")

// rowDecoder turns the compressed stream of one frame into unfiltered rows,
// pass by pass.
type rowDecoder struct {
	width, height uint32
	interlaced    bool
	bitsPP        int
	filterBPP     int

	passes  []passGeom
	passIdx int
	passRow uint32

	cr, pr    []byte // current and previous filtered rows, filter byte included
	resetPrev bool
	done      bool

	z inflater
}

func newRowDecoder(width, height uint32, interlaced bool, bitsPP int) *rowDecoder {
	d := &rowDecoder{
		width:      width,
		height:     height,
		interlaced: interlaced,
		bitsPP:     bitsPP,
		filterBPP:  (bitsPP + 7) / 8,
		passes:     framePasses(width, height, interlaced),
	}
	n := 1 + d.rowBytes(width)
	d.cr = make([]byte, n)
	d.pr = make([]byte, n)
	d.done = len(d.passes) == 0
	return d
}

func (d *rowDecoder) rowBytes(width uint32) int { return (d.bitsPP*int(width) + 7) / 8 }

// inflatedSize returns the number of decompressed bytes the frame needs.
func (d *rowDecoder) inflatedSize() int64 {
	var total int64
	for _, p := range d.passes {
		total += int64(p.height) * int64(1+d.rowBytes(p.width))
	}
	return total
}

// next decodes one row.  The returned slice excludes the filter byte and is
// valid until the following call.
func (d *rowDecoder) next() (core.InterlaceInfo, []byte, error) {
	if d.done {
		return core.InterlaceInfo{}, nil, errFrameDone
	}
	if d.resetPrev {
		clear(d.pr)
		d.resetPrev = false
	}
	p := d.passes[d.passIdx]
	n := 1 + d.rowBytes(p.width)
	cr, pr := d.cr[:n], d.pr[:n]
	if err := d.z.read(cr); err != nil {
		return core.InterlaceInfo{}, nil, err
	}
	if !unfilter(cr[0], cr[1:], pr[1:], d.filterBPP) {
		return core.InterlaceInfo{}, nil, apperrors.Format("png.unfilter", "bad filter type %d", cr[0])
	}
	info := core.InterlaceInfo{
		Pass:    p.index,
		PassRow: d.passRow,
		Line:    lineOf(p.index, d.passRow),
		Width:   p.width,
	}
	d.cr, d.pr = d.pr, d.cr

	d.passRow++
	if d.passRow == p.height {
		d.passIdx++
		d.passRow = 0
		d.resetPrev = true
		d.done = d.passIdx == len(d.passes)
	}
	return info, cr[1:], nil
}

// completeRows returns how many leading rows of the frame hold final pixels.
// An interlaced row is final only once pass 7 has reached it.
func (d *rowDecoder) completeRows() uint32 {
	if d.done {
		return d.height
	}
	p := d.passes[d.passIdx]
	switch p.index {
	case 0:
		return d.passRow
	case 7:
		return min(d.height, 2*d.passRow+1)
	}
	return 0
}
