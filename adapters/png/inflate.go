package png

import (
	"errors"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"

	apperrors "github.com/Skryldev/streamcodec/errors"
)

// compressed accumulates the zlib stream of one frame.  Reads see bytes
// appended after the reader was created, so a reader that has not yet hit the
// end keeps working as data trickles in.
type compressed struct {
	data   []byte
	rpos   int
	closed bool // no more data chunks will arrive for this frame
}

func (c *compressed) Read(p []byte) (int, error) {
	if c.rpos >= len(c.data) {
		return 0, io.EOF
	}
	n := copy(p, c.data[c.rpos:])
	c.rpos += n
	return n, nil
}

func (c *compressed) ReadByte() (byte, error) {
	if c.rpos >= len(c.data) {
		return 0, io.EOF
	}
	b := c.data[c.rpos]
	c.rpos++
	return b, nil
}

// replayLimit is the amount of compressed input below which a stalled reader
// is rebuilt and replayed.  Past it the reader is only driven while enough
// unread input is buffered that it cannot run dry.
const replayLimit = 256 << 10

// safeInput bounds the compressed input one read of n bytes can pull in.  A
// single flate step fills up to a 32 KiB window, and no code spends more than
// two input bytes per output byte; the extra KiB covers a block header.
func safeInput(n int) int { return 2*(n+32<<10) + 1<<10 }

// inflater produces the decompressed bytes of a frame on demand.
//
// A flate reader that runs out of input is unusable.  While the frame's data
// is small such a reader is rebuilt and fast-forwarded past the bytes already
// handed out.  Larger frames keep a single reader alive and hold reads back
// until safeInput bytes are buffered or the data is complete.
type inflater struct {
	in       compressed
	zr       io.ReadCloser
	stale    bool
	seen     int // len(in.data) when the reader last went stale
	consumed int64
	closedAt bool
	rebuilds int
}

func (f *inflater) append(p []byte) { f.in.data = append(f.in.data, p...) }

func (f *inflater) close() { f.in.closed = true }

func (f *inflater) size() int { return len(f.in.data) }

// read fills dst completely or reports why it could not.
func (f *inflater) read(dst []byte) error {
	if f.zr == nil || f.stale {
		if f.stale && len(f.in.data) == f.seen && f.in.closed == f.closedAt {
			return apperrors.Incomplete("png.inflate")
		}
		// A large stream is replayed once, with enough input past the stall
		// that neither the fast-forward nor this read can run dry again.
		if f.stale && !f.in.closed && len(f.in.data) > replayLimit && len(f.in.data)-f.seen < safeInput(len(dst)) {
			return apperrors.Incomplete("png.inflate")
		}
		if err := f.rebuild(); err != nil {
			return f.fail(err)
		}
	}
	if f.held(len(dst)) {
		return apperrors.Incomplete("png.inflate")
	}
	if _, err := io.ReadFull(f.zr, dst); err != nil {
		return f.fail(err)
	}
	f.consumed += int64(len(dst))
	return nil
}

// held reports whether a read of n bytes must wait for more input.
func (f *inflater) held(n int) bool {
	if f.in.closed || len(f.in.data) <= replayLimit {
		return false
	}
	return len(f.in.data)-f.in.rpos < safeInput(n)
}

func (f *inflater) rebuild() error {
	f.rebuilds++
	f.in.rpos = 0
	f.stale = false
	if f.zr == nil {
		zr, err := zlib.NewReader(&f.in)
		if err != nil {
			return midStream(err)
		}
		f.zr = zr
	} else if err := f.zr.(zlib.Resetter).Reset(&f.in, nil); err != nil {
		return midStream(err)
	}
	if f.consumed > 0 {
		if _, err := io.CopyN(io.Discard, f.zr, f.consumed); err != nil {
			return midStream(err)
		}
	}
	return nil
}

// midStream treats running out of input while re-reading known data as
// truncation rather than a clean end of stream.
func midStream(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (f *inflater) fail(err error) error {
	f.stale = true
	f.seen = len(f.in.data)
	f.closedAt = f.in.closed
	var corrupt flate.CorruptInputError
	switch {
	case err == io.EOF:
		// The zlib stream ended cleanly before the frame had all its rows.
		return apperrors.Format("png.inflate", "%w", apperrors.ErrNotEnoughPixelData)
	case err == io.ErrUnexpectedEOF:
		if f.in.closed {
			return apperrors.Format("png.inflate", "%w", apperrors.ErrNotEnoughPixelData)
		}
		return apperrors.Incomplete("png.inflate")
	case errors.As(err, &corrupt),
		errors.Is(err, zlib.ErrHeader),
		errors.Is(err, zlib.ErrChecksum),
		errors.Is(err, zlib.ErrDictionary):
		return apperrors.Format("png.inflate", "%v", err)
	default:
		return apperrors.Wrap(apperrors.CategoryDecode, "png.inflate", err)
	}
}
