package utils

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// bufPool reuses byte buffers to reduce GC pressure.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// AcquireBuffer returns a reset buffer from the pool.
func AcquireBuffer() *bytes.Buffer {
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// ReleaseBuffer returns b to the pool.  Callers must not use b after this call.
func ReleaseBuffer(b *bytes.Buffer) {
	// Cap large buffers to avoid pinning excessive memory.
	if b.Cap() > 8*1024*1024 {
		return
	}
	bufPool.Put(b)
}

// DrainReader reads all bytes from r into a pooled buffer and returns them.
// The caller owns the returned buffer; pass it back with ReleaseBuffer.
func DrainReader(ctx context.Context, r io.Reader, chunkSize int) (*bytes.Buffer, error) {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	buf := AcquireBuffer()
	chunk := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			ReleaseBuffer(buf)
			return nil, err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			ReleaseBuffer(buf)
			return nil, err
		}
	}
	return buf, nil
}

// ErrReadLimit is returned by LimitedReader once the stream proves longer
// than its limit.
var ErrReadLimit = errors.New("utils: read limit exceeded")

// DrainLimited is DrainReader with r capped at max bytes; max <= 0 means no
// cap.
func DrainLimited(ctx context.Context, r io.Reader, chunkSize int, max int64) (*bytes.Buffer, error) {
	if max > 0 {
		r = &LimitedReader{R: r, Max: max}
	}
	return DrainReader(ctx, r, chunkSize)
}

// LimitedReader wraps R and fails with ErrReadLimit when R holds more than Max
// bytes.  A stream of exactly Max bytes ends with R's own io.EOF.
type LimitedReader struct {
	R   io.Reader
	Max int64
	n   int64
}

func (l *LimitedReader) Read(p []byte) (int, error) {
	if l.n >= l.Max && l.Max > 0 {
		var extra [1]byte
		n, err := l.R.Read(extra[:])
		if n == 0 {
			return 0, err
		}
		return 0, ErrReadLimit
	}
	if l.Max > 0 {
		remain := l.Max - l.n
		if int64(len(p)) > remain {
			p = p[:remain]
		}
	}
	n, err := l.R.Read(p)
	l.n += int64(n)
	return n, err
}

// ── Byte sources ──────────────────────────────────────────────────────────────

// FeedSource is a ByteSource the caller appends data to.  Read hands out
// whatever has been fed and not yet read, and returns 0 when it has caught up;
// that is "nothing right now", not end of stream.
//
// FeedSource is not safe for concurrent use.
type FeedSource struct {
	data []byte
	off  int
}

// NewFeedSource returns a FeedSource preloaded with a copy of initial.
func NewFeedSource(initial []byte) *FeedSource {
	return &FeedSource{data: CloneBytes(initial)}
}

// Feed appends p to the pending bytes.
func (f *FeedSource) Feed(p []byte) {
	if f.off > 0 && f.off == len(f.data) {
		f.data = f.data[:0]
		f.off = 0
	}
	f.data = append(f.data, p...)
}

// Pending returns the number of fed bytes not yet read.
func (f *FeedSource) Pending() int { return len(f.data) - f.off }

func (f *FeedSource) Read(p []byte) int {
	n := copy(p, f.data[f.off:])
	f.off += n
	return n
}

// ReaderSource adapts an io.Reader to the ByteSource contract.  Errors,
// including io.EOF, are recorded and surface as 0-byte reads.
type ReaderSource struct {
	R   io.Reader
	err error
}

func (r *ReaderSource) Read(p []byte) int {
	if r.err != nil || len(p) == 0 {
		return 0
	}
	n, err := r.R.Read(p)
	if err != nil {
		r.err = err
	}
	return n
}

// Err returns the first error the underlying reader reported.
func (r *ReaderSource) Err() error { return r.err }

// BytesSource is a seekable ByteSource over an in-memory buffer.
type BytesSource struct {
	data []byte
	off  int64
}

// NewBytesSource returns a BytesSource over b.  b is not copied.
func NewBytesSource(b []byte) *BytesSource { return &BytesSource{data: b} }

func (b *BytesSource) Read(p []byte) int {
	if b.off >= int64(len(b.data)) {
		return 0
	}
	n := copy(p, b.data[b.off:])
	b.off += int64(n)
	return n
}

// Seek implements io.Seeker.  Seeking past the end is allowed; reads there
// return 0.
func (b *BytesSource) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = b.off + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, errors.New("utils: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("utils: negative position")
	}
	b.off = abs
	return abs, nil
}

// BufferSink is a WriteSink that collects everything written to it.  When
// Limit is positive, a write that would grow the buffer past Limit is
// refused.
type BufferSink struct {
	bytes.Buffer
	Limit   int
	Flushes int
}

func (s *BufferSink) Write(p []byte) bool {
	if s.Limit > 0 && s.Len()+len(p) > s.Limit {
		return false
	}
	s.Buffer.Write(p)
	return true
}

func (s *BufferSink) Flush() { s.Flushes++ }
