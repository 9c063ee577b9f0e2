package utils

// Source is the pull contract InputCursor reads from.  It matches
// core.ByteSource; utils cannot import core.
type Source interface {
	Read(p []byte) int
}

// InputCursor buffers bytes pulled from a Source so a parser can look ahead,
// give up, and retry later from the last committed offset.
//
// Slices returned by Peek and Next alias the internal buffer and are only
// valid until the next call to Ensure or Commit.
type InputCursor struct {
	src   Source
	buf   []byte
	pos   int   // read offset into buf
	mark  int   // committed offset into buf
	base  int64 // stream offset of buf[0]
	chunk int
}

// NewInputCursor returns a cursor over src that refills chunkSize bytes at a
// time.
func NewInputCursor(src Source, chunkSize int) *InputCursor {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	return &InputCursor{src: src, chunk: chunkSize}
}

// Ensure tries to make n unread bytes available.  It returns false when the
// source ran dry first; bytes read so far stay buffered.
func (c *InputCursor) Ensure(n int) bool {
	for len(c.buf)-c.pos < n {
		if !c.fill(n - (len(c.buf) - c.pos)) {
			return false
		}
	}
	return true
}

// Fill pulls whatever the source has right now without blocking on a target,
// and reports whether any byte arrived.
func (c *InputCursor) Fill() bool {
	return c.fill(1)
}

func (c *InputCursor) fill(want int) bool {
	if want < c.chunk {
		want = c.chunk
	}
	if cap(c.buf)-len(c.buf) < want {
		c.compact()
		if cap(c.buf)-len(c.buf) < want {
			grown := make([]byte, len(c.buf), len(c.buf)+want+len(c.buf)/2)
			copy(grown, c.buf)
			c.buf = grown
		}
	}
	n := c.src.Read(c.buf[len(c.buf):cap(c.buf)])
	if n <= 0 {
		return false
	}
	c.buf = c.buf[:len(c.buf)+n]
	return true
}

// compact drops committed bytes from the front of the buffer.
func (c *InputCursor) compact() {
	if c.mark == 0 {
		return
	}
	n := copy(c.buf, c.buf[c.mark:])
	c.buf = c.buf[:n]
	c.pos -= c.mark
	c.base += int64(c.mark)
	c.mark = 0
}

// Buffered returns the number of unread bytes already pulled from the source.
func (c *InputCursor) Buffered() int { return len(c.buf) - c.pos }

// Peek returns the next n unread bytes without consuming them.  Callers must
// Ensure(n) first.
func (c *InputCursor) Peek(n int) []byte { return c.buf[c.pos : c.pos+n] }

// Next consumes and returns the next n unread bytes.  Callers must Ensure(n)
// first.
func (c *InputCursor) Next(n int) []byte {
	p := c.buf[c.pos : c.pos+n]
	c.pos += n
	return p
}

// Skip consumes up to n buffered bytes and returns how many were skipped.
func (c *InputCursor) Skip(n int) int {
	if avail := len(c.buf) - c.pos; n > avail {
		n = avail
	}
	c.pos += n
	return n
}

// Commit makes everything consumed so far permanent.
func (c *InputCursor) Commit() { c.mark = c.pos }

// Rewind forgets everything consumed since the last Commit.
func (c *InputCursor) Rewind() { c.pos = c.mark }

// Offset returns the stream offset of the next unread byte.
func (c *InputCursor) Offset() int64 { return c.base + int64(c.pos) }
