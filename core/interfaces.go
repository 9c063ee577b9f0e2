package core

import (
	"context"
	"io"
	"time"

	"github.com/Skryldev/streamcodec/config"
)

// ByteSource is the pull contract sessions read from.  Read copies up to
// len(p) bytes and returns how many it copied; 0 means nothing is available
// right now, which may or may not be the end of the stream.  It never fails.
type ByteSource interface {
	Read(p []byte) int
}

// SeekableSource is a ByteSource that can also reposition itself.  Only the
// whole-buffer BMP mode needs it.
type SeekableSource interface {
	ByteSource
	io.Seeker
}

// WriteSink receives encoded bytes.  Write reports false when the sink could
// not take all of p.
type WriteSink interface {
	Write(p []byte) bool
	Flush()
}

// Session is one resumable decode of one image.  A session is owned by a
// single caller; it never blocks and holds no locks.
//
// Every operation either makes progress or returns IncompleteInput without
// changing observable state.  Once a terminal Result is returned every later
// call returns it again.
type Session interface {
	Format() Format
	Phase() Phase

	// ReadMetadata parses the header.  Idempotent once it succeeded.
	ReadMetadata() Result
	// Metadata returns the parsed header once the phase is PhaseMetadataReady
	// or later.
	Metadata() (Metadata, bool)

	// ReadImageData decodes as much of the image into the session's pixel
	// buffer as the available input allows.
	ReadImageData() Result
	// PullNewRows returns the rows completed since the previous call.  The
	// slice aliases the pixel buffer and is valid until the next call on the
	// session.
	PullNewRows() (RowRange, []byte)

	// Pixels returns the whole pixel buffer (nil before allocation or after a
	// terminal error) and its row stride.
	Pixels() ([]byte, int)

	// Err returns the detailed cause of the last non-success result.
	Err() error
}

// InterlacedSession is a Session that can hand out sparse Adam7 rows.
type InterlacedSession interface {
	Session

	// NextInterlacedRow returns the next decoded row of the current frame.
	// The row is valid until the next call on the session.
	NextInterlacedRow() (Result, []byte)
	// LastInterlaceInfo describes the row most recently returned.
	LastInterlaceInfo() (InterlaceInfo, bool)
	// ExpandLastRow scatters src, a row laid out like the last row returned,
	// into dst.  It panics when no row has been read.
	ExpandLastRow(dst []byte, dstStride int, src []byte, bitsPerPixel int) Result
}

// AnimatedSession is an InterlacedSession that can iterate APNG frames.
type AnimatedSession interface {
	InterlacedSession

	FrameInfo() (FrameInfo, bool)
	AdvanceFrame() Result
}

// SessionOptions configures a new session.
type SessionOptions struct {
	Config config.Config
	Logger Logger // nil = discard
}

// SessionFactory sniffs a format and creates sessions for it.
type SessionFactory interface {
	Sniff(prefix []byte) bool
	NewSession(src ByteSource, opts SessionOptions) Session
}

// Decoder is a whole-image, non-resumable fallback for formats without a
// streaming session.
type Decoder interface {
	Decode(ctx context.Context, r io.Reader) (*DecodedImage, error)
	CanDecode(format Format) bool
}

// StorageAdapter persists encoded inputs and decoded pixel dumps.
type StorageAdapter interface {
	Put(ctx context.Context, key StorageKey, r io.Reader, meta map[string]string) error
	Get(ctx context.Context, key StorageKey) (io.ReadCloser, error)
	Delete(ctx context.Context, key StorageKey) error
	Exists(ctx context.Context, key StorageKey) (bool, error)
}

// MetricsCollector receives performance observations from the Processor.
type MetricsCollector interface {
	RecordCallTime(op string, d interface{ Seconds() float64 })
	RecordBytes(n int64)
	RecordRows(n int64)
	RecordResult(op string, result string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Hook is an optional observer invoked around every session operation the
// Processor performs.
type Hook interface {
	BeforeCall(ctx context.Context, op string, info CallInfo)
	AfterCall(ctx context.Context, op string, info CallInfo, d time.Duration, res Result)
}

// Registry maps Format values to session factories and fallback decoders.
type Registry interface {
	FactoryFor(format Format) (SessionFactory, bool)
	DecoderFor(format Format) (Decoder, bool)
	RegisterFactory(format Format, f SessionFactory)
	RegisterDecoder(format Format, d Decoder)
	// Sniff returns the first registered format whose factory recognizes
	// prefix.
	Sniff(prefix []byte) (Format, bool)
}
