// Package streamcodec decodes PNG (including APNG) and BMP images
// incrementally: sessions accept bytes as they arrive and hand out finished
// rows without ever blocking.
package streamcodec

import (
	"context"
	"image"
	"io"

	"github.com/Skryldev/streamcodec/adapters/bmp"
	"github.com/Skryldev/streamcodec/adapters/decoder"
	"github.com/Skryldev/streamcodec/adapters/encoder"
	"github.com/Skryldev/streamcodec/adapters/png"
	"github.com/Skryldev/streamcodec/config"
	"github.com/Skryldev/streamcodec/core"
	"github.com/Skryldev/streamcodec/hooks"
	"github.com/Skryldev/streamcodec/utils"
)

// Re-export Format constants for convenience.
const (
	PNG  = core.FormatPNG
	BMP  = core.FormatBMP
	JPEG = core.FormatJPEG
	WebP = core.FormatWebP
)

// Result codes, with their wire values.
const (
	Success            = core.Success
	FormatError        = core.FormatError
	ParameterError     = core.ParameterError
	UnsupportedFeature = core.UnsupportedFeature
	IncompleteInput    = core.IncompleteInput
	LimitsExceeded     = core.LimitsExceeded
	OtherError         = core.OtherError
	EndOfFrame         = core.EndOfFrame
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Processor is the primary entry point for decoding from io.Reader sources.
type Processor struct {
	inner *core.Processor
	reg   *core.DefaultRegistry
}

// New creates a fully wired Processor with streaming PNG and BMP sessions
// and whole-image JPEG and WebP fallbacks registered.  Unless cfg.LogLevel
// is empty, it logs to stderr at that level.
func New(cfg config.Config) *Processor {
	reg := core.NewRegistry()
	reg.RegisterFactory(core.FormatPNG, png.Factory{})
	reg.RegisterFactory(core.FormatBMP, bmp.Factory{})
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP(cfg.MaxImageBytes))

	inner := core.New(cfg, reg)
	if cfg.LogLevel != "" {
		inner.SetLogger(hooks.NewLevelLogger(cfg.LogLevel))
	}
	return &Processor{inner: inner, reg: reg}
}

// Inner exposes the underlying core.Processor for advanced use (e.g., direct
// registry access in tests).  Prefer the high-level API for normal usage.
func (p *Processor) Inner() *core.Processor { return p.inner }

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l core.Logger) { p.inner.SetLogger(l) }

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m core.MetricsCollector) { p.inner.SetMetrics(m) }

// AddHook registers an observer for session calls.
func (p *Processor) AddHook(h core.Hook) { p.inner.AddHook(h) }

// RegisterFactory registers a streaming session factory for the given format.
func (p *Processor) RegisterFactory(f core.Format, sf core.SessionFactory) { p.reg.RegisterFactory(f, sf) }

// RegisterDecoder registers a whole-image decoder for the given format.
func (p *Processor) RegisterDecoder(f core.Format, d core.Decoder) { p.reg.RegisterDecoder(f, d) }

// Start starts the background worker pool.
func (p *Processor) Start() { p.inner.Start() }

// Stop shuts down the worker pool.
func (p *Processor) Stop() { p.inner.Stop() }

// Decode decodes src synchronously.
func (p *Processor) Decode(ctx context.Context, src core.Source) (*core.DecodedImage, error) {
	return p.inner.Decode(ctx, src)
}

// DecodeStored decodes an object held by a storage adapter.
func (p *Processor) DecodeStored(ctx context.Context, store core.StorageAdapter, key core.StorageKey) (*core.DecodedImage, error) {
	return p.inner.DecodeStored(ctx, store, key)
}

// Batch decodes multiple sources concurrently.
func (p *Processor) Batch(ctx context.Context, sources []core.Source) ([]*core.DecodedImage, []error) {
	return p.inner.Batch(ctx, sources)
}

// Submit enqueues an async job for the worker pool.
func (p *Processor) Submit(job core.Job) error { return p.inner.Submit(job) }

// Stats returns lightweight processing statistics.
func (p *Processor) Stats() (processed, errors int64) {
	return p.inner.ProcessedCount(), p.inner.ErrorCount()
}

// ── Source constructors ────────────────────────────────────────────────────────

// FromReader creates a Source from an io.Reader.
func FromReader(r io.Reader) core.Source { return core.Source{Reader: r, Size: -1} }

// FromReaderWithMeta creates a Source with known size and content-type hints.
func FromReaderWithMeta(r io.Reader, size int64, contentType, name string) core.Source {
	return core.Source{Reader: r, Size: size, ContentType: contentType, Name: name}
}

// NewFeedSource returns a byte source the caller appends data to as it
// arrives.
func NewFeedSource(initial []byte) *utils.FeedSource { return utils.NewFeedSource(initial) }

// NewBytesSource returns a seekable byte source over b.
func NewBytesSource(b []byte) *utils.BytesSource { return utils.NewBytesSource(b) }

// ── Sessions ──────────────────────────────────────────────────────────────────

// NewPNGSession creates a resumable PNG/APNG session.
func NewPNGSession(src core.ByteSource, opts core.SessionOptions) *png.Session {
	return png.NewSession(src, opts)
}

// NewBMPSession creates a resumable BMP session.
func NewBMPSession(src core.ByteSource, opts core.SessionOptions) *bmp.Session {
	return bmp.NewSession(src, opts)
}

// NewBMPLegacySession creates a BMP session that decodes the whole file at
// once from a seekable source.
func NewBMPLegacySession(src core.SeekableSource, opts core.SessionOptions) *bmp.LegacySession {
	return bmp.NewLegacySession(src, opts)
}

// ── Output ────────────────────────────────────────────────────────────────────

// EncodePNG writes a decoded image to sink as PNG.
func EncodePNG(ctx context.Context, img *core.DecodedImage, sink core.WriteSink) error {
	return encoder.NewPNG().Encode(ctx, img, sink)
}

// ToImage wraps a decoded image for use with the image package.
func ToImage(img *core.DecodedImage) (image.Image, error) { return decoder.ToImage(img) }
