// Package encoder writes decoded images back out through a core.WriteSink.
package encoder

import (
	"context"
	"errors"
	"image/png"
	"sync"

	"github.com/Skryldev/streamcodec/adapters/decoder"
	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
)

// PNG encodes decoded images to PNG.
type PNG struct {
	Level png.CompressionLevel
}

func NewPNG() *PNG { return &PNG{Level: png.DefaultCompression} }

func (p *PNG) CanEncode(format core.Format) bool { return format == core.FormatPNG }

// Encode writes img to sink as a PNG stream and flushes the sink.  A sink
// that refuses bytes fails the encode with ErrSinkWrite.
func (p *PNG) Encode(ctx context.Context, img *core.DecodedImage, sink core.WriteSink) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryPipeline, "png.encode", err)
	}
	src, err := decoder.ToImage(img)
	if err != nil {
		return err
	}

	enc := &png.Encoder{CompressionLevel: p.Level, BufferPool: pool}
	if err := enc.Encode(sinkWriter{sink}, src); err != nil {
		if errors.Is(err, apperrors.ErrSinkWrite) {
			return apperrors.New(apperrors.CategoryIO, "png.encode", apperrors.ErrSinkWrite)
		}
		return apperrors.Wrap(apperrors.CategoryPipeline, "png.encode", err)
	}
	sink.Flush()
	return nil
}

// sinkWriter adapts a WriteSink to io.Writer.
type sinkWriter struct{ sink core.WriteSink }

func (w sinkWriter) Write(p []byte) (int, error) {
	if !w.sink.Write(p) {
		return 0, apperrors.ErrSinkWrite
	}
	return len(p), nil
}

// bufferPool reuses the encoder's scratch buffers between calls.
type bufferPool struct{ p sync.Pool }

func (b *bufferPool) Get() *png.EncoderBuffer {
	if v, ok := b.p.Get().(*png.EncoderBuffer); ok {
		return v
	}
	return nil
}

func (b *bufferPool) Put(e *png.EncoderBuffer) { b.p.Put(e) }

var pool = &bufferPool{}
