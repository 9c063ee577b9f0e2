// Package vips is a libvips-backed whole-image fallback for formats that have
// no streaming session.
package vips

import (
	"context"
	"errors"
	"io"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
	"github.com/Skryldev/streamcodec/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
	// AutoRotate applies the EXIF orientation before pixels are exported.
	AutoRotate bool
	// MaxInputBytes caps the encoded input handed to libvips; 0 means no cap.
	MaxInputBytes int64
}

// Backend is a libvips-powered core.Decoder.  Safe for concurrent use across
// goroutines.
type Backend struct {
	cfg BackendConfig
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
		CollectStats:     true,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

func (b *Backend) CanDecode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatWebP:
		return true
	}
	return false
}

// Decode buffers r, lets libvips decode it, and exports 8-bit sRGB pixels
// with an alpha channel.
func (b *Backend) Decode(ctx context.Context, r io.Reader) (*core.DecodedImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}

	buf, err := utils.DrainLimited(ctx, r, 32*1024, b.cfg.MaxInputBytes)
	if errors.Is(err, utils.ErrReadLimit) {
		return nil, apperrors.New(apperrors.CategoryLimits, "vips.decode.drain", apperrors.ErrLimitExceeded)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.drain", err)
	}
	raw := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	ref, err := govips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFormat, "vips.decode", err)
	}
	defer ref.Close()

	format := vipsFormatToCore(ref.Format())
	if b.cfg.AutoRotate {
		if err := ref.AutoRotate(); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.rotate", err)
		}
	}
	if err := ref.ToColorSpace(govips.InterpretationSRGB); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.colorspace", err)
	}
	if !ref.HasAlpha() {
		if err := ref.AddAlpha(); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.alpha", err)
		}
	}
	if err := ref.Cast(govips.BandFormatUchar); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.cast", err)
	}
	pix, err := ref.ToBytes()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.export", err)
	}

	w, h := uint32(ref.Width()), uint32(ref.Height())
	return &core.DecodedImage{
		Format: format,
		Meta: core.Metadata{
			Format:      format,
			Width:       w,
			Height:      h,
			Layout:      core.LayoutRGBA8,
			Orientation: core.TopDown,
			Color:       core.ColorInfo{SRGBIntent: -1},
		},
		Pixels:    pix,
		RowStride: core.LayoutRGBA8.RowStride(w),
	}, nil
}

// RegisterVipsBackend routes every format without a streaming session to
// libvips.
func RegisterVipsBackend(reg core.Registry, b *Backend) {
	for _, f := range []core.Format{core.FormatJPEG, core.FormatWebP} {
		reg.RegisterDecoder(f, b)
	}
}

func vipsFormatToCore(f govips.ImageType) core.Format {
	switch f {
	case govips.ImageTypeJPEG:
		return core.FormatJPEG
	case govips.ImageTypePNG:
		return core.FormatPNG
	case govips.ImageTypeWEBP:
		return core.FormatWebP
	case govips.ImageTypeBMP:
		return core.FormatBMP
	default:
		return core.FormatUnknown
	}
}

// compile-time interface check
var _ core.Decoder = (*Backend)(nil)
