package decoder

import (
	"context"
	"errors"
	"io"

	"golang.org/x/image/webp"

	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
	"github.com/Skryldev/streamcodec/utils"
)

// WebP decodes whole WebP images using golang.org/x/image/webp.
type WebP struct {
	// MaxBytes caps the encoded input; 0 means no cap.
	MaxBytes int64
}

// NewWebP returns a WebP decoder that refuses inputs over maxBytes.
func NewWebP(maxBytes int64) *WebP { return &WebP{MaxBytes: maxBytes} }

func (w *WebP) CanDecode(format core.Format) bool { return format == core.FormatWebP }

func (w *WebP) Decode(ctx context.Context, r io.Reader) (*core.DecodedImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.decode", err)
	}

	// x/image/webp wants the whole RIFF container; buffer it first.
	buf, err := utils.DrainLimited(ctx, r, 32*1024, w.MaxBytes)
	if err != nil {
		return nil, drainError("webp.drain", err)
	}
	defer utils.ReleaseBuffer(buf)

	img, err := webp.Decode(utils.BytesReader(buf.Bytes()))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFormat, "webp.decode", err)
	}
	return FromImage(img, core.FormatWebP), nil
}

func drainError(op string, err error) error {
	if errors.Is(err, utils.ErrReadLimit) {
		return apperrors.New(apperrors.CategoryLimits, op, apperrors.ErrLimitExceeded)
	}
	return apperrors.Wrap(apperrors.CategoryDecode, op, err)
}
