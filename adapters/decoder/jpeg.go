package decoder

import (
	"context"
	"image/jpeg"
	"io"

	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
)

// JPEG decodes whole JPEG images using the standard library.
type JPEG struct{}

// NewJPEG returns an initialised JPEG decoder.
func NewJPEG() *JPEG { return &JPEG{} }

func (j *JPEG) CanDecode(format core.Format) bool { return format == core.FormatJPEG }

func (j *JPEG) Decode(ctx context.Context, r io.Reader) (*core.DecodedImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}
	img, err := jpeg.Decode(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFormat, "jpeg.decode", err)
	}
	return FromImage(img, core.FormatJPEG), nil
}
