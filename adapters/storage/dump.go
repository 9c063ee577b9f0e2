package storage

import (
	"encoding/json"

	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
)

// dumpHeader is the sidecar describing a raw pixel dump.
type dumpHeader struct {
	Format      core.Format      `json:"format"`
	Width       uint32           `json:"width"`
	Height      uint32           `json:"height"`
	Layout      core.ColorLayout `json:"layout"`
	Orientation core.Orientation `json:"orientation"`
	RowStride   int              `json:"row_stride"`
}

func headerOf(img *core.DecodedImage) dumpHeader {
	return dumpHeader{
		Format:      img.Format,
		Width:       img.Meta.Width,
		Height:      img.Meta.Height,
		Layout:      img.Meta.Layout,
		Orientation: img.Meta.Orientation,
		RowStride:   img.RowStride,
	}
}

// fromDump rebuilds an image from its sidecar and pixel bytes.
func fromDump(op string, sidecar, pix []byte) (*core.DecodedImage, error) {
	var h dumpHeader
	if err := json.Unmarshal(sidecar, &h); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, op+".meta", err)
	}
	if len(pix) < h.RowStride*int(h.Height) {
		return nil, apperrors.New(apperrors.CategoryStorage, op, apperrors.ErrTruncated)
	}
	return &core.DecodedImage{
		Format: h.Format,
		Meta: core.Metadata{
			Format:      h.Format,
			Width:       h.Width,
			Height:      h.Height,
			Layout:      h.Layout,
			Orientation: h.Orientation,
			Color:       core.ColorInfo{SRGBIntent: -1},
		},
		Pixels:    pix,
		RowStride: h.RowStride,
	}, nil
}
