package bmp

import (
	"bytes"
	"errors"
	"image"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"github.com/Skryldev/streamcodec/config"
	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
	"github.com/Skryldev/streamcodec/hooks"
	"github.com/Skryldev/streamcodec/utils"
)

// LegacySession decodes a whole BMP file at once.  It measures the source by
// seeking, so it only works when the complete file is addressable.  The
// output is always RGBA8, top-down.
type LegacySession struct {
	cfg config.Config
	log core.Logger
	src core.SeekableSource

	phase core.Phase
	err   error
	last  error

	data     []byte
	meta     core.Metadata
	pixels   []byte
	stride   int
	consumed bool
}

var _ core.Session = (*LegacySession)(nil)

// NewLegacySession creates a whole-buffer session over src.
func NewLegacySession(src core.SeekableSource, opts core.SessionOptions) *LegacySession {
	cfg := opts.Config
	if cfg == (config.Config{}) {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = hooks.NopLogger()
	}
	return &LegacySession{
		cfg:  cfg,
		log:  log,
		src:  src,
		meta: core.Metadata{Format: core.FormatBMP, Color: core.ColorInfo{SRGBIntent: -1}},
	}
}

func (s *LegacySession) Format() core.Format { return core.FormatBMP }

func (s *LegacySession) Phase() core.Phase { return s.phase }

func (s *LegacySession) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.last
}

func (s *LegacySession) Metadata() (core.Metadata, bool) {
	return s.meta, s.phase >= core.PhaseMetadataReady
}

func (s *LegacySession) Pixels() ([]byte, int) { return s.pixels, s.stride }

func (s *LegacySession) settle(op string, err error) core.Result {
	if err == nil {
		s.last = nil
		return core.Success
	}
	res := core.ResultOf(err)
	s.last = err
	if res.Terminal() {
		s.err = err
		s.pixels = nil
		s.data = nil
		s.log.Warn("bmp: legacy decode failed", "op", op, "result", res.String(), "error", err)
	}
	return res
}

// load buffers the rest of the source.  When fewer bytes are available than
// the file header declares, the source is put back where it was.
func (s *LegacySession) load() error {
	start, err := s.src.Seek(0, io.SeekCurrent)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryIO, "bmp.legacy.seek", err)
	}
	end, err := s.src.Seek(0, io.SeekEnd)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryIO, "bmp.legacy.seek", err)
	}
	if _, err := s.src.Seek(start, io.SeekStart); err != nil {
		return apperrors.Wrap(apperrors.CategoryIO, "bmp.legacy.seek", err)
	}
	size := end - start
	if limit := s.cfg.MaxImageBytes; limit > 0 && size > limit {
		return apperrors.New(apperrors.CategoryLimits, "bmp.legacy.load", apperrors.ErrLimitExceeded)
	}

	buf := make([]byte, size)
	n := 0
	for n < len(buf) {
		m := s.src.Read(buf[n:])
		if m <= 0 {
			break
		}
		n += m
	}
	buf = buf[:n]

	rewind := func() error {
		if _, err := s.src.Seek(start, io.SeekStart); err != nil {
			return apperrors.Wrap(apperrors.CategoryIO, "bmp.legacy.seek", err)
		}
		return apperrors.Incomplete("bmp.legacy.load")
	}
	if len(buf) >= 2 && !utils.IsBMPData(buf) {
		return apperrors.Format("bmp.legacy.load", "not a BMP file")
	}
	if len(buf) < fileHeaderLen {
		return rewind()
	}
	if declared := le32(buf[2:]); uint64(len(buf)) < uint64(declared) {
		return rewind()
	}
	s.data = buf
	return nil
}

// ReadMetadata buffers the whole file and parses its header.
func (s *LegacySession) ReadMetadata() core.Result {
	if s.err != nil {
		return core.ResultOf(s.err)
	}
	if s.phase >= core.PhaseMetadataReady {
		return core.Success
	}
	if s.data == nil {
		if err := s.load(); err != nil {
			return s.settle("bmp.legacy.read_metadata", err)
		}
		s.phase = core.PhaseMetadataPending
	}
	cfg, err := bmp.DecodeConfig(bytes.NewReader(s.data))
	if err != nil {
		return s.settle("bmp.legacy.read_metadata", decodeError("bmp.legacy.read_metadata", err))
	}
	s.meta.Width, s.meta.Height = uint32(cfg.Width), uint32(cfg.Height)
	s.meta.Layout = core.LayoutRGBA8
	s.meta.Orientation = core.TopDown
	s.stride = s.meta.Layout.RowStride(s.meta.Width)
	if limit := s.cfg.MaxImageBytes; limit > 0 && int64(s.stride)*int64(s.meta.Height) > limit {
		return s.settle("bmp.legacy.read_metadata",
			apperrors.New(apperrors.CategoryLimits, "bmp.legacy.read_metadata", apperrors.ErrLimitExceeded))
	}
	s.phase = core.PhaseMetadataReady
	s.log.Debug("bmp: legacy metadata ready", "width", s.meta.Width, "height", s.meta.Height, "bytes", len(s.data))
	return s.settle("bmp.legacy.read_metadata", nil)
}

// ReadImageData decodes the buffered file in one go.
func (s *LegacySession) ReadImageData() core.Result {
	if s.err != nil {
		return core.ResultOf(s.err)
	}
	if s.phase < core.PhaseMetadataReady {
		return s.settle("bmp.legacy.read_image_data",
			apperrors.New(apperrors.CategoryParameter, "bmp.legacy.read_image_data", apperrors.ErrOutOfPhase))
	}
	if s.phase == core.PhasePixelsReady {
		return core.Success
	}
	s.phase = core.PhasePixelsPending
	img, err := bmp.Decode(bytes.NewReader(s.data))
	if err != nil {
		return s.settle("bmp.legacy.read_image_data", decodeError("bmp.legacy.read_image_data", err))
	}
	nrgba := toNRGBA(img)
	s.pixels, s.stride = nrgba.Pix, nrgba.Stride
	s.data = nil
	s.phase = core.PhasePixelsReady
	return s.settle("bmp.legacy.read_image_data", nil)
}

// PullNewRows returns the whole image once it has been decoded.
func (s *LegacySession) PullNewRows() (core.RowRange, []byte) {
	if s.phase != core.PhasePixelsReady || s.pixels == nil || s.consumed {
		return core.RowRange{}, nil
	}
	s.consumed = true
	return core.RowRange{Start: 0, Count: s.meta.Height}, s.pixels
}

func decodeError(op string, err error) error {
	if errors.Is(err, bmp.ErrUnsupported) {
		return apperrors.New(apperrors.CategoryUnsupported, op, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return apperrors.New(apperrors.CategoryFormat, op, apperrors.ErrNotEnoughPixelData)
	}
	return apperrors.New(apperrors.CategoryFormat, op, err)
}

// toNRGBA returns img as a tightly packed, non-premultiplied RGBA image with
// its origin at (0, 0).
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) && n.Stride == 4*b.Dx() {
		return n
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
