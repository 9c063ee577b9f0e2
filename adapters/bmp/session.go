// Package bmp implements resumable BMP decoding, plus a whole-buffer mode for
// seekable sources.
package bmp

import (
	"github.com/Skryldev/streamcodec/config"
	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
	"github.com/Skryldev/streamcodec/hooks"
	"github.com/Skryldev/streamcodec/utils"
)

// Session decodes one BMP image row by row as bytes arrive.  It is not safe
// for concurrent use.
type Session struct {
	cfg config.Config
	log core.Logger
	cur *utils.InputCursor

	phase core.Phase
	err   error
	last  error

	hdr     header
	hdrDone bool
	gap     int64 // bytes between the palette and the pixel data still to skip

	meta     core.Metadata
	pixels   []byte
	stride   int
	fileRows uint32 // stored rows fully decoded, in file order
	consumed uint32

	rle rleState
}

var _ core.Session = (*Session)(nil)

// NewSession creates a session reading from src.  Nothing is read until the
// first operation.
func NewSession(src core.ByteSource, opts core.SessionOptions) *Session {
	cfg := opts.Config
	if cfg == (config.Config{}) {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = hooks.NopLogger()
	}
	return &Session{
		cfg:  cfg,
		log:  log,
		cur:  utils.NewInputCursor(src, cfg.ReadChunkSize),
		meta: core.Metadata{Format: core.FormatBMP, Color: core.ColorInfo{SRGBIntent: -1}},
	}
}

// Factory registers resumable BMP sessions with a core.Registry.
type Factory struct{}

func (Factory) Sniff(prefix []byte) bool { return utils.IsBMPData(prefix) }

func (Factory) NewSession(src core.ByteSource, opts core.SessionOptions) core.Session {
	return NewSession(src, opts)
}

func (s *Session) Format() core.Format { return core.FormatBMP }

func (s *Session) Phase() core.Phase { return s.phase }

func (s *Session) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.last
}

func (s *Session) Metadata() (core.Metadata, bool) {
	return s.meta, s.phase >= core.PhaseMetadataReady
}

func (s *Session) Pixels() ([]byte, int) { return s.pixels, s.stride }

func (s *Session) setPhase(p core.Phase) {
	if p <= s.phase {
		return
	}
	s.log.Debug("bmp: phase", "from", s.phase.String(), "to", p.String())
	s.phase = p
}

func (s *Session) settle(op string, err error) core.Result {
	if err == nil {
		s.last = nil
		return core.Success
	}
	res := core.ResultOf(err)
	s.last = err
	if res.Terminal() {
		s.err = err
		s.pixels = nil
		s.log.Warn("bmp: decode failed", "op", op, "result", res.String(), "error", err)
	}
	return res
}

// ReadMetadata parses the file and DIB headers, the bit masks and the
// palette, then skips to the pixel data.
func (s *Session) ReadMetadata() core.Result {
	if s.err != nil {
		return core.ResultOf(s.err)
	}
	if s.phase >= core.PhaseMetadataReady {
		return core.Success
	}
	if !s.hdrDone {
		h, err := parseHeader(s.cur)
		if err != nil {
			s.cur.Rewind()
			return s.settle("bmp.read_metadata", err)
		}
		s.cur.Commit()
		if err := s.accept(h); err != nil {
			return s.settle("bmp.read_metadata", err)
		}
	}
	for s.gap > 0 {
		if s.cur.Buffered() == 0 && !s.cur.Fill() {
			return s.settle("bmp.read_metadata", apperrors.Incomplete("bmp.gap"))
		}
		s.gap -= int64(s.cur.Skip(int(min(s.gap, int64(s.cur.Buffered())))))
		s.cur.Commit()
	}
	s.setPhase(core.PhaseMetadataReady)
	s.log.Debug("bmp: metadata ready",
		"width", s.meta.Width,
		"height", s.meta.Height,
		"bpp", s.hdr.bpp,
		"compression", s.hdr.compression,
		"orientation", s.meta.Orientation.String(),
	)
	return s.settle("bmp.read_metadata", nil)
}

func (s *Session) accept(h header) error {
	s.hdr = h
	s.hdrDone = true
	s.gap = int64(h.offset) - int64(h.consumed)
	s.setPhase(core.PhaseMetadataPending)

	layout := core.LayoutRGB8
	if h.hasAlpha() {
		layout = core.LayoutRGBA8
	}
	s.meta.Width, s.meta.Height = h.width, h.height
	s.meta.Layout = layout
	s.meta.SourceBitDepth = h.bpp
	s.meta.SourceColorType = int(h.compression)
	s.meta.Orientation = core.BottomUp
	if h.topDown {
		s.meta.Orientation = core.TopDown
	}
	s.stride = layout.RowStride(h.width)
	if limit := s.cfg.MaxImageBytes; limit > 0 && int64(s.stride)*int64(h.height) > limit {
		return apperrors.New(apperrors.CategoryLimits, "bmp.read_metadata", apperrors.ErrLimitExceeded)
	}
	return nil
}

// ReadImageData decodes as many stored rows as the input allows.
func (s *Session) ReadImageData() core.Result {
	if s.err != nil {
		return core.ResultOf(s.err)
	}
	if s.phase < core.PhaseMetadataReady {
		return s.settle("bmp.read_image_data",
			apperrors.New(apperrors.CategoryParameter, "bmp.read_image_data", apperrors.ErrOutOfPhase))
	}
	if s.phase == core.PhasePixelsReady {
		return core.Success
	}
	if s.pixels == nil {
		s.pixels = make([]byte, s.stride*int(s.meta.Height))
	}
	s.setPhase(core.PhasePixelsPending)

	var err error
	if s.hdr.isRLE() {
		err = s.decodeRLE()
	} else {
		err = s.decodeRows()
	}
	if err == nil {
		s.setPhase(core.PhasePixelsReady)
	}
	return s.settle("bmp.read_image_data", err)
}

// decodedRows returns how many stored rows hold final pixels.
func (s *Session) decodedRows() uint32 {
	if s.hdr.isRLE() {
		return s.rle.completeRows(s.meta.Height)
	}
	return s.fileRows
}

// PullNewRows returns the rows finished since the previous call, in image
// coordinates.  For bottom-up files they grow upwards from the last row.
func (s *Session) PullNewRows() (core.RowRange, []byte) {
	if s.pixels == nil {
		return core.RowRange{}, nil
	}
	done := s.decodedRows()
	if done <= s.consumed {
		return core.RowRange{}, nil
	}
	count := done - s.consumed
	start := s.consumed
	if s.meta.Orientation == core.BottomUp {
		start = s.meta.Height - done
	}
	s.consumed = done
	return core.RowRange{Start: start, Count: count},
		s.pixels[int(start)*s.stride : int(start+count)*s.stride]
}

// imageRow maps the i'th stored row onto its row in the pixel buffer.
func (s *Session) imageRow(i uint32) int {
	if s.meta.Orientation == core.BottomUp {
		return int(s.meta.Height - 1 - i)
	}
	return int(i)
}
