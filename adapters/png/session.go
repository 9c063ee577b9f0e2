// Package png implements a resumable PNG and APNG decode session.
//
// A Session pulls bytes from a core.ByteSource that may run dry at any point.
// Every operation then returns core.IncompleteInput and can simply be called
// again once the source has more data.
package png

import (
	"github.com/Skryldev/streamcodec/config"
	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
	"github.com/Skryldev/streamcodec/hooks"
	"github.com/Skryldev/streamcodec/utils"
)

// Pixel delivery mode.  A session hands out pixels either into its own
// buffer or row by row, never both.
const (
	modeNone = iota
	modeBuffer
	modeRows
)

// Session decodes one PNG image.  It is not safe for concurrent use.
type Session struct {
	cfg config.Config
	log core.Logger
	cur *utils.InputCursor
	ck  chunkState

	phase core.Phase
	err   error // sticky terminal cause
	last  error // cause of the most recent non-success result

	stage      int
	lastType   string
	collecting bool   // data chunks of the current frame are being read
	dataType   string // IDAT or fdAT

	meta    core.Metadata
	palette []byte
	alpha   []byte
	hasTRNS bool
	key     [3]uint16

	frame   core.FrameInfo
	pending *core.FrameInfo // fcTL waiting for its first fdAT

	rows *rowDecoder
	tf   *transform

	mode     int
	pixels   []byte
	stride   int
	consumed uint32
	rowOut   []byte

	lastInfo core.InterlaceInfo
	hasLast  bool
}

var (
	_ core.AnimatedSession = (*Session)(nil)
	_ core.SessionFactory  = Factory{}
)

// NewSession creates a session reading from src.  Nothing is read until the
// first operation, so construction cannot fail.
func NewSession(src core.ByteSource, opts core.SessionOptions) *Session {
	cfg := opts.Config
	if cfg == (config.Config{}) {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = hooks.NopLogger()
	}
	s := &Session{
		cfg: cfg,
		log: log,
		cur: utils.NewInputCursor(src, cfg.ReadChunkSize),
	}
	s.meta.Format = core.FormatPNG
	s.meta.Color.SRGBIntent = -1
	return s
}

// Factory registers PNG sessions with a core.Registry.
type Factory struct{}

func (Factory) Sniff(prefix []byte) bool { return utils.IsPNGData(prefix) }

func (Factory) NewSession(src core.ByteSource, opts core.SessionOptions) core.Session {
	return NewSession(src, opts)
}

func (s *Session) Format() core.Format { return core.FormatPNG }

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

// FrameInfo describes the frame currently being decoded.  For a still image
// it covers the whole canvas.
func (s *Session) FrameInfo() (core.FrameInfo, bool) {
	return s.frame, s.phase >= core.PhaseMetadataReady
}

func (s *Session) LastInterlaceInfo() (core.InterlaceInfo, bool) {
	return s.lastInfo, s.hasLast
}

func (s *Session) setPhase(p core.Phase) {
	if p <= s.phase {
		return
	}
	s.log.Debug("png: phase", "from", s.phase.String(), "to", p.String())
	s.phase = p
}

// settle records the outcome of an operation and maps it onto a Result.
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
		s.log.Warn("png: decode failed", "op", op, "result", res.String(), "error", err)
	}
	return res
}

func outOfPhase(op string) error {
	return apperrors.New(apperrors.CategoryParameter, op, apperrors.ErrOutOfPhase)
}

func isIncomplete(err error) bool {
	return apperrors.IsCategory(err, apperrors.CategoryIncomplete)
}

// ReadMetadata parses every chunk up to the first IDAT.
func (s *Session) ReadMetadata() core.Result {
	if s.err != nil {
		return core.ResultOf(s.err)
	}
	if s.phase >= core.PhaseMetadataReady {
		return core.Success
	}
	for s.stage < dsSeenIDAT {
		if err := s.step(); err != nil {
			return s.settle("png.read_metadata", err)
		}
	}
	return s.settle("png.read_metadata", s.finishHeader())
}

func (s *Session) finishHeader() error {
	if s.meta.SourceColorType == ctPaletted && s.palette == nil {
		return apperrors.Format("png.plte", "missing PLTE for paletted image")
	}
	s.tf = newTransform(s.meta.SourceBitDepth, s.meta.SourceColorType, s.palette, s.alpha, s.hasTRNS, s.key)
	s.meta.Layout = s.tf.layout
	s.meta.Orientation = core.TopDown
	s.stride = s.meta.Layout.RowStride(s.meta.Width)
	if limit := s.cfg.MaxImageBytes; limit > 0 && int64(s.stride)*int64(s.meta.Height) > limit {
		return apperrors.New(apperrors.CategoryLimits, "png.read_metadata", apperrors.ErrLimitExceeded)
	}
	if s.frame.Width == 0 {
		s.frame = core.FrameInfo{Width: s.meta.Width, Height: s.meta.Height}
	}
	rows, err := s.frameDecoder(s.frame.Width, s.frame.Height)
	if err != nil {
		return err
	}
	s.rows = rows
	s.rowOut = make([]byte, s.stride)
	s.setPhase(core.PhaseMetadataReady)
	s.log.Debug("png: metadata ready",
		"width", s.meta.Width,
		"height", s.meta.Height,
		"interlaced", s.meta.Interlaced,
		"channels", s.meta.Layout.Channels,
		"bit_depth", s.meta.Layout.BitDepth,
	)
	return nil
}

func (s *Session) frameDecoder(width, height uint32) (*rowDecoder, error) {
	rows := newRowDecoder(width, height, s.meta.Interlaced, s.tf.sourceBitsPerPixel())
	if limit := s.cfg.MaxDecompressedBytes; limit > 0 && rows.inflatedSize() > limit {
		return nil, apperrors.New(apperrors.CategoryLimits, "png.inflate", apperrors.ErrLimitExceeded)
	}
	return rows, nil
}

// startFrame switches decoding to the frame announced by the pending fcTL.
func (s *Session) startFrame() error {
	fi := *s.pending
	rows, err := s.frameDecoder(fi.Width, fi.Height)
	if err != nil {
		return err
	}
	s.pending = nil
	s.frame = fi
	s.rows = rows
	s.hasLast = false
	s.log.Debug("png: frame start", "index", fi.Index, "width", fi.Width, "height", fi.Height)
	return nil
}

// nextRow decodes one row of the current frame, reading more data chunks as
// needed.
func (s *Session) nextRow() (core.InterlaceInfo, []byte, error) {
	for {
		info, row, err := s.rows.next()
		if err == nil || !isIncomplete(err) {
			return info, row, err
		}
		if err := s.pump(); err != nil {
			return info, nil, err
		}
	}
}

// pump streams every available data chunk byte of the current frame into the
// inflater.
func (s *Session) pump() error {
	before, closed := s.rows.z.size(), s.rows.z.in.closed
	for s.collecting {
		if err := s.step(); err != nil {
			if isIncomplete(err) {
				break
			}
			return err
		}
	}
	if s.rows.z.size() == before && s.rows.z.in.closed == closed {
		return apperrors.Incomplete("png.idat")
	}
	return nil
}

// ReadImageData decodes the default image into the session's pixel buffer.
func (s *Session) ReadImageData() core.Result {
	if s.err != nil {
		return core.ResultOf(s.err)
	}
	if s.phase < core.PhaseMetadataReady || s.mode == modeRows {
		return s.settle("png.read_image_data", outOfPhase("png.read_image_data"))
	}
	if s.phase == core.PhasePixelsReady {
		return core.Success
	}
	s.mode = modeBuffer
	if s.pixels == nil {
		s.pixels = make([]byte, s.stride*int(s.meta.Height))
	}
	s.setPhase(core.PhasePixelsPending)
	bpp := s.meta.Layout.BytesPerPixel()
	for {
		info, row, err := s.nextRow()
		if err == errFrameDone {
			s.setPhase(core.PhasePixelsReady)
			return s.settle("png.read_image_data", nil)
		}
		if err != nil {
			return s.settle("png.read_image_data", err)
		}
		if info.Pass == 0 {
			off := int(info.Line) * s.stride
			s.tf.apply(s.pixels[off:off+s.stride], row, int(info.Width))
			continue
		}
		s.tf.apply(s.rowOut, row, int(info.Width))
		expandRow(s.pixels, s.stride, s.rowOut, info, bpp)
	}
}

// PullNewRows returns the rows of the pixel buffer that became final since
// the previous call.
func (s *Session) PullNewRows() (core.RowRange, []byte) {
	if s.pixels == nil || s.mode != modeBuffer {
		return core.RowRange{}, nil
	}
	done := s.rows.completeRows()
	if done <= s.consumed {
		return core.RowRange{}, nil
	}
	rr := core.RowRange{Start: s.consumed, Count: done - s.consumed}
	out := s.pixels[int(s.consumed)*s.stride : int(done)*s.stride]
	s.consumed = done
	return rr, out
}

// NextInterlacedRow decodes the next row of the current frame in decode
// order.  Interlaced frames yield sparse rows; use LastInterlaceInfo or
// ExpandLastRow to place them.
func (s *Session) NextInterlacedRow() (core.Result, []byte) {
	if s.err != nil {
		return core.ResultOf(s.err), nil
	}
	if s.phase < core.PhaseMetadataReady || s.mode == modeBuffer {
		return s.settle("png.next_row", outOfPhase("png.next_row")), nil
	}
	s.mode = modeRows
	info, row, err := s.nextRow()
	if err == errFrameDone {
		if s.frame.Index == 0 {
			s.setPhase(core.PhasePixelsReady)
		}
		s.last = nil
		return core.EndOfFrame, nil
	}
	if err != nil {
		return s.settle("png.next_row", err), nil
	}
	if s.frame.Index == 0 {
		s.setPhase(core.PhasePixelsPending)
	}
	out := s.rowOut[:s.meta.Layout.RowStride(info.Width)]
	s.tf.apply(out, row, int(info.Width))
	s.lastInfo, s.hasLast = info, true
	s.last = nil
	return core.Success, out
}

// ExpandLastRow scatters src into the final pixel positions of the row most
// recently returned by NextInterlacedRow.  It panics if there is no such row.
// A buffer that does not fit the row ends the session like any other
// ParameterError.
func (s *Session) ExpandLastRow(dst []byte, dstStride int, src []byte, bitsPerPixel int) core.Result {
	if !s.hasLast {
		panic("png: ExpandLastRow called before NextInterlacedRow returned a row")
	}
	if s.err != nil {
		return core.ResultOf(s.err)
	}
	if bitsPerPixel <= 0 || bitsPerPixel%8 != 0 {
		return s.settle("png.expand_row", apperrors.New(apperrors.CategoryParameter, "png.expand_row", apperrors.ErrBufferTooSmall))
	}
	bpp := bitsPerPixel / 8
	info := s.lastInfo
	extent := expandedExtent(info, bpp)
	if len(src)%bpp != 0 || len(src) < int(info.Width)*bpp ||
		dstStride < extent || len(dst) < int(info.Line)*dstStride+extent {
		return s.settle("png.expand_row", apperrors.New(apperrors.CategoryParameter, "png.expand_row", apperrors.ErrBufferTooSmall))
	}
	expandRow(dst, dstStride, src, info, bpp)
	return core.Success
}

// AdvanceFrame moves to the next APNG frame once every row of the current one
// has been read with NextInterlacedRow.  It returns EndOfFrame when the image
// has no further frames.
func (s *Session) AdvanceFrame() core.Result {
	if s.err != nil {
		return core.ResultOf(s.err)
	}
	if s.mode != modeRows || !s.rows.done {
		return s.settle("png.advance_frame", outOfPhase("png.advance_frame"))
	}
	if s.collecting {
		s.collecting = false
		s.rows.z.close()
	}
	start := s.frame.Index
	for s.frame.Index == start {
		if s.stage == dsSeenIEND {
			s.last = nil
			return core.EndOfFrame
		}
		if err := s.step(); err != nil {
			return s.settle("png.advance_frame", err)
		}
	}
	return s.settle("png.advance_frame", nil)
}
