package core

import (
	"context"
	"io"
	"time"
)

// Format identifies an image codec.
type Format string

const (
	FormatPNG     Format = "png"
	FormatBMP     Format = "bmp"
	FormatJPEG    Format = "jpeg"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// Phase is the decode progress marker of a session.  It only moves forward.
type Phase uint8

const (
	PhaseFresh Phase = iota
	PhaseMetadataPending
	PhaseMetadataReady
	PhasePixelsPending
	PhasePixelsReady
)

func (p Phase) String() string {
	switch p {
	case PhaseFresh:
		return "fresh"
	case PhaseMetadataPending:
		return "metadata-pending"
	case PhaseMetadataReady:
		return "metadata-ready"
	case PhasePixelsPending:
		return "pixels-pending"
	case PhasePixelsReady:
		return "pixels-ready"
	}
	return "unknown"
}

// Orientation is the order in which decoded rows land in the pixel buffer.
type Orientation uint8

const (
	TopDown Orientation = iota
	BottomUp
)

func (o Orientation) String() string {
	if o == BottomUp {
		return "bottom-up"
	}
	return "top-down"
}

// ColorLayout describes the decoded pixel format.  Samples wider than 8 bits
// are stored big-endian.
type ColorLayout struct {
	Channels int
	BitDepth int // bits per channel: 8 or 16
	HasAlpha bool
}

// Common layouts.
var (
	LayoutGray8  = ColorLayout{Channels: 1, BitDepth: 8}
	LayoutGray16 = ColorLayout{Channels: 1, BitDepth: 16}
	LayoutGA8    = ColorLayout{Channels: 2, BitDepth: 8, HasAlpha: true}
	LayoutGA16   = ColorLayout{Channels: 2, BitDepth: 16, HasAlpha: true}
	LayoutRGB8   = ColorLayout{Channels: 3, BitDepth: 8}
	LayoutRGB16  = ColorLayout{Channels: 3, BitDepth: 16}
	LayoutRGBA8  = ColorLayout{Channels: 4, BitDepth: 8, HasAlpha: true}
	LayoutRGBA16 = ColorLayout{Channels: 4, BitDepth: 16, HasAlpha: true}
)

// BitsPerPixel returns the number of bits one decoded pixel occupies.
func (l ColorLayout) BitsPerPixel() int { return l.Channels * l.BitDepth }

// BytesPerPixel returns the number of bytes one decoded pixel occupies.
func (l ColorLayout) BytesPerPixel() int { return l.BitsPerPixel() / 8 }

// RowStride returns the number of bytes in one decoded row of width pixels.
func (l ColorLayout) RowStride(width uint32) int { return int(width) * l.BytesPerPixel() }

// RowRange identifies newly available rows in logical (top-to-bottom) image
// coordinates.
type RowRange struct {
	Start uint32
	Count uint32
}

// InterlaceInfo records where the last row returned by NextInterlacedRow
// belongs.  Pass is 1..7 for Adam7 images and 0 for non-interlaced ones.
type InterlaceInfo struct {
	Pass    int
	PassRow uint32 // row index within the pass
	Line    uint32 // row index in the final image
	Width   uint32 // pixels in the sparse row
}

// DisposeOp and BlendOp are the APNG frame control operations.
type (
	DisposeOp uint8
	BlendOp   uint8
)

const (
	DisposeNone DisposeOp = iota
	DisposeBackground
	DisposePrevious
)

const (
	BlendSource BlendOp = iota
	BlendOver
)

// FrameInfo describes one APNG frame (or the whole still image).
type FrameInfo struct {
	Index    int
	Sequence uint32
	Width    uint32
	Height   uint32
	XOffset  uint32
	YOffset  uint32
	DelayNum uint16
	DelayDen uint16
	Dispose  DisposeOp
	Blend    BlendOp
}

// AnimationInfo is the content of an APNG acTL chunk.
type AnimationInfo struct {
	NumFrames uint32
	NumPlays  uint32 // 0 = loop forever
}

// Chromaticities are CIE xy coordinates scaled by 100000.
type Chromaticities struct {
	WhiteX, WhiteY uint32
	RedX, RedY     uint32
	GreenX, GreenY uint32
	BlueX, BlueY   uint32
}

// CICP holds coding-independent code points (ITU-T H.273).
type CICP struct {
	Primaries uint8
	Transfer  uint8
	Matrix    uint8
	FullRange bool
}

// MasteringDisplay describes the display an HDR image was mastered on.
// Primaries are scaled by 50000, luminances by 10000 (cd/m²).
type MasteringDisplay struct {
	Primaries    Chromaticities
	MaxLuminance uint32
	MinLuminance uint32
}

// ContentLightLevel holds the maximum content and frame-average light
// levels, scaled by 10000 (cd/m²).
type ContentLightLevel struct {
	MaxCLL  uint32
	MaxFALL uint32
}

// ColorInfo carries color-management metadata for an external collaborator.
// Nothing in this module interprets it.
type ColorInfo struct {
	Gamma          uint32 // gAMA ×100000; 0 when absent
	Chromaticities *Chromaticities
	SRGBIntent     int // -1 when absent
	ICCName        string
	ICCProfile     []byte // inflated profile bytes
	EXIF           []byte

	// CICP takes precedence over every other color chunk when present.
	CICP              *CICP
	MasteringDisplay  *MasteringDisplay
	ContentLightLevel *ContentLightLevel
}

// Metadata holds image information available once a session reaches
// PhaseMetadataReady.
type Metadata struct {
	Format      Format
	Width       uint32
	Height      uint32
	Layout      ColorLayout
	Orientation Orientation
	Interlaced  bool

	// Source sample description.
	SourceBitDepth  int
	SourceColorType int

	Color     ColorInfo
	Animation *AnimationInfo
}

// DecodedImage is the result of driving a session to completion.
type DecodedImage struct {
	Format    Format
	Meta      Metadata
	Pixels    []byte
	RowStride int
}

// Source abstracts where raw bytes come from for the Processor.
type Source struct {
	Reader      io.Reader
	ContentType string // optional hint
	Name        string // optional logical name / filename
	Size        int64  // -1 if unknown

	// OnRows, when set, receives every batch of newly decoded rows.  The
	// slice is only valid for the duration of the call.
	OnRows func(rows RowRange, data []byte)
}

// Job encapsulates a single unit of work for the worker pool.
type Job struct {
	ID     string
	Ctx    context.Context //nolint:containedctx // intentional for async jobs
	Source Source
	// Result channel; nil for fire-and-forget.
	ResultCh chan<- JobResult
}

// JobResult wraps the outcome of an async job.
type JobResult struct {
	JobID  string
	Image  *DecodedImage
	Err    error
	Timing time.Duration
}

// CallInfo describes a session operation for hooks.
type CallInfo struct {
	Name   string
	Format Format
	Phase  Phase
	Width  uint32
	Height uint32
	Rows   uint32 // rows handed out so far
}

// StorageKey uniquely identifies a stored object.
type StorageKey struct {
	Bucket string
	Path   string
}
