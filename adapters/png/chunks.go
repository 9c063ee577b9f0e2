package png

import (
	"bytes"
	"encoding/binary"
	"hash"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
	"github.com/Skryldev/streamcodec/utils"
)

// Decoding stage.  In a PNG stream the IHDR, PLTE (if
// present), tRNS (if present), IDAT and IEND chunks must appear in that order.
const (
	dsStart = iota
	dsSeenIHDR
	dsSeenIDAT
	dsSeenIEND
)

// Chunk stream state.
const (
	csSignature = iota
	csHeader
	csPayload
	csCRC
	csDone
)

const maxChunkLength = 0x7fffffff

// chunkState tracks the chunk being streamed.
type chunkState struct {
	state     int
	typ       string
	remaining uint32
	toData    bool // payload feeds the current frame
	seqSkip   int  // fdAT sequence number bytes still to drop
	crc       hash.Hash32
}

// step advances the chunk machine by one unit of work.  It returns an
// Incomplete error when the cursor ran dry; everything committed before that
// stays committed.
func (s *Session) step() error {
	switch s.ck.state {
	case csSignature:
		if !s.cur.Ensure(len(utils.PNGSignature)) {
			return apperrors.Incomplete("png.signature")
		}
		if !utils.IsPNGData(s.cur.Next(len(utils.PNGSignature))) {
			return apperrors.Format("png.signature", "not a PNG file")
		}
		s.cur.Commit()
		s.ck.state = csHeader
		s.setPhase(core.PhaseMetadataPending)
		return nil
	case csHeader:
		return s.chunkHeader()
	case csPayload:
		return s.chunkPayload()
	case csCRC:
		if !s.cur.Ensure(4) {
			return apperrors.Incomplete("png.crc")
		}
		want := binary.BigEndian.Uint32(s.cur.Next(4))
		if s.cfg.VerifyChecksums && s.ck.crc.Sum32() != want {
			return apperrors.Format("png.crc", "%w in %s chunk", apperrors.ErrBadChecksum, s.ck.typ)
		}
		s.cur.Commit()
		s.ck.state = csHeader
		s.lastType = s.ck.typ
		return nil
	}
	return apperrors.Format("png.chunk", "read past IEND")
}

func (s *Session) chunkHeader() error {
	if !s.cur.Ensure(8) {
		return apperrors.Incomplete("png.chunk")
	}
	hdr := s.cur.Peek(8)
	length := binary.BigEndian.Uint32(hdr[:4])
	typ := string(hdr[4:8])
	if length > maxChunkLength {
		return apperrors.Format("png.chunk", "bad chunk length %d", length)
	}

	if s.collecting {
		if typ != s.dataType {
			// The frame's data ends here; the chunk is left for whoever
			// scans past the frame.
			s.collecting = false
			s.rows.z.close()
			return nil
		}
		s.beginStream(typ, length, true)
		return nil
	}

	switch {
	case typ == "IDAT" && s.stage < dsSeenIDAT:
		if s.stage < dsSeenIHDR {
			return apperrors.Format("png.chunk", "%w: IDAT before IHDR", apperrors.ErrChunkOrder)
		}
		s.stage = dsSeenIDAT
		s.collecting = true
		s.dataType = "IDAT"
		s.beginStream(typ, length, true)
		return nil
	case typ == "IDAT":
		if s.lastType != "IDAT" {
			return apperrors.Format("png.chunk", "%w: IDAT chunks are not consecutive", apperrors.ErrChunkOrder)
		}
		s.beginStream(typ, length, false)
		return nil
	case typ == "fdAT":
		if s.stage == dsSeenIDAT && s.meta.Animation != nil && s.pending != nil {
			if err := s.startFrame(); err != nil {
				return err
			}
			s.collecting = true
			s.dataType = "fdAT"
			s.beginStream(typ, length, true)
			return nil
		}
		s.beginStream(typ, length, false)
		return nil
	}

	if s.stage == dsStart && typ != "IHDR" {
		return apperrors.Format("png.chunk", "%w: %s before IHDR", apperrors.ErrChunkOrder, typ)
	}
	if !knownChunk(typ) {
		if typ[0]&0x20 == 0 {
			return apperrors.Unsupported("png.chunk", "unknown critical chunk %q", typ)
		}
		s.beginStream(typ, length, false)
		return nil
	}
	if s.cfg.MaxChunkBytes > 0 && int64(length) > int64(s.cfg.MaxChunkBytes) {
		return apperrors.New(apperrors.CategoryLimits, "png.chunk", apperrors.ErrLimitExceeded)
	}

	total := 12 + int(length)
	if !s.cur.Ensure(total) {
		return apperrors.Incomplete("png.chunk")
	}
	raw := s.cur.Next(total)
	if s.cfg.VerifyChecksums {
		if crc32.ChecksumIEEE(raw[4:8+length]) != binary.BigEndian.Uint32(raw[8+length:]) {
			return apperrors.Format("png.crc", "%w in %s chunk", apperrors.ErrBadChecksum, typ)
		}
	}
	if err := s.handleChunk(typ, raw[8:8+length]); err != nil {
		return err
	}
	s.cur.Commit()
	s.lastType = typ
	if typ == "IEND" {
		s.ck.state = csDone
	}
	return nil
}

func knownChunk(typ string) bool {
	switch typ {
	case "IHDR", "PLTE", "tRNS", "gAMA", "cHRM", "sRGB", "iCCP", "eXIf", "cICP", "mDCv", "cLLi",
		"acTL", "fcTL", "IEND":
		return true
	}
	return false
}

// beginStream consumes a chunk header whose payload is passed through
// incrementally rather than buffered whole.
func (s *Session) beginStream(typ string, length uint32, toData bool) {
	hdr := s.cur.Next(8)
	if s.ck.crc == nil {
		s.ck.crc = crc32.NewIEEE()
	}
	s.ck.crc.Reset()
	s.ck.crc.Write(hdr[4:8])
	s.cur.Commit()
	s.ck.typ = typ
	s.ck.remaining = length
	s.ck.toData = toData
	s.ck.seqSkip = 0
	if toData && typ == "fdAT" {
		s.ck.seqSkip = 4
	}
	s.ck.state = csPayload
}

func (s *Session) chunkPayload() error {
	if s.ck.remaining == 0 {
		if s.ck.seqSkip > 0 {
			return apperrors.Format("png.fdat", "fdAT chunk too short")
		}
		s.ck.state = csCRC
		return nil
	}
	if s.cur.Buffered() == 0 && !s.cur.Fill() {
		return apperrors.Incomplete("png.chunk")
	}
	n := min(s.cur.Buffered(), int(s.ck.remaining))
	p := s.cur.Next(n)
	s.ck.crc.Write(p)
	s.ck.remaining -= uint32(n)
	if s.ck.toData {
		if k := min(s.ck.seqSkip, len(p)); k > 0 {
			p = p[k:]
			s.ck.seqSkip -= k
		}
		s.rows.z.append(p)
	}
	s.cur.Commit()
	return nil
}

// handleChunk interprets a chunk that was buffered whole.
func (s *Session) handleChunk(typ string, data []byte) error {
	switch typ {
	case "IHDR":
		return s.parseIHDR(data)
	case "PLTE":
		return s.parsePLTE(data)
	case "tRNS":
		return s.parseTRNS(data)
	case "gAMA":
		if len(data) == 4 && s.stage < dsSeenIDAT {
			s.meta.Color.Gamma = binary.BigEndian.Uint32(data)
		}
	case "cHRM":
		if len(data) == 32 && s.stage < dsSeenIDAT {
			u := func(i int) uint32 { return binary.BigEndian.Uint32(data[4*i:]) }
			s.meta.Color.Chromaticities = &core.Chromaticities{
				WhiteX: u(0), WhiteY: u(1),
				RedX: u(2), RedY: u(3),
				GreenX: u(4), GreenY: u(5),
				BlueX: u(6), BlueY: u(7),
			}
		}
	case "sRGB":
		if len(data) == 1 && s.stage < dsSeenIDAT {
			s.meta.Color.SRGBIntent = int(data[0])
		}
	case "iCCP":
		if s.stage < dsSeenIDAT {
			s.parseICCP(data)
		}
	case "eXIf":
		if s.stage < dsSeenIDAT {
			s.meta.Color.EXIF = bytes.Clone(data)
		}
	case "cICP":
		if len(data) == 4 && s.stage < dsSeenIDAT {
			s.meta.Color.CICP = &core.CICP{
				Primaries: data[0],
				Transfer:  data[1],
				Matrix:    data[2],
				FullRange: data[3] != 0,
			}
		}
	case "mDCv":
		if len(data) == 24 && s.stage < dsSeenIDAT {
			u := func(i int) uint32 { return uint32(binary.BigEndian.Uint16(data[2*i:])) }
			s.meta.Color.MasteringDisplay = &core.MasteringDisplay{
				Primaries: core.Chromaticities{
					RedX: u(0), RedY: u(1),
					GreenX: u(2), GreenY: u(3),
					BlueX: u(4), BlueY: u(5),
					WhiteX: u(6), WhiteY: u(7),
				},
				MaxLuminance: binary.BigEndian.Uint32(data[16:]),
				MinLuminance: binary.BigEndian.Uint32(data[20:]),
			}
		}
	case "cLLi":
		if len(data) == 8 && s.stage < dsSeenIDAT {
			s.meta.Color.ContentLightLevel = &core.ContentLightLevel{
				MaxCLL:  binary.BigEndian.Uint32(data),
				MaxFALL: binary.BigEndian.Uint32(data[4:]),
			}
		}
	case "acTL":
		return s.parseACTL(data)
	case "fcTL":
		return s.parseFCTL(data)
	case "IEND":
		if s.stage < dsSeenIDAT {
			return apperrors.Format("png.iend", "%w: no IDAT chunk", apperrors.ErrNotEnoughPixelData)
		}
		s.stage = dsSeenIEND
	}
	return nil
}

func (s *Session) parseIHDR(data []byte) error {
	if s.stage != dsStart {
		return apperrors.Format("png.ihdr", "%w: duplicate IHDR", apperrors.ErrChunkOrder)
	}
	if len(data) != 13 {
		return apperrors.Format("png.ihdr", "bad IHDR length %d", len(data))
	}
	w := binary.BigEndian.Uint32(data[0:4])
	h := binary.BigEndian.Uint32(data[4:8])
	if w == 0 || h == 0 || w > maxChunkLength || h > maxChunkLength {
		return apperrors.Format("png.ihdr", "invalid dimensions %dx%d", w, h)
	}
	depth, colorType := int(data[8]), int(data[9])
	if err := checkDepth(depth, colorType); err != nil {
		return err
	}
	if data[10] != 0 {
		return apperrors.Unsupported("png.ihdr", "compression method %d", data[10])
	}
	if data[11] != 0 {
		return apperrors.Unsupported("png.ihdr", "filter method %d", data[11])
	}
	if data[12] > 1 {
		return apperrors.Format("png.ihdr", "invalid interlace method %d", data[12])
	}
	s.meta.Width, s.meta.Height = w, h
	s.meta.SourceBitDepth = depth
	s.meta.SourceColorType = colorType
	s.meta.Interlaced = data[12] == 1
	s.stage = dsSeenIHDR
	return nil
}

func (s *Session) parsePLTE(data []byte) error {
	if s.stage >= dsSeenIDAT || s.palette != nil {
		return apperrors.Format("png.plte", "%w: misplaced PLTE", apperrors.ErrChunkOrder)
	}
	switch s.meta.SourceColorType {
	case ctPaletted:
		n := len(data) / 3
		if len(data)%3 != 0 || n <= 0 || n > 256 || n > 1<<uint(s.meta.SourceBitDepth) {
			return apperrors.Format("png.plte", "bad PLTE length %d", len(data))
		}
		s.palette = bytes.Clone(data)
	case ctTrueColor, ctTrueColorAlpha:
		// A PLTE chunk is only a suggestion for these color types.
	default:
		return apperrors.Format("png.plte", "PLTE, color type mismatch")
	}
	return nil
}

func (s *Session) parseTRNS(data []byte) error {
	if s.stage >= dsSeenIDAT {
		return apperrors.Format("png.trns", "%w: tRNS after IDAT", apperrors.ErrChunkOrder)
	}
	switch s.meta.SourceColorType {
	case ctGrayscale:
		if len(data) != 2 {
			return apperrors.Format("png.trns", "bad tRNS length %d", len(data))
		}
		s.key[0] = binary.BigEndian.Uint16(data)
	case ctTrueColor:
		if len(data) != 6 {
			return apperrors.Format("png.trns", "bad tRNS length %d", len(data))
		}
		for i := range s.key {
			s.key[i] = binary.BigEndian.Uint16(data[2*i:])
		}
	case ctPaletted:
		if s.palette == nil {
			return apperrors.Format("png.trns", "%w: tRNS before PLTE", apperrors.ErrChunkOrder)
		}
		if len(data) > len(s.palette)/3 {
			return apperrors.Format("png.trns", "bad tRNS length %d", len(data))
		}
		s.alpha = bytes.Clone(data)
	default:
		return apperrors.Format("png.trns", "tRNS, color type mismatch")
	}
	s.hasTRNS = true
	return nil
}

// parseICCP inflates an embedded ICC profile.  A damaged profile is dropped
// rather than failing the decode.
func (s *Session) parseICCP(data []byte) {
	nul := bytes.IndexByte(data, 0)
	if nul < 1 || nul > 79 || nul+2 > len(data) || data[nul+1] != 0 {
		s.log.Warn("png: ignoring malformed iCCP chunk")
		return
	}
	zr, err := zlib.NewReader(bytes.NewReader(data[nul+2:]))
	if err != nil {
		s.log.Warn("png: ignoring iCCP chunk", "error", err)
		return
	}
	defer zr.Close()
	var r io.Reader = zr
	if s.cfg.MaxChunkBytes > 0 {
		r = io.LimitReader(zr, int64(s.cfg.MaxChunkBytes))
	}
	profile, err := io.ReadAll(r)
	if err != nil {
		s.log.Warn("png: ignoring iCCP chunk", "error", err)
		return
	}
	s.meta.Color.ICCName = string(data[:nul])
	s.meta.Color.ICCProfile = profile
}

func (s *Session) parseACTL(data []byte) error {
	if s.stage >= dsSeenIDAT {
		return nil
	}
	if len(data) != 8 {
		return apperrors.Format("png.actl", "bad acTL length %d", len(data))
	}
	n := binary.BigEndian.Uint32(data[0:4])
	if n == 0 {
		return apperrors.Format("png.actl", "acTL declares zero frames")
	}
	s.meta.Animation = &core.AnimationInfo{
		NumFrames: n,
		NumPlays:  binary.BigEndian.Uint32(data[4:8]),
	}
	return nil
}

func (s *Session) parseFCTL(data []byte) error {
	if len(data) != 26 {
		return apperrors.Format("png.fctl", "bad fcTL length %d", len(data))
	}
	u32 := func(i int) uint32 { return binary.BigEndian.Uint32(data[i:]) }
	fi := core.FrameInfo{
		Sequence: u32(0),
		Width:    u32(4),
		Height:   u32(8),
		XOffset:  u32(12),
		YOffset:  u32(16),
		DelayNum: binary.BigEndian.Uint16(data[20:]),
		DelayDen: binary.BigEndian.Uint16(data[22:]),
		Dispose:  core.DisposeOp(data[24]),
		Blend:    core.BlendOp(data[25]),
	}
	if fi.Dispose > core.DisposePrevious || fi.Blend > core.BlendOver {
		return apperrors.Format("png.fctl", "bad dispose or blend op")
	}
	if fi.Width == 0 || fi.Height == 0 ||
		uint64(fi.XOffset)+uint64(fi.Width) > uint64(s.meta.Width) ||
		uint64(fi.YOffset)+uint64(fi.Height) > uint64(s.meta.Height) {
		return apperrors.Format("png.fctl", "frame region outside the canvas")
	}
	if s.stage < dsSeenIDAT {
		if fi.XOffset != 0 || fi.YOffset != 0 || fi.Width != s.meta.Width || fi.Height != s.meta.Height {
			return apperrors.Format("png.fctl", "default image frame must cover the canvas")
		}
		fi.Index = 0
		s.frame = fi
		return nil
	}
	fi.Index = s.frame.Index + 1
	s.pending = &fi
	return nil
}
