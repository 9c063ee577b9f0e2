package bmp_test

import (
	"image"
	"io"
	"testing"

	"github.com/Skryldev/streamcodec/adapters/bmp"
	"github.com/Skryldev/streamcodec/core"
	"github.com/Skryldev/streamcodec/utils"
)

func TestLegacySession_Decode(t *testing.T) {
	for name, ref := range map[string]image.Image{
		"rgb24": opaqueRGBA(6, 4),
		"gray8": grayImage(3, 5),
	} {
		t.Run(name, func(t *testing.T) {
			s := bmp.NewLegacySession(utils.NewBytesSource(encodeBMP(t, ref)), core.SessionOptions{})
			if res := s.ReadMetadata(); res != core.Success {
				t.Fatalf("ReadMetadata: %v (%v)", res, s.Err())
			}
			meta, _ := s.Metadata()
			if meta.Layout != core.LayoutRGBA8 || meta.Orientation != core.TopDown {
				t.Errorf("got layout %+v orientation %v", meta.Layout, meta.Orientation)
			}
			if res := s.ReadImageData(); res != core.Success {
				t.Fatalf("ReadImageData: %v (%v)", res, s.Err())
			}
			rows, pix := s.PullNewRows()
			if rows != (core.RowRange{Start: 0, Count: meta.Height}) {
				t.Errorf("rows: got %+v", rows)
			}
			assertMatches(t, pix, meta.Layout.RowStride(meta.Width), meta.Layout, ref)
			if rows, _ := s.PullNewRows(); rows.Count != 0 {
				t.Errorf("rows handed out twice: %+v", rows)
			}
		})
	}
}

func TestLegacySession_MatchesResumable(t *testing.T) {
	data := encodeBMP(t, palettedImage(7, 3))
	legacy := bmp.NewLegacySession(utils.NewBytesSource(data), core.SessionOptions{})
	if legacy.ReadMetadata() != core.Success || legacy.ReadImageData() != core.Success {
		t.Fatalf("legacy decode: %v", legacy.Err())
	}
	resumable := decodeAll(t, data, 32)

	lp, _ := legacy.Pixels()
	rp, _ := resumable.Pixels()
	for i := 0; i < len(rp)/3; i++ {
		for c := 0; c < 3; c++ {
			if lp[4*i+c] != rp[3*i+c] {
				t.Fatalf("pixel %d channel %d: legacy %d, resumable %d", i, c, lp[4*i+c], rp[3*i+c])
			}
		}
		if lp[4*i+3] != 0xff {
			t.Fatalf("pixel %d not opaque", i)
		}
	}
}

func TestLegacySession_ShortSourceRewinds(t *testing.T) {
	data := encodeBMP(t, opaqueRGBA(4, 4))
	src := utils.NewBytesSource(data[:len(data)-7])
	s := bmp.NewLegacySession(src, core.SessionOptions{})
	if res := s.ReadMetadata(); res != core.IncompleteInput {
		t.Fatalf("got %v, want IncompleteInput", res)
	}
	if pos, _ := src.Seek(0, io.SeekCurrent); pos != 0 {
		t.Errorf("source left at %d", pos)
	}
	if s.Phase() != core.PhaseFresh {
		t.Errorf("phase moved to %v", s.Phase())
	}
}

func TestLegacySession_NotBMP(t *testing.T) {
	s := bmp.NewLegacySession(utils.NewBytesSource([]byte("GIF89a, not a bitmap")), core.SessionOptions{})
	if res := s.ReadMetadata(); res != core.FormatError {
		t.Fatalf("got %v, want FormatError", res)
	}
	if res := s.ReadImageData(); res != core.FormatError {
		t.Errorf("error not sticky: %v", res)
	}
}
