package vips_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/Skryldev/streamcodec"
	"github.com/Skryldev/streamcodec/adapters/vips"
)

func makeJPEG(b *testing.B, w, h int) []byte {
	b.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92})
	return buf.Bytes()
}

func newVipsProc(b *testing.B) (*streamcodec.Processor, *vips.Backend) {
	b.Helper()
	proc := streamcodec.New(streamcodec.DefaultConfig())
	backend := vips.NewBackend(vips.BackendConfig{})
	vips.RegisterVipsBackend(proc.Inner().Registry(), backend)
	return proc, backend
}

// ─── Fallback decode ──────────────────────────────────────────────────────────

func BenchmarkDecode_Stdlib_1920x1080(b *testing.B) {
	raw := makeJPEG(b, 1920, 1080)
	proc := streamcodec.New(streamcodec.DefaultConfig())

	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := proc.Decode(context.Background(), streamcodec.FromReader(bytes.NewReader(raw))); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecode_Vips_1920x1080(b *testing.B) {
	raw := makeJPEG(b, 1920, 1080)
	proc, backend := newVipsProc(b)
	defer backend.Shutdown()

	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		img, err := proc.Decode(context.Background(), streamcodec.FromReader(bytes.NewReader(raw)))
		if err != nil {
			b.Fatal(err)
		}
		if img.Meta.Width != 1920 || len(img.Pixels) != 1920*1080*4 {
			b.Fatalf("unexpected output %dx%d, %d bytes", img.Meta.Width, img.Meta.Height, len(img.Pixels))
		}
	}
}
