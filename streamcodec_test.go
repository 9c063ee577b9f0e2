package streamcodec_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"golang.org/x/image/bmp"

	"github.com/Skryldev/streamcodec"
	"github.com/Skryldev/streamcodec/adapters/storage"
	"github.com/Skryldev/streamcodec/config"
	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
	"github.com/Skryldev/streamcodec/hooks"
	"github.com/Skryldev/streamcodec/utils"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: uint8(100 + x)})
		}
	}
	return img
}

func newPNG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(w, h)); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func newBMP(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
		if i%4 == 3 {
			img.Pix[i] = 0xff
		}
	}
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		t.Fatalf("encode test bmp: %v", err)
	}
	return buf.Bytes()
}

func newJPEG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func newProc(t *testing.T) *streamcodec.Processor {
	t.Helper()
	cfg := streamcodec.DefaultConfig()
	cfg.WorkerCount = 2
	cfg.QueueSize = 16
	cfg.ChunkSize = 64
	p := streamcodec.New(cfg)
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

// ── Unit tests ────────────────────────────────────────────────────────────────

func TestDecode_PNG(t *testing.T) {
	proc := newProc(t)
	want := gradient(20, 10)

	img, err := proc.Decode(context.Background(), streamcodec.FromReader(bytes.NewReader(newPNG(t, 20, 10))))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Format != streamcodec.PNG || img.Meta.Width != 20 || img.Meta.Height != 10 {
		t.Fatalf("got %s %dx%d", img.Format, img.Meta.Width, img.Meta.Height)
	}
	if img.Meta.Layout != core.LayoutRGBA8 {
		t.Fatalf("layout: got %+v", img.Meta.Layout)
	}
	if !bytes.Equal(img.Pixels, want.Pix) {
		t.Error("pixels differ from the encoded image")
	}
}

func TestDecode_BMP_RowsArriveIncrementally(t *testing.T) {
	proc := newProc(t)
	const w, h = 9, 12

	var batches []core.RowRange
	var total uint32
	src := streamcodec.FromReader(iotest.OneByteReader(bytes.NewReader(newBMP(t, w, h))))
	src.OnRows = func(rows core.RowRange, data []byte) {
		batches = append(batches, rows)
		total += rows.Count
		if len(data) != int(rows.Count)*w*3 {
			t.Errorf("batch %+v carries %d bytes", rows, len(data))
		}
	}

	img, err := proc.Decode(context.Background(), src)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Meta.Orientation != core.BottomUp {
		t.Errorf("orientation: got %v", img.Meta.Orientation)
	}
	if total != h {
		t.Errorf("rows delivered: got %d, want %d", total, h)
	}
	if len(batches) < 2 {
		t.Errorf("expected several batches, got %v", batches)
	}
	if last := batches[len(batches)-1]; last.Start != 0 {
		t.Errorf("last batch %+v should reach the top row", last)
	}
}

func TestDecode_Truncated(t *testing.T) {
	proc := newProc(t)
	raw := newPNG(t, 16, 16)

	_, err := proc.Decode(context.Background(), streamcodec.FromReader(bytes.NewReader(raw[:len(raw)/2])))
	if !errors.Is(err, apperrors.ErrTruncated) {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
	if !apperrors.IsCategory(err, apperrors.CategoryIncomplete) || apperrors.IsRetryable(err) {
		t.Errorf("truncation should be a non-retryable incomplete error: %v", err)
	}
}

func TestDecode_CorruptChecksum(t *testing.T) {
	proc := newProc(t)
	raw := newPNG(t, 4, 4)
	raw[29] ^= 0xff // IHDR CRC

	_, err := proc.Decode(context.Background(), streamcodec.FromReader(bytes.NewReader(raw)))
	if core.ResultOf(err) != streamcodec.FormatError {
		t.Fatalf("got %v, want a format error", err)
	}
	if _, failed := proc.Stats(); failed != 1 {
		t.Errorf("error count: got %d", failed)
	}
}

func TestDecode_JPEGFallback(t *testing.T) {
	proc := newProc(t)
	img, err := proc.Decode(context.Background(), streamcodec.FromReader(bytes.NewReader(newJPEG(t, 24, 16))))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Format != streamcodec.JPEG || img.Meta.Width != 24 || img.Meta.Height != 16 {
		t.Errorf("got %s %dx%d", img.Format, img.Meta.Width, img.Meta.Height)
	}
}

func TestDecode_UnknownFormat(t *testing.T) {
	proc := newProc(t)
	_, err := proc.Decode(context.Background(), streamcodec.FromReader(bytes.NewReader([]byte("plain text, not an image at all"))))
	if !errors.Is(err, apperrors.ErrUnsupportedFormat) {
		t.Fatalf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecode_EmptyInput(t *testing.T) {
	proc := newProc(t)
	_, err := proc.Decode(context.Background(), streamcodec.FromReader(bytes.NewReader(nil)))
	if !errors.Is(err, apperrors.ErrEmptyInput) {
		t.Fatalf("got %v, want ErrEmptyInput", err)
	}
}

func TestDecode_ContentTypeHint(t *testing.T) {
	proc := newProc(t)
	src := streamcodec.FromReaderWithMeta(bytes.NewReader(newBMP(t, 3, 3)), -1, "image/bmp", "hint.bmp")
	img, err := proc.Decode(context.Background(), src)
	if err != nil || img.Format != streamcodec.BMP {
		t.Fatalf("got %v, %v", img, err)
	}
}

func TestDecode_ContextCancel(t *testing.T) {
	proc := newProc(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := proc.Decode(ctx, streamcodec.FromReader(bytes.NewReader(newPNG(t, 8, 8))))
	if err == nil {
		t.Error("expected context cancellation error, got nil")
	}
}

func TestDecodeStored(t *testing.T) {
	proc := newProc(t)
	store, err := storage.NewLocal(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	key := core.StorageKey{Bucket: "in", Path: "x.bmp"}
	if err := store.Put(context.Background(), key, bytes.NewReader(newBMP(t, 5, 2)), nil); err != nil {
		t.Fatal(err)
	}
	img, err := proc.DecodeStored(context.Background(), store, key)
	if err != nil {
		t.Fatalf("DecodeStored: %v", err)
	}
	if img.Meta.Width != 5 || img.Meta.Height != 2 {
		t.Errorf("got %dx%d", img.Meta.Width, img.Meta.Height)
	}
}

// memObjects is an in-memory S3Client.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	failGet error
}

func newMemObjects() *memObjects { return &memObjects{objects: map[string][]byte{}} }

func (m *memObjects) PutObject(_ context.Context, bucket, key string, body io.Reader, _ map[string]string) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = b
	return nil
}

func (m *memObjects) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	b, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memObjects) DeleteObject(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memObjects) HeadObject(_ context.Context, bucket, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[bucket+"/"+key]
	return ok, nil
}

func TestDecodeStored_S3(t *testing.T) {
	proc := newProc(t)
	objects := newMemObjects()
	store, err := storage.NewS3(objects, "images")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	key := core.StorageKey{Path: "x.png"}
	if err := store.Put(ctx, key, bytes.NewReader(newPNG(t, 7, 3)), nil); err != nil {
		t.Fatal(err)
	}
	img, err := proc.DecodeStored(ctx, store, key)
	if err != nil {
		t.Fatalf("DecodeStored: %v", err)
	}
	if img.Format != streamcodec.PNG || img.Meta.Width != 7 || img.Meta.Height != 3 {
		t.Errorf("got %s %dx%d", img.Format, img.Meta.Width, img.Meta.Height)
	}
}

func TestDecodeStored_S3FailureStaysRetryable(t *testing.T) {
	proc := newProc(t)
	objects := newMemObjects()
	objects.failGet = errors.New("503 SlowDown")
	store, _ := storage.NewS3(objects, "images")

	_, err := proc.DecodeStored(context.Background(), store, core.StorageKey{Path: "x.png"})
	if !apperrors.IsCategory(err, apperrors.CategoryStorage) || !apperrors.IsRetryable(err) {
		t.Fatalf("got %v, want a retryable storage error", err)
	}
}

func TestDecode_FallbackKeepsFormatError(t *testing.T) {
	proc := newProc(t)
	junk := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte("definitely not entropy-coded data")...)
	_, err := proc.Decode(context.Background(), streamcodec.FromReader(bytes.NewReader(junk)))
	if got := core.ResultOf(err); got != core.FormatError {
		t.Fatalf("ResultOf(%v) = %s, want FormatError", err, got)
	}
}

func TestEncodePNG_RoundTrip(t *testing.T) {
	proc := newProc(t)
	img, err := proc.Decode(context.Background(), streamcodec.FromReader(bytes.NewReader(newBMP(t, 6, 5))))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	sink := &utils.BufferSink{}
	if err := streamcodec.EncodePNG(context.Background(), img, sink); err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	back, err := proc.Decode(context.Background(), streamcodec.FromReader(bytes.NewReader(sink.Bytes())))
	if err != nil {
		t.Fatalf("Decode of encoded PNG: %v", err)
	}
	want, _ := streamcodec.ToImage(img)
	got, _ := streamcodec.ToImage(back)
	for y := 0; y < 5; y++ {
		for x := 0; x < 6; x++ {
			a := color.NRGBAModel.Convert(want.At(x, y))
			b := color.NRGBAModel.Convert(got.At(x, y))
			if a != b {
				t.Fatalf("pixel (%d,%d): got %v, want %v", x, y, b, a)
			}
		}
	}
}

func TestSessions_ByteAtATime(t *testing.T) {
	raw := newPNG(t, 7, 5)
	src := streamcodec.NewFeedSource(nil)
	s := streamcodec.NewPNGSession(src, core.SessionOptions{})
	fed := 0
	for s.ReadMetadata() == streamcodec.IncompleteInput {
		src.Feed(raw[fed : fed+1])
		fed++
	}
	for res := s.ReadImageData(); res != streamcodec.Success; res = s.ReadImageData() {
		if res != streamcodec.IncompleteInput {
			t.Fatalf("ReadImageData: %v (%v)", res, s.Err())
		}
		src.Feed(raw[fed : fed+1])
		fed++
	}
	pix, _ := s.Pixels()
	if !bytes.Equal(pix, gradient(7, 5).Pix) {
		t.Error("pixels differ")
	}
}

func TestResultWireValues(t *testing.T) {
	want := map[core.Result]uint8{
		streamcodec.Success: 0, streamcodec.FormatError: 1, streamcodec.ParameterError: 2,
		streamcodec.UnsupportedFeature: 3, streamcodec.IncompleteInput: 4, streamcodec.LimitsExceeded: 5,
		streamcodec.OtherError: 6, streamcodec.EndOfFrame: 7,
	}
	for r, v := range want {
		if uint8(r) != v {
			t.Errorf("%v = %d, want %d", r, uint8(r), v)
		}
	}
}

// ── Concurrency tests ─────────────────────────────────────────────────────────

func TestDecode_ConcurrentSafety(t *testing.T) {
	proc := newProc(t)
	raw := newPNG(t, 32, 32)

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make([]error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = proc.Decode(context.Background(), streamcodec.FromReader(bytes.NewReader(raw)))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d: %v", i, err)
		}
	}
}

func TestBatch(t *testing.T) {
	proc := newProc(t)
	sources := []core.Source{
		streamcodec.FromReader(bytes.NewReader(newPNG(t, 10, 10))),
		streamcodec.FromReader(bytes.NewReader(newBMP(t, 10, 10))),
		streamcodec.FromReader(bytes.NewReader(newJPEG(t, 10, 10))),
	}

	results, errs := proc.Batch(context.Background(), sources)
	for i, err := range errs {
		if err != nil {
			t.Errorf("batch[%d]: %v", i, err)
		}
		if results[i] == nil {
			t.Errorf("batch[%d]: nil result", i)
		}
	}
}

func TestWorkerPool_Async(t *testing.T) {
	proc := newProc(t)

	resultCh := make(chan core.JobResult, 1)
	job := core.Job{
		ID:       "test-job-1",
		Ctx:      context.Background(),
		Source:   streamcodec.FromReader(bytes.NewReader(newBMP(t, 50, 20))),
		ResultCh: resultCh,
	}
	if err := proc.Submit(job); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case res := <-resultCh:
		if res.Err != nil {
			t.Fatalf("async job error: %v", res.Err)
		}
		if res.JobID != "test-job-1" || res.Image.Meta.Width != 50 {
			t.Errorf("async result: %s width %d", res.JobID, res.Image.Meta.Width)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("async job timed out")
	}
}

// ── Hooks / Metrics test ──────────────────────────────────────────────────────

func TestMetricsHook(t *testing.T) {
	m := hooks.NewInMemoryMetrics()
	proc := newProc(t)
	proc.AddHook(hooks.NewMetricsHook(m))
	proc.AddHook(hooks.NewLoggingHook(hooks.NopLogger()))
	collector := hooks.NewInMemoryMetrics()
	proc.SetMetrics(collector)

	raw := newPNG(t, 16, 16)
	if _, err := proc.Decode(context.Background(), streamcodec.FromReader(bytes.NewReader(raw))); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	snap := m.Snapshot()
	if snap.Calls["read_image_data"] == 0 {
		t.Error("read_image_data was not recorded by the hook")
	}
	if snap.Results["read_metadata/Success"] != 1 {
		t.Errorf("read_metadata results: %v", snap.Results)
	}
	c := collector.Snapshot()
	if c.TotalRows != 16 {
		t.Errorf("rows: got %d, want 16", c.TotalRows)
	}
	if c.TotalBytes == 0 || c.TotalBytes > int64(len(raw)) {
		t.Errorf("bytes: got %d of %d", c.TotalBytes, len(raw))
	}
}

// ── Config validation test ────────────────────────────────────────────────────

func TestConfigValidation(t *testing.T) {
	cfg := config.Default()
	cfg.ChunkSize = 0 // invalid
	if err := config.Validate(cfg); err == nil {
		t.Error("expected validation error for ChunkSize=0")
	}
	if err := config.Validate(config.Default()); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
}

// ── Benchmarks ────────────────────────────────────────────────────────────────

func BenchmarkDecode_PNG(b *testing.B) {
	proc := streamcodec.New(streamcodec.DefaultConfig())
	raw := newPNG(b, 512, 512)

	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := proc.Decode(context.Background(), streamcodec.FromReader(bytes.NewReader(raw))); err != nil {
			b.Fatalf("Decode: %v", err)
		}
	}
}

func BenchmarkDecode_BMP(b *testing.B) {
	proc := streamcodec.New(streamcodec.DefaultConfig())
	raw := newBMP(b, 512, 512)

	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := proc.Decode(context.Background(), streamcodec.FromReader(bytes.NewReader(raw))); err != nil {
			b.Fatalf("Decode: %v", err)
		}
	}
}
