package storage_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/Skryldev/streamcodec/adapters/storage"
	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
)

// fakeS3 is an in-memory S3Client.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	err     error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, bucket, key string, body io.Reader, meta map[string]string) error {
	if f.err != nil {
		return f.err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = b
	f.meta[bucket+"/"+key] = meta
	return nil
}

func (f *fakeS3) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeS3) DeleteObject(_ context.Context, bucket, key string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, bucket+"/"+key)
	return nil
}

func (f *fakeS3) HeadObject(_ context.Context, bucket, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[bucket+"/"+key]
	return ok, nil
}

func TestS3_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	s, err := storage.NewS3(client, "default")
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	key := core.StorageKey{Path: "a/b.png"}

	if ok, err := s.Exists(ctx, key); err != nil || ok {
		t.Fatalf("Exists before Put: %v %v", ok, err)
	}
	if err := s.Put(ctx, key, bytes.NewReader([]byte("payload")), map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := client.objects["default/a/b.png"]; !ok {
		t.Fatalf("object not stored under the default bucket: %v", client.objects)
	}
	if client.meta["default/a/b.png"]["k"] != "v" {
		t.Errorf("metadata not passed through")
	}
	rc, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "payload" {
		t.Errorf("got %q", got)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, key); ok {
		t.Error("object still exists after Delete")
	}
}

func TestS3_ExplicitBucket(t *testing.T) {
	client := newFakeS3()
	s, _ := storage.NewS3(client, "default")
	key := core.StorageKey{Bucket: "other", Path: "x"}
	if err := s.Put(context.Background(), key, bytes.NewReader([]byte{1}), nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := client.objects["other/x"]; !ok {
		t.Errorf("explicit bucket ignored: %v", client.objects)
	}
}

func TestS3_ClientErrorsAreRetryable(t *testing.T) {
	client := newFakeS3()
	client.err = errors.New("503 SlowDown")
	s, _ := storage.NewS3(client, "default")
	ctx := context.Background()
	key := core.StorageKey{Path: "x"}

	checks := map[string]error{}
	checks["put"] = s.Put(ctx, key, bytes.NewReader(nil), nil)
	_, checks["get"] = s.Get(ctx, key)
	_, checks["exists"] = s.Exists(ctx, key)
	checks["delete"] = s.Delete(ctx, key)
	for op, err := range checks {
		if !apperrors.IsCategory(err, apperrors.CategoryStorage) || !apperrors.IsRetryable(err) {
			t.Errorf("%s: got %v, want a retryable storage error", op, err)
		}
	}
}

func TestS3_RejectsIncompleteKeys(t *testing.T) {
	s, _ := storage.NewS3(newFakeS3(), "")
	ctx := context.Background()
	for _, key := range []core.StorageKey{{Path: "x"}, {Bucket: "b"}} {
		err := s.Put(ctx, key, bytes.NewReader(nil), nil)
		if !apperrors.IsCategory(err, apperrors.CategoryStorage) || apperrors.IsRetryable(err) {
			t.Errorf("key %+v: got %v", key, err)
		}
	}
	if _, err := storage.NewS3(nil, "b"); err == nil {
		t.Error("nil client accepted")
	}
}

func TestS3_DecodedDump(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	s, _ := storage.NewS3(client, "dumps")
	img := &core.DecodedImage{
		Format: core.FormatPNG,
		Meta: core.Metadata{
			Width: 1, Height: 2,
			Layout: core.LayoutRGBA8, Orientation: core.TopDown,
		},
		Pixels:    []byte{1, 2, 3, 4, 5, 6, 7, 8},
		RowStride: 4,
	}
	key := core.StorageKey{Path: "img.raw"}
	if err := s.PutDecoded(ctx, key, img); err != nil {
		t.Fatalf("PutDecoded: %v", err)
	}
	if _, ok := client.objects["dumps/img.raw.meta.json"]; !ok {
		t.Fatalf("sidecar object missing: %v", client.objects)
	}
	got, err := s.GetDecoded(ctx, key)
	if err != nil {
		t.Fatalf("GetDecoded: %v", err)
	}
	if got.Format != core.FormatPNG || got.Meta.Height != 2 || got.Meta.Layout != core.LayoutRGBA8 || got.RowStride != 4 {
		t.Errorf("got %+v stride %d", got.Meta, got.RowStride)
	}
	if !bytes.Equal(got.Pixels, img.Pixels) {
		t.Errorf("pixels: got %v", got.Pixels)
	}

	// Truncated pixel object.
	client.objects["dumps/img.raw"] = []byte{1, 2, 3}
	if _, err := s.GetDecoded(ctx, key); !errors.Is(err, apperrors.ErrTruncated) {
		t.Errorf("truncated dump: got %v", err)
	}
}
