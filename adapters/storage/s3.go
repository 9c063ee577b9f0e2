package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
)

// S3Client defines the minimal object-store surface the adapter needs.
// Production code wraps an aws-sdk-go-v2 (or MinIO) client; tests inject a
// double.
type S3Client interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, meta map[string]string) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	HeadObject(ctx context.Context, bucket, key string) (bool, error)
}

// S3 stores encoded inputs and decoded pixel dumps in an S3-compatible
// object store.  Client failures are reported as retryable storage errors.
type S3 struct {
	client S3Client
	bucket string
}

// NewS3 creates an S3 adapter.  Keys without a bucket go to defaultBucket.
func NewS3(client S3Client, defaultBucket string) (*S3, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 storage: client must not be nil")
	}
	return &S3{client: client, bucket: defaultBucket}, nil
}

// locate resolves key to a bucket and object name.
func (s *S3) locate(op string, key core.StorageKey) (string, string, error) {
	bucket := key.Bucket
	if bucket == "" {
		bucket = s.bucket
	}
	if bucket == "" || key.Path == "" {
		return "", "", apperrors.New(apperrors.CategoryStorage, op, fmt.Errorf("invalid key %v", key))
	}
	return bucket, key.Path, nil
}

func (s *S3) Put(ctx context.Context, key core.StorageKey, r io.Reader, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.put", err)
	}
	bucket, name, err := s.locate("s3.put", key)
	if err != nil {
		return err
	}
	if err := s.client.PutObject(ctx, bucket, name, r, meta); err != nil {
		return apperrors.Transient("s3.put", err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, key core.StorageKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "s3.get", err)
	}
	bucket, name, err := s.locate("s3.get", key)
	if err != nil {
		return nil, err
	}
	rc, err := s.client.GetObject(ctx, bucket, name)
	if err != nil {
		return nil, apperrors.Transient("s3.get", err)
	}
	return rc, nil
}

// Delete removes the object and any pixel-dump sidecar next to it.
func (s *S3) Delete(ctx context.Context, key core.StorageKey) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.delete", err)
	}
	bucket, name, err := s.locate("s3.delete", key)
	if err != nil {
		return err
	}
	if err := s.client.DeleteObject(ctx, bucket, name); err != nil {
		return apperrors.Transient("s3.delete", err)
	}
	_ = s.client.DeleteObject(ctx, bucket, name+sidecarSuffix)
	return nil
}

func (s *S3) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "s3.exists", err)
	}
	bucket, name, err := s.locate("s3.exists", key)
	if err != nil {
		return false, err
	}
	ok, err := s.client.HeadObject(ctx, bucket, name)
	if err != nil {
		return false, apperrors.Transient("s3.exists", err)
	}
	return ok, nil
}

// PutDecoded uploads the pixel buffer of img with its geometry in a JSON
// sidecar object, the same layout Local writes.
func (s *S3) PutDecoded(ctx context.Context, key core.StorageKey, img *core.DecodedImage) error {
	if img == nil || img.Pixels == nil {
		return apperrors.New(apperrors.CategoryStorage, "s3.put_decoded", apperrors.ErrEmptyInput)
	}
	sidecar, err := json.Marshal(headerOf(img))
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.put_decoded.meta", err)
	}
	if err := s.Put(ctx, key, bytes.NewReader(img.Pixels), map[string]string{"content-type": "application/octet-stream"}); err != nil {
		return err
	}
	meta := core.StorageKey{Bucket: key.Bucket, Path: key.Path + sidecarSuffix}
	return s.Put(ctx, meta, bytes.NewReader(sidecar), map[string]string{"content-type": "application/json"})
}

// GetDecoded downloads a dump written by PutDecoded.
func (s *S3) GetDecoded(ctx context.Context, key core.StorageKey) (*core.DecodedImage, error) {
	pix, err := s.readAll(ctx, key)
	if err != nil {
		return nil, err
	}
	sidecar, err := s.readAll(ctx, core.StorageKey{Bucket: key.Bucket, Path: key.Path + sidecarSuffix})
	if err != nil {
		return nil, err
	}
	return fromDump("s3.get_decoded", sidecar, pix)
}

func (s *S3) readAll(ctx context.Context, key core.StorageKey) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, apperrors.Transient("s3.read", err)
	}
	return b, nil
}

var _ core.StorageAdapter = (*S3)(nil)
