// Package storage provides StorageAdapter implementations.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Skryldev/streamcodec/core"
	apperrors "github.com/Skryldev/streamcodec/errors"
)

const sidecarSuffix = ".meta.json"

// Local stores encoded inputs and decoded pixel dumps on the local
// filesystem.
type Local struct {
	rootDir     string
	permissions os.FileMode
}

// NewLocal creates a Local storage adapter rooted at dir.
func NewLocal(dir string, perm os.FileMode) (*Local, error) {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local storage: mkdir %s: %w", dir, err)
	}
	return &Local{rootDir: dir, permissions: perm}, nil
}

// absPath maps Bucket to a subdirectory and Path to a file below it.  Keys
// that would escape the root are rejected.
func (l *Local) absPath(op string, key core.StorageKey) (string, error) {
	p := filepath.Join(l.rootDir, filepath.Clean("/"+key.Bucket), filepath.Clean("/"+key.Path))
	if key.Path == "" || !strings.HasPrefix(p, filepath.Clean(l.rootDir)+string(filepath.Separator)) {
		return "", apperrors.New(apperrors.CategoryStorage, op, fmt.Errorf("invalid key %v", key))
	}
	return p, nil
}

func (l *Local) Put(ctx context.Context, key core.StorageKey, r io.Reader, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put", err)
	}
	path, err := l.absPath("local.put", key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.mkdir", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, l.permissions)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.open", err)
	}
	defer f.Close()

	if _, err = io.Copy(f, r); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.copy", err)
	}

	if len(meta) > 0 {
		if err := l.writeSidecar(path, meta); err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) writeSidecar(path string, v any) error {
	mf, err := os.OpenFile(path+sidecarSuffix, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, l.permissions)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.meta", err)
	}
	defer mf.Close()
	if err := json.NewEncoder(mf).Encode(v); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.meta", err)
	}
	return nil
}

func (l *Local) Get(ctx context.Context, key core.StorageKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.get", err)
	}
	path, err := l.absPath("local.get", key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.New(apperrors.CategoryStorage, "local.get", fmt.Errorf("key not found: %v", key))
		}
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.get.open", err)
	}
	return f, nil
}

func (l *Local) Delete(ctx context.Context, key core.StorageKey) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	path, err := l.absPath("local.delete", key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	_ = os.Remove(path + sidecarSuffix)
	return nil
}

func (l *Local) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists", err)
	}
	path, err := l.absPath("local.exists", key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists.stat", err)
}

// ── Pixel dumps ───────────────────────────────────────────────────────────────

// PutDecoded stores the pixel buffer of img verbatim, with its geometry in a
// JSON sidecar.
func (l *Local) PutDecoded(ctx context.Context, key core.StorageKey, img *core.DecodedImage) error {
	if img == nil || img.Pixels == nil {
		return apperrors.New(apperrors.CategoryStorage, "local.put_decoded", apperrors.ErrEmptyInput)
	}
	if err := l.Put(ctx, key, bytes.NewReader(img.Pixels), nil); err != nil {
		return err
	}
	path, _ := l.absPath("local.put_decoded", key)
	return l.writeSidecar(path, headerOf(img))
}

// GetDecoded loads a dump written by PutDecoded.
func (l *Local) GetDecoded(ctx context.Context, key core.StorageKey) (*core.DecodedImage, error) {
	rc, err := l.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	pix, err := io.ReadAll(rc)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.get_decoded", err)
	}

	path, _ := l.absPath("local.get_decoded", key)
	raw, err := os.ReadFile(path + sidecarSuffix)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.get_decoded.meta", err)
	}
	return fromDump("local.get_decoded", raw, pix)
}

var _ core.StorageAdapter = (*Local)(nil)
