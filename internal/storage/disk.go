package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStore writes objects to a directory tree on the local filesystem. The
// key "a/b/name" is stored at baseDir/a/b/name.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a LocalStore rooted at baseDir. The directory is
// created if it does not already exist.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create local base directory %q: %w", baseDir, err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to resolve absolute path for %q: %w", baseDir, err)
	}
	return &LocalStore{baseDir: abs}, nil
}

// Path returns the filesystem path that key maps to.
func (s *LocalStore) Path(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}

func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.Path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("storage: failed to stat %q: %w", key, err)
}

// Upload creates the parent directories of the key, then creates the file
// exclusively and copies the content into it. A cancelled ctx stops the copy
// and leaves the partially written file in place.
func (s *LocalStore) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	dest := s.Path(req.Key)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create directory for %q: %w", req.Key, err)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %q", ErrObjectExists, req.Key)
		}
		return nil, fmt.Errorf("storage: failed to create file %q: %w", dest, err)
	}

	n, err := io.Copy(f, &contextReader{ctx: ctx, r: req.Content})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("storage: failed to write file %q: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("storage: failed to close file %q: %w", dest, err)
	}

	return &UploadResult{Key: req.Key, Size: n}, nil
}
