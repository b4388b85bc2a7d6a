package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSStore uploads objects to a Google Cloud Storage bucket. Keys are stored
// under prefix, which plays the role of the base path.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a GCSStore for the given bucket. opts are passed
// through to the underlying GCS client, allowing credential injection.
func NewGCSStore(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("storage: GCS bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(objectKey(s.prefix, key)).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("storage: failed to read attributes of %q: %w", key, err)
}

// Upload writes content to the bucket. The write is conditional on the
// object not existing, so a concurrent writer that got there first makes it
// fail with ErrObjectExists.
func (s *GCSStore) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	obj := s.client.Bucket(s.bucket).Object(objectKey(s.prefix, req.Key))
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)

	n, err := io.Copy(w, &contextReader{ctx: ctx, r: req.Content})
	if err != nil {
		_ = w.Close()
		if isGCSPreconditionFailed(err) {
			return nil, fmt.Errorf("%w: %q", ErrObjectExists, req.Key)
		}
		return nil, fmt.Errorf("storage: upload write failed for %q: %w", req.Key, err)
	}
	if err := w.Close(); err != nil {
		if isGCSPreconditionFailed(err) {
			return nil, fmt.Errorf("%w: %q", ErrObjectExists, req.Key)
		}
		return nil, fmt.Errorf("storage: upload close failed for %q: %w", req.Key, err)
	}

	return &UploadResult{Key: req.Key, Size: n}, nil
}

// Close releases the underlying GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func isGCSPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

// objectKey joins the configured prefix and a key into an object name.
// Object names never start with a slash.
func objectKey(prefix, key string) string {
	return strings.TrimPrefix(path.Join(prefix, key), "/")
}
