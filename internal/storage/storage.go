// Package storage persists uploaded files. Every backend shares the same
// contract: an object is written once and never overwritten. The local disk
// implementation is the default backend; the object store implementations
// allow the same service to sit in front of a bucket.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectExists is returned when the target of an upload already exists.
var ErrObjectExists = errors.New("storage: object already exists")

// Store persists uploaded content under slash separated keys of the form
// "uploadPath/fileName".
type Store interface {
	// Exists reports whether an object is already stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Upload writes the content to key. It must fail with ErrObjectExists
	// rather than replace an existing object.
	Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error)
}

type UploadRequest struct {
	// Key is the slash separated path of the object relative to the
	// configured base path.
	Key string

	// Content is the data to be uploaded.
	Content io.Reader
}

// UploadResult is the outcome of a successful upload.
type UploadResult struct {
	Key string

	// Size is the number of bytes written.
	Size int64
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
