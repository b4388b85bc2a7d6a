package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tomasbasham/cdn/internal/metrics"
	"github.com/tomasbasham/cdn/internal/storage"
)

// UploadPathParam is the query parameter carrying the destination directory
// relative to the storage root.
const UploadPathParam = "uploadPath"

// rejection is a client error. Its message is returned in the 400 response.
type rejection struct {
	msg string
}

func (e *rejection) Error() string { return e.msg }

func reject(format string, args ...any) error {
	return &rejection{msg: fmt.Sprintf(format, args...)}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := requestLogger(r.Context(), s.logger)

	res, err := s.upload(r, logger)

	var rej *rejection
	switch {
	case err == nil:
		s.metrics.ObserveUpload(metrics.ResultStored, res.Size, time.Since(start).Seconds())
		logger.Info("file saved", zap.String("key", res.Key), zap.Int64("bytes", res.Size))
		w.WriteHeader(http.StatusOK)

	case errors.As(err, &rej):
		s.metrics.ObserveUpload(metrics.ResultRejected, 0, time.Since(start).Seconds())
		logger.Info("upload rejected", zap.String("reason", rej.msg))
		writeError(w, http.StatusBadRequest, rej.msg)

	default:
		s.metrics.ObserveUpload(metrics.ResultFailed, 0, time.Since(start).Seconds())
		logger.Error("upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upload failed")
	}
}

// upload validates the request and streams its first file part into the
// store. Validation happens in a fixed order and stops at the first failure;
// nothing touches the store until the request is known to be well formed.
func (s *Server) upload(r *http.Request, logger *zap.Logger) (*storage.UploadResult, error) {
	mediaType, isForm := formMediaType(r.Header.Get("Content-Type"))
	if !isForm {
		return nil, reject("request has to be a form")
	}

	part, fileName, err := firstFilePart(r, mediaType)
	if err != nil {
		return nil, err
	}
	defer part.Close()

	uploadPath := r.URL.Query().Get(UploadPathParam)
	if strings.TrimSpace(uploadPath) == "" {
		return nil, reject("%s has to be defined and non-empty", UploadPathParam)
	}

	key, err := objectKey(uploadPath, fileName)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, reject("file %q already exists", key)
	}

	logger.Debug("storing file", zap.String("key", key))
	res, err := s.store.Upload(ctx, &storage.UploadRequest{Key: key, Content: part})
	if errors.Is(err, storage.ErrObjectExists) {
		return nil, reject("file %q already exists", key)
	}
	return res, err
}

// formMediaType reports the media type of contentType and whether it is one
// of the form encodings.
func formMediaType(contentType string) (string, bool) {
	if contentType == "" {
		return "", false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	switch mediaType {
	case "multipart/form-data", "application/x-www-form-urlencoded":
		return mediaType, true
	}
	return mediaType, false
}

// firstFilePart advances the multipart body to the first part carrying a
// file name and returns it along with that name. Parts after it are never
// read.
func firstFilePart(r *http.Request, mediaType string) (*multipart.Part, string, error) {
	// An url-encoded form cannot carry files.
	if mediaType != "multipart/form-data" {
		return nil, "", reject("request has to contain a file")
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", reject("malformed multipart form: %v", err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, "", reject("request has to contain a file")
		}
		if err != nil {
			return nil, "", reject("malformed multipart form: %v", err)
		}
		if name := declaredFileName(part); name != "" {
			return part, name, nil
		}
		part.Close()
	}
}

// declaredFileName returns the filename parameter of the part's
// Content-Disposition as sent. Part.FileName strips directories, which would
// hide both nested names and traversal attempts from objectKey.
func declaredFileName(part *multipart.Part) string {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

// objectKey joins the upload path and the file name into a storage key.
// Paths that would resolve outside the storage root are rejected.
func objectKey(uploadPath, fileName string) (string, error) {
	if !filepath.IsLocal(uploadPath) {
		return "", reject("%s %q must be a relative path inside the storage root", UploadPathParam, uploadPath)
	}
	if !filepath.IsLocal(fileName) || fileName == "." {
		return "", reject("invalid file name %q", fileName)
	}
	return path.Join(filepath.ToSlash(uploadPath), fileName), nil
}
