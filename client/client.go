// Package client uploads files to the cdn upload service.
//
// A Client is safe for concurrent use. Each call rewinds and reads the
// content it is given, so a single io.ReadSeeker must not be passed to
// concurrent calls.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const uploadPathParam = "uploadPath"

// ErrInvalidArgument is returned when an upload is missing a required field.
var ErrInvalidArgument = errors.New("client: invalid argument")

// Configuration locates the upload service.
type Configuration struct {
	// ServiceAddress is the base URL the upload is posted to, e.g.
	// "http://cdn.internal:8080/".
	ServiceAddress string
}

// FileUpload uploads Content as Path/FileName.
type FileUpload struct {
	Path     string
	FileName string
	Content  io.ReadSeeker
}

// RandomNameFileUpload uploads Content under Path with a generated name.
type RandomNameFileUpload struct {
	Path    string
	Content io.ReadSeeker
}

// StatusError is returned when the service answers with a non-2xx status.
// The response body carries no contract and is not retained.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: upload failed with status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Client posts uploads to a single service address.
type Client struct {
	address    *url.URL
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Client for the service at cfg.ServiceAddress.
func New(cfg Configuration, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.ServiceAddress) == "" {
		return nil, fmt.Errorf("%w: service address is required", ErrInvalidArgument)
	}
	u, err := url.Parse(cfg.ServiceAddress)
	if err != nil {
		return nil, fmt.Errorf("client: invalid service address %q: %w", cfg.ServiceAddress, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: service address %q must be an absolute URL", ErrInvalidArgument, cfg.ServiceAddress)
	}

	c := &Client{address: u, httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UploadFile uploads fu.Content as fu.Path/fu.FileName. The service refuses
// to overwrite an existing file; that refusal surfaces as a *StatusError.
func (c *Client) UploadFile(ctx context.Context, fu *FileUpload) error {
	if fu == nil {
		return fmt.Errorf("%w: upload is nil", ErrInvalidArgument)
	}
	if strings.TrimSpace(fu.Path) == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(fu.FileName) == "" {
		return fmt.Errorf("%w: file name is required", ErrInvalidArgument)
	}
	if fu.Content == nil {
		return fmt.Errorf("%w: content is required", ErrInvalidArgument)
	}
	return c.upload(ctx, fu.Path, fu.FileName, fu.Content)
}

// UploadFileWithRandomName uploads fu.Content under fu.Path with a random
// UUID as its file name, and returns that name.
func (c *Client) UploadFileWithRandomName(ctx context.Context, fu *RandomNameFileUpload) (string, error) {
	if fu == nil {
		return "", fmt.Errorf("%w: upload is nil", ErrInvalidArgument)
	}
	if strings.TrimSpace(fu.Path) == "" {
		return "", fmt.Errorf("%w: path is required", ErrInvalidArgument)
	}
	if fu.Content == nil {
		return "", fmt.Errorf("%w: content is required", ErrInvalidArgument)
	}

	fileName := uuid.New().String()
	if err := c.upload(ctx, fu.Path, fileName, fu.Content); err != nil {
		return "", err
	}
	return fileName, nil
}

func (c *Client) upload(ctx context.Context, path, fileName string, content io.ReadSeeker) error {
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("client: failed to rewind content: %w", err)
	}

	u := *c.address
	q := u.Query()
	q.Set(uploadPathParam, path)
	u.RawQuery = q.Encode()

	// The body is streamed through a pipe so the content is never buffered
	// in full. Closing pr unblocks the writer if the service answers before
	// reading everything; waiting on done guarantees content is no longer
	// read once upload returns.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	contentType := mw.FormDataContentType()
	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(writeFilePart(mw, fileName, content))
	}()
	defer func() {
		pr.Close()
		<-done
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), pr)
	if err != nil {
		return fmt.Errorf("client: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: upload of %q failed: %w", fileName, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// writeFilePart writes a form containing a single file part whose field
// name and file name are both fileName.
func writeFilePart(mw *multipart.Writer, fileName string, content io.Reader) error {
	part, err := mw.CreateFormFile(fileName, fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	return mw.Close()
}
