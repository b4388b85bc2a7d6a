package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tomasbasham/cdn/internal/storage"
)

type formPart struct {
	field    string
	fileName string // empty for a plain form field
	content  string
}

func multipartBody(t *testing.T, parts ...formPart) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.fileName == "" {
			require.NoError(t, mw.WriteField(p.field, p.content))
			continue
		}
		w, err := mw.CreateFormFile(p.field, p.fileName)
		require.NoError(t, err)
		_, err = io.WriteString(w, p.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStore(dir)
	require.NoError(t, err)

	ts := httptest.NewServer(New(store, zaptest.NewLogger(t), prometheus.NewRegistry()))
	t.Cleanup(ts.Close)
	return ts, dir
}

func uploadURL(base, uploadPath string) string {
	return base + "/?" + UploadPathParam + "=" + url.QueryEscape(uploadPath)
}

func post(t *testing.T, target string, body io.Reader, contentType string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, target, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func postFile(t *testing.T, target, fileName, content string) (int, string) {
	t.Helper()
	body, ct := multipartBody(t, formPart{field: fileName, fileName: fileName, content: content})
	return post(t, target, body, ct)
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "storage root was modified")
}

func TestUploadStoresFile(t *testing.T) {
	ts, dir := newTestServer(t)

	status, body := postFile(t, uploadURL(ts.URL, "images/2024"), "logo.png", "\x89PNG\r\n\x1a\n")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body)

	got, err := os.ReadFile(filepath.Join(dir, "images", "2024", "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG\r\n\x1a\n", string(got))
}

func TestUploadEmptyFile(t *testing.T) {
	ts, dir := newTestServer(t)

	status, _ := postFile(t, uploadURL(ts.URL, "test"), "empty.txt", "")
	require.Equal(t, http.StatusOK, status)

	info, err := os.Stat(filepath.Join(dir, "test", "empty.txt"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestUploadLargeFileRoundTrip(t *testing.T) {
	ts, dir := newTestServer(t)
	content := strings.Repeat("0123456789abcdef", 1<<16)

	status, _ := postFile(t, uploadURL(ts.URL, "big"), "blob.bin", content)
	require.Equal(t, http.StatusOK, status)

	got, err := os.ReadFile(filepath.Join(dir, "big", "blob.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestUploadRejectsExistingFile(t *testing.T) {
	ts, dir := newTestServer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	existing := filepath.Join(dir, "docs", "report.pdf")
	require.NoError(t, os.WriteFile(existing, []byte("original"), 0o644))

	status, _ := postFile(t, uploadURL(ts.URL, "docs"), "report.pdf", "replacement")
	assert.Equal(t, http.StatusBadRequest, status)

	got, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}

func TestUploadSameRequestTwice(t *testing.T) {
	ts, dir := newTestServer(t)
	target := uploadURL(ts.URL, "test")

	status, _ := postFile(t, target, "a.txt", "first")
	require.Equal(t, http.StatusOK, status)

	status, _ = postFile(t, target, "a.txt", "second")
	assert.Equal(t, http.StatusBadRequest, status)

	got, err := os.ReadFile(filepath.Join(dir, "test", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
}

func TestUploadRequiresUploadPath(t *testing.T) {
	tests := []struct {
		name   string
		target func(base string) string
	}{
		{"missing", func(base string) string { return base + "/" }},
		{"empty", func(base string) string { return uploadURL(base, "") }},
		{"whitespace", func(base string) string { return uploadURL(base, "  \t ") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, dir := newTestServer(t)

			status, _ := postFile(t, tt.target(ts.URL), "a.txt", "data")
			assert.Equal(t, http.StatusBadRequest, status)
			assertEmptyDir(t, dir)
		})
	}
}

func TestUploadRequiresForm(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
	}{
		{"missing content type", ""},
		{"json", "application/json"},
		{"plain text", "text/plain; charset=utf-8"},
		{"malformed", "multipart/form-data; boundary"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, dir := newTestServer(t)

			status, _ := post(t, uploadURL(ts.URL, "test"), strings.NewReader(`{"file":"x"}`), tt.contentType)
			assert.Equal(t, http.StatusBadRequest, status)
			assertEmptyDir(t, dir)
		})
	}
}

func TestUploadRequiresFilePart(t *testing.T) {
	t.Run("multipart without file", func(t *testing.T) {
		ts, dir := newTestServer(t)
		body, ct := multipartBody(t, formPart{field: "name", content: "value"})

		status, _ := post(t, uploadURL(ts.URL, "test"), body, ct)
		assert.Equal(t, http.StatusBadRequest, status)
		assertEmptyDir(t, dir)
	})

	t.Run("url encoded form", func(t *testing.T) {
		ts, dir := newTestServer(t)

		status, _ := post(t, uploadURL(ts.URL, "test"), strings.NewReader("a=b"), "application/x-www-form-urlencoded")
		assert.Equal(t, http.StatusBadRequest, status)
		assertEmptyDir(t, dir)
	})

	t.Run("checked before upload path", func(t *testing.T) {
		ts, dir := newTestServer(t)
		body, ct := multipartBody(t)

		status, resp := post(t, ts.URL+"/", body, ct)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, resp, "file")
		assertEmptyDir(t, dir)
	})
}

func TestUploadUsesFirstFilePartOnly(t *testing.T) {
	ts, dir := newTestServer(t)
	body, ct := multipartBody(t,
		formPart{field: "description", content: "ignored"},
		formPart{field: "first.txt", fileName: "first.txt", content: "one"},
		formPart{field: "second.txt", fileName: "second.txt", content: "two"},
	)

	status, _ := post(t, uploadURL(ts.URL, "multi"), body, ct)
	require.Equal(t, http.StatusOK, status)

	got, err := os.ReadFile(filepath.Join(dir, "multi", "first.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	_, err = os.Stat(filepath.Join(dir, "multi", "second.txt"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestUploadRejectsPathsOutsideRoot(t *testing.T) {
	for _, uploadPath := range []string{"../outside", "a/../../outside", "/etc"} {
		t.Run(uploadPath, func(t *testing.T) {
			ts, dir := newTestServer(t)

			status, _ := postFile(t, uploadURL(ts.URL, uploadPath), "a.txt", "data")
			assert.Equal(t, http.StatusBadRequest, status)
			assertEmptyDir(t, dir)
		})
	}
}

func postDeclaredFileName(t *testing.T, target, fileName, content string) (int, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	h.Set("Content-Type", "application/octet-stream")
	w, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return post(t, target, &buf, mw.FormDataContentType())
}

func TestUploadUsesDeclaredFileName(t *testing.T) {
	tests := []struct {
		fileName   string
		wantStatus int
		wantPath   []string
	}{
		{"sub/a.txt", http.StatusOK, []string{"test", "sub", "a.txt"}},
		{"../../evil", http.StatusBadRequest, nil},
		{"../evil", http.StatusBadRequest, nil},
		{"/abs", http.StatusBadRequest, nil},
		{"sub/../../evil", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			ts, dir := newTestServer(t)

			status, _ := postDeclaredFileName(t, uploadURL(ts.URL, "test"), tt.fileName, "data")
			require.Equal(t, tt.wantStatus, status)

			if tt.wantPath == nil {
				assertEmptyDir(t, dir)
				return
			}
			got, err := os.ReadFile(filepath.Join(append([]string{dir}, tt.wantPath...)...))
			require.NoError(t, err)
			assert.Equal(t, "data", string(got))

			_, err = os.Stat(filepath.Join(dir, "test", "a.txt"))
			assert.True(t, errors.Is(err, os.ErrNotExist))
		})
	}
}

func TestUploadConcurrentDistinctNames(t *testing.T) {
	ts, dir := newTestServer(t)
	target := uploadURL(ts.URL, "shared")

	const n = 8
	reqs := make([]*http.Request, n)
	for i := range reqs {
		name := fmt.Sprintf("file-%d.txt", i)
		body, ct := multipartBody(t, formPart{field: name, fileName: name, content: name})
		req, err := http.NewRequest(http.MethodPost, target, body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", ct)
		reqs[i] = req
	}

	var wg sync.WaitGroup
	statuses := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.DefaultClient.Do(reqs[i])
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(t, http.StatusOK, statuses[i], "upload %d", i)
		name := fmt.Sprintf("file-%d.txt", i)
		got, err := os.ReadFile(filepath.Join(dir, "shared", name))
		require.NoError(t, err)
		assert.Equal(t, name, string(got))
	}
}

type fakeStore struct {
	exists    bool
	existsErr error
	uploadErr error
	uploaded  []string
}

func (f *fakeStore) Exists(context.Context, string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeStore) Upload(_ context.Context, req *storage.UploadRequest) (*storage.UploadResult, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	n, err := io.Copy(io.Discard, req.Content)
	if err != nil {
		return nil, err
	}
	f.uploaded = append(f.uploaded, req.Key)
	return &storage.UploadResult{Key: req.Key, Size: n}, nil
}

func TestUploadStoreErrors(t *testing.T) {
	tests := []struct {
		name  string
		store *fakeStore
		want  int
	}{
		{"exists check fails", &fakeStore{existsErr: errors.New("disk on fire")}, http.StatusInternalServerError},
		{"lost create race", &fakeStore{uploadErr: fmt.Errorf("%w: %q", storage.ErrObjectExists, "test/a.txt")}, http.StatusBadRequest},
		{"write fails", &fakeStore{uploadErr: errors.New("no space left on device")}, http.StatusInternalServerError},
		{"stored", &fakeStore{}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(New(tt.store, zaptest.NewLogger(t), nil))
			defer ts.Close()

			status, _ := postFile(t, uploadURL(ts.URL, "test"), "a.txt", "data")
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestUploadKey(t *testing.T) {
	store := &fakeStore{}
	ts := httptest.NewServer(New(store, zaptest.NewLogger(t), nil))
	defer ts.Close()

	status, _ := postFile(t, uploadURL(ts.URL, "a/b/"), "c.txt", "data")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"a/b/c.txt"}, store.uploaded)
}

func TestUploadMetrics(t *testing.T) {
	ts, _ := newTestServer(t)

	status, _ := postFile(t, uploadURL(ts.URL, "m"), "a.txt", "12345")
	require.Equal(t, http.StatusOK, status)
	status, _ = postFile(t, uploadURL(ts.URL, "m"), "a.txt", "12345")
	require.Equal(t, http.StatusBadRequest, status)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	body := string(b)
	assert.Contains(t, body, `cdn_uploads_total{result="stored"} 1`)
	assert.Contains(t, body, `cdn_uploads_total{result="rejected"} 1`)
	assert.Contains(t, body, `cdn_upload_bytes_total 5`)
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUploadMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(uploadURL(ts.URL, "test"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRequestID(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(requestIDHeader))

	resp2, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.NotEmpty(t, resp2.Header.Get(requestIDHeader))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	srv := New(store, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	assert.NoError(t, <-done)
}
