package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	paths []string
	n     int
	err   error
}

func (f *fakeIngester) Ingest(_ context.Context, path string) (int, error) {
	f.paths = append(f.paths, path)
	return f.n, f.err
}

type fakeQA struct {
	question string
	k        int
	resp     models.ChatResponse
	err      error
}

func (f *fakeQA) Answer(_ context.Context, question string, k int) (models.ChatResponse, error) {
	f.question, f.k = question, k
	return f.resp, f.err
}

type fakeCounter struct {
	n   int
	err error
}

func (f fakeCounter) Count(context.Context) (int, error) { return f.n, f.err }

func newTestServer(t *testing.T, ing Ingester, qa Answerer) (*Server, string) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.MaxUploadMB = 1
	cfg.Storage.UploadsDir = filepath.Join(t.TempDir(), "uploads")
	cfg.RAG.DefaultK = 5
	cfg.RAG.MaxK = 50
	return New(cfg, ing, qa, fakeCounter{n: 7}), cfg.Storage.UploadsDir
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) apiError {
	t.Helper()
	var e apiError
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &e))
	return e
}

func TestUploadRejectsNonPDF(t *testing.T) {
	ing := &fakeIngester{}
	s, dir := newTestServer(t, ing, &fakeQA{})

	body, ct := multipartBody(t, "file", "notes.txt", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/admin/upload", body)
	req.Header.Set("Content-Type", ct)
	rr := do(t, s.Handler(), req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, http.StatusBadRequest, decodeError(t, rr).Code)
	assert.Empty(t, ing.paths)
	_, err := os.Stat(filepath.Join(dir, "notes.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadAcceptsUppercaseExtension(t *testing.T) {
	ing := &fakeIngester{n: 4}
	s, dir := newTestServer(t, ing, &fakeQA{})

	body, ct := multipartBody(t, "file", "report.PDF", []byte("%PDF-1.4 fake"))
	req := httptest.NewRequest(http.MethodPost, "/admin/upload", body)
	req.Header.Set("Content-Type", ct)
	rr := do(t, s.Handler(), req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp models.UploadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, models.UploadResponse{Status: "ok", Filename: "report.PDF", ChunksIndexed: 4}, resp)

	require.Len(t, ing.paths, 1)
	assert.Equal(t, filepath.Join(dir, "report.PDF"), ing.paths[0])
	data, err := os.ReadFile(ing.paths[0])
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(data))
}

func TestUploadOverwritesSameName(t *testing.T) {
	s, dir := newTestServer(t, &fakeIngester{n: 1}, &fakeQA{})

	for _, content := range []string{"first", "second"} {
		body, ct := multipartBody(t, "file", "same.pdf", []byte(content))
		req := httptest.NewRequest(http.MethodPost, "/admin/upload", body)
		req.Header.Set("Content-Type", ct)
		require.Equal(t, http.StatusOK, do(t, s.Handler(), req).Code)
	}

	data, err := os.ReadFile(filepath.Join(dir, "same.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestUploadStripsDirectories(t *testing.T) {
	ing := &fakeIngester{}
	s, dir := newTestServer(t, ing, &fakeQA{})

	body, ct := multipartBody(t, "file", "../../escape.pdf", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/admin/upload", body)
	req.Header.Set("Content-Type", ct)
	require.Equal(t, http.StatusOK, do(t, s.Handler(), req).Code)

	require.Len(t, ing.paths, 1)
	assert.Equal(t, filepath.Join(dir, "escape.pdf"), ing.paths[0])
}

func TestUploadErrors(t *testing.T) {
	t.Run("missing file field", func(t *testing.T) {
		s, _ := newTestServer(t, &fakeIngester{}, &fakeQA{})
		body, ct := multipartBody(t, "document", "a.pdf", []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/admin/upload", body)
		req.Header.Set("Content-Type", ct)
		assert.Equal(t, http.StatusBadRequest, do(t, s.Handler(), req).Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		s, _ := newTestServer(t, &fakeIngester{}, &fakeQA{})
		req := httptest.NewRequest(http.MethodPost, "/admin/upload", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		assert.Equal(t, http.StatusBadRequest, do(t, s.Handler(), req).Code)
	})

	t.Run("too large", func(t *testing.T) {
		ing := &fakeIngester{}
		s, _ := newTestServer(t, ing, &fakeQA{})
		body, ct := multipartBody(t, "file", "big.pdf", bytes.Repeat([]byte("a"), 2<<20))
		req := httptest.NewRequest(http.MethodPost, "/admin/upload", body)
		req.Header.Set("Content-Type", ct)
		rr := do(t, s.Handler(), req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
		assert.Empty(t, ing.paths)
	})

	t.Run("parse failure", func(t *testing.T) {
		s, _ := newTestServer(t, &fakeIngester{err: fmt.Errorf("%w: bad xref", models.ErrParse)}, &fakeQA{})
		body, ct := multipartBody(t, "file", "bad.pdf", []byte("junk"))
		req := httptest.NewRequest(http.MethodPost, "/admin/upload", body)
		req.Header.Set("Content-Type", ct)
		rr := do(t, s.Handler(), req)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		e := decodeError(t, rr)
		assert.Equal(t, "parse_error", e.Error)
		assert.Contains(t, e.Message, "bad xref")
	})
}

func chatRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestChatDefaultsK(t *testing.T) {
	qa := &fakeQA{resp: models.ChatResponse{
		Answer:  "Paris",
		Sources: []models.Source{{Source: "a.pdf", Page: 1, Preview: "The capital..."}},
	}}
	s, _ := newTestServer(t, &fakeIngester{}, qa)

	rr := do(t, s.Handler(), chatRequest(`{"question":"capital of France?"}`))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, qa.k)
	assert.Equal(t, "capital of France?", qa.question)

	var resp models.ChatResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, qa.resp, resp)
}

func TestChatExplicitK(t *testing.T) {
	qa := &fakeQA{resp: models.ChatResponse{Answer: "a", Sources: []models.Source{}}}
	s, _ := newTestServer(t, &fakeIngester{}, qa)

	rr := do(t, s.Handler(), chatRequest(`{"question":"q","k":1}`))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, qa.k)
	assert.JSONEq(t, `{"answer":"a","sources":[]}`, rr.Body.String())
}

func TestChatValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative k", `{"question":"q","k":-1}`},
		{"k above max", `{"question":"q","k":51}`},
		{"empty question", `{"question":"   "}`},
		{"malformed json", `{"question":`},
		{"wrong type", `{"question":"q","k":"five"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qa := &fakeQA{}
			s, _ := newTestServer(t, &fakeIngester{}, qa)
			rr := do(t, s.Handler(), chatRequest(tt.body))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Empty(t, qa.question)
		})
	}
}

func TestChatErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: empty answer", models.ErrGeneration), http.StatusInternalServerError, "generation_error"},
		{fmt.Errorf("%w: retrieval failed: %w", models.ErrGeneration, models.ErrStore), http.StatusInternalServerError, "generation_error"},
		{fmt.Errorf("%w: bad question", models.ErrValidation), http.StatusBadRequest, "invalid_request"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			s, _ := newTestServer(t, &fakeIngester{}, &fakeQA{err: tt.err})
			rr := do(t, s.Handler(), chatRequest(`{"question":"q"}`))
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.code, decodeError(t, rr).Error)
		})
	}
}

func TestListUploads(t *testing.T) {
	s, dir := newTestServer(t, &fakeIngester{}, &fakeQA{})

	rr := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/admin/uploads", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"files":[]}`, rr.Body.String())

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.pdf"), []byte("bb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.PDF"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("x"), 0o644))

	rr = do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/admin/uploads", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		Files []models.UploadedFile `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out.Files, 2)
	assert.Equal(t, "a.PDF", out.Files[0].Filename)
	assert.Equal(t, int64(2), out.Files[1].Size)
	assert.NotEmpty(t, out.Files[1].ModifiedAt)
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, &fakeIngester{}, &fakeQA{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := do(t, s.Handler(), req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","chunks":7}`, rr.Body.String())
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
}

func TestRequestIDGenerated(t *testing.T) {
	s, _ := newTestServer(t, &fakeIngester{}, &fakeQA{})
	rr := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Len(t, rr.Header().Get("X-Request-ID"), 36)
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, &fakeIngester{}, &fakeQA{})
	rr := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/chat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
