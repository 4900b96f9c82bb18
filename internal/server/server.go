package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pdf-rag/internal/config"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	maxChatBodyBytes = 1 << 20
	shutdownTimeout  = 10 * time.Second
)

// Ingester indexes an uploaded PDF and reports how many chunks it produced.
type Ingester interface {
	Ingest(ctx context.Context, path string) (int, error)
}

// Answerer answers a question from the indexed chunks.
type Answerer interface {
	Answer(ctx context.Context, question string, k int) (models.ChatResponse, error)
}

// Counter reports the number of indexed chunks.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type Server struct {
	addr           string
	uploadsDir     string
	maxUploadBytes int64
	defaultK       int
	maxK           int

	ingester Ingester
	qa       Answerer
	store    Counter
}

func New(cfg *config.Config, ingester Ingester, qa Answerer, store Counter) *Server {
	return &Server{
		addr:           cfg.Server.Addr,
		uploadsDir:     cfg.Storage.UploadsDir,
		maxUploadBytes: cfg.Server.MaxUploadMB << 20,
		defaultK:       cfg.RAG.DefaultK,
		maxK:           cfg.RAG.MaxK,
		ingester:       ingester,
		qa:             qa,
		store:          store,
	}
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return logMiddleware(s.mux())
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /admin/upload", s.handleUpload)
	mux.HandleFunc("GET /admin/uploads", s.handleListUploads)
	mux.HandleFunc("POST /chat", s.handleChat)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Count(r.Context())
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "chunks": n})
}

// handleUpload streams the "file" part of a multipart body into the uploads directory
// and ingests it. The file name is checked before anything is written.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "multipart/form-data body required")
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			writeError(w, http.StatusBadRequest, "invalid_request", "file field required")
			return
		}
		if err != nil {
			writeBodyError(w, err)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		name := filepath.Base(part.FileName())
		if !isPDF(name) {
			part.Close()
			writeError(w, http.StatusBadRequest, "invalid_request", "only .pdf files are accepted")
			return
		}

		path, err := s.save(part, name)
		part.Close()
		if err != nil {
			writeBodyError(w, err)
			return
		}

		n, err := s.ingester.Ingest(r.Context(), path)
		if err != nil {
			log.Error().Err(err).Str("source", name).Msg("Ingestion failed")
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, models.UploadResponse{
			Status:        "ok",
			Filename:      name,
			ChunksIndexed: n,
		})
		return
	}
}

// save copies r to name in the uploads directory through a temporary file, replacing
// any earlier upload with the same name.
func (s *Server) save(r io.Reader, name string) (string, error) {
	if err := helper.CreateFolder(s.uploadsDir); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrIO, err)
	}
	tmp, err := os.CreateTemp(s.uploadsDir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrIO, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrIO, err)
	}

	dest := filepath.Join(s.uploadsDir, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrIO, err)
	}
	log.Debug().Str("path", dest).Msg("Saved upload")
	return dest, nil
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.uploadsDir)
	if err != nil && !os.IsNotExist(err) {
		writeKindError(w, fmt.Errorf("%w: %w", models.ErrIO, err))
		return
	}

	files := []models.UploadedFile{}
	for _, e := range entries {
		if e.IsDir() || !isPDF(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, models.UploadedFile{
			Filename:   e.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "malformed request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "question required")
		return
	}
	if req.K == 0 {
		req.K = s.defaultK
	}
	if req.K < 1 || req.K > s.maxK {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("k must be between 1 and %d", s.maxK))
		return
	}

	resp, err := s.qa.Answer(r.Context(), req.Question, req.K)
	if err != nil {
		log.Error().Err(err).Int("k", req.K).Msg("Chat failed")
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func isPDF(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".pdf")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func writeError(w http.ResponseWriter, status int, errStr, message string) {
	writeJSON(w, status, apiError{Error: errStr, Message: message, Code: status})
}

// writeKindError maps the error kinds from models to a status and error code.
func writeKindError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, models.ErrGeneration):
		writeError(w, http.StatusInternalServerError, "generation_error", err.Error())
	case errors.Is(err, models.ErrParse):
		writeError(w, http.StatusInternalServerError, "parse_error", err.Error())
	case errors.Is(err, models.ErrIO):
		writeError(w, http.StatusInternalServerError, "io_error", err.Error())
	case errors.Is(err, models.ErrStore):
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// writeBodyError reports a failure while reading the request body.
func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		return
	}
	if errors.Is(err, models.ErrIO) {
		writeKindError(w, err)
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
}
