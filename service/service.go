// Package service is the HTTP front-end around the deckfetch downloader:
// request validation, capture invocation, document registry, retrieval of
// produced PDFs. Signal handling and process wiring live in cmd/deckfetch;
// this package only translates HTTP into downloader calls.
package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/hazyhaar/deckfetch"
	"github.com/hazyhaar/deckfetch/internal/store"
)

// Downloader is the capture entry point the service drives.
type Downloader interface {
	Download(ctx context.Context, req deckfetch.Request) (*deckfetch.Result, error)
}

// Config holds the front-end settings.
type Config struct {
	// DataDir receives produced PDFs.
	DataDir string

	// MaxSlides and Timeout are the advertised service ceilings; request
	// options may lower but never raise them.
	MaxSlides int
	Timeout   time.Duration

	// APITokenHash, when set, is a bcrypt hash every request's bearer
	// token must match.
	APITokenHash string
}

// Service wires HTTP routes to the downloader and document registry.
type Service struct {
	cfg    Config
	dl     Downloader
	docs   *store.Store
	logger *slog.Logger
}

// New creates a Service.
func New(cfg Config, dl Downloader, docs *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, dl: dl, docs: docs, logger: logger}
}

// Router builds the chi router with all routes registered.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/limits", s.handleLimits)

	r.Group(func(r chi.Router) {
		if s.cfg.APITokenHash != "" {
			r.Use(bearerAuth(s.cfg.APITokenHash, s.logger))
		}
		r.Post("/api/download", s.handleDownload)
		r.Get("/api/files/{id}", s.handleFile)
	})

	return r
}

func (s *Service) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"service":    "deckfetch",
		"max_slides": s.cfg.MaxSlides,
		"timeout":    int(s.cfg.Timeout.Seconds()),
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Service) handleLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"max_slides":      s.cfg.MaxSlides,
		"timeout_seconds": int(s.cfg.Timeout.Seconds()),
		"formats":         []string{"base64", "url"},
	})
}

type downloadRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Format   string `json:"format"`
	Options  struct {
		MaxSlides int `json:"max_slides"`
	} `json:"options"`
}

type downloadResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"error_kind,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Service) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, downloadResponse{Error: "invalid JSON body"})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, downloadResponse{Error: "url is required"})
		return
	}
	if !ValidTarget(req.URL) {
		writeJSON(w, http.StatusBadRequest, downloadResponse{Error: "unsupported presentation URL"})
		return
	}
	if req.Filename == "" {
		req.Filename = "pitch-deck"
	}
	if req.Format == "" {
		req.Format = "base64"
	}

	id := uuid.NewString()
	outPath := filepath.Join(s.cfg.DataDir, id+".pdf")

	s.logger.Info("service: download requested",
		"url", req.URL, "id", id, "max_slides", req.Options.MaxSlides)

	// The request context carries client disconnects straight into the
	// capture loop as cooperative cancellation.
	result, err := s.dl.Download(r.Context(), deckfetch.Request{
		URL:       req.URL,
		MaxSlides: req.Options.MaxSlides,
		OutPath:   outPath,
	})
	if err != nil {
		status, kind := classifyError(err)
		s.logger.Error("service: download failed", "url", req.URL, "kind", kind, "error", err)
		writeJSON(w, status, downloadResponse{Error: err.Error(), Kind: kind})
		return
	}

	if result.Path != "" {
		if err := s.docs.Put(r.Context(), store.Document{
			ID:     id,
			Path:   result.Path,
			Slides: result.Slides,
			Status: string(result.Status),
		}); err != nil {
			s.logger.Error("service: registry put failed", "id", id, "error", err)
		}
	}

	data := map[string]interface{}{
		"filename":        req.Filename + ".pdf",
		"slides":          result.Slides,
		"status":          string(result.Status),
		"partial":         result.Partial,
		"count_detection": string(result.Estimate.Confidence),
		"elapsed_seconds": result.Elapsed.Seconds(),
	}
	if result.Path != "" {
		data["download_url"] = "/api/files/" + id
		if req.Format == "base64" {
			pdf, err := os.ReadFile(result.Path)
			if err != nil {
				s.logger.Error("service: read produced document", "path", result.Path, "error", err)
				writeJSON(w, http.StatusInternalServerError, downloadResponse{Error: "document read failed"})
				return
			}
			data["base64"] = base64.StdEncoding.EncodeToString(pdf)
		}
	}

	writeJSON(w, http.StatusOK, downloadResponse{Success: true, Data: data})
}

func (s *Service) handleFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	doc, err := s.docs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, downloadResponse{Error: "file not found or expired"})
			return
		}
		s.logger.Error("service: registry get failed", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, downloadResponse{Error: "registry lookup failed"})
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="pitch-deck-%s.pdf"`, id))
	http.ServeFile(w, r, doc.Path)
}

// classifyError maps downloader failures to HTTP status and error kind.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, deckfetch.ErrTargetUnreachable):
		return http.StatusBadGateway, "target_unreachable"
	case errors.Is(err, deckfetch.ErrNavigationFailed):
		return http.StatusBadGateway, "navigation_failed"
	case errors.Is(err, deckfetch.ErrNoFrames):
		return http.StatusInternalServerError, "no_frames_captured"
	case errors.Is(err, deckfetch.ErrAssembly):
		return http.StatusInternalServerError, "assembly_failed"
	case errors.Is(err, context.Canceled):
		return http.StatusInternalServerError, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
