package orchestrator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"edgecast/internal/jobs"
	"edgecast/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const (
	dashContentType     = "application/dash+xml"
	playlistContentType = "application/vnd.apple.mpegurl"
)

// ServeDirs are the roots ServeManifest reads from. Both hold one
// directory per stream.
type ServeDirs struct {
	// Manifests is where the DASH rewriter writes .mpd files.
	Manifests string
	// Segments is the origin root the source manifests and their
	// segments are published under.
	Segments string
}

// Handler exposes the job submission API and serves rewritten DASH
// manifests with their segments, using go-chi.
type Handler struct {
	svc     *Service
	dirs    ServeDirs
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler. Metrics may be nil.
func NewHandler(svc *Service, dirs ServeDirs, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, dirs: dirs, log: log, metrics: m}
}

// ManifestRoute returns the chi pattern ServeManifest is mounted on for
// manifests published under getDir.
func ManifestRoute(getDir string) string {
	prefix := strings.Trim(getDir, "/")
	if prefix == "" {
		return "/{stream}/{file}"
	}
	return "/" + prefix + "/{stream}/{file}"
}

// SubmitManifest handles POST /manifests.
// Body: { "path": "/var/www/live/s1/stream.mpd" }.
func (h *Handler) SubmitManifest(w http.ResponseWriter, r *http.Request) {
	var req ManifestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid manifest body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	job, err := h.svc.SubmitManifest(r.Context(), req.Path)
	if err != nil {
		h.submitFailed(w, err, req.Path)
		return
	}

	h.log.Debug("manifest job queued",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("path", job.Path))
	writeJSON(w, http.StatusAccepted, accepted(job))
}

// SubmitPush handles POST /pushes.
// Body: { "box_id": "box-...", "path": "/var/www/live/s1/42.ts" }.
func (h *Handler) SubmitPush(w http.ResponseWriter, r *http.Request) {
	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid push body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	job, err := h.svc.SubmitPush(r.Context(), req.BoxID, req.Path)
	if err != nil {
		h.submitFailed(w, err, req.Path)
		return
	}

	h.log.Debug("push job queued",
		slog.String("job_id", job.ID),
		slog.String("box_id", job.BoxID),
		slog.String("path", job.Path))
	writeJSON(w, http.StatusAccepted, accepted(job))
}

func (h *Handler) submitFailed(w http.ResponseWriter, err error, path string) {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, jobs.ErrUnknownKind):
		h.log.Info("job rejected", slog.String("path", path), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrPoolClosed):
		h.log.Warn("job backend unavailable", slog.String("path", path), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		h.log.Error("submit job failed", slog.String("path", path), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// ServeManifest handles GET /{get-dir}/{stream}/{file}. A .mpd is the
// manifest written by the DASH rewriter; anything else is a segment the
// rewritten templates point at and is read from the origin stream directory.
func (h *Handler) ServeManifest(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	file := chi.URLParam(r, "file")
	if !validName(stream) || !validName(file) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ext := strings.ToLower(filepath.Ext(file))
	root := h.dirs.Segments
	if ext == ".mpd" {
		root = h.dirs.Manifests
	}

	body, err := os.ReadFile(filepath.Join(root, stream, file))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.log.Error("read dash file failed",
			slog.String("stream", stream),
			slog.String("file", file),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	switch ext {
	case ".mpd":
		w.Header().Set("Content-Type", dashContentType)
	case ".m3u8":
		w.Header().Set("Content-Type", playlistContentType)
	case ".m4v":
		w.Header().Set("Content-Type", "video/mp4")
	case ".m4a":
		w.Header().Set("Content-Type", "audio/mp4")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func validName(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
