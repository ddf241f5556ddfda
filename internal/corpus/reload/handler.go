package reload

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Status describes the snapshot currently served.
type Status struct {
	Snapshot     string     `json:"snapshot,omitempty"`
	LoadedAt     *time.Time `json:"loaded_at,omitempty"`
	Documents    int        `json:"documents"`
	Terms        int        `json:"terms"`
	Tokens       int        `json:"tokens"`
	TagInstances int        `json:"tag_instances"`
}

type Handler struct {
	reloader *Reloader
	logger   *slog.Logger
}

func NewHandler(r *Reloader) *Handler {
	return &Handler{
		reloader: r,
		logger:   slog.Default().With("component", "corpus-handler"),
	}
}

// Routes registers the corpus endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/corpus", h.Status)
	mux.HandleFunc("POST /api/v1/corpus/reload", h.Reload)
}

func (h *Handler) status() Status {
	at, path := h.reloader.LoadedAt()
	stats := h.reloader.idx.Stats()
	s := Status{
		Snapshot:     path,
		Documents:    stats.Documents,
		Terms:        stats.Terms,
		Tokens:       stats.Tokens,
		TagInstances: stats.TagInstances,
	}
	if !at.IsZero() {
		s.LoadedAt = &at
	}
	return s
}

// Status serves GET /api/v1/corpus.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.status())
}

// Reload serves POST /api/v1/corpus/reload. The body may name another
// snapshot, which must sit next to the configured one.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Path != "" && filepath.Dir(filepath.Clean(req.Path)) != filepath.Dir(filepath.Clean(h.reloader.defaultPath)) {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "snapshot must be in the configured snapshot directory"})
		return
	}

	if err := h.reloader.Reload(r.Context(), req.Path); err != nil {
		status := http.StatusInternalServerError
		msg := "reload failed"
		if errors.Is(err, os.ErrNotExist) {
			status, msg = http.StatusNotFound, "snapshot not found"
		} else {
			h.logger.Error("reload failed", "error", err)
		}
		h.writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	h.writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
