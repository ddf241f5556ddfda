// Package handler serves the query API over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/parser"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/service"
	apperrors "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/proto"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	svc    *service.Service
	logger *slog.Logger
}

func New(svc *service.Service) *Handler {
	return &Handler{
		svc:    svc,
		logger: slog.Default().With("component", "query-handler"),
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/query", h.QueryGet)
	mux.HandleFunc("POST /api/v1/query", h.QueryPost)
	mux.HandleFunc("POST /api/v1/validate", h.Validate)
	mux.HandleFunc("GET /api/v1/terms/{term}/frequency", h.Frequency)
	mux.HandleFunc("POST /api/v1/jobs", h.SubmitJob)
	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /api/v1/jobs/{id}", h.CancelJob)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// QueryGet serves GET /api/v1/query?q=...&group_by=...&limit=...&doc=...&collection=...
func (h *Handler) QueryGet(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	req := proto.QueryRequest{
		Query:   params.Get("q"),
		GroupBy: params.Get("group_by"),
		Options: proto.QueryOptions{
			DocumentIDs:   params["doc"],
			CollectionIDs: params["collection"],
			Locale:        params.Get("locale"),
		},
	}
	if req.Query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	if v := params.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		req.Limit = limit
	}
	h.runQuery(w, r, req)
}

// QueryPost serves POST /api/v1/query with a JSON QueryRequest body.
func (h *Handler) QueryPost(w http.ResponseWriter, r *http.Request) {
	var req proto.QueryRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.runQuery(w, r, req)
}

func (h *Handler) runQuery(w http.ResponseWriter, r *http.Request, req proto.QueryRequest) {
	resp, err := h.svc.Run(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req proto.ValidateRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.svc.Validate(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Frequency serves GET /api/v1/terms/{term}/frequency.
func (h *Handler) Frequency(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	resp, err := h.svc.Frequency(r.Context(), proto.FrequencyRequest{
		Term: r.PathValue("term"),
		Options: proto.QueryOptions{
			DocumentIDs:   params["doc"],
			CollectionIDs: params["collection"],
			Locale:        params.Get("locale"),
		},
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req proto.JobRequest
	if !h.decode(w, r, &req) {
		return
	}
	status, err := h.svc.SubmitJob(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+status.ID)
	h.writeJSON(w, http.StatusAccepted, status)
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Jobs(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"jobs": list, "count": len(list)})
}

// GetJob serves GET /api/v1/jobs/{id}; ?rows=true adds the rows of a
// succeeded job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	ref := proto.JobRef{ID: r.PathValue("id")}
	params := r.URL.Query()
	ref.IncludeRows, _ = strconv.ParseBool(params.Get("rows"))
	if v := params.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		ref.Limit = limit
	}
	status, err := h.svc.Job(r.Context(), ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.CancelJob(r.Context(), proto.JobRef{ID: r.PathValue("id")})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if !h.svc.CacheEnabled() {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.svc.Cache().Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if !h.svc.CacheEnabled() {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	n, err := h.svc.Cache().Invalidate(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_removed": n})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// fail writes err with the status it maps to. Query errors carry the
// offending character index.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	var qe *parser.QueryError
	if errors.As(err, &qe) {
		h.writeJSON(w, status, map[string]any{
			"error":           qe.Describe(),
			"character_index": qe.CharacterIndex,
		})
		return
	}
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		h.writeJSON(w, status, map[string]any{"error": "invalid request", "fields": ve.Fields})
		return
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	h.writeError(w, status, service.PublicMessage(err))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
