// Package handler exposes the change trail over HTTP: querying, statistics
// and operator-initiated cleanup.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"changetrail/internal/changelog/models"
)

// Service defines the query operations the handler needs.
type Service interface {
	Query(ctx context.Context, f models.Filter) ([]models.Record, error)
	Statistics(ctx context.Context, f models.Filter) (*models.Statistics, error)
}

// Retention defines the cleanup operations the handler needs.
type Retention interface {
	Cleanup(ctx context.Context, days int, force bool) (int64, error)
	CleanupBeforeDate(ctx context.Context, date time.Time) (int64, error)
	CleanupByDateRange(ctx context.Context, start, end time.Time) (int64, error)
}

// Handler handles change-trail endpoints.
type Handler struct {
	logger    *slog.Logger
	service   Service
	retention Retention
}

// New creates a Handler.
func New(service Service, retention Retention, logger *slog.Logger) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		retention: retention,
	}
}

// Register mounts the change-trail routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/changelog", h.handleList)
	r.Get("/changelog/stats", h.handleStatistics)
	r.Post("/changelog/cleanup", h.handleCleanup)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.service.Query(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "changelog query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.service.Statistics(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "changelog statistics failed", "error", err)
		writeError(w, http.StatusInternalServerError, "statistics failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// cleanupRequest selects exactly one cleanup mode: a horizon sweep (days,
// optionally forced past a disabled retention config), everything before a
// date, or an inclusive date range.
type cleanupRequest struct {
	Days   int    `json:"days,omitempty"`
	Force  bool   `json:"force,omitempty"`
	Before string `json:"before,omitempty"`
	Start  string `json:"start,omitempty"`
	End    string `json:"end,omitempty"`
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		deleted int64
		err     error
	)
	switch {
	case req.Before != "":
		var before time.Time
		if before, err = time.Parse(time.DateOnly, req.Before); err != nil {
			writeError(w, http.StatusBadRequest, "before must be YYYY-MM-DD")
			return
		}
		deleted, err = h.retention.CleanupBeforeDate(r.Context(), before)
	case req.Start != "" || req.End != "":
		var start, end time.Time
		if start, err = time.Parse(time.DateOnly, req.Start); err != nil {
			writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
			return
		}
		if end, err = time.Parse(time.DateOnly, req.End); err != nil {
			writeError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
			return
		}
		deleted, err = h.retention.CleanupByDateRange(r.Context(), start, end)
	default:
		deleted, err = h.retention.Cleanup(r.Context(), req.Days, req.Force)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "changelog cleanup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// filterFromQuery translates URL query parameters into a Filter.
func filterFromQuery(r *http.Request) (models.Filter, error) {
	q := r.URL.Query()
	f := models.Filter{
		SubjectType: q.Get("subject_type"),
		SubjectID:   q.Get("subject_id"),
		ActorID:     q.Get("actor_id"),
		Tag:         q.Get("tag"),
	}

	if v := q.Get("action"); v != "" {
		action, err := models.ParseAction(v)
		if err != nil {
			return models.Filter{}, err
		}
		f.Action = action
	}
	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return models.Filter{}, err
		}
		f.StartDate = t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return models.Filter{}, err
		}
		f.EndDate = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return models.Filter{}, err
		}
		f.Limit = n
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
