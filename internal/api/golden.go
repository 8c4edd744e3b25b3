package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/querylane/querylane/internal/golden"
)

// goldenHandler serves the curated query management endpoints.
//
// Endpoints:
//   - GET    /api/v1/golden           - list or search (q?, tag?, limit?)
//   - POST   /api/v1/golden           - add a question/SQL pair
//   - GET    /api/v1/golden/{id}      - fetch one entry
//   - DELETE /api/v1/golden/{id}      - remove one entry
//   - POST   /api/v1/golden/{id}/tags - add tags to an entry
//   - GET    /api/v1/golden/stats     - aggregate counters
type goldenHandler struct {
	store  *golden.Store
	logger *slog.Logger
}

type addGoldenRequest struct {
	Question string   `json:"question"`
	SQL      string   `json:"sql"`
	User     string   `json:"user"`
	Tags     []string `json:"tags"`
}

type addTagsRequest struct {
	Tags []string `json:"tags"`
}

type goldenListResponse struct {
	Queries []*golden.Query `json:"queries"`
	Count   int             `json:"count"`
}

// list returns entries, optionally filtered by a search term or tag.
func (h *goldenHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"))

	var (
		queries []*golden.Query
		err     error
	)
	if term, tag := q.Get("q"), q.Get("tag"); term != "" || tag != "" {
		queries, err = h.store.Search(r.Context(), term, tag, limit)
	} else {
		queries, err = h.store.List(r.Context(), limit)
	}
	if err != nil {
		h.logger.Error("failed to list golden queries", "error", err)
		WriteError(w, http.StatusInternalServerError, "list_failed", "failed to list golden queries", h.logger)
		return
	}

	if queries == nil {
		queries = []*golden.Query{}
	}
	WriteJSON(w, http.StatusOK, goldenListResponse{Queries: queries, Count: len(queries)})
}

// add creates or updates an entry. The ID is derived from the SQL and
// user, so re-adding the same pair updates in place.
func (h *goldenHandler) add(w http.ResponseWriter, r *http.Request) {
	var req addGoldenRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}

	entry, err := h.store.Add(r.Context(), req.Question, req.SQL, req.User, req.Tags)
	if err != nil {
		if errors.Is(err, golden.ErrEmptySQL) {
			WriteError(w, http.StatusBadRequest, "missing_sql", "sql is required", h.logger)
			return
		}
		h.logger.Error("failed to add golden query", "error", err)
		WriteError(w, http.StatusInternalServerError, "add_failed", "failed to add golden query", h.logger)
		return
	}

	WriteJSON(w, http.StatusCreated, entry)
}

func (h *goldenHandler) get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, golden.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "golden query not found", h.logger)
			return
		}
		h.logger.Error("failed to get golden query", "error", err)
		WriteError(w, http.StatusInternalServerError, "get_failed", "failed to get golden query", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

func (h *goldenHandler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, golden.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "golden query not found", h.logger)
			return
		}
		h.logger.Error("failed to delete golden query", "error", err)
		WriteError(w, http.StatusInternalServerError, "delete_failed", "failed to delete golden query", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *goldenHandler) addTags(w http.ResponseWriter, r *http.Request) {
	var req addTagsRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}

	entry, err := h.store.AddTags(r.Context(), r.PathValue("id"), req.Tags)
	if err != nil {
		if errors.Is(err, golden.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "golden query not found", h.logger)
			return
		}
		h.logger.Error("failed to tag golden query", "error", err)
		WriteError(w, http.StatusInternalServerError, "tag_failed", "failed to tag golden query", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

func (h *goldenHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to compute golden stats", "error", err)
		WriteError(w, http.StatusInternalServerError, "stats_failed", "failed to compute stats", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// LearningStats exposes the learning manager's aggregate view.
type LearningStats interface {
	Stats() map[string]any
}

// learningHandler serves GET /api/v1/learning/stats.
type learningHandler struct {
	learning LearningStats
}

func (h *learningHandler) stats(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.learning.Stats())
}
