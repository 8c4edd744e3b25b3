package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/querylane/querylane/internal/conversation"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// historyHandler serves the conversation history endpoints.
//
// Endpoints:
//   - GET    /api/v1/conversations        - recent turns (user?, conversation?, limit?)
//   - POST   /api/v1/conversations/search - filtered turns (keywords, metadata)
//   - DELETE /api/v1/conversations        - clear turns (scope, user, or all)
type historyHandler struct {
	store  *conversation.Store
	logger *slog.Logger
}

type turnsResponse struct {
	Turns []conversation.Turn `json:"turns"`
	Count int                 `json:"count"`
}

type searchRequest struct {
	User         string         `json:"user"`
	Conversation string         `json:"conversation"`
	Keywords     []string       `json:"keywords"`
	Metadata     map[string]any `json:"metadata"`
	Limit        int            `json:"limit"`
}

type clearResponse struct {
	Cleared int `json:"cleared"`
}

// list returns the most recent turns, newest first. Empty user or
// conversation parameters match every scope.
func (h *historyHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"))

	turns := h.store.RecentTurns(q.Get("user"), q.Get("conversation"), limit)
	if turns == nil {
		turns = []conversation.Turn{}
	}
	WriteJSON(w, http.StatusOK, turnsResponse{Turns: turns, Count: len(turns)})
}

// search returns turns matching keyword and metadata filters.
func (h *historyHandler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	turns := h.store.FilteredTurns(req.User, req.Conversation, req.Keywords, req.Metadata, limit)
	if turns == nil {
		turns = []conversation.Turn{}
	}
	WriteJSON(w, http.StatusOK, turnsResponse{Turns: turns, Count: len(turns)})
}

// clear removes turns. With both parameters it clears one scope, with
// only user it clears all of that user's conversations, with neither it
// clears everything.
func (h *historyHandler) clear(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cleared := h.store.Clear(r.Context(), q.Get("user"), q.Get("conversation"))
	WriteJSON(w, http.StatusOK, clearResponse{Cleared: cleared})
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultHistoryLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultHistoryLimit
	}
	if n > maxHistoryLimit {
		return maxHistoryLimit
	}
	return n
}
