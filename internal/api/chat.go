package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/querylane/querylane/internal/chat"
)

// maxChatBodyBytes caps chat request bodies at 1MB.
const maxChatBodyBytes = 1024 * 1024

// SSE event types for chat streaming. WebSocket frames reuse the same
// names as their type field.
const (
	EventStart    = "start"
	EventChunk    = "chunk"
	EventSQL      = "sql"
	EventResult   = "result"
	EventError    = "error"
	EventComplete = "complete"
)

// StartPayload opens a stream and echoes the resolved scope.
type StartPayload struct {
	User         string `json:"user"`
	Conversation string `json:"conversation"`
}

// ChunkPayload carries a piece of streamed answer text.
type ChunkPayload struct {
	Text string `json:"text"`
}

// SQLPayload carries the captured SQL statement.
type SQLPayload struct {
	SQL string `json:"sql"`
}

// ResultPayload carries the materialized result artifact URL.
type ResultPayload struct {
	URL string `json:"url"`
}

// ErrorPayload reports a terminal stream failure.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// chatHandler serves the chat endpoints.
//
// Endpoints:
//   - POST /api/v1/chat     - synchronous chat (JSON request/response)
//   - POST /api/v1/chat/sse - streaming chat (Server-Sent Events)
//   - GET  /api/v1/chat/ws  - streaming chat (WebSocket, looping)
type chatHandler struct {
	orch   *chat.Orchestrator
	logger *slog.Logger
}

// chatRequest is the transport-level request body. Scope fields may also
// arrive as headers, which take precedence.
type chatRequest struct {
	Question     string `json:"question"`
	User         string `json:"user"`
	Conversation string `json:"conversation"`
	Username     string `json:"username"`
}

// resolveRequest builds the orchestrator request from headers and body.
// Headers win over body fields; empty values fall through to the
// orchestrator's sentinel defaults.
func resolveRequest(r *http.Request, body chatRequest) chat.Request {
	req := chat.Request{
		Question:     body.Question,
		User:         body.User,
		Conversation: body.Conversation,
		Username:     body.Username,
	}
	if v := r.Header.Get("x-user-id"); v != "" {
		req.User = v
	}
	if v := r.Header.Get("x-conversation-id"); v != "" {
		req.Conversation = v
	}
	if v := r.Header.Get("x-username"); v != "" {
		req.Username = v
	}
	return req
}

// send handles the synchronous chat endpoint.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}

	req := resolveRequest(r, body)
	resp, err := h.orch.Handle(r.Context(), req)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyQuestion) {
			WriteError(w, http.StatusBadRequest, "missing_question", "question is required", h.logger)
			return
		}
		WriteError(w, http.StatusInternalServerError, "chat_failed", "failed to handle request", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, resp)
}

// stream handles the SSE chat endpoint. The stream always terminates with
// a complete event; stream-level failures arrive as an error event first.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	var body chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{
			Code:    "invalid_body",
			Message: "invalid request body",
		})
		return
	}

	req := resolveRequest(r, body)
	if req.Question == "" {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{
			Code:    "missing_question",
			Message: "question is required",
		})
		return
	}

	em := &sseEmitter{w: w, flusher: flusher}
	if err := h.orch.Stream(r.Context(), req, em); err != nil {
		h.logger.Error("SSE stream rejected", "error", err)
		_ = writeEvent(w, flusher, EventError, ErrorPayload{
			Code:    "stream_failed",
			Message: err.Error(),
		})
	}
}

// sseEmitter adapts the orchestrator's frame protocol to SSE.
type sseEmitter struct {
	w       io.Writer
	flusher http.Flusher
}

func (e *sseEmitter) Start(req chat.Request) error {
	return writeEvent(e.w, e.flusher, EventStart, StartPayload{
		User:         req.User,
		Conversation: req.Conversation,
	})
}

func (e *sseEmitter) Chunk(text string) error {
	return writeEvent(e.w, e.flusher, EventChunk, ChunkPayload{Text: text})
}

func (e *sseEmitter) SQL(sql string) error {
	return writeEvent(e.w, e.flusher, EventSQL, SQLPayload{SQL: sql})
}

func (e *sseEmitter) Result(url string) error {
	return writeEvent(e.w, e.flusher, EventResult, ResultPayload{URL: url})
}

func (e *sseEmitter) Error(err error) error {
	return writeEvent(e.w, e.flusher, EventError, ErrorPayload{
		Code:    "stream_error",
		Message: err.Error(),
	})
}

func (e *sseEmitter) Complete(resp *chat.Response) error {
	return writeEvent(e.w, e.flusher, EventComplete, resp)
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
