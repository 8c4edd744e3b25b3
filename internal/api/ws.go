package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/querylane/querylane/internal/chat"
)

// wsFrame is one WebSocket message: the same frame types as SSE events,
// with the payload nested under data.
type wsFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// wsHandler serves the looping WebSocket chat endpoint. Each received
// message is a chatRequest; each question produces a full frame sequence
// ending in a complete frame, then the loop waits for the next question.
type wsHandler struct {
	orch     *chat.Orchestrator
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func newWSHandler(orch *chat.Orchestrator, allowedOrigins []string, logger *slog.Logger) *wsHandler {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}

	return &wsHandler{
		orch: orch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Non-browser clients send no Origin header.
					return true
				}
				_, ok := originSet[origin]
				return ok
			},
		},
		logger: logger,
	}
}

func (h *wsHandler) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close() //nolint:errcheck

	logger := h.logger.With("remote", conn.RemoteAddr().String())
	logger.Debug("websocket connected")

	for {
		var body chatRequest
		if err := conn.ReadJSON(&body); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		req := resolveRequest(r, body)
		if req.Question == "" {
			if err := conn.WriteJSON(wsFrame{Type: EventError, Data: ErrorPayload{
				Code:    "missing_question",
				Message: "question is required",
			}}); err != nil {
				return
			}
			continue
		}

		em := &wsEmitter{conn: conn}
		if err := h.orch.Stream(r.Context(), req, em); err != nil && !errors.Is(err, chat.ErrEmptyQuestion) {
			logger.Error("websocket stream failed", "error", err)
			return
		}
	}
}

// wsEmitter adapts the orchestrator's frame protocol to WebSocket JSON
// messages.
type wsEmitter struct {
	conn *websocket.Conn
}

func (e *wsEmitter) Start(req chat.Request) error {
	return e.conn.WriteJSON(wsFrame{Type: EventStart, Data: StartPayload{
		User:         req.User,
		Conversation: req.Conversation,
	}})
}

func (e *wsEmitter) Chunk(text string) error {
	return e.conn.WriteJSON(wsFrame{Type: EventChunk, Data: ChunkPayload{Text: text}})
}

func (e *wsEmitter) SQL(sql string) error {
	return e.conn.WriteJSON(wsFrame{Type: EventSQL, Data: SQLPayload{SQL: sql}})
}

func (e *wsEmitter) Result(url string) error {
	return e.conn.WriteJSON(wsFrame{Type: EventResult, Data: ResultPayload{URL: url}})
}

func (e *wsEmitter) Error(err error) error {
	return e.conn.WriteJSON(wsFrame{Type: EventError, Data: ErrorPayload{
		Code:    "stream_error",
		Message: err.Error(),
	}})
}

func (e *wsEmitter) Complete(resp *chat.Response) error {
	return e.conn.WriteJSON(wsFrame{Type: EventComplete, Data: resp})
}
