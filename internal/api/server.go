package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/querylane/querylane/internal/chat"
	"github.com/querylane/querylane/internal/conversation"
	"github.com/querylane/querylane/internal/golden"
)

// Static mount points for materialized artifacts. Result and chart URLs
// built by the stores must use the matching base paths.
const (
	ResultsMount = "/static/results/"
	ChartsMount  = "/static/charts/"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger        *slog.Logger
	Orchestrator  *chat.Orchestrator  // Required
	Conversations *conversation.Store // Required
	Golden        *golden.Store       // Optional: nil disables the golden API
	Learning      LearningStats       // Optional: nil disables learning stats
	DB            Pinger              // Optional: nil reports degraded readiness
	ResultsDir    string              // Directory served under /static/results/
	ChartsDir     string              // Directory served under /static/charts/
	CORSOrigins   []string            // Allowed origins for CORS and WebSocket
	TrustProxy    bool                // Trust X-Real-IP/X-Forwarded-For headers
	RateRPS       float64             // Rate limiter refill per second (0 = default 10)
	RateBurst     int                 // Rate limiter burst size per IP (0 = default 20)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.Conversations == nil {
		return nil, errors.New("conversation store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{orch: cfg.Orchestrator, logger: logger}
	ws := newWSHandler(cfg.Orchestrator, cfg.CORSOrigins, logger)
	hh := &historyHandler{store: cfg.Conversations, logger: logger}

	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("POST /api/v1/chat/sse", ch.stream)
	mux.HandleFunc("GET /api/v1/chat/ws", ws.serve)

	// Conversation history
	mux.HandleFunc("GET /api/v1/conversations", hh.list)
	mux.HandleFunc("POST /api/v1/conversations/search", hh.search)
	mux.HandleFunc("DELETE /api/v1/conversations", hh.clear)

	// Golden queries (optional, only registered if a store is provided)
	if cfg.Golden != nil {
		gh := &goldenHandler{store: cfg.Golden, logger: logger}
		mux.HandleFunc("GET /api/v1/golden", gh.list)
		mux.HandleFunc("POST /api/v1/golden", gh.add)
		mux.HandleFunc("GET /api/v1/golden/stats", gh.stats)
		mux.HandleFunc("GET /api/v1/golden/{id}", gh.get)
		mux.HandleFunc("DELETE /api/v1/golden/{id}", gh.remove)
		mux.HandleFunc("POST /api/v1/golden/{id}/tags", gh.addTags)
	}

	// Learning stats
	if cfg.Learning != nil {
		lh := &learningHandler{learning: cfg.Learning}
		mux.HandleFunc("GET /api/v1/learning/stats", lh.stats)
	}

	// Materialized artifacts
	if cfg.ResultsDir != "" {
		mux.Handle("GET "+ResultsMount, http.StripPrefix(ResultsMount, http.FileServer(http.Dir(cfg.ResultsDir))))
	}
	if cfg.ChartsDir != "" {
		mux.Handle("GET "+ChartsMount, http.StripPrefix(ChartsMount, http.FileServer(http.Dir(cfg.ChartsDir))))
	}

	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}
	rl := newRateLimiter(rps, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Top-level mux separates health probes from the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.DB))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
