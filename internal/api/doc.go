// Package api provides the JSON REST API server for querylane.
//
// # Architecture
//
// The server uses Go 1.22+ routing with a layered middleware stack:
//
//	Recovery -> RequestID -> Logging -> CORS -> RateLimit -> Routes
//
// Health probes (/health, /ready) bypass the middleware stack via a
// top-level mux so they stay fast and unauthenticated.
//
// # Endpoints
//
// Health probes (no middleware):
//   - GET /health - liveness
//   - GET /ready  - readiness, pings the analytical database
//
// Chat:
//   - POST /api/v1/chat     - synchronous, full response body
//   - POST /api/v1/chat/sse - Server-Sent Events stream
//   - GET  /api/v1/chat/ws  - WebSocket, looping per question
//
// Conversation history:
//   - GET    /api/v1/conversations        - recent turns
//   - POST   /api/v1/conversations/search - keyword and metadata filters
//   - DELETE /api/v1/conversations        - clear scope, user, or all
//
// Golden queries:
//   - GET    /api/v1/golden           - list or search
//   - POST   /api/v1/golden           - add
//   - GET    /api/v1/golden/{id}      - fetch
//   - DELETE /api/v1/golden/{id}      - remove
//   - POST   /api/v1/golden/{id}/tags - tag
//   - GET    /api/v1/golden/stats     - counters
//
// Learning:
//   - GET /api/v1/learning/stats
//
// Artifacts:
//   - GET /static/results/{name} - materialized CSV results
//   - GET /static/charts/{name}  - persisted chart renderings
//
// # Stream protocol
//
// Both streaming transports emit the same frame sequence: start, zero or
// more chunk frames, optional sql and result frames, then complete. A
// terminal failure produces an error frame before complete; the complete
// frame is always last.
package api
