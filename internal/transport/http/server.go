// Package http provides the HTTP transport layer for groupq.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	GET    /health
//	POST   /groups/{group}/messages           offer (?wait=5s blocks for capacity)
//	POST   /groups/{group}/messages/next      poll  (?wait=5s blocks for a message)
//	GET    /groups/{group}/messages/peek
//	GET    /groups/{group}/messages           unmarked snapshot
//	POST   /groups/{group}/drain              ?max=n removes; absent marks all
//	GET    /groups/{group}/stats
//	GET    /groups/{group}/ws                 WebSocket take stream
//	GET    /metrics                           Prometheus text format
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/groupq-io/groupq/internal/broker"
	"github.com/groupq-io/groupq/internal/config"
	"github.com/groupq-io/groupq/internal/metrics"
	transportws "github.com/groupq-io/groupq/internal/transport/websocket"
)

// Server wraps the stdlib HTTP server with groupq route wiring.
type Server struct {
	inner *http.Server
}

// New builds a Server from a Broker.
// The caller is responsible for calling ListenAndServe / Shutdown.
func New(b *broker.Broker, cfg *config.Config, nodeID string, reg *metrics.Registry) *Server {
	h := &Handler{broker: b, nodeID: nodeID}
	ws := &transportws.Handler{Broker: b}

	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /health", h.health)

	// Messages
	mux.HandleFunc("POST /groups/{group}/messages", h.offer)
	mux.HandleFunc("POST /groups/{group}/messages/next", h.poll)
	mux.HandleFunc("GET /groups/{group}/messages/peek", h.peek)
	mux.HandleFunc("GET /groups/{group}/messages", h.listMessages)

	// Drain
	mux.HandleFunc("POST /groups/{group}/drain", h.drain)

	// Stats
	mux.HandleFunc("GET /groups/{group}/stats", h.stats)

	// WebSocket push
	mux.Handle("GET /groups/{group}/ws", ws)

	// Metrics (Prometheus text format)
	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}

	// Build middleware chain: CORS → body cap → logging → metrics → auth → rate-limit
	var handler http.Handler = mux
	handler = chain(handler,
		CORSMiddleware,
		MaxBodyMiddleware,
		LoggingMiddleware,
		MetricsMiddleware(reg),
		AuthMiddleware(cfg.Auth.APIKey, cfg.Auth.Enabled),
		RateLimitMiddleware(cfg.Limits.MaxRate, cfg.Limits.Burst),
	)

	return &Server{
		inner: &http.Server{
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on the given address (e.g. ":8080").
// It returns when the server stops or encounters an error.
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
