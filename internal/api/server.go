// Package api is the HTTP surface: the chat endpoints (synchronous and
// SSE streaming), health probes, and the middleware stack around them.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/gateway"
)

// ServerConfig assembles the API server.
type ServerConfig struct {
	Logger       *slog.Logger
	Orchestrator *gateway.Orchestrator // required
	Pool         *pgxpool.Pool         // optional, enables database readiness reporting
	CORSOrigins  []string
	IsDev        bool // disables HSTS
	TrustProxy   bool // honor X-Real-IP / X-Forwarded-For
	RateBurst    int  // per-IP burst, 0 = default 60
}

// Server is the Parley HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer wires routes and middleware. Health probes sit outside the
// middleware stack so probes are never rate limited.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{orchestrator: cfg.Orchestrator, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", ch.send)
	mux.HandleFunc("POST /v1/chat/stream", ch.stream)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID precedes Logging so request_id appears in log lines;
	// CORS precedes RateLimit so preflight gets proper headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
