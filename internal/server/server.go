package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/tracemesh/tracemesh/internal/auth"
	"github.com/tracemesh/tracemesh/internal/ratelimit"
	"github.com/tracemesh/tracemesh/internal/service/ingest"
	"github.com/tracemesh/tracemesh/internal/service/query"
)

// Pinger reports backend datastore reachability for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the tracemesh HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): JWTMgr, APIKeyHash, Pinger, MCPServer.
type Config struct {
	// Required dependencies.
	IngestSvc *ingest.Service
	QuerySvc  *query.Service
	Logger    *slog.Logger

	// Optional dependencies.
	JWTMgr      *auth.JWTManager  // nil disables authentication.
	APIKeyHash  string            // Argon2id hash of the configured API key.
	Pinger      Pinger            // nil reports the datastore as unknown.
	MCPServer   *mcpserver.MCPServer
	RateLimiter ratelimit.Limiter // nil disables rate limiting.

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := &handlers{
		ingest:      cfg.IngestSvc,
		query:       cfg.QuerySvc,
		jwtMgr:      cfg.JWTMgr,
		apiKeyHash:  cfg.APIKeyHash,
		pinger:      cfg.Pinger,
		logger:      cfg.Logger,
		version:     cfg.Version,
		maxBodySize: cfg.MaxRequestBodyBytes,
		startedAt:   time.Now(),
	}

	mux := http.NewServeMux()

	// Token issuance (no auth required).
	mux.HandleFunc("POST /auth/token", h.handleAuthToken)

	// Ingestion.
	mux.HandleFunc("POST /v1/traces", h.handleCreateTrace)
	mux.HandleFunc("PUT /v1/traces/{trace_id}", h.handleUpdateTrace)
	mux.HandleFunc("POST /v1/spans", h.handleCreateSpans)
	mux.HandleFunc("PUT /v1/spans/{span_id}", h.handleUpdateSpan)
	mux.HandleFunc("POST /v1/a2a", h.handleCreateA2A)
	mux.HandleFunc("PUT /v1/a2a/{id}", h.handleUpdateA2A)

	// Queries.
	mux.HandleFunc("GET /v1/traces", h.handleQueryTraces)
	mux.HandleFunc("GET /v1/spans", h.handleQuerySpans)
	mux.HandleFunc("GET /v1/a2a", h.handleQueryA2A)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health (no auth).
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → rate limit → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	if cfg.RateLimiter != nil {
		handler = ratelimit.Middleware(cfg.RateLimiter, ratelimit.IPKeyFunc)(handler)
	}
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
