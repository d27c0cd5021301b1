// Package server is the HTTP + WebSocket API in front of the session service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/tradeguard/internal/server/handler"
	"github.com/alanyoungcy/tradeguard/internal/server/middleware"
	"github.com/alanyoungcy/tradeguard/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	Auth        middleware.AuthConfig
	// Limiter enables per-client rate limiting when non-nil.
	Limiter            middleware.Limiter
	RateLimitPerMinute int
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Clock    *handler.ClockHandler
	Sessions *handler.SessionHandler
	Audit    *handler.AuditHandler
}

// Server is the headless API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in CORS, logging, auth and
// rate limiting (outermost first).
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewHandler(cfg, handlers, wsHub, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed and wrapped handler without a listener.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/clock", handlers.Clock.Get)

	s := handlers.Sessions
	mux.HandleFunc("POST /api/sessions", s.Start)
	mux.HandleFunc("GET /api/sessions/{id}", s.Get)
	mux.HandleFunc("POST /api/sessions/{id}/preflight", s.ConfirmPreflight)
	mux.HandleFunc("POST /api/sessions/{id}/sizing", s.Size)
	mux.HandleFunc("GET /api/sessions/{id}/evaluate", s.Evaluate)
	mux.HandleFunc("POST /api/sessions/{id}/execute", s.Execute)
	mux.HandleFunc("GET /api/sessions/{id}/trades", s.ListTrades)
	mux.HandleFunc("POST /api/sessions/{id}/trades", s.CloseTrade)

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.List)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	authCfg := cfg.Auth
	authCfg.Public = append([]string{"/api/health", "/metrics"}, cfg.Auth.Public...)

	var h http.Handler = mux
	h = middleware.RateLimit(cfg.Limiter, cfg.RateLimitPerMinute, time.Minute, logger)(h)
	h = middleware.Auth(authCfg)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
