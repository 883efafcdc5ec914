// Package server exposes the round engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
	"github.com/alanyoungcy/updownbot/internal/server/middleware"
	"github.com/alanyoungcy/updownbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey protects administrative routes. They are not registered when it
	// is empty.
	APIKey string
	// Limiter, IPLimit and IPWindow throttle the bet route per client IP.
	Limiter     domain.RateLimiter
	IPLimit     int
	IPWindow    time.Duration
	MetricsPath string
}

// Handlers aggregates the route handlers. Settlements, Hub and Metrics are
// optional.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Quotes      *handler.QuoteHandler
	Rounds      *handler.RoundHandler
	Settlements *handler.SettlementHandler
	Hub         *ws.Hub
	Metrics     http.Handler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in request id, logging
// and CORS middleware.
func NewServer(cfg Config, h Handlers, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           Routes(cfg, h, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger.With(slog.String("component", "server"))}
}

// Routes builds the full handler tree.
func Routes(cfg Config, h Handlers, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	admin := middleware.Auth(cfg.APIKey)
	betLimit := middleware.RateLimit(cfg.Limiter, cfg.IPLimit, cfg.IPWindow, logger)

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)
	mux.HandleFunc("GET /api/quotes", h.Quotes.ListQuotes)

	mux.HandleFunc("GET /api/rounds", h.Rounds.ListRounds)
	mux.HandleFunc("GET /api/rounds/{id}", h.Rounds.GetRound)
	mux.Handle("POST /api/rounds/{id}/bets", betLimit(http.HandlerFunc(h.Rounds.PlaceBet)))
	if cfg.APIKey != "" {
		mux.Handle("POST /api/rounds/{id}/settle", admin(http.HandlerFunc(h.Rounds.SettleRound)))
	}

	if h.Settlements != nil {
		mux.HandleFunc("GET /api/settlements", h.Settlements.ListSettlements)
		mux.HandleFunc("GET /api/settlements/{id}", h.Settlements.GetSettlement)
	}
	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}
	if h.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, h.Metrics)
	}

	var root http.Handler = mux
	root = middleware.Logging(logger)(root)
	root = middleware.RequestID(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)
	return root
}

// Start listens until the server is shut down. ctx becomes every request's
// base context.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }
	s.logger.InfoContext(ctx, "server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
