// Package server exposes the listing and prediction API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
	"github.com/alanyoungcy/cryptoboard/internal/server/handler"
	"github.com/alanyoungcy/cryptoboard/internal/server/middleware"
	"github.com/alanyoungcy/cryptoboard/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	StaticDir   string
	// WriteTimeout must outlast a full prediction run.
	WriteTimeout time.Duration
}

// RateLimit throttles the script-running /predict/ routes per client IP. A nil Limiter disables it.
type RateLimit struct {
	Limiter  domain.RateLimiter
	Requests int
	Window   time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Listing *handler.ListingHandler
	Predict *handler.PredictHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, rl RateLimit, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewHandler(cfg, handlers, wsHub, rl, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// NewHandler builds the routed and middleware-wrapped http.Handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, rl RateLimit, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /list", handlers.Listing.List)
	mux.HandleFunc("POST /list/refresh", handlers.Listing.Refresh)
	mux.HandleFunc("GET /list/history", handlers.Listing.History)
	mux.HandleFunc("GET /list/archive", handlers.Listing.ListArchive)
	mux.HandleFunc("GET /list/archive/{date}/{id}", handlers.Listing.GetArchived)
	mux.HandleFunc("GET /list/{id}", handlers.Listing.GetAsset)

	var predict, collect http.Handler = http.HandlerFunc(handlers.Predict.Predict), http.HandlerFunc(handlers.Predict.Collect)
	if rl.Limiter != nil {
		limit := middleware.RateLimit(rl.Limiter, "predict", rl.Requests, rl.Window, logger)
		predict, collect = limit(predict), limit(collect)
	}
	mux.Handle("GET /predict/{assetId}", predict)
	mux.Handle("POST /predict/{assetId}/collect", collect)
	mux.HandleFunc("DELETE /predict/cache", handlers.Predict.PurgeCache)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	if cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(cfg.StaticDir)))
	} else {
		mux.HandleFunc("GET /{$}", handler.Index)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/health", "/metrics")(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger)(h)
	return h
}

// Start binds the listen address and serves until Shutdown. A bind failure
// is returned immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("server: listening", slog.String("addr", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
