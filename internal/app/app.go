// Package app provides the top-level lifecycle of the listing service. It
// wires the refresh orchestrator, its caches and stores, the prediction
// runner and the HTTP server, and runs them until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cryptoboard/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the HTTP server, the websocket hub and
// the background refresh loop, and blocks until ctx is cancelled or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("upstream", a.cfg.Upstream.BaseURL),
		slog.Int("port", a.cfg.Server.Port),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("postgres", a.cfg.Postgres.Enabled),
		slog.Bool("s3", a.cfg.S3.Enabled),
		slog.Bool("predict", a.cfg.Predict.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	warmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if !deps.Refresher.Warm(warmCtx) {
		a.logger.InfoContext(ctx, "no usable cached listing, first request will fetch upstream")
	}
	cancel()

	g, ctx := errgroup.WithContext(ctx)

	if interval := a.cfg.Refresh.Interval.Duration; interval > 0 {
		g.Go(func() error {
			return deps.Refresher.RunLoop(ctx, interval)
		})
	}

	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
