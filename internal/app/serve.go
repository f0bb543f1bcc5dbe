package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cryptoboard/internal/config"
	"github.com/alanyoungcy/cryptoboard/internal/server"
	"github.com/alanyoungcy/cryptoboard/internal/server/handler"
	"github.com/alanyoungcy/cryptoboard/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// startHTTPServer adds the HTTP server, its shutdown watcher and the
// websocket hub to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var predictor handler.Predictor
	if deps.Runner != nil {
		predictor = deps.Runner
	}
	var archive handler.Archive
	if deps.Archive != nil {
		archive = deps.Archive
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Refresher, a.cfg.Upstream.APIKey != "", deps.Checks, a.logger),
		Listing: handler.NewListingHandler(deps.Refresher, deps.History, archive, a.logger),
		Predict: handler.NewPredictHandler(predictor, a.logger),
	}

	hub := ws.NewHub(deps.SignalBus, deps.Refresher, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var rl server.RateLimit
	if a.cfg.Server.RateLimit.Enabled && deps.RateLimiter != nil {
		rl = server.RateLimit{
			Limiter:  deps.RateLimiter,
			Requests: a.cfg.Server.RateLimit.Requests,
			Window:   a.cfg.Server.RateLimit.Window.Duration,
		}
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		StaticDir:    a.cfg.Server.StaticDir,
		WriteTimeout: writeTimeout(a.cfg),
	}, handlers, hub, rl, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// writeTimeout must cover the slowest handler: a full prediction run or a
// refresh sequence that exhausts every attempt.
func writeTimeout(cfg *config.Config) time.Duration {
	predict := cfg.Predict.CollectTimeout.Duration + cfg.Predict.PredictTimeout.Duration + 2*cfg.Predict.KillGrace.Duration

	refresh := time.Duration(cfg.Refresh.MaxAttempts*cfg.Upstream.Pages) * cfg.Upstream.RequestTimeout.Duration
	for attempt := 1; attempt < cfg.Refresh.MaxAttempts; attempt++ {
		refresh += min(cfg.Refresh.BaseDelay.Duration<<(attempt-1), cfg.Refresh.MaxDelay.Duration)
	}

	return max(predict, refresh) + 30*time.Second
}
