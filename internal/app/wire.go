package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/cryptoboard/internal/blob/s3"
	"github.com/alanyoungcy/cryptoboard/internal/cache/disk"
	"github.com/alanyoungcy/cryptoboard/internal/cache/redis"
	"github.com/alanyoungcy/cryptoboard/internal/config"
	"github.com/alanyoungcy/cryptoboard/internal/domain"
	"github.com/alanyoungcy/cryptoboard/internal/fallback"
	"github.com/alanyoungcy/cryptoboard/internal/notify"
	"github.com/alanyoungcy/cryptoboard/internal/platform/coingecko"
	"github.com/alanyoungcy/cryptoboard/internal/predict"
	"github.com/alanyoungcy/cryptoboard/internal/refresh"
	"github.com/alanyoungcy/cryptoboard/internal/server/handler"
	"github.com/alanyoungcy/cryptoboard/internal/server/ws"
	"github.com/alanyoungcy/cryptoboard/internal/store/postgres"
)

// Dependencies bundles everything the HTTP layer and background loops need.
// Optional backends are nil when disabled. It is constructed by Wire and torn
// down by the returned cleanup function.
type Dependencies struct {
	Refresher *refresh.Refresher
	// Runner is nil when prediction is disabled.
	Runner *predict.Runner

	History     domain.HistoryStore
	Archive     *s3blob.SnapshotArchive
	RateLimiter domain.RateLimiter
	// SignalBus is Redis pub/sub when configured, otherwise in-process.
	SignalBus domain.SignalBus
	Notifier  *notify.Notifier

	// Checks are the backend probes reported by /health.
	Checks []handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	var refreshOpts []refresh.Option

	// --- Redis (shared snapshot, refresh lock, rate limit, pub/sub) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks = append(deps.Checks, handler.Check{Name: "redis", Probe: redisClient.Ping})
		refreshOpts = append(refreshOpts,
			refresh.WithMirror(redis.NewSnapshotMirror(redisClient)),
			refresh.WithLock(redis.NewLockManager(redisClient)),
		)
	} else {
		deps.SignalBus = ws.NewLocalBus()
	}
	refreshOpts = append(refreshOpts, refresh.WithBus(deps.SignalBus))

	// --- PostgreSQL (refresh history) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		history := postgres.NewHistoryStore(pgClient.Pool())
		deps.History = history
		deps.Checks = append(deps.Checks, handler.Check{Name: "postgres", Probe: pgClient.Ping})
		refreshOpts = append(refreshOpts, refresh.WithHistory(history))
	}

	// --- S3 (snapshot archive) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Archive = s3blob.NewSnapshotArchive(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), cfg.S3.Prefix)
		deps.Checks = append(deps.Checks, handler.Check{Name: "s3", Probe: s3Client.Health})
		refreshOpts = append(refreshOpts, refresh.WithArchiver(deps.Archive))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if deps.Notifier.Enabled() {
		refreshOpts = append(refreshOpts, refresh.WithNotifier(deps.Notifier))
	}

	// --- Listing ---
	fallbackAssets := fallback.Default()
	if cfg.Cache.FallbackPath != "" {
		assets, err := fallback.Load(cfg.Cache.FallbackPath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: fallback listing: %w", err)
		}
		fallbackAssets = assets
	}

	fetcher := coingecko.NewClient(coingecko.Config{
		BaseURL:      cfg.Upstream.BaseURL,
		APIKey:       cfg.Upstream.APIKey,
		APIKeyHeader: cfg.Upstream.APIKeyHeader,
		VsCurrency:   cfg.Upstream.VsCurrency,
		PerPage:      cfg.Upstream.PerPage,
		MinAssets:    cfg.Upstream.MinAssets,
		Timeout:      cfg.Upstream.RequestTimeout.Duration,
	})
	store := disk.NewStore(cfg.Cache.Dir, cfg.Cache.FileName, cfg.Cache.TTL.Duration, logger)

	deps.Refresher = refresh.New(refresh.Config{
		Pages:        cfg.Upstream.Pages,
		MinAssets:    cfg.Upstream.MinAssets,
		TTL:          cfg.Cache.TTL.Duration,
		MaxAttempts:  cfg.Refresh.MaxAttempts,
		Backoff:      refresh.Policy{Base: cfg.Refresh.BaseDelay.Duration, Cap: cfg.Refresh.MaxDelay.Duration},
		DegradedHold: cfg.Refresh.DegradedHold.Duration,
		LockTTL:      cfg.Refresh.LockTTL.Duration,
		LockWait:     cfg.Refresh.LockWait.Duration,
	}, fetcher, store, fallbackAssets, logger, refreshOpts...)
	// Registered last so pending side effects finish before backends close.
	closers = append(closers, deps.Refresher.Close)

	// --- Prediction ---
	if cfg.Predict.Enabled {
		deps.Runner = predict.NewRunner(predict.Config{
			Interpreter:    cfg.Predict.Interpreter,
			CollectScript:  cfg.Predict.CollectScript,
			PredictScript:  cfg.Predict.PredictScript,
			WorkDir:        cfg.Predict.WorkDir,
			CollectTimeout: cfg.Predict.CollectTimeout.Duration,
			PredictTimeout: cfg.Predict.PredictTimeout.Duration,
			KillGrace:      cfg.Predict.KillGrace.Duration,
			MaxConcurrent:  cfg.Predict.MaxConcurrent,
		}, logger)
	}

	return deps, cleanup, nil
}
