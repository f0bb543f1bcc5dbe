package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CRYPTOBOARD_* environment variable overrides, and
// returns the final Config. A missing file is not an error: the service can be
// configured from the environment alone. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CRYPTOBOARD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Upstream ──
	setStr(&cfg.Upstream.BaseURL, "CRYPTOBOARD_UPSTREAM_BASE_URL")
	setStr(&cfg.Upstream.APIKey, "COINGECKO_API_KEY") // compatibility alias
	setStr(&cfg.Upstream.APIKey, "CRYPTOBOARD_UPSTREAM_API_KEY")
	setStr(&cfg.Upstream.APIKeyHeader, "CRYPTOBOARD_UPSTREAM_API_KEY_HEADER")
	setStr(&cfg.Upstream.VsCurrency, "CRYPTOBOARD_UPSTREAM_VS_CURRENCY")
	setInt(&cfg.Upstream.PerPage, "CRYPTOBOARD_UPSTREAM_PER_PAGE")
	setInt(&cfg.Upstream.Pages, "CRYPTOBOARD_UPSTREAM_PAGES")
	setInt(&cfg.Upstream.MinAssets, "CRYPTOBOARD_UPSTREAM_MIN_ASSETS")
	setDuration(&cfg.Upstream.RequestTimeout, "CRYPTOBOARD_UPSTREAM_REQUEST_TIMEOUT")

	// ── Refresh ──
	setInt(&cfg.Refresh.MaxAttempts, "CRYPTOBOARD_REFRESH_MAX_ATTEMPTS")
	setDuration(&cfg.Refresh.BaseDelay, "CRYPTOBOARD_REFRESH_BASE_DELAY")
	setDuration(&cfg.Refresh.MaxDelay, "CRYPTOBOARD_REFRESH_MAX_DELAY")
	setDuration(&cfg.Refresh.Interval, "CRYPTOBOARD_REFRESH_INTERVAL")
	setDuration(&cfg.Refresh.DegradedHold, "CRYPTOBOARD_REFRESH_DEGRADED_HOLD")
	setDuration(&cfg.Refresh.LockTTL, "CRYPTOBOARD_REFRESH_LOCK_TTL")
	setDuration(&cfg.Refresh.LockWait, "CRYPTOBOARD_REFRESH_LOCK_WAIT")

	// ── Cache ──
	setStr(&cfg.Cache.Dir, "CRYPTOBOARD_CACHE_DIR")
	setStr(&cfg.Cache.FileName, "CRYPTOBOARD_CACHE_FILE_NAME")
	setDuration(&cfg.Cache.TTL, "CRYPTOBOARD_CACHE_TTL")
	setStr(&cfg.Cache.FallbackPath, "CRYPTOBOARD_CACHE_FALLBACK_PATH")

	// ── Predict ──
	setBool(&cfg.Predict.Enabled, "CRYPTOBOARD_PREDICT_ENABLED")
	setStr(&cfg.Predict.Interpreter, "CRYPTOBOARD_PREDICT_INTERPRETER")
	setStr(&cfg.Predict.CollectScript, "CRYPTOBOARD_PREDICT_COLLECT_SCRIPT")
	setStr(&cfg.Predict.PredictScript, "CRYPTOBOARD_PREDICT_PREDICT_SCRIPT")
	setStr(&cfg.Predict.WorkDir, "CRYPTOBOARD_PREDICT_WORK_DIR")
	setDuration(&cfg.Predict.CollectTimeout, "CRYPTOBOARD_PREDICT_COLLECT_TIMEOUT")
	setDuration(&cfg.Predict.PredictTimeout, "CRYPTOBOARD_PREDICT_PREDICT_TIMEOUT")
	setDuration(&cfg.Predict.KillGrace, "CRYPTOBOARD_PREDICT_KILL_GRACE")
	setInt(&cfg.Predict.MaxConcurrent, "CRYPTOBOARD_PREDICT_MAX_CONCURRENT")

	// ── Server ──
	setInt(&cfg.Server.Port, "PORT") // compatibility alias
	setInt(&cfg.Server.Port, "CRYPTOBOARD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CRYPTOBOARD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CRYPTOBOARD_SERVER_API_KEY")
	setStr(&cfg.Server.StaticDir, "CRYPTOBOARD_SERVER_STATIC_DIR")
	setBool(&cfg.Server.RateLimit.Enabled, "CRYPTOBOARD_SERVER_RATE_LIMIT_ENABLED")
	setInt(&cfg.Server.RateLimit.Requests, "CRYPTOBOARD_SERVER_RATE_LIMIT_REQUESTS")
	setDuration(&cfg.Server.RateLimit.Window, "CRYPTOBOARD_SERVER_RATE_LIMIT_WINDOW")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CRYPTOBOARD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CRYPTOBOARD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CRYPTOBOARD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CRYPTOBOARD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CRYPTOBOARD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CRYPTOBOARD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CRYPTOBOARD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CRYPTOBOARD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CRYPTOBOARD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CRYPTOBOARD_S3_REGION")
	setStr(&cfg.S3.Bucket, "CRYPTOBOARD_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "CRYPTOBOARD_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "CRYPTOBOARD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CRYPTOBOARD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CRYPTOBOARD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CRYPTOBOARD_S3_FORCE_PATH_STYLE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CRYPTOBOARD_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.DSN, "CRYPTOBOARD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CRYPTOBOARD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CRYPTOBOARD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CRYPTOBOARD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CRYPTOBOARD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CRYPTOBOARD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CRYPTOBOARD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CRYPTOBOARD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CRYPTOBOARD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CRYPTOBOARD_POSTGRES_RUN_MIGRATIONS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CRYPTOBOARD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CRYPTOBOARD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CRYPTOBOARD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CRYPTOBOARD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "CRYPTOBOARD_LOG_LEVEL")
	setStr(&cfg.LogFormat, "CRYPTOBOARD_LOG_FORMAT")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
