// Package config defines the top-level configuration for the cryptoboard
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CRYPTOBOARD_* environment variables.
type Config struct {
	Upstream  UpstreamConfig `toml:"upstream"`
	Refresh   RefreshConfig  `toml:"refresh"`
	Cache     CacheConfig    `toml:"cache"`
	Predict   PredictConfig  `toml:"predict"`
	Server    ServerConfig   `toml:"server"`
	Redis     RedisConfig    `toml:"redis"`
	S3        S3Config       `toml:"s3"`
	Postgres  PostgresConfig `toml:"postgres"`
	Notify    NotifyConfig   `toml:"notify"`
	LogLevel  string         `toml:"log_level"`
	LogFormat string         `toml:"log_format"`
}

// UpstreamConfig describes the market listing API.
type UpstreamConfig struct {
	BaseURL        string   `toml:"base_url"`
	APIKey         string   `toml:"api_key"`
	APIKeyHeader   string   `toml:"api_key_header"`
	VsCurrency     string   `toml:"vs_currency"`
	PerPage        int      `toml:"per_page"`
	Pages          int      `toml:"pages"`
	MinAssets      int      `toml:"min_assets"`
	RequestTimeout duration `toml:"request_timeout"`
}

// RefreshConfig holds the retry policy of the refresh orchestrator.
type RefreshConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   duration `toml:"base_delay"`
	MaxDelay    duration `toml:"max_delay"`
	// Interval is the period of the background refresh loop; 0 disables it.
	Interval duration `toml:"interval"`
	// DegradedHold serves a degraded snapshot for this long before another
	// upstream sequence is attempted. 0 retries on every request.
	DegradedHold duration `toml:"degraded_hold"`
	LockTTL      duration `toml:"lock_ttl"`
	LockWait     duration `toml:"lock_wait"`
}

// CacheConfig holds the disk cache and fallback dataset settings.
type CacheConfig struct {
	Dir          string   `toml:"dir"`
	FileName     string   `toml:"file_name"`
	TTL          duration `toml:"ttl"`
	FallbackPath string   `toml:"fallback_path"`
}

// PredictConfig describes the external collection and prediction scripts.
type PredictConfig struct {
	Enabled        bool     `toml:"enabled"`
	Interpreter    string   `toml:"interpreter"`
	CollectScript  string   `toml:"collect_script"`
	PredictScript  string   `toml:"predict_script"`
	WorkDir        string   `toml:"work_dir"`
	CollectTimeout duration `toml:"collect_timeout"`
	PredictTimeout duration `toml:"predict_timeout"`
	KillGrace      duration `toml:"kill_grace"`
	MaxConcurrent  int      `toml:"max_concurrent"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int             `toml:"port"`
	CORSOrigins []string        `toml:"cors_origins"`
	APIKey      string          `toml:"api_key"`
	StaticDir   string          `toml:"static_dir"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig throttles the prediction endpoint per client. It requires
// Redis.
type RateLimitConfig struct {
	Enabled  bool     `toml:"enabled"`
	Requests int      `toml:"requests"`
	Window   duration `toml:"window"`
}

// RedisConfig holds Redis connection parameters. When disabled, the service
// runs with its local disk cache only.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the snapshot
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PostgresConfig holds connection parameters for the refresh history store.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Upstream: UpstreamConfig{
			BaseURL:        "https://api.coingecko.com/api/v3",
			APIKeyHeader:   "x-cg-demo-api-key",
			VsCurrency:     "usd",
			PerPage:        250,
			Pages:          1,
			MinAssets:      10,
			RequestTimeout: duration{30 * time.Second},
		},
		Refresh: RefreshConfig{
			MaxAttempts: 5,
			BaseDelay:   duration{2 * time.Second},
			MaxDelay:    duration{30 * time.Second},
			Interval:    duration{10 * time.Minute},
			LockTTL:     duration{2 * time.Minute},
			LockWait:    duration{15 * time.Second},
		},
		Cache: CacheConfig{
			Dir:      ".",
			FileName: "crypto_list_cache.json",
			TTL:      duration{time.Hour},
		},
		Predict: PredictConfig{
			Enabled:        true,
			Interpreter:    "python3",
			CollectScript:  "collect_data.py",
			PredictScript:  "ai_model.py",
			WorkDir:        ".",
			CollectTimeout: duration{120 * time.Second},
			PredictTimeout: duration{60 * time.Second},
			KillGrace:      duration{2 * time.Second},
			MaxConcurrent:  1,
		},
		Server: ServerConfig{
			Port:        3000,
			CORSOrigins: []string{"*"},
			RateLimit: RateLimitConfig{
				Enabled:  false,
				Requests: 10,
				Window:   duration{time.Minute},
			},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cryptoboard",
			Prefix:         "snapshots",
			ForcePathStyle: true,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Notify: NotifyConfig{
			Events: []string{"listing_degraded", "listing_recovered"},
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats enumerates the accepted values for Config.LogFormat.
var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validLogFormats[strings.ToLower(c.LogFormat)] {
		errs = append(errs, fmt.Sprintf("unknown log_format %q (valid: json, text)", c.LogFormat))
	}

	// Upstream
	if c.Upstream.BaseURL == "" {
		errs = append(errs, "upstream: base_url must not be empty")
	}
	if c.Upstream.PerPage < 1 || c.Upstream.PerPage > 250 {
		errs = append(errs, fmt.Sprintf("upstream: per_page must be 1-250, got %d", c.Upstream.PerPage))
	}
	if c.Upstream.Pages < 1 {
		errs = append(errs, "upstream: pages must be >= 1")
	}
	if c.Upstream.MinAssets < 1 {
		errs = append(errs, "upstream: min_assets must be >= 1")
	}
	if c.Upstream.MinAssets > c.Upstream.PerPage {
		errs = append(errs, "upstream: min_assets must not exceed per_page")
	}
	if c.Upstream.RequestTimeout.Duration <= 0 {
		errs = append(errs, "upstream: request_timeout must be > 0")
	}

	// Refresh
	if c.Refresh.MaxAttempts < 1 {
		errs = append(errs, "refresh: max_attempts must be >= 1")
	}
	if c.Refresh.BaseDelay.Duration <= 0 {
		errs = append(errs, "refresh: base_delay must be > 0")
	}
	if c.Refresh.MaxDelay.Duration < c.Refresh.BaseDelay.Duration {
		errs = append(errs, "refresh: max_delay must be >= base_delay")
	}
	if c.Refresh.Interval.Duration < 0 || c.Refresh.DegradedHold.Duration < 0 {
		errs = append(errs, "refresh: interval and degraded_hold must not be negative")
	}

	// Cache
	if c.Cache.FileName == "" {
		errs = append(errs, "cache: file_name must not be empty")
	}
	if c.Cache.TTL.Duration <= 0 {
		errs = append(errs, "cache: ttl must be > 0")
	}

	// Predict
	if c.Predict.Enabled {
		if c.Predict.Interpreter == "" || c.Predict.CollectScript == "" || c.Predict.PredictScript == "" {
			errs = append(errs, "predict: interpreter, collect_script and predict_script must be set when enabled")
		}
		if c.Predict.CollectTimeout.Duration <= 0 || c.Predict.PredictTimeout.Duration <= 0 {
			errs = append(errs, "predict: collect_timeout and predict_timeout must be > 0")
		}
		if c.Predict.MaxConcurrent < 1 {
			errs = append(errs, "predict: max_concurrent must be >= 1")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit.Enabled {
		if !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis.enabled")
		}
		if c.Server.RateLimit.Requests < 1 || c.Server.RateLimit.Window.Duration <= 0 {
			errs = append(errs, "server: rate_limit requests and window must be positive")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Postgres
	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.Enabled && c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
