package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

var slidingWindow = redis.NewScript(slidingWindowLua)

// RateLimiter keeps one sorted set of request timestamps per key. The HTTP
// layer uses it to throttle prediction requests per client, since each run
// holds the pipeline slot for minutes.
type RateLimiter struct {
	rdb *redis.Client
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying()}
}

// Allow counts the request against key when the window still has room.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateDecision, error) {
	if limit <= 0 {
		return domain.RateDecision{}, nil
	}

	res, err := slidingWindow.Run(ctx, rl.rdb,
		[]string{"cryptoboard:ratelimit:" + key},
		time.Now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: got %d results, want 2", key, len(res))
	}

	return domain.RateDecision{
		Allowed:   res[0] == 1,
		Remaining: max(limit-int(res[1]), 0),
	}, nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
