package domain

import (
	"context"
	"time"
)

// SnapshotMirror is a shared second-level copy of the live snapshot, visible
// to every instance of the service.
type SnapshotMirror interface {
	Get(ctx context.Context) (*Snapshot, error)
	Set(ctx context.Context, snap *Snapshot, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// RateDecision is the outcome of one rate limit check.
type RateDecision struct {
	Allowed bool
	// Remaining is how many more requests the window admits.
	Remaining int
}

// RateLimiter admits at most limit requests per key within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub between instances.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
