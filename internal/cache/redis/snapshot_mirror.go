package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SnapshotMirror implements domain.SnapshotMirror by storing the live listing
// as one JSON string so every instance behind a load balancer can serve it.
//
// Key schema:
//
//	listing:snapshot      - JSON encoded domain.Snapshot, expires with the cache TTL
//	listing:snapshot:meta - hash with id, total, timestamp for cheap inspection
type SnapshotMirror struct {
	rdb *redis.Client
	key string
}

// NewSnapshotMirror creates a SnapshotMirror backed by the given Client.
func NewSnapshotMirror(c *Client) *SnapshotMirror {
	return &SnapshotMirror{rdb: c.Underlying(), key: "listing:snapshot"}
}

func (sm *SnapshotMirror) metaKey() string { return sm.key + ":meta" }

// Set stores snap for ttl. Degraded snapshots are rejected so a fallback
// listing never spreads to other instances.
func (sm *SnapshotMirror) Set(ctx context.Context, snap *domain.Snapshot, ttl time.Duration) error {
	if snap.Degraded {
		return fmt.Errorf("redis: set snapshot %s: degraded snapshots are not mirrored", snap.ID)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.ID, err)
	}

	// Expire relative to capture time so the mirror never outlives the TTL.
	remaining := ttl - time.Since(snap.Timestamp)
	if remaining <= 0 {
		return nil
	}

	pipe := sm.rdb.TxPipeline()
	pipe.Set(ctx, sm.key, data, remaining)
	pipe.HSet(ctx, sm.metaKey(),
		"id", snap.ID,
		"total", snap.Total,
		"timestamp", snap.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, sm.metaKey(), remaining)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Get returns the mirrored snapshot, or domain.ErrNotFound when none exists.
func (sm *SnapshotMirror) Get(ctx context.Context) (*domain.Snapshot, error) {
	data, err := sm.rdb.Get(ctx, sm.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get snapshot: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("redis: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Invalidate removes the mirrored snapshot.
func (sm *SnapshotMirror) Invalidate(ctx context.Context) error {
	if err := sm.rdb.Del(ctx, sm.key, sm.metaKey()).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshot: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SnapshotMirror = (*SnapshotMirror)(nil)
