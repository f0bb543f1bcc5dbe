// Package refresh keeps the process-wide listing snapshot fresh. It serves
// cached snapshots while they are within TTL, runs at most one upstream fetch
// sequence at a time, retries failed sequences with exponential backoff, and
// substitutes a static degraded listing once retries are exhausted.
package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
	"github.com/alanyoungcy/cryptoboard/internal/metrics"
)

const (
	flightKey = "refresh"
	lockKey   = "listing_refresh"

	// sideEffectTimeout bounds mirror, archive, history and notification
	// writes that follow a publish.
	sideEffectTimeout = 30 * time.Second
	peerPollInterval  = 250 * time.Millisecond
)

// Fetcher returns one 1-based page of the upstream listing.
type Fetcher interface {
	FetchPage(ctx context.Context, page int) ([]domain.Asset, error)
}

// DiskCache is the local snapshot file.
type DiskCache interface {
	Load(ctx context.Context) (*domain.Snapshot, bool)
	Save(ctx context.Context, snap *domain.Snapshot) error
	Invalidate(ctx context.Context) error
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the refresh policy.
type Config struct {
	// Pages is the number of upstream pages making up the listing.
	Pages int
	// MinAssets is the smallest listing accepted from any cache layer.
	MinAssets   int
	TTL         time.Duration
	MaxAttempts int
	Backoff     Policy
	// DegradedHold serves a degraded snapshot for this long before another
	// upstream sequence is started. Zero retries on every request.
	DegradedHold time.Duration
	LockTTL      time.Duration
	LockWait     time.Duration
}

// Option configures optional collaborators of a Refresher.
type Option func(*Refresher)

// WithMirror shares fresh snapshots with other instances.
func WithMirror(m domain.SnapshotMirror) Option { return func(r *Refresher) { r.mirror = m } }

// WithLock serializes upstream sequences across instances.
func WithLock(l domain.LockManager) Option { return func(r *Refresher) { r.lock = l } }

// WithArchiver stores every fresh snapshot in object storage.
func WithArchiver(a domain.SnapshotArchiver) Option { return func(r *Refresher) { r.archiver = a } }

// WithHistory records every published snapshot.
func WithHistory(h domain.HistoryStore) Option { return func(r *Refresher) { r.history = h } }

// WithBus announces published snapshots on domain.ChannelListing.
func WithBus(b domain.SignalBus) Option { return func(r *Refresher) { r.bus = b } }

// WithNotifier alerts operators when the listing degrades or recovers.
func WithNotifier(n Notifier) Option { return func(r *Refresher) { r.notifier = n } }

// Refresher owns the live snapshot. It is the only writer of that snapshot;
// readers get an immutable *domain.Snapshot that is replaced, never mutated.
type Refresher struct {
	cfg      Config
	fetcher  Fetcher
	disk     DiskCache
	fallback []domain.Asset
	logger   *slog.Logger

	mirror   domain.SnapshotMirror
	lock     domain.LockManager
	archiver domain.SnapshotArchiver
	history  domain.HistoryStore
	bus      domain.SignalBus
	notifier Notifier

	group   singleflight.Group
	current atomic.Pointer[domain.Snapshot]
	// stale is set by ForceRefresh and cleared by the next publish.
	stale atomic.Bool

	// baseCtx outlives callers so an abandoned request does not cancel the
	// shared fetch sequence. Close cancels it.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Refresher. fallbackAssets is the listing served when every
// attempt of a sequence fails.
func New(cfg Config, fetcher Fetcher, disk DiskCache, fallbackAssets []domain.Asset, logger *slog.Logger, opts ...Option) *Refresher {
	if cfg.Pages < 1 {
		cfg.Pages = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	r := &Refresher{
		cfg:      cfg,
		fetcher:  fetcher,
		disk:     disk,
		fallback: domain.Rerank(fallbackAssets),
		logger:   logger.With(slog.String("component", "refresher")),
		baseCtx:  baseCtx,
		cancel:   cancel,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Current returns the live snapshot without any I/O, or nil before the first
// snapshot is loaded or fetched.
func (r *Refresher) Current() *domain.Snapshot {
	return r.current.Load()
}

// Warm loads the disk snapshot into memory so the first request after a
// restart is served without an upstream call. It reports whether a usable
// snapshot was found.
func (r *Refresher) Warm(ctx context.Context) bool {
	snap, ok := r.disk.Load(ctx)
	if !ok || !snap.Usable(r.now(), r.cfg.TTL, r.cfg.MinAssets) {
		return false
	}
	r.adopt(snap)
	r.logger.Info("warmed from disk",
		slog.String("snapshot_id", snap.ID),
		slog.Int("total", snap.Total),
		slog.Duration("age", snap.Age(r.now())),
	)
	return true
}

// EnsureFresh returns a snapshot that is within TTL, fetching upstream when no
// cache layer has one. Upstream failures never surface here: once retries are
// exhausted a degraded snapshot is returned. The only error is the caller's
// context ending first, or the Refresher being closed.
func (r *Refresher) EnsureFresh(ctx context.Context) (*domain.Snapshot, error) {
	if snap := r.cached(ctx); snap != nil {
		return snap, nil
	}
	return r.join(ctx)
}

// ForceRefresh discards every cached copy and runs an upstream sequence. When
// a sequence is already in flight the caller joins it instead of starting a
// second one.
func (r *Refresher) ForceRefresh(ctx context.Context) (*domain.Snapshot, error) {
	r.stale.Store(true)
	if err := r.disk.Invalidate(ctx); err != nil {
		r.logger.Warn("invalidate disk cache", slog.String("error", err.Error()))
	}
	if r.mirror != nil {
		if err := r.mirror.Invalidate(ctx); err != nil {
			r.logger.Warn("invalidate mirror", slog.String("error", err.Error()))
		}
	}
	return r.join(ctx)
}

// RunLoop keeps the snapshot fresh in the background, calling EnsureFresh now
// and on every tick until ctx is cancelled.
func (r *Refresher) RunLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	r.logger.Info("refresh loop started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.EnsureFresh(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("background refresh failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("refresh loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Close aborts any in-flight sequence and waits for pending side effects.
func (r *Refresher) Close() {
	r.cancel()
	r.wg.Wait()
}

// cached walks memory, disk and the mirror for a usable snapshot.
func (r *Refresher) cached(ctx context.Context) *domain.Snapshot {
	now := r.now()

	if !r.stale.Load() {
		cur := r.current.Load()
		if cur.Usable(now, r.cfg.TTL, r.cfg.MinAssets) {
			metrics.CacheLookups.WithLabelValues("memory", "hit").Inc()
			return cur
		}
		if cur != nil && cur.Degraded && r.cfg.DegradedHold > 0 && cur.Age(now) < r.cfg.DegradedHold {
			metrics.CacheLookups.WithLabelValues("memory", "hit").Inc()
			return cur
		}
	}
	metrics.CacheLookups.WithLabelValues("memory", "miss").Inc()

	if snap, ok := r.disk.Load(ctx); ok && snap.Usable(now, r.cfg.TTL, r.cfg.MinAssets) {
		metrics.CacheLookups.WithLabelValues("disk", "hit").Inc()
		r.adopt(snap)
		return snap
	}
	metrics.CacheLookups.WithLabelValues("disk", "miss").Inc()

	if snap := r.fromMirror(ctx); snap != nil {
		return snap
	}
	return nil
}

// fromMirror adopts a usable mirrored snapshot and copies it to disk.
func (r *Refresher) fromMirror(ctx context.Context) *domain.Snapshot {
	if r.mirror == nil {
		return nil
	}
	snap, err := r.mirror.Get(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("read mirror", slog.String("error", err.Error()))
		}
		metrics.CacheLookups.WithLabelValues("mirror", "miss").Inc()
		return nil
	}
	if !snap.Usable(r.now(), r.cfg.TTL, r.cfg.MinAssets) {
		metrics.CacheLookups.WithLabelValues("mirror", "miss").Inc()
		return nil
	}
	metrics.CacheLookups.WithLabelValues("mirror", "hit").Inc()

	snap.Source = domain.SourceMirror
	if err := r.disk.Save(ctx, snap); err != nil {
		r.logger.Warn("save mirrored snapshot to disk", slog.String("error", err.Error()))
	}
	r.adopt(snap)
	return snap
}

// join waits on the shared sequence. The sequence runs on baseCtx; ctx only
// bounds how long this caller waits.
func (r *Refresher) join(ctx context.Context) (*domain.Snapshot, error) {
	ch := r.group.DoChan(flightKey, func() (any, error) {
		return r.refresh(r.baseCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh runs one upstream sequence and publishes its outcome.
func (r *Refresher) refresh(ctx context.Context) (*domain.Snapshot, error) {
	// A sequence that finished just before this one started may already have
	// published a usable snapshot.
	if !r.stale.Load() {
		if cur := r.current.Load(); cur.Usable(r.now(), r.cfg.TTL, r.cfg.MinAssets) {
			return cur, nil
		}
	}

	start := time.Now()

	if r.lock != nil {
		unlock, err := r.lock.Acquire(ctx, lockKey, r.cfg.LockTTL)
		switch {
		case err == nil:
			defer unlock()
		case errors.Is(err, domain.ErrLockHeld):
			if snap := r.awaitPeer(ctx); snap != nil {
				r.logger.Info("adopted snapshot from peer", slog.String("snapshot_id", snap.ID))
				return snap, nil
			}
			r.logger.Warn("peer refresh did not publish in time, fetching anyway",
				slog.Duration("lock_wait", r.cfg.LockWait))
		default:
			r.logger.Warn("acquire refresh lock", slog.String("error", err.Error()))
		}
	}

	assets, attempts, err := r.fetchWithRetry(ctx)
	metrics.RefreshAttempts.Observe(float64(attempts))
	metrics.RefreshDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("refresh: %w", ctx.Err())
		}
		snap := r.degradedSnapshot(attempts)
		r.publish(snap)
		metrics.RefreshTotal.WithLabelValues("degraded").Inc()
		r.logger.Error("upstream exhausted, serving fallback listing",
			slog.Int("attempts", attempts),
			slog.Int("total", snap.Total),
			slog.String("error", err.Error()),
		)
		return snap, nil
	}

	ranked := domain.Rerank(assets)
	snap := &domain.Snapshot{
		ID:        uuid.New().String(),
		Assets:    ranked,
		Total:     len(ranked),
		Timestamp: r.now().UTC(),
		Source:    domain.SourceUpstream,
		Attempts:  attempts,
	}
	if err := r.disk.Save(ctx, snap); err != nil {
		r.logger.Warn("save snapshot to disk", slog.String("error", err.Error()))
	}
	r.publish(snap)
	metrics.RefreshTotal.WithLabelValues("fresh").Inc()

	r.logger.Info("listing refreshed",
		slog.String("snapshot_id", snap.ID),
		slog.Int("total", snap.Total),
		slog.Int("attempts", attempts),
		slog.Duration("elapsed", time.Since(start)),
	)
	return snap, nil
}

// fetchWithRetry fetches every page, restarting from page 1 after any failure.
// It returns the number of attempts made.
func (r *Refresher) fetchWithRetry(ctx context.Context) ([]domain.Asset, int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		assets, err := r.fetchAll(ctx)
		if err == nil {
			return assets, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		var retryAfter time.Duration
		var fe *domain.FetchError
		if errors.As(err, &fe) {
			retryAfter = fe.RetryAfter
		}
		wait := r.cfg.Backoff.waitFor(attempt, retryAfter)

		r.logger.Warn("upstream fetch failed, backing off",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.cfg.MaxAttempts),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)

		if err := r.sleep(ctx, wait); err != nil {
			return nil, attempt, err
		}
	}
	return nil, r.cfg.MaxAttempts, fmt.Errorf("refresh: %d attempts exhausted: %w", r.cfg.MaxAttempts, lastErr)
}

// fetchAll concatenates pages 1..Pages. Market cap order can shift between
// page requests, so an asset repeated on a later page keeps its first place.
func (r *Refresher) fetchAll(ctx context.Context) ([]domain.Asset, error) {
	var all []domain.Asset
	seen := make(map[string]struct{})
	for page := 1; page <= r.cfg.Pages; page++ {
		assets, err := r.fetcher.FetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, a := range assets {
			if _, dup := seen[a.ID]; dup {
				continue
			}
			seen[a.ID] = struct{}{}
			all = append(all, a)
		}
	}
	return all, nil
}

// awaitPeer polls the mirror while another instance holds the refresh lock.
func (r *Refresher) awaitPeer(ctx context.Context) *domain.Snapshot {
	if r.mirror == nil || r.cfg.LockWait <= 0 {
		return nil
	}
	deadline := time.Now().Add(r.cfg.LockWait)
	for time.Now().Before(deadline) {
		if snap := r.fromMirror(ctx); snap != nil {
			r.stale.Store(false)
			return snap
		}
		if err := r.sleep(ctx, peerPollInterval); err != nil {
			return nil
		}
	}
	return nil
}

func (r *Refresher) degradedSnapshot(attempts int) *domain.Snapshot {
	assets := make([]domain.Asset, len(r.fallback))
	copy(assets, r.fallback)
	return &domain.Snapshot{
		ID:        uuid.New().String(),
		Assets:    assets,
		Total:     len(assets),
		Timestamp: r.now().UTC(),
		Degraded:  true,
		Source:    domain.SourceFallback,
		Attempts:  attempts,
	}
}

// adopt installs a snapshot read from a cache layer. Side effects are skipped
// because the snapshot was already published by whoever wrote it.
func (r *Refresher) adopt(snap *domain.Snapshot) {
	r.current.Store(snap)
	setSnapshotGauges(snap)
}

// publish swaps in a snapshot produced by this process and fans it out.
func (r *Refresher) publish(snap *domain.Snapshot) {
	prev := r.current.Swap(snap)
	r.stale.Store(false)
	setSnapshotGauges(snap)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		r.fanOut(ctx, snap, prev)
	}()
}

func (r *Refresher) fanOut(ctx context.Context, snap, prev *domain.Snapshot) {
	if !snap.Degraded {
		if r.mirror != nil {
			if err := r.mirror.Set(ctx, snap, r.cfg.TTL); err != nil {
				r.logger.Warn("write mirror", slog.String("error", err.Error()))
			}
		}
		if r.archiver != nil {
			if path, err := r.archiver.Archive(ctx, snap); err != nil {
				r.logger.Warn("archive snapshot", slog.String("error", err.Error()))
			} else {
				r.logger.Debug("snapshot archived", slog.String("path", path))
			}
		}
	}

	if r.history != nil {
		if err := r.history.Record(ctx, snap); err != nil {
			r.logger.Warn("record refresh history", slog.String("error", err.Error()))
		}
	}

	if r.bus != nil {
		eventType := domain.EventListingRefreshed
		if snap.Degraded {
			eventType = domain.EventListingDegraded
		}
		payload, err := json.Marshal(domain.ListingEvent{
			Type:       eventType,
			SnapshotID: snap.ID,
			Total:      snap.Total,
			Degraded:   snap.Degraded,
			Source:     snap.Source,
			Attempts:   snap.Attempts,
			Timestamp:  snap.Timestamp,
		})
		if err == nil {
			err = r.bus.Publish(ctx, domain.ChannelListing, payload)
		}
		if err != nil {
			r.logger.Warn("publish listing event", slog.String("error", err.Error()))
		}
	}

	if r.notifier != nil {
		r.notifyTransition(ctx, snap, prev)
	}
}

func (r *Refresher) notifyTransition(ctx context.Context, snap, prev *domain.Snapshot) {
	var err error
	switch {
	case snap.Degraded && (prev == nil || !prev.Degraded):
		err = r.notifier.Notify(ctx, domain.EventListingDegraded,
			"Listing degraded",
			fmt.Sprintf("Upstream failed %d times, serving the %d-asset fallback listing.", snap.Attempts, snap.Total))
	case !snap.Degraded && prev != nil && prev.Degraded:
		err = r.notifier.Notify(ctx, domain.EventListingRecovered,
			"Listing recovered",
			fmt.Sprintf("Upstream is back, %d assets fetched in %d attempt(s).", snap.Total, snap.Attempts))
	}
	if err != nil {
		r.logger.Warn("send notification", slog.String("error", err.Error()))
	}
}

func setSnapshotGauges(snap *domain.Snapshot) {
	metrics.SnapshotAssets.Set(float64(snap.Total))
	if snap.Degraded {
		metrics.SnapshotDegraded.Set(1)
	} else {
		metrics.SnapshotDegraded.Set(0)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
