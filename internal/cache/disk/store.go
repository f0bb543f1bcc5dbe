// Package disk persists the live listing snapshot to a single JSON file so a
// restarted process can serve it without calling upstream.
package disk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
)

// DefaultFileName is the cache file name used when none is configured.
const DefaultFileName = "crypto_list_cache.json"

// ErrDegraded is returned by Save for fallback snapshots, which are never
// written to disk.
var ErrDegraded = errors.New("disk: refusing to persist degraded snapshot")

// Store reads and writes the snapshot file.
type Store struct {
	path   string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a Store for dir/fileName. Snapshots older than ttl are
// treated as absent.
func NewStore(dir, fileName string, ttl time.Duration, logger *slog.Logger) *Store {
	if fileName == "" {
		fileName = DefaultFileName
	}
	if dir == "" {
		dir = "."
	}
	return &Store{
		path:   filepath.Join(dir, fileName),
		ttl:    ttl,
		logger: logger.With(slog.String("component", "disk_cache")),
		now:    time.Now,
	}
}

// Path returns the cache file location.
func (s *Store) Path() string { return s.path }

// Load returns the cached snapshot when one exists and is within ttl. A
// missing, unreadable or corrupt file is a miss. An expired file is removed.
func (s *Store) Load(ctx context.Context) (*domain.Snapshot, bool) {
	if ctx.Err() != nil {
		return nil, false
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("read cache file", slog.String("path", s.path), slog.String("error", err.Error()))
		}
		return nil, false
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("corrupt cache file", slog.String("path", s.path), slog.String("error", err.Error()))
		return nil, false
	}
	if snap.Timestamp.IsZero() {
		s.logger.Warn("cache file has no timestamp", slog.String("path", s.path))
		return nil, false
	}
	if err := consistent(&snap); err != nil {
		s.logger.Warn("inconsistent cache file", slog.String("path", s.path), slog.String("error", err.Error()))
		return nil, false
	}

	if snap.Expired(s.now(), s.ttl) {
		s.logger.Info("cache file expired",
			slog.String("path", s.path),
			slog.Duration("age", snap.Age(s.now())),
		)
		if err := s.remove(); err != nil {
			s.logger.Warn("remove expired cache file", slog.String("error", err.Error()))
		}
		return nil, false
	}

	snap.Source = domain.SourceDisk
	return &snap, true
}

// Save writes snap atomically: a temp file in the same directory is written,
// synced, then renamed over the cache file, so a crash mid-write leaves the
// previous file intact.
func (s *Store) Save(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil {
		return errors.New("disk: nil snapshot")
	}
	if snap.Degraded {
		return ErrDegraded
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("disk: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("disk: create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("disk: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("disk: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("disk: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("disk: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("disk: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("disk: rename cache file: %w", err)
	}
	committed = true

	s.logger.Debug("snapshot saved",
		slog.String("path", s.path),
		slog.String("snapshot_id", snap.ID),
		slog.Int("total", snap.Total),
	)
	return nil
}

// Invalidate removes the cache file. A missing file is not an error.
func (s *Store) Invalidate(_ context.Context) error {
	if err := s.remove(); err != nil {
		return fmt.Errorf("disk: invalidate: %w", err)
	}
	return nil
}

func (s *Store) remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// consistent rejects files whose total or ranks disagree with their asset
// list, or that repeat an asset id.
func consistent(snap *domain.Snapshot) error {
	if snap.Total != len(snap.Assets) {
		return fmt.Errorf("total %d but %d assets", snap.Total, len(snap.Assets))
	}
	seen := make(map[string]struct{}, len(snap.Assets))
	for i, a := range snap.Assets {
		if a.Rank != i+1 {
			return fmt.Errorf("asset %q at position %d has rank %d", a.ID, i+1, a.Rank)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("duplicate asset %q", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}
