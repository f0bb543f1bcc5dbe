package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
)

const defaultHistoryLimit = 50

// HistoryStore implements domain.HistoryStore using PostgreSQL.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a new HistoryStore backed by the given connection pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// Record inserts one refresh_history row for snap. Quotes are stored only for
// live upstream snapshots; the fallback dataset carries no real prices.
// Recording the same snapshot twice is a no-op.
func (s *HistoryStore) Record(ctx context.Context, snap *domain.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin record %s: %w", snap.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO refresh_history (snapshot_id, captured_at, degraded, source, total, attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (snapshot_id) DO NOTHING`,
		snap.ID, snap.Timestamp, snap.Degraded, string(snap.Source), snap.Total, snap.Attempts,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert refresh %s: %w", snap.ID, err)
	}
	if tag.RowsAffected() == 0 || snap.Degraded {
		return tx.Commit(ctx)
	}

	batch := &pgx.Batch{}
	const quoteQuery = `
		INSERT INTO asset_quotes (
			snapshot_id, asset_id, captured_at, rank,
			price, market_cap, price_change_24h
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (snapshot_id, asset_id) DO NOTHING`

	for _, a := range snap.Assets {
		batch.Queue(quoteQuery,
			snap.ID, a.ID, snap.Timestamp, a.Rank,
			a.Price, a.MarketCap, a.PriceChange24h,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range snap.Assets {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: insert quote batch item %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close quote batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit record %s: %w", snap.ID, err)
	}
	return nil
}

// ListRecent returns refresh records ordered newest first.
func (s *HistoryStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.RefreshRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT snapshot_id, captured_at, degraded, source, total, attempts
		FROM refresh_history
		ORDER BY captured_at DESC
		LIMIT $1 OFFSET $2`,
		limitOf(opts), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list refresh history: %w", err)
	}
	defer rows.Close()

	var out []domain.RefreshRecord
	for rows.Next() {
		var (
			r      domain.RefreshRecord
			source string
		)
		if err := rows.Scan(&r.SnapshotID, &r.CapturedAt, &r.Degraded, &source, &r.Total, &r.Attempts); err != nil {
			return nil, fmt.Errorf("postgres: scan refresh record: %w", err)
		}
		r.Source = domain.SnapshotSource(source)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AssetQuotes returns the recorded quotes of one asset, newest first.
func (s *HistoryStore) AssetQuotes(ctx context.Context, assetID string, opts domain.ListOpts) ([]domain.AssetQuote, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT snapshot_id, captured_at, rank, price, market_cap, price_change_24h
		FROM asset_quotes
		WHERE asset_id = $1
		ORDER BY captured_at DESC
		LIMIT $2 OFFSET $3`,
		assetID, limitOf(opts), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list quotes for %s: %w", assetID, err)
	}
	defer rows.Close()

	var out []domain.AssetQuote
	for rows.Next() {
		var q domain.AssetQuote
		if err := rows.Scan(&q.SnapshotID, &q.CapturedAt, &q.Rank, &q.Price, &q.MarketCap, &q.PriceChange24h); err != nil {
			return nil, fmt.Errorf("postgres: scan quote: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func limitOf(opts domain.ListOpts) int {
	if opts.Limit <= 0 {
		return defaultHistoryLimit
	}
	return opts.Limit
}

// Compile-time interface check.
var _ domain.HistoryStore = (*HistoryStore)(nil)
