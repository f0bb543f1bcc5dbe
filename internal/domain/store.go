package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// RefreshRecord summarises one published snapshot.
type RefreshRecord struct {
	SnapshotID string         `json:"snapshot_id"`
	CapturedAt time.Time      `json:"captured_at"`
	Degraded   bool           `json:"degraded"`
	Source     SnapshotSource `json:"source"`
	Total      int            `json:"total"`
	Attempts   int            `json:"attempts"`
}

// HistoryStore persists refresh history and the quotes of each snapshot.
type HistoryStore interface {
	Record(ctx context.Context, snap *Snapshot) error
	ListRecent(ctx context.Context, opts ListOpts) ([]RefreshRecord, error)
	AssetQuotes(ctx context.Context, assetID string, opts ListOpts) ([]AssetQuote, error)
}

// AssetQuote is one asset's values as captured by a given snapshot.
type AssetQuote struct {
	SnapshotID     string    `json:"snapshot_id"`
	CapturedAt     time.Time `json:"captured_at"`
	Rank           int       `json:"rank"`
	Price          float64   `json:"price"`
	MarketCap      float64   `json:"market_cap"`
	PriceChange24h float64   `json:"price_change_24h"`
}
