package domain

import "time"

// Asset is one ranked entry of the market listing.
type Asset struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name"`
	Rank           int     `json:"rank"`
	Price          float64 `json:"price"`
	MarketCap      float64 `json:"market_cap"`
	PriceChange24h float64 `json:"price_change_24h"`
	Image          string  `json:"image,omitempty"`
}

// SnapshotSource records where the assets of a Snapshot came from.
type SnapshotSource string

const (
	SourceUpstream SnapshotSource = "upstream"
	SourceFallback SnapshotSource = "fallback"
	SourceDisk     SnapshotSource = "disk"
	SourceMirror   SnapshotSource = "mirror"
)

// Snapshot is one captured, timestamped version of the listing. A Snapshot is
// immutable once published; refreshes build a new one and swap the reference.
type Snapshot struct {
	ID        string         `json:"id"`
	Assets    []Asset        `json:"cryptos"`
	Total     int            `json:"total"`
	Timestamp time.Time      `json:"timestamp"`
	Degraded  bool           `json:"degraded"`
	Source    SnapshotSource `json:"source,omitempty"`
	Attempts  int            `json:"attempts,omitempty"`
}

// Age returns how long ago the snapshot was captured.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// Expired reports whether the snapshot is older than ttl at now.
func (s *Snapshot) Expired(now time.Time, ttl time.Duration) bool {
	return s.Age(now) > ttl
}

// Usable reports whether the snapshot can be served without a refresh: it
// must be live upstream data, within ttl, and hold at least minAssets entries.
func (s *Snapshot) Usable(now time.Time, ttl time.Duration, minAssets int) bool {
	if s == nil || s.Degraded {
		return false
	}
	if s.Expired(now, ttl) {
		return false
	}
	return len(s.Assets) >= minAssets
}

// Find returns the asset with the given id.
func (s *Snapshot) Find(id string) (Asset, bool) {
	for _, a := range s.Assets {
		if a.ID == id {
			return a, true
		}
	}
	return Asset{}, false
}

// Rerank returns a copy of assets whose Rank equals position+1.
func Rerank(assets []Asset) []Asset {
	out := make([]Asset, len(assets))
	copy(out, assets)
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
