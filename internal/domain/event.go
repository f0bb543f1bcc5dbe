package domain

import "time"

// ChannelListing is the signal bus channel carrying ListingEvents.
const ChannelListing = "cryptoboard:listing"

// Event types published on ChannelListing.
const (
	EventListingRefreshed = "listing_refreshed"
	EventListingDegraded  = "listing_degraded"
	EventListingRecovered = "listing_recovered"
)

// ListingEvent announces a newly published snapshot.
type ListingEvent struct {
	Type       string         `json:"type"`
	SnapshotID string         `json:"snapshot_id"`
	Total      int            `json:"total"`
	Degraded   bool           `json:"degraded"`
	Source     SnapshotSource `json:"source"`
	Attempts   int            `json:"attempts"`
	Timestamp  time.Time      `json:"timestamp"`
}
