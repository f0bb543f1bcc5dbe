package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
)

// Listing is the refresh orchestrator as seen by the HTTP layer.
type Listing interface {
	EnsureFresh(ctx context.Context) (*domain.Snapshot, error)
	ForceRefresh(ctx context.Context) (*domain.Snapshot, error)
}

// Archive browses archived snapshots by day.
type Archive interface {
	List(ctx context.Context, day string) ([]domain.BlobInfo, error)
	Load(ctx context.Context, day, id string) (*domain.Snapshot, error)
}

// ListingHandler serves the market listing and its history.
type ListingHandler struct {
	listing Listing
	history domain.HistoryStore
	archive Archive
	logger  *slog.Logger
}

// NewListingHandler creates a ListingHandler. history and archive may be nil,
// in which case their endpoints answer 503.
func NewListingHandler(listing Listing, history domain.HistoryStore, archive Archive, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		listing: listing,
		history: history,
		archive: archive,
		logger:  logHandler(logger, "listing"),
	}
}

// refreshResponse is a snapshot plus whether the refresh reached upstream.
type refreshResponse struct {
	Success bool `json:"success"`
	*domain.Snapshot
}

// List responds with the current listing, refreshing it when stale.
// GET /list
func (h *ListingHandler) List(w http.ResponseWriter, r *http.Request) {
	snap, err := h.listing.EnsureFresh(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "listing unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Refresh discards the cached listing and fetches a new one. success is false
// when upstream was exhausted and the fallback listing was served instead.
// POST /list/refresh
func (h *ListingHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.listing.ForceRefresh(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "refresh failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "refresh failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Success: !snap.Degraded, Snapshot: snap})
}

// GetAsset responds with one asset of the current listing.
// GET /list/{id}
func (h *ListingHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(r.PathValue("id"))

	snap, err := h.listing.EnsureFresh(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing unavailable", err.Error())
		return
	}

	asset, ok := snap.Find(id)
	if !ok {
		writeError(w, http.StatusNotFound, "asset not found", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":     asset,
		"timestamp": snap.Timestamp,
		"degraded":  snap.Degraded,
	})
}

// History lists recent refreshes, or the recorded quotes of one asset when
// ?asset= is given.
// GET /list/history
func (h *ListingHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history not configured", "")
		return
	}
	opts := parseListOpts(r)

	if asset := strings.ToLower(r.URL.Query().Get("asset")); asset != "" {
		quotes, err := h.history.AssetQuotes(r.Context(), asset, opts)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "asset quotes failed",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "history unavailable", "")
			return
		}
		if quotes == nil {
			quotes = []domain.AssetQuote{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"asset": asset, "quotes": quotes})
		return
	}

	records, err := h.history.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "history unavailable", "")
		return
	}
	if records == nil {
		records = []domain.RefreshRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"refreshes": records})
}

// ListArchive lists the snapshots archived on ?date=YYYY-MM-DD.
// GET /list/archive
func (h *ListingHandler) ListArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured", "")
		return
	}
	day := r.URL.Query().Get("date")
	if day == "" {
		day = time.Now().UTC().Format(time.DateOnly)
	}

	infos, err := h.archive.List(r.Context(), day)
	if err != nil {
		h.archiveError(w, r, err)
		return
	}

	type entry struct {
		Path         string `json:"path"`
		Size         int64  `json:"size"`
		LastModified string `json:"last_modified"`
	}
	out := make([]entry, 0, len(infos))
	for _, info := range infos {
		out = append(out, entry{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": day, "snapshots": out})
}

// GetArchived responds with one archived snapshot.
// GET /list/archive/{date}/{id}
func (h *ListingHandler) GetArchived(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured", "")
		return
	}

	snap, err := h.archive.Load(r.Context(), r.PathValue("date"), r.PathValue("id"))
	if err != nil {
		h.archiveError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *ListingHandler) archiveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "snapshot not found", "")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid archive key", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "archive read failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "archive unavailable", "")
	}
}
