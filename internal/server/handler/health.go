package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
)

const checkTimeout = 2 * time.Second

// Snapshotter exposes the live snapshot without triggering I/O.
type Snapshotter interface {
	Current() *domain.Snapshot
}

// Check probes one backing service.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	snapshots        Snapshotter
	checks           []Check
	apiKeyConfigured bool
	startedAt        time.Time
	now              func() time.Time
	logger           *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(snapshots Snapshotter, apiKeyConfigured bool, checks []Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		snapshots:        snapshots,
		checks:           checks,
		apiKeyConfigured: apiKeyConfigured,
		startedAt:        time.Now(),
		now:              time.Now,
		logger:           logHandler(logger, "health"),
	}
}

type cacheSummary struct {
	Populated  bool                  `json:"populated"`
	Total      int                   `json:"total"`
	Timestamp  *time.Time            `json:"timestamp,omitempty"`
	AgeSeconds int64                 `json:"age_seconds"`
	Degraded   bool                  `json:"degraded"`
	Source     domain.SnapshotSource `json:"source,omitempty"`
}

type healthResponse struct {
	Status           string            `json:"status"`
	UptimeSeconds    int64             `json:"uptime_seconds"`
	Timestamp        string            `json:"timestamp"`
	APIKeyConfigured bool              `json:"api_key_configured"`
	Cache            cacheSummary      `json:"cache"`
	Checks           map[string]string `json:"checks,omitempty"`
}

// HealthCheck reports uptime, the live snapshot and backing services. Status
// is "empty" before the first snapshot, "degraded" while serving the fallback
// listing or when a backing service fails, and "healthy" otherwise. It always
// answers 200 so it can serve as a liveness probe.
// GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	resp := healthResponse{
		Status:           "healthy",
		UptimeSeconds:    int64(now.Sub(h.startedAt).Seconds()),
		Timestamp:        now.UTC().Format(time.RFC3339),
		APIKeyConfigured: h.apiKeyConfigured,
	}

	if snap := h.snapshots.Current(); snap != nil {
		ts := snap.Timestamp
		resp.Cache = cacheSummary{
			Populated:  true,
			Total:      snap.Total,
			Timestamp:  &ts,
			AgeSeconds: int64(snap.Age(now).Seconds()),
			Degraded:   snap.Degraded,
			Source:     snap.Source,
		}
		if snap.Degraded {
			resp.Status = "degraded"
		}
	} else {
		resp.Status = "empty"
	}

	if len(h.checks) > 0 {
		resp.Checks = h.runChecks(r.Context())
		for _, v := range resp.Checks {
			if v != "ok" && resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) runChecks(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var (
		mu  sync.Mutex
		out = make(map[string]string, len(h.checks))
	)
	var g errgroup.Group
	for _, c := range h.checks {
		g.Go(func() error {
			result := "ok"
			if err := c.Probe(ctx); err != nil {
				result = err.Error()
				h.logger.WarnContext(ctx, "health check failed",
					slog.String("check", c.Name),
					slog.String("error", err.Error()),
				)
			}
			mu.Lock()
			out[c.Name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
