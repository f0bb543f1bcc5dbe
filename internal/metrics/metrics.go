// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamRequests tracks listing page requests by outcome
	// (ok, transport, rate_limited, upstream_status, invalid_payload).
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptoboard_upstream_requests_total",
			Help: "Total number of upstream listing page requests",
		},
		[]string{"outcome"},
	)

	// UpstreamLatency tracks listing page request latency
	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cryptoboard_upstream_latency_seconds",
			Help:    "Upstream listing page latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// RefreshTotal counts completed refresh sequences by result (fresh, degraded).
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptoboard_refresh_total",
			Help: "Total number of refresh sequences",
		},
		[]string{"result"},
	)

	// RefreshAttempts observes how many attempts each refresh sequence used.
	RefreshAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cryptoboard_refresh_attempts",
			Help:    "Upstream attempts per refresh sequence",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	// RefreshDuration tracks wall time of refresh sequences including backoff.
	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cryptoboard_refresh_duration_seconds",
			Help:    "Refresh sequence duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// CacheLookups counts fast-path lookups by layer (memory, disk, mirror) and
	// result (hit, miss).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptoboard_cache_lookups_total",
			Help: "Total number of snapshot cache lookups",
		},
		[]string{"layer", "result"},
	)

	// SnapshotAssets tracks the asset count of the live snapshot.
	SnapshotAssets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cryptoboard_snapshot_assets",
			Help: "Number of assets in the live snapshot",
		},
	)

	// SnapshotDegraded is 1 while the live snapshot is the fallback listing.
	SnapshotDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cryptoboard_snapshot_degraded",
			Help: "Whether the live snapshot is degraded (1) or not (0)",
		},
	)

	// PredictionRuns counts pipeline runs by result (ok, timeout, exit, output).
	PredictionRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptoboard_prediction_runs_total",
			Help: "Total number of prediction pipeline runs",
		},
		[]string{"result"},
	)

	// PredictionStageDuration tracks subprocess wall time per stage.
	PredictionStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cryptoboard_prediction_stage_duration_seconds",
			Help:    "Prediction subprocess duration in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	// HTTPRequests counts served requests by route pattern and status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptoboard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code"},
	)

	// HTTPDuration tracks request latency by route pattern.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cryptoboard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// WSClients is the number of connected websocket clients.
	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cryptoboard_ws_clients",
			Help: "Number of connected websocket clients",
		},
	)
)
