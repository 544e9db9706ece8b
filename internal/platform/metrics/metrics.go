// Package metrics holds the prometheus collectors of the gateway.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// StreamBuckets suit chat completions, from 100ms to 5m.
var StreamBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

var (
	// SelectionsTotal counts client selections by supplier and outcome.
	SelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_gateway_selections_total",
			Help: "Client selections",
		},
		[]string{"supplier", "outcome"},
	)

	// PoolClients tracks the live clients of each supplier pool.
	PoolClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_gateway_pool_clients",
			Help: "Live clients per supplier pool",
		},
		[]string{"supplier"},
	)

	// UpstreamStreamsTotal counts stream calls issued to suppliers.
	UpstreamStreamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_gateway_upstream_streams_total",
			Help: "Upstream stream calls",
		},
		[]string{"supplier", "status"},
	)

	// UpstreamStreamDuration records the full duration of an upstream stream.
	UpstreamStreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_gateway_upstream_stream_duration_seconds",
			Help:    "Upstream stream duration",
			Buckets: StreamBuckets,
		},
		[]string{"supplier"},
	)

	// ActiveStreams tracks chat streams currently written to callers.
	ActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_gateway_active_streams",
			Help: "Active chat streams",
		},
	)

	// RecordRepairsTotal counts split-record handling in the stream reassembler.
	RecordRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_gateway_record_repairs_total",
			Help: "Split record handling",
		},
		[]string{"result"},
	)

	// BreakerStateChangesTotal counts per-token circuit breaker transitions.
	BreakerStateChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_gateway_breaker_state_changes_total",
			Help: "Circuit breaker transitions",
		},
		[]string{"supplier", "to"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_gateway_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
	)

	// AnalyticsDroppedTotal counts request logs dropped because the ingest buffer was full.
	AnalyticsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_gateway_analytics_dropped_total",
			Help: "Dropped request logs",
		},
	)
)

// Record repair results.
const (
	RepairBuffered  = "buffered"
	RepairRecovered = "recovered"
	RepairTruncated = "truncated"
)

func init() {
	prometheus.MustRegister(
		SelectionsTotal,
		PoolClients,
		UpstreamStreamsTotal,
		UpstreamStreamDuration,
		ActiveStreams,
		RecordRepairsTotal,
		BreakerStateChangesTotal,
		RateLimitRejectedTotal,
		AnalyticsDroppedTotal,
	)
}
