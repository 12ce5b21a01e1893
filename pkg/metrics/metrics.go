// Package metrics provides Prometheus metrics for hubtap. It defines the
// counters, gauges, and histograms the extractor reports during a sync run:
// records extracted, pages fetched, API request latency, retries, rate limit
// waits, and per-stream failures.
//
// # Basic Usage
//
//	metrics.RecordsExtracted.WithLabelValues("contacts").Add(100)
//
//	timer := metrics.NewTimer("fetch_page")
//	page, err := paginator.Next(ctx)
//	metrics.APIRequestDuration.WithLabelValues("/crm/v3/objects/contacts", "200").
//	    Observe(timer.Stop().Seconds())
//
// All metrics are registered with the default registry via promauto; serving
// them is a matter of mounting promhttp.Handler.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsExtracted counts records emitted per stream.
	RecordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubtap_records_extracted_total",
			Help: "Total number of records extracted",
		},
		[]string{"stream"},
	)

	// PagesFetched counts result pages fetched per stream.
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubtap_pages_fetched_total",
			Help: "Total number of result pages fetched",
		},
		[]string{"stream"},
	)

	// APIRequests counts HubSpot API calls by endpoint and status code.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubtap_api_requests_total",
			Help: "Total number of HubSpot API requests",
		},
		[]string{"endpoint", "status"},
	)

	// APIRequestDuration tracks HubSpot API request latency in seconds.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hubtap_api_request_duration_seconds",
			Help:    "HubSpot API request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status"},
	)

	// Retries counts retried API requests by error type.
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubtap_retries_total",
			Help: "Total number of retried API requests",
		},
		[]string{"error_type"},
	)

	// RateLimitWaits counts requests that had to wait for a rate limit token.
	RateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hubtap_rate_limit_waits_total",
			Help: "Total number of requests delayed by the rate limiter",
		},
	)

	// TokenRefreshes counts OAuth access token refreshes.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubtap_token_refreshes_total",
			Help: "Total number of OAuth token refreshes",
		},
		[]string{"status"},
	)

	// StreamFailures counts streams that ended a run in a failed state.
	StreamFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubtap_stream_failures_total",
			Help: "Total number of stream sync failures",
		},
		[]string{"stream", "error_type"},
	)

	// CheckpointsEmitted counts state documents written to the sink.
	CheckpointsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hubtap_checkpoints_emitted_total",
			Help: "Total number of state checkpoints emitted",
		},
	)

	// ActiveStream exposes which stream is currently syncing (1 while active).
	ActiveStream = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hubtap_stream_active",
			Help: "Set to 1 while a stream is syncing",
		},
		[]string{"stream"},
	)

	// SinkBytesWritten counts bytes written to the output sink.
	SinkBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hubtap_sink_bytes_written_total",
			Help: "Total bytes written to the output sink",
		},
	)
)

// Timer measures the duration of a single operation. It captures the start
// time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed duration since creation. It can be called more
// than once, each call returning the total elapsed time.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks extraction throughput (records per second) over
// time windows for a single stream. Safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	stream    string
}

// NewThroughputTracker creates a throughput tracker for the named stream.
func NewThroughputTracker(stream string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		stream:    stream,
	}
}

// Increment adds n to the record count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset returns the records-per-second rate since the last reset and
// starts a new window.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed
	t.count = 0
	t.lastReset = time.Now()

	return throughput
}
