// Package metrics provides Prometheus metrics for connector sync runs.
// Each connector creates its own Collector; the underlying metric vectors
// are shared and labeled by connector name.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsEmitted counts operations emitted by connectors
	OperationsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stardust_operations_total",
		Help: "Total operations emitted, by connector and operation type",
	}, []string{"connector", "type"})

	// RecordsSkipped counts records dropped for missing or null primary keys
	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stardust_records_skipped_total",
		Help: "Records skipped due to missing primary key fields",
	}, []string{"connector", "table"})

	// HTTPRequests counts outgoing API requests by status class
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stardust_http_requests_total",
		Help: "Outgoing HTTP requests, by connector and status class",
	}, []string{"connector", "status"})

	// HTTPRetries counts request retries (429, 5xx, transport errors)
	HTTPRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stardust_http_retries_total",
		Help: "HTTP request retries after retryable failures",
	}, []string{"connector"})

	// SyncDuration observes wall-clock duration of full sync runs
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stardust_sync_duration_seconds",
		Help:    "Duration of connector sync runs",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"connector"})
)

// Collector provides a per-connector handle on the shared metric vectors.
type Collector struct {
	name      string
	startTime time.Time
}

// NewCollector creates a metrics collector for the named connector.
func NewCollector(name string) *Collector {
	return &Collector{
		name:      name,
		startTime: time.Now(),
	}
}

// StartTime returns when the collector was created
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// RecordOperation counts one emitted operation of the given type.
func (c *Collector) RecordOperation(opType string) {
	OperationsEmitted.WithLabelValues(c.name, opType).Inc()
}

// RecordSkipped counts one record skipped for the given table.
func (c *Collector) RecordSkipped(table string) {
	RecordsSkipped.WithLabelValues(c.name, table).Inc()
}

// RecordHTTPRequest counts one outgoing request by status class ("2xx",
// "4xx", "5xx", or "error" for transport failures).
func (c *Collector) RecordHTTPRequest(statusClass string) {
	HTTPRequests.WithLabelValues(c.name, statusClass).Inc()
}

// RecordHTTPRetry counts one retried request.
func (c *Collector) RecordHTTPRetry() {
	HTTPRetries.WithLabelValues(c.name).Inc()
}

// ObserveSyncDuration records the duration of a completed sync run.
func (c *Collector) ObserveSyncDuration(d time.Duration) {
	SyncDuration.WithLabelValues(c.name).Observe(d.Seconds())
}
