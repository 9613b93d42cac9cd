// Package metrics exposes Prometheus instrumentation for the crawl pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is a
// valid no-op receiver so tests and minimal wiring can skip instrumentation.
type Metrics struct {
	tasksProcessed   *prometheus.CounterVec
	recordsByClass   *prometheus.CounterVec
	writeFailures    prometheus.Counter
	fetchRetries     prometheus.Counter
	followUpsDropped prometheus.Counter
}

// New registers the pipeline collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlworker_tasks_processed_total",
			Help: "Crawl tasks processed, by terminal status.",
		}, []string{"status"}),
		recordsByClass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlworker_records_total",
			Help: "Extracted records reconciled, by classification.",
		}, []string{"classification"}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawlworker_record_write_failures_total",
			Help: "Per-record storage write failures.",
		}),
		fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawlworker_fetch_retries_total",
			Help: "In-process fetch retries performed by the session manager.",
		}),
		followUpsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawlworker_follow_ups_dropped_total",
			Help: "Discovered links dropped by the fan-out cap.",
		}),
	}
	reg.MustRegister(
		m.tasksProcessed,
		m.recordsByClass,
		m.writeFailures,
		m.fetchRetries,
		m.followUpsDropped,
	)
	return m
}

// TaskProcessed counts one finished task by status.
func (m *Metrics) TaskProcessed(status string) {
	if m == nil {
		return
	}
	m.tasksProcessed.WithLabelValues(status).Inc()
}

// Records counts reconciled records by classification.
func (m *Metrics) Records(classification string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsByClass.WithLabelValues(classification).Add(float64(n))
}

// WriteFailures counts per-record write failures.
func (m *Metrics) WriteFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.writeFailures.Add(float64(n))
}

// FetchRetry counts one in-process fetch retry.
func (m *Metrics) FetchRetry() {
	if m == nil {
		return
	}
	m.fetchRetries.Inc()
}

// FollowUpsDropped counts links dropped by the fan-out cap.
func (m *Metrics) FollowUpsDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.followUpsDropped.Add(float64(n))
}
