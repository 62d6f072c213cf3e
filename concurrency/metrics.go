/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package concurrency

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsLabelOperation = "operation"
	metricsLabelMode      = "mode"
	metricsLabelResult    = "result"
)

// Values of the "result" label.
const (
	MetricsResultOK      = "ok"
	MetricsResultFrozen  = "frozen"
	MetricsResultError   = "error"
	MetricsResultSkipped = "skipped"
)

// DefaultCleanupDurationBuckets is default buckets into which observations of cleanup runs are counted.
var DefaultCleanupDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// MetricsCollectorOpts represents options for MetricsCollector.
type MetricsCollectorOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// MetricsCollector represents collector of metrics for lease operations and cleanup runs.
type MetricsCollector struct {
	LeaseOperations  *prometheus.CounterVec
	CleanupRuns      *prometheus.CounterVec
	CleanupDeleted   prometheus.Counter
	CleanupDurations prometheus.Histogram
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithOpts(MetricsCollectorOpts{})
}

// NewMetricsCollectorWithOpts is a more configurable version of creating MetricsCollector.
func NewMetricsCollectorWithOpts(opts MetricsCollectorOpts) *MetricsCollector {
	return &MetricsCollector{
		LeaseOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "concurrency_lease_operations_total",
			Help:        "Number of lease operations.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelOperation, metricsLabelMode, metricsLabelResult}),
		CleanupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "concurrency_cleanup_runs_total",
			Help:        "Number of cleanup runs.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelResult}),
		CleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "concurrency_cleanup_deleted_keys_total",
			Help:        "Number of empty tracking keys deleted by cleanup.",
			ConstLabels: opts.ConstLabels,
		}),
		CleanupDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "concurrency_cleanup_duration_seconds",
			Help:        "A histogram of the cleanup run durations.",
			Buckets:     DefaultCleanupDurationBuckets,
			ConstLabels: opts.ConstLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (c *MetricsCollector) MustRegister() {
	prometheus.MustRegister(
		c.LeaseOperations,
		c.CleanupRuns,
		c.CleanupDeleted,
		c.CleanupDurations,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (c *MetricsCollector) Unregister() {
	prometheus.Unregister(c.CleanupDurations)
	prometheus.Unregister(c.CleanupDeleted)
	prometheus.Unregister(c.CleanupRuns)
	prometheus.Unregister(c.LeaseOperations)
}

func (c *MetricsCollector) incLeaseOperation(op string, mode Mode, result string) {
	if c == nil {
		return
	}
	c.LeaseOperations.WithLabelValues(op, string(mode), result).Inc()
}
