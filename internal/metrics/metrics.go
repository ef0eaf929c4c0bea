// Package metrics exposes the relay's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed tracks processed events per kind and outcome.
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_processed_total",
			Help: "Total number of events processed",
		},
		[]string{"kind", "result"},
	)

	// ProcessingDuration tracks domain processing latency per kind.
	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_event_processing_seconds",
			Help:    "Domain processing latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// FailureRegistrySize tracks the number of records held by the failure
	// registry.
	FailureRegistrySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_failure_registry_size",
			Help: "Current number of records in the failure registry",
		},
	)

	// ReprocessRequests tracks operator-triggered reprocess attempts per
	// outcome.
	ReprocessRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_reprocess_requests_total",
			Help: "Total number of failure reprocess requests",
		},
		[]string{"outcome"},
	)
)

// Flow is the per-kind instrumentation handed to a consumption handler.
type Flow struct {
	success prometheus.Counter
	failure prometheus.Counter
	latency prometheus.Observer
}

// ForKind returns the instrumentation bound to one event kind label.
func ForKind(kind string) *Flow {
	return &Flow{
		success: EventsProcessed.WithLabelValues(kind, "success"),
		failure: EventsProcessed.WithLabelValues(kind, "failure"),
		latency: ProcessingDuration.WithLabelValues(kind),
	}
}

func (f *Flow) RecordSuccess() { f.success.Inc() }
func (f *Flow) RecordFailure() { f.failure.Inc() }

// TimeOperation runs fn and observes its wall-clock duration.
func (f *Flow) TimeOperation(fn func()) {
	start := time.Now()
	fn()
	f.latency.Observe(time.Since(start).Seconds())
}
