// Package metrics registers the Prometheus instruments exposed on the
// health server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the service counters. A single instance is created at
// startup and shared by the broker consumer and the orchestrator.
type Metrics struct {
	// MessagesConsumed counts inbound broker messages by outcome:
	// processed, invalid, failed.
	MessagesConsumed *prometheus.CounterVec

	// EventsPublished counts outbound events by result type.
	EventsPublished *prometheus.CounterVec

	// PublishFailures counts events that could not be handed to the
	// broker.
	PublishFailures prometheus.Counter

	// ReferenceEvents counts recorded reference events by type.
	ReferenceEvents *prometheus.CounterVec

	// HarvestingErrors counts per-record failures by harvester.
	HarvestingErrors *prometheus.CounterVec

	// HarvestingDuration observes harvesting wall time by harvester.
	HarvestingDuration *prometheus.HistogramVec
}

// New registers the service metrics with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_messages_consumed_total",
			Help: "Inbound broker messages by outcome.",
		}, []string{"outcome"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_events_published_total",
			Help: "Outbound broker events by result type.",
		}, []string{"type"}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvest_publish_failures_total",
			Help: "Events that could not be published to the broker.",
		}),
		ReferenceEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_reference_events_total",
			Help: "Recorded reference events by type.",
		}, []string{"type"}),
		HarvestingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_harvesting_errors_total",
			Help: "Per-record harvesting failures by harvester.",
		}, []string{"harvester"}),
		HarvestingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_harvesting_duration_seconds",
			Help:    "Harvesting wall time by harvester.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"harvester"}),
	}
}

// NewDefault registers against the default Prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
