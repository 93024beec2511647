// Package metrics registers the Prometheus collectors of the merge engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventmerge_items_processed_total",
			Help: "Candidates processed, by item outcome",
		},
		[]string{"status"},
	)

	FieldDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventmerge_field_decisions_total",
			Help: "Per-field merge decisions, by reason",
		},
		[]string{"reason"},
	)

	PublishDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventmerge_publish_decisions_total",
			Help: "Initial status assigned to new canonical events",
		},
		[]string{"status"},
	)

	RawDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventmerge_raw_duplicates_total",
			Help: "Raw items seen again with identical bytes from the same source",
		},
	)

	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventmerge_batch_duration_seconds",
			Help:    "Wall time of one batch, by terminal run status",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"status"},
	)

	GeocodeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventmerge_geocode_requests_total",
			Help: "Geocoder lookups, by result (success, no_match, failure, rejected)",
		},
		[]string{"result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventmerge_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
