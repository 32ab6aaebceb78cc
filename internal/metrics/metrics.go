package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_jobs_enqueued_total",
			Help: "Delivery jobs enqueued by kind",
		},
		[]string{"kind"}, // initial|retry
	)

	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_deliveries_total",
			Help: "Delivery outcomes",
		},
		[]string{"outcome"}, // success|failed|exhausted|not_found|inactive
	)

	DeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hookrelay_delivery_duration_seconds",
			Help:    "Outbound webhook request duration",
			Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	CircuitTrips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_circuit_trips_total",
			Help: "Subscriptions disabled by the circuit breaker",
		},
	)
)

const (
	KindInitial = "initial"
	KindRetry   = "retry"

	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeExhausted = "exhausted"
	OutcomeNotFound  = "not_found"
	OutcomeInactive  = "inactive"
)

var registerOnce sync.Once

// MustRegister registers the collectors once per process; serve with embedded
// workers reaches it from both the HTTP server and the worker pool.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			JobsEnqueued,
			Deliveries,
			DeliveryDuration,
			CircuitTrips,
		)
	})
}
