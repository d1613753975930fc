package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for counter store operations.
var (
	counterStoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_counter_store_operations_total",
			Help: "Total number of counter store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	counterStoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_counter_store_operation_duration_seconds",
			Help:    "Duration of counter store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"backend", "operation"},
	)

	counterStoreBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_counter_store_breaker_transitions_total",
			Help: "Total number of counter store circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)
)
