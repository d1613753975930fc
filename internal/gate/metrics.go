package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for gate decisions.
var (
	authDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_auth_decisions_total",
			Help: "Total number of authentication decisions by reason",
		},
		[]string{"reason"},
	)

	authDecisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_auth_decision_duration_seconds",
			Help:    "Duration of authentication decisions in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)
)
