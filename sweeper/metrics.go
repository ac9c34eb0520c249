package sweeper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xe_sweep_ticks_total",
		Help: "Sweep ticks by outcome",
	}, []string{"outcome"})

	sweepTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xe_sweep_tick_duration_seconds",
		Help:    "Time spent in one sweep tick",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
	})

	contractTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xe_contract_transitions_total",
		Help: "Contract lifecycle transitions recorded",
	}, []string{"to", "source"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xe_provider_request_duration_seconds",
		Help:    "XE approve contract latency",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
	}, []string{"outcome"})
)
