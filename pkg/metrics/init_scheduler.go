package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSchedulerMetrics() {
	r.StepsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowroute_steps_total",
			Help: "Total number of time steps attempted",
		},
		[]string{"status"},
	)

	r.StepDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowroute_step_duration_seconds",
			Help:    "Wall time to advance the whole forest by one step",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)

	r.ReachSolveDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowroute_reach_solve_duration_seconds",
			Help:    "Wall time to solve one reach",
			Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1},
		},
	)

	r.ReachFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowroute_reach_failures_total",
			Help: "Total number of reach solves that failed, by error kind",
		},
		[]string{"kind"},
	)

	r.ReadyQueueDepth = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flowroute_ready_queue_depth",
			Help: "Reaches ready to solve but not yet dispatched",
		},
	)

	r.SchedulerWorkers = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flowroute_scheduler_workers",
			Help: "Size of the reach worker pool",
		},
	)
}
