package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSinkMetrics() {
	r.SinkWritesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowroute_sink_writes_total",
			Help: "Total number of states handed to output sinks",
		},
		[]string{"sink", "status"},
	)

	r.SinkWriteDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowroute_sink_write_duration_seconds",
			Help:    "Time spent writing one state to a sink",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		},
		[]string{"sink"},
	)
}
