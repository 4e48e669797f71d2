package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSimulationMetrics() {
	r.StepRetriesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "flowroute_step_retries_total",
			Help: "Total number of steps retried with adjusted solver settings",
		},
	)

	r.ModelTimeSeconds = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flowroute_model_time_seconds",
			Help: "Model time of the last completed step as a Unix timestamp",
		},
	)

	r.OutletDischarge = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowroute_outlet_discharge_cms",
			Help: "Discharge leaving each outlet segment in m3/s",
		},
		[]string{"segment"},
	)
}
