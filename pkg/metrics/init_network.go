package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initNetworkMetrics() {
	r.NetworkSegments = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flowroute_network_segments",
			Help: "Number of segments in the routed forest",
		},
	)

	r.NetworkReaches = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flowroute_network_reaches",
			Help: "Number of reaches after decomposition",
		},
	)

	r.NetworkBasins = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flowroute_network_basins",
			Help: "Number of independent drainage basins",
		},
	)

	r.NetworkMaxRank = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "flowroute_network_max_rank",
			Help: "Highest reach rank in the forest",
		},
	)
}
