package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for the application
type Registry struct {
	// Network Metrics
	NetworkSegments prometheus.Gauge
	NetworkReaches  prometheus.Gauge
	NetworkBasins   prometheus.Gauge
	NetworkMaxRank  prometheus.Gauge

	// Scheduler Metrics
	StepsTotal         *prometheus.CounterVec
	StepDuration       prometheus.Histogram
	ReachSolveDuration prometheus.Histogram
	ReachFailuresTotal *prometheus.CounterVec
	ReadyQueueDepth    prometheus.Gauge
	SchedulerWorkers   prometheus.Gauge

	// Simulation Metrics
	StepRetriesTotal prometheus.Counter
	ModelTimeSeconds prometheus.Gauge
	OutletDischarge  *prometheus.GaugeVec

	// Sink Metrics
	SinkWritesTotal   *prometheus.CounterVec
	SinkWriteDuration *prometheus.HistogramVec

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.Mutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initNetworkMetrics()
	r.initSchedulerMetrics()
	r.initSimulationMetrics()
	r.initSinkMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
