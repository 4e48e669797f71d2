package metrics

import (
	"runtime"
	"strconv"
	"time"
)

// SetNetworkStats records the size of the decomposed forest.
func (r *Registry) SetNetworkStats(basins, reaches, segments, maxRank int) {
	r.NetworkBasins.Set(float64(basins))
	r.NetworkReaches.Set(float64(reaches))
	r.NetworkSegments.Set(float64(segments))
	r.NetworkMaxRank.Set(float64(maxRank))
}

// RecordStep records one attempted time step.
func (r *Registry) RecordStep(status string, duration time.Duration) {
	r.StepsTotal.WithLabelValues(status).Inc()
	r.StepDuration.Observe(duration.Seconds())
}

// RecordReachSolve records one successful reach solve.
func (r *Registry) RecordReachSolve(duration time.Duration) {
	r.ReachSolveDuration.Observe(duration.Seconds())
}

// RecordReachFailure counts a failed reach solve by error kind.
func (r *Registry) RecordReachFailure(kind string) {
	r.ReachFailuresTotal.WithLabelValues(kind).Inc()
}

// SetReadyQueueDepth records the number of reaches waiting for a worker.
func (r *Registry) SetReadyQueueDepth(n int) {
	r.ReadyQueueDepth.Set(float64(n))
}

// SetWorkers records the worker pool size.
func (r *Registry) SetWorkers(n int) {
	r.SchedulerWorkers.Set(float64(n))
}

// RecordRetry counts a step retried with adjusted settings.
func (r *Registry) RecordRetry() {
	r.StepRetriesTotal.Inc()
}

// RecordStepCompleted publishes model time and outlet discharge for a
// completed step.
func (r *Registry) RecordStepCompleted(modelTime time.Time, outlets map[int64]float64) {
	r.ModelTimeSeconds.Set(float64(modelTime.Unix()))
	for id, q := range outlets {
		r.OutletDischarge.WithLabelValues(strconv.FormatInt(id, 10)).Set(q)
	}
}

// RecordSinkWrite records one state handed to a sink.
func (r *Registry) RecordSinkWrite(sink, status string, duration time.Duration) {
	r.SinkWritesTotal.WithLabelValues(sink, status).Inc()
	r.SinkWriteDuration.WithLabelValues(sink).Observe(duration.Seconds())
}

// UpdateSystemMetrics refreshes uptime and Go runtime gauges.
func (r *Registry) UpdateSystemMetrics(start time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.UptimeSeconds.Set(time.Since(start).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.MemorySysBytes.Set(float64(m.Sys))
}
