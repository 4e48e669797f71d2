// Package health exposes liveness and readiness probes for a running
// simulation.
package health

import (
	"time"
)

// NewHealthChecker creates a checker with no probes.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		started:     time.Now(),
		checks:      make(map[string]CheckFunc),
		readyChecks: make(map[string]CheckFunc),
		liveChecks:  make(map[string]CheckFunc),
	}
}

// RegisterCheck adds a probe to the overall health report.
func (hc *HealthChecker) RegisterCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// RegisterReadinessCheck adds a readiness probe.
func (hc *HealthChecker) RegisterReadinessCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.readyChecks[name] = check
}

// RegisterLivenessCheck adds a liveness probe.
func (hc *HealthChecker) RegisterLivenessCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.liveChecks[name] = check
}

// Check runs every health probe.
func (hc *HealthChecker) Check() Response {
	return hc.run(func() map[string]CheckFunc { return hc.checks })
}

// CheckReadiness runs the readiness probes.
func (hc *HealthChecker) CheckReadiness() Response {
	return hc.run(func() map[string]CheckFunc { return hc.readyChecks })
}

// CheckLiveness runs the liveness probes.
func (hc *HealthChecker) CheckLiveness() Response {
	return hc.run(func() map[string]CheckFunc { return hc.liveChecks })
}

func (hc *HealthChecker) run(set func() map[string]CheckFunc) Response {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	response := Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]Check),
		Uptime:    time.Since(hc.started).Seconds(),
	}

	for name, checkFunc := range set() {
		start := time.Now()
		check := checkFunc()
		check.Duration = time.Since(start)
		check.LastChecked = start
		if check.Name == "" {
			check.Name = name
		}
		response.Checks[name] = check

		switch {
		case check.Status == StatusUnhealthy:
			response.Status = StatusUnhealthy
		case check.Status == StatusDegraded && response.Status != StatusUnhealthy:
			response.Status = StatusDegraded
		}
	}

	return response
}
