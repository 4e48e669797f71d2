package health

import (
	"time"
)

// RunState is what a simulation reports to its probes.
type RunState struct {
	Step     int
	Horizon  int
	Retries  int
	Done     bool
	Err      error
	Progress time.Time // wall clock time of the last completed step
}

// SimulationCheck is unhealthy once the run has failed.
func SimulationCheck(get func() RunState) CheckFunc {
	return func() Check {
		s := get()
		check := Check{
			Name: "simulation",
			Details: map[string]any{
				"step":    s.Step,
				"horizon": s.Horizon,
				"retries": s.Retries,
				"done":    s.Done,
			},
		}
		switch {
		case s.Err != nil:
			check.Status = StatusUnhealthy
			check.Message = s.Err.Error()
		case s.Done:
			check.Status = StatusHealthy
			check.Message = "Run complete"
		case s.Retries > 0:
			check.Status = StatusDegraded
			check.Message = "Steps retried with relaxed tolerance"
		default:
			check.Status = StatusHealthy
			check.Message = "Running"
		}
		return check
	}
}

// StallCheck degrades when no step has completed within maxAge, and fails
// after twice that.
func StallCheck(get func() RunState, maxAge time.Duration) CheckFunc {
	return func() Check {
		s := get()
		check := Check{Name: "progress", Details: make(map[string]any)}
		if s.Done || s.Err != nil || s.Progress.IsZero() {
			check.Status = StatusHealthy
			return check
		}

		age := time.Since(s.Progress)
		check.Details["since_last_step_seconds"] = age.Seconds()
		switch {
		case age > 2*maxAge:
			check.Status = StatusUnhealthy
			check.Message = "No progress"
		case age > maxAge:
			check.Status = StatusDegraded
			check.Message = "Slow progress"
		default:
			check.Status = StatusHealthy
		}
		return check
	}
}

// DatabaseCheck probes an output database.
func DatabaseCheck(pingFunc func() error) CheckFunc {
	return func() Check {
		check := Check{Name: "database"}
		if err := pingFunc(); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Connected"
		}
		return check
	}
}

// MemoryCheck degrades when the heap exceeds 90% of memory obtained from
// the OS.
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func() Check {
		alloc, sys := getUsage()
		check := Check{
			Name: "memory",
			Details: map[string]any{
				"alloc_bytes": alloc,
				"sys_bytes":   sys,
			},
			Status:  StatusHealthy,
			Message: "Memory usage normal",
		}
		if sys > 0 && float64(alloc)/float64(sys) > 0.9 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		}
		return check
	}
}
