package simulate

import (
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
	"github.com/dd0wney/cluso-flowroute/pkg/routing"
)

// RetryRequest describes a failed step attempt.
type RetryRequest struct {
	Step     int
	Attempt  int // 1 for the first failure of the step
	Err      error
	Settings routing.Settings
}

// RetryPolicy decides whether a failed step is tried again and with which
// solver settings. Adjusted settings apply to the retried step only.
type RetryPolicy func(RetryRequest) (routing.Settings, bool)

// Abort never retries.
func Abort(RetryRequest) (routing.Settings, bool) {
	return routing.Settings{}, false
}

// RelaxOnConvergence retries steps that failed to converge, up to attempts
// times, loosening the tolerance by factor on each attempt. Every other
// failure ends the run.
func RelaxOnConvergence(attempts int, factor float64) RetryPolicy {
	return func(req RetryRequest) (routing.Settings, bool) {
		if req.Attempt > attempts || !routeerr.Retriable(req.Err) {
			return routing.Settings{}, false
		}
		return req.Settings.Relaxed(factor), true
	}
}
