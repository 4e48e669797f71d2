// Package routing implements the per-segment hydraulic update and the reach
// solver that chains it head to tail.
//
// Each network.Method maps to one Router. The Kernel resolves that mapping
// once per forest, so solving a segment is a slice lookup and an interface
// call.
package routing

import (
	"math"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/validation"
)

// Inputs are the values one segment needs to advance one step.
type Inputs struct {
	InflowPrev  float64 // upstream inflow at the start of the step, m3/s
	InflowNext  float64 // upstream inflow at the end of the step, m3/s
	OutflowPrev float64 // outflow at the start of the step, m3/s
	DepthPrev   float64 // depth or stage at the start of the step, m
	Lateral     float64 // lateral inflow over the step, m3/s
}

// Outputs are the end-of-step values for one segment.
type Outputs struct {
	Outflow    float64
	Depth      float64
	Iterations int
}

// Router advances a single segment by dt seconds. Implementations must be
// safe for concurrent use and must not retain seg.
type Router interface {
	Route(seg *network.Params, in Inputs, dt float64) (Outputs, error)
}

// Settings bound the iterative solvers.
type Settings struct {
	Tolerance     float64 `yaml:"tolerance" validate:"gt=0"`
	MaxIterations int     `yaml:"max_iterations" validate:"gt=0"`
	MinCelerity   float64 `yaml:"min_celerity" validate:"gt=0"` // m/s
}

// Default solver settings.
const (
	DefaultTolerance     = 1e-6
	DefaultMaxIterations = 50
	DefaultMinCelerity   = 0.05
)

// DefaultSettings returns the default solver settings.
func DefaultSettings() Settings {
	return Settings{
		Tolerance:     DefaultTolerance,
		MaxIterations: DefaultMaxIterations,
		MinCelerity:   DefaultMinCelerity,
	}
}

// WithDefaults fills zero fields from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	s.Tolerance = validation.DefaultOrFloat(s.Tolerance, DefaultTolerance)
	s.MaxIterations = validation.DefaultOrInt(s.MaxIterations, DefaultMaxIterations)
	s.MinCelerity = validation.DefaultOrFloat(s.MinCelerity, DefaultMinCelerity)
	return s
}

// Validate checks the settings.
func (s Settings) Validate() error {
	return validation.NewConfigValidator("routing").
		PositiveFloat("tolerance", s.Tolerance).
		Positive("max_iterations", s.MaxIterations).
		PositiveFloat("min_celerity", s.MinCelerity).
		Validate()
}

// Relaxed loosens the tolerance by factor and doubles the iteration budget.
func (s Settings) Relaxed(factor float64) Settings {
	if factor > 1 {
		s.Tolerance *= factor
	}
	s.MaxIterations *= 2
	return s
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
