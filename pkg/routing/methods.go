package routing

import (
	"math"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
)

// MuskingumCunge is the linear scheme with constant coefficients. It is a
// closed form; no iteration is involved.
type MuskingumCunge struct{}

// Route implements Router.
func (MuskingumCunge) Route(seg *network.Params, in Inputs, dt float64) (Outputs, error) {
	k, x := ConstantParams(seg)
	q := muskingumStep(k, x, dt, in)
	if !finite(q) {
		return Outputs{}, nonFinite(seg, "outflow", q)
	}
	q = math.Max(q, 0)
	return Outputs{Outflow: q, Depth: WideChannelDepth(seg, q), Iterations: 1}, nil
}

// Diffusive is the variable-parameter Muskingum-Cunge scheme. Celerity and X
// are recomputed from the trapezoidal section at the step's mean flow until
// the outflow stops changing.
type Diffusive struct {
	Settings Settings
}

// Route implements Router.
func (d Diffusive) Route(seg *network.Params, in Inputs, dt float64) (Outputs, error) {
	s := d.Settings

	q := in.OutflowPrev
	if q <= 0 {
		q = in.InflowNext + in.Lateral
	}
	for it := 1; it <= s.MaxIterations; it++ {
		qref := (in.InflowPrev + in.InflowNext + in.OutflowPrev + q) / 4
		k, x, err := d.params(seg, qref)
		if err != nil {
			return Outputs{}, err
		}
		next := math.Max(muskingumStep(k, x, dt, in), 0)
		if !finite(next) {
			return Outputs{}, nonFinite(seg, "outflow", next)
		}
		if math.Abs(next-q) <= s.Tolerance*math.Max(1, math.Abs(q)) {
			h, err := NormalDepth(seg, next)
			if err != nil {
				return Outputs{}, err
			}
			return Outputs{Outflow: next, Depth: h, Iterations: it}, nil
		}
		q = next
	}
	return Outputs{}, routeerr.New("routing.Diffusive", routeerr.ErrConvergence).
		Segment(seg.ID).
		Detail("no convergence to tolerance %g in %d iterations (last Q=%g)", s.Tolerance, s.MaxIterations, q).
		Err()
}

// params derives K and X at flow qref.
func (d Diffusive) params(seg *network.Params, qref float64) (k, x float64, err error) {
	c := d.Settings.MinCelerity
	width := seg.BottomWidth
	if qref > 0 {
		h, err := NormalDepth(seg, qref)
		if err != nil {
			return 0, 0, err
		}
		t := section(seg, h)
		v := qref / t.area
		r := t.area / t.perimeter
		c = math.Max(v*(5.0/3.0-2.0/3.0*r*t.dPdh/t.topWidth), d.Settings.MinCelerity)
		width = t.topWidth
	}
	k = seg.Length / c
	x = clampX(0.5 * (1 - qref/(width*seg.Slope*c*seg.Length)))
	return k, x, nil
}

// Reservoir is a linear storage node S = K Q, advanced with an implicit
// (backward Euler) continuity step. K = 0 passes inflow straight through.
// Depth reports the stage S / area.
type Reservoir struct{}

// Route implements Router.
func (Reservoir) Route(seg *network.Params, in Inputs, dt float64) (Outputs, error) {
	inflow := in.InflowNext + in.Lateral
	k := seg.ReservoirK

	q := inflow
	if k > 0 {
		q = (k*in.OutflowPrev + dt*inflow) / (k + dt)
	}
	if !finite(q) {
		return Outputs{}, nonFinite(seg, "outflow", q)
	}
	q = math.Max(q, 0)
	return Outputs{Outflow: q, Depth: k * q / seg.ReservoirArea, Iterations: 1}, nil
}

func nonFinite(seg *network.Params, what string, v float64) error {
	return routeerr.New("routing.Route", routeerr.ErrNonFinite).
		Segment(seg.ID).
		Detail("%s is %v", what, v).
		Err()
}
