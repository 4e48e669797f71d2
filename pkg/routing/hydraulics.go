package routing

import (
	"math"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
)

const (
	depthTolerance     = 1e-10
	maxDepthIterations = 50
	minDepth           = 1e-6
)

// WideChannelDepth is the normal depth of a rectangular channel much wider
// than it is deep: h = (Q n / (B sqrt(S0)))^(3/5).
func WideChannelDepth(seg *network.Params, q float64) float64 {
	if q <= 0 {
		return 0
	}
	return math.Pow(q*seg.Manning/(seg.BottomWidth*math.Sqrt(seg.Slope)), 0.6)
}

// trapezoid holds section properties at a given depth.
type trapezoid struct {
	area      float64
	perimeter float64
	topWidth  float64
	dPdh      float64
}

func section(seg *network.Params, h float64) trapezoid {
	z := seg.SideSlope
	side := math.Sqrt(1 + z*z)
	return trapezoid{
		area:      (seg.BottomWidth + z*h) * h,
		perimeter: seg.BottomWidth + 2*h*side,
		topWidth:  seg.BottomWidth + 2*z*h,
		dPdh:      2 * side,
	}
}

// manningFlow is Q(h) for the trapezoid.
func manningFlow(seg *network.Params, t trapezoid) float64 {
	return math.Pow(t.area, 5.0/3.0) * math.Pow(t.perimeter, -2.0/3.0) * math.Sqrt(seg.Slope) / seg.Manning
}

// NormalDepth solves Manning's equation for depth in a trapezoidal channel
// with Newton's method, starting from the wide-channel estimate.
func NormalDepth(seg *network.Params, q float64) (float64, error) {
	if q <= 0 {
		return 0, nil
	}
	h := math.Max(WideChannelDepth(seg, q), minDepth)
	for it := 0; it < maxDepthIterations; it++ {
		t := section(seg, h)
		qh := manningFlow(seg, t)
		dq := qh * (5.0/3.0*t.topWidth/t.area - 2.0/3.0*t.dPdh/t.perimeter)
		next := h - (qh-q)/dq
		if next <= 0 {
			next = h / 2
		}
		if math.Abs(next-h) <= depthTolerance*math.Max(1, h) {
			return next, nil
		}
		h = next
	}
	return 0, routeerr.New("routing.NormalDepth", routeerr.ErrConvergence).
		Segment(seg.ID).
		Detail("normal depth for Q=%g did not converge in %d iterations", q, maxDepthIterations).
		Err()
}

// ConstantParams returns the Muskingum K (s) and X for a segment. Explicit
// table values win; otherwise they are derived from wide-channel geometry at
// the segment's reference flow.
func ConstantParams(seg *network.Params) (k, x float64) {
	if seg.MuskingumK > 0 {
		return seg.MuskingumK, seg.MuskingumX
	}
	qref := seg.RefFlow
	if qref <= 0 {
		qref = network.DefaultRefFlow
	}
	h := WideChannelDepth(seg, qref)
	c := 5.0 / 3.0 * qref / (seg.BottomWidth * h)
	k = seg.Length / c
	x = clampX(0.5 * (1 - qref/(seg.BottomWidth*seg.Slope*c*seg.Length)))
	return k, x
}

func clampX(x float64) float64 {
	return math.Min(math.Max(x, 0), 0.5)
}

// coefficients are the Muskingum-Cunge weights for one step. Lateral weights
// the segment's lateral inflow so that at steady state Q = I + lateral.
type coefficients struct {
	inflowNext  float64
	inflowPrev  float64
	outflowPrev float64
	lateral     float64
}

// muskingumCoefficients caps X at dt/(2K) so the inflow weight C1 is never
// negative. The outflow weight C3 is non-negative only while dt <= 2K(1-X);
// muskingumStep keeps dt <= K to guarantee it.
func muskingumCoefficients(k, x, dt float64) coefficients {
	if k <= 0 {
		return coefficients{inflowNext: 1, lateral: 1}
	}
	x = math.Min(x, dt/(2*k))
	half := dt / 2
	d := k*(1-x) + half
	return coefficients{
		inflowNext:  (half - k*x) / d,
		inflowPrev:  (half + k*x) / d,
		outflowPrev: (k*(1-x) - half) / d,
		lateral:     dt / d,
	}
}

// muskingumStep advances one segment over dt, splitting the step into equal
// sub-steps no longer than K. Upstream inflow is interpolated linearly across
// the sub-steps and lateral inflow is held constant. Every weight is then
// non-negative and sums to one, so outflow never exceeds the largest input
// and a draining segment never gains flow.
func muskingumStep(k, x, dt float64, in Inputs) float64 {
	n := 1
	if k > 0 && dt > k {
		n = int(math.Ceil(dt / k))
	}
	c := muskingumCoefficients(k, x, dt/float64(n))
	if n == 1 {
		return c.apply(in)
	}

	out := in.OutflowPrev
	span := in.InflowNext - in.InflowPrev
	for j := 0; j < n; j++ {
		out = c.apply(Inputs{
			InflowPrev:  in.InflowPrev + span*float64(j)/float64(n),
			InflowNext:  in.InflowPrev + span*float64(j+1)/float64(n),
			OutflowPrev: out,
			Lateral:     in.Lateral,
		})
	}
	return out
}

func (c coefficients) apply(in Inputs) float64 {
	return c.inflowNext*in.InflowNext + c.inflowPrev*in.InflowPrev +
		c.outflowPrev*in.OutflowPrev + c.lateral*in.Lateral
}
