// Package state holds the per-step simulation snapshot.
//
// A State is immutable once built. The only way to produce the next step is
// through a Builder, which the scheduler fills reach by reach and then
// freezes. Every slice is indexed by the forest's arena index.
package state

import (
	"math"
	"time"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
)

// Values are the per-segment quantities carried between steps.
type Values struct {
	Inflow  float64 `json:"qu0"` // m3/s entering the segment
	Outflow float64 `json:"qd0"` // m3/s leaving the segment
	Depth   float64 `json:"h0"`  // m
}

// State is a whole-network snapshot at the end of a time step.
type State struct {
	forest  *network.Forest
	step    int
	time    time.Time
	inflow  []float64
	outflow []float64
	depth   []float64
}

// Step returns the step index; 0 is the initial condition.
func (s *State) Step() int { return s.step }

// Time returns the model time at the end of the step.
func (s *State) Time() time.Time { return s.time }

// Forest returns the forest the state is indexed by.
func (s *State) Forest() *network.Forest { return s.forest }

// Len returns the number of segments.
func (s *State) Len() int { return len(s.outflow) }

// Inflow returns the inflow of segment i.
func (s *State) Inflow(i int) float64 { return s.inflow[i] }

// Outflow returns the outflow of segment i.
func (s *State) Outflow(i int) float64 { return s.outflow[i] }

// Depth returns the flow depth (or reservoir stage) of segment i.
func (s *State) Depth(i int) float64 { return s.depth[i] }

// At returns every quantity for segment i.
func (s *State) At(i int) Values {
	return Values{Inflow: s.inflow[i], Outflow: s.outflow[i], Depth: s.depth[i]}
}

// Discharge returns the outflow of the segment with external id.
func (s *State) Discharge(id network.SegmentID) (float64, bool) {
	i, ok := s.forest.Index(id)
	if !ok {
		return 0, false
	}
	return s.outflow[i], true
}

// Stage returns the depth of the segment with external id.
func (s *State) Stage(id network.SegmentID) (float64, bool) {
	i, ok := s.forest.Index(id)
	if !ok {
		return 0, false
	}
	return s.depth[i], true
}

// Values returns a map view keyed by segment id. It allocates; use the
// indexed accessors on hot paths.
func (s *State) Values() map[network.SegmentID]Values {
	m := make(map[network.SegmentID]Values, len(s.outflow))
	for i := range s.outflow {
		m[s.forest.ID(i)] = s.At(i)
	}
	return m
}

// TotalOutflow sums the discharge leaving every outlet.
func (s *State) TotalOutflow() float64 {
	total := 0.0
	for _, i := range s.forest.Outlets() {
		total += s.outflow[i]
	}
	return total
}

// Identical reports whether a and b hold bit-identical values for the same
// step.
func Identical(a, b *State) bool {
	if a.step != b.step || len(a.outflow) != len(b.outflow) {
		return false
	}
	return sameBits(a.inflow, b.inflow) && sameBits(a.outflow, b.outflow) && sameBits(a.depth, b.depth)
}

func sameBits(a, b []float64) bool {
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			return false
		}
	}
	return true
}

// Cold returns a dry initial state: every quantity zero.
func Cold(f *network.Forest, t0 time.Time) *State {
	n := f.Len()
	return &State{
		forest:  f,
		time:    t0,
		inflow:  make([]float64, n),
		outflow: make([]float64, n),
		depth:   make([]float64, n),
	}
}

// FromValues builds the initial state from per-segment values. Every segment
// of f must be present; ids unknown to f are rejected.
func FromValues(f *network.Forest, t0 time.Time, vals map[network.SegmentID]Values) (*State, error) {
	const op = "state.FromValues"

	s := Cold(f, t0)
	for id := range vals {
		if _, ok := f.Index(id); !ok {
			return nil, routeerr.New(op, routeerr.ErrConfiguration).Segment(id).Detail("initial condition for unknown segment").Err()
		}
	}
	for i := 0; i < f.Len(); i++ {
		v, ok := vals[f.ID(i)]
		if !ok {
			return nil, routeerr.New(op, routeerr.ErrConfiguration).Segment(f.ID(i)).Detail("missing initial condition").Err()
		}
		if err := checkValues(v); err != nil {
			return nil, routeerr.New(op, routeerr.ErrConfiguration).Segment(f.ID(i)).Cause(err).Err()
		}
		s.inflow[i], s.outflow[i], s.depth[i] = v.Inflow, v.Outflow, v.Depth
	}
	return s, nil
}

// FromArrays builds a state at the given step from arena-ordered columns.
// The slices are copied.
func FromArrays(f *network.Forest, step int, t time.Time, inflow, outflow, depth []float64) (*State, error) {
	const op = "state.FromArrays"

	n := f.Len()
	if len(inflow) != n || len(outflow) != n || len(depth) != n {
		return nil, routeerr.Configuration(op, "columns hold %d/%d/%d values, forest has %d segments",
			len(inflow), len(outflow), len(depth), n)
	}
	s := &State{
		forest:  f,
		step:    step,
		time:    t,
		inflow:  append([]float64(nil), inflow...),
		outflow: append([]float64(nil), outflow...),
		depth:   append([]float64(nil), depth...),
	}
	for i := 0; i < n; i++ {
		if err := checkValues(s.At(i)); err != nil {
			return nil, routeerr.New(op, routeerr.ErrConfiguration).Segment(f.ID(i)).Cause(err).Err()
		}
	}
	return s, nil
}

func checkValues(v Values) error {
	for _, x := range [...]float64{v.Inflow, v.Outflow, v.Depth} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return routeerr.ErrNonFinite
		}
		if x < 0 {
			return errNegative
		}
	}
	return nil
}
