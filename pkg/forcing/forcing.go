// Package forcing supplies per-step lateral inflow (and optional headwater
// boundary inflow) to the simulation.
//
// Providers expose values in their own column order. Bind maps those columns
// onto a forest's arena once, verifies that every segment is covered, and
// then produces arena-indexed frames step by step.
package forcing

import (
	"fmt"
	"math"
	"strings"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/pools"
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
)

// Provider is a source of lateral inflow, one row per time step.
type Provider interface {
	// Columns lists the segments the provider has values for.
	Columns() []network.SegmentID
	// Steps returns the number of time steps available.
	Steps() int
	// Lateral fills dst (len(Columns())) with the values for step, which
	// counts from 1.
	Lateral(step int, dst []float64) error
}

// BoundaryProvider is implemented by providers that also carry external
// inflow for headwater segments.
type BoundaryProvider interface {
	BoundaryColumns() []network.SegmentID
	Boundary(step int, dst []float64) error
}

// Frame is one step's forcing in arena order.
type Frame struct {
	Step     int
	Lateral  []float64
	Boundary map[int]float64
}

// Binding adapts a Provider to a forest.
type Binding struct {
	provider Provider
	forest   *network.Forest
	pool     *pools.Float64Pool

	lateralIdx []int // provider column -> arena index, -1 if unused
	colBuf     []float64

	boundary    BoundaryProvider
	boundaryIdx []int
	boundaryBuf []float64
}

// Bind checks that p covers every segment of f and that any boundary
// columns name headwater segments.
func Bind(p Provider, f *network.Forest) (*Binding, error) {
	const op = "forcing.Bind"

	cols := p.Columns()
	idx, err := mapColumns(op, f, cols)
	if err != nil {
		return nil, err
	}

	covered := make([]bool, f.Len())
	for _, i := range idx {
		if i >= 0 {
			covered[i] = true
		}
	}
	var missing []string
	for i, ok := range covered {
		if !ok {
			missing = append(missing, fmt.Sprint(f.ID(i)))
		}
	}
	if len(missing) > 0 {
		shown := missing
		if len(shown) > 10 {
			shown = append(shown[:10:10], "...")
		}
		return nil, routeerr.Configuration(op, "no lateral inflow for %d segments: %s", len(missing), strings.Join(shown, ", "))
	}

	b := &Binding{
		provider:   p,
		forest:     f,
		pool:       pools.Float64s(),
		lateralIdx: idx,
		colBuf:     make([]float64, len(cols)),
	}

	if bp, ok := p.(BoundaryProvider); ok && len(bp.BoundaryColumns()) > 0 {
		bcols := bp.BoundaryColumns()
		bidx, err := mapColumns(op, f, bcols)
		if err != nil {
			return nil, err
		}
		for k, i := range bidx {
			if i >= 0 && len(f.Up(i)) > 0 {
				return nil, routeerr.New(op, routeerr.ErrConfiguration).Segment(bcols[k]).
					Detail("boundary inflow given for a segment with upstream segments").Err()
			}
		}
		b.boundary, b.boundaryIdx, b.boundaryBuf = bp, bidx, make([]float64, len(bcols))
	}
	return b, nil
}

func mapColumns(op string, f *network.Forest, cols []network.SegmentID) ([]int, error) {
	idx := make([]int, len(cols))
	seen := make(map[network.SegmentID]bool, len(cols))
	for k, id := range cols {
		if seen[id] {
			return nil, routeerr.New(op, routeerr.ErrConfiguration).Segment(id).Detail("duplicate forcing column").Err()
		}
		seen[id] = true
		i, ok := f.Index(id)
		if !ok {
			i = -1
		}
		idx[k] = i
	}
	return idx, nil
}

// Steps returns the number of steps the provider covers.
func (b *Binding) Steps() int {
	return b.provider.Steps()
}

// CheckHorizon fails unless the provider covers steps 1..horizon.
func (b *Binding) CheckHorizon(horizon int) error {
	if b.provider.Steps() < horizon {
		return routeerr.Configuration("forcing.CheckHorizon", "forcing covers %d steps, horizon is %d", b.provider.Steps(), horizon)
	}
	return nil
}

// Frame returns the arena-indexed forcing for step. The lateral slice comes
// from a pool; hand it back with Release once the step is routed. Frame is
// not safe for concurrent use.
func (b *Binding) Frame(step int) (Frame, error) {
	const op = "forcing.Frame"

	if err := b.provider.Lateral(step, b.colBuf); err != nil {
		return Frame{}, routeerr.New(op, routeerr.ErrConfiguration).Step(step).Cause(err).Err()
	}
	lat := b.pool.Get(b.forest.Len())
	for k, i := range b.lateralIdx {
		if i < 0 {
			continue
		}
		v := b.colBuf[k]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			b.pool.Put(lat)
			return Frame{}, routeerr.New(op, routeerr.ErrNonFinite).Step(step).Segment(b.forest.ID(i)).
				Detail("lateral inflow is %v", v).Err()
		}
		lat[i] = v
	}

	fr := Frame{Step: step, Lateral: lat}
	if b.boundary != nil {
		if err := b.boundary.Boundary(step, b.boundaryBuf); err != nil {
			b.pool.Put(lat)
			return Frame{}, routeerr.New(op, routeerr.ErrConfiguration).Step(step).Cause(err).Err()
		}
		fr.Boundary = make(map[int]float64, len(b.boundaryIdx))
		for k, i := range b.boundaryIdx {
			if i >= 0 && !math.IsNaN(b.boundaryBuf[k]) {
				fr.Boundary[i] = b.boundaryBuf[k]
			}
		}
	}
	return fr, nil
}

// Release returns a frame's buffers to the pool.
func (b *Binding) Release(fr Frame) {
	b.pool.Put(fr.Lateral)
}

func stepError(step, steps int) error {
	return fmt.Errorf("step %d outside forcing range 1..%d", step, steps)
}
