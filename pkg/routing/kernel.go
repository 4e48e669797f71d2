package routing

import (
	"math"

	"github.com/dd0wney/cluso-flowroute/pkg/decompose"
	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
	"github.com/dd0wney/cluso-flowroute/pkg/state"
)

// Kernel solves reaches of one forest. It is immutable and safe for
// concurrent use on distinct reaches.
type Kernel struct {
	forest    *network.Forest
	settings  Settings
	overrides map[network.Method]Router
	routers   []Router
}

// Option customises a Kernel.
type Option func(*Kernel)

// WithRouter replaces the router used for every segment of method m.
func WithRouter(m network.Method, r Router) Option {
	return func(k *Kernel) {
		if k.overrides == nil {
			k.overrides = make(map[network.Method]Router)
		}
		k.overrides[m] = r
	}
}

// NewKernel builds the per-segment dispatch table for f.
func NewKernel(f *network.Forest, settings Settings, opts ...Option) (*Kernel, error) {
	if f == nil {
		return nil, routeerr.Invariant("routing.NewKernel", "nil forest")
	}
	settings = settings.WithDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	k := &Kernel{forest: f, settings: settings}
	for _, opt := range opts {
		opt(k)
	}
	k.bind()
	return k, nil
}

func (k *Kernel) bind() {
	table := map[network.Method]Router{
		network.MuskingumCunge: MuskingumCunge{},
		network.Diffusive:      Diffusive{Settings: k.settings},
		network.Reservoir:      Reservoir{},
	}
	for m, r := range k.overrides {
		table[m] = r
	}
	k.routers = make([]Router, k.forest.Len())
	for i := range k.routers {
		k.routers[i] = table[k.forest.Segment(i).Method]
	}
}

// Settings returns the solver settings in effect.
func (k *Kernel) Settings() Settings {
	return k.settings
}

// Forest returns the forest the kernel was built for.
func (k *Kernel) Forest() *network.Forest {
	return k.forest
}

// WithSettings returns a kernel for the same forest and router overrides
// with different solver settings.
func (k *Kernel) WithSettings(s Settings) (*Kernel, error) {
	s = s.WithDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	nk := &Kernel{forest: k.forest, settings: s, overrides: k.overrides}
	nk.bind()
	return nk, nil
}

// Advance solves every segment of r for the step ending in next. The head
// segment receives upstream as its inflow; every other segment receives the
// outflow just computed for the segment above it. lateral is indexed by
// arena index. Only r's own slots in next are written.
func (k *Kernel) Advance(r *decompose.Reach, upstream float64, lateral []float64, dt float64, prev *state.State, next *state.Builder) error {
	inflow := upstream
	for _, s := range r.Segments {
		seg := k.forest.Segment(s)
		in := Inputs{
			InflowPrev:  prev.Inflow(s),
			InflowNext:  inflow,
			OutflowPrev: prev.Outflow(s),
			DepthPrev:   prev.Depth(s),
			Lateral:     lateral[s],
		}
		if !finite(in.InflowPrev, in.InflowNext, in.OutflowPrev, in.DepthPrev, in.Lateral) {
			return routeerr.New("routing.Advance", routeerr.ErrNonFinite).
				Reach(r.ID).Segment(seg.ID).
				Detail("non-finite input %+v", in).
				Err()
		}

		out, err := k.routers[s].Route(seg, in, dt)
		if err != nil {
			return annotate(err, r.ID, seg.ID)
		}
		if !finite(out.Outflow, out.Depth) {
			return routeerr.New("routing.Advance", routeerr.ErrNonFinite).
				Reach(r.ID).Segment(seg.ID).
				Detail("router produced outflow %v depth %v", out.Outflow, out.Depth).
				Err()
		}

		q := math.Max(out.Outflow, 0)
		next.Set(s, inflow, q, math.Max(out.Depth, 0))
		inflow = q
	}
	return nil
}

// annotate attaches reach and segment context to a router error.
func annotate(err error, reach int, segment network.SegmentID) error {
	ctx, ok := routeerr.Context(err)
	if !ok {
		return routeerr.New("routing.Advance", routeerr.ErrInvariantViolation).
			Reach(reach).Segment(segment).Cause(err).Err()
	}
	cp := *ctx
	cp.Reach, cp.HasReach = reach, true
	if !cp.HasSegment {
		cp.Segment, cp.HasSegment = segment, true
	}
	return &cp
}
