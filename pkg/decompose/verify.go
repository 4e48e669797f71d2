package decompose

import (
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
)

// Verify re-checks the decomposition against the forest. It should never
// fail for a Plan produced by Decompose; a failure indicates a bug.
func (p *Plan) Verify() error {
	const op = "decompose.Verify"
	f := p.Forest

	if err := f.Validate(); err != nil {
		return err
	}

	seen := make([]bool, f.Len())
	for id := range p.Reaches {
		r := &p.Reaches[id]
		if r.ID != id {
			return routeerr.New(op, routeerr.ErrInvariantViolation).Reach(id).Detail("reach stored at wrong position").Err()
		}
		if len(r.Segments) == 0 {
			return routeerr.New(op, routeerr.ErrInvariantViolation).Reach(id).Detail("empty reach").Err()
		}
		if n := len(f.Up(r.Head())); n == 1 {
			return routeerr.New(op, routeerr.ErrInvariantViolation).Reach(id).Segment(f.ID(r.Head())).Detail("head has a single parent").Err()
		}

		for k, s := range r.Segments {
			if seen[s] {
				return routeerr.New(op, routeerr.ErrInvariantViolation).Reach(id).Segment(f.ID(s)).Detail("segment assigned twice").Err()
			}
			seen[s] = true
			if p.ReachOf[s] != id {
				return routeerr.New(op, routeerr.ErrInvariantViolation).Reach(id).Segment(f.ID(s)).Detail("segment-to-reach map disagrees").Err()
			}
			if k > 0 {
				prev := r.Segments[k-1]
				if up := f.Up(s); len(up) != 1 || up[0] != prev {
					return routeerr.New(op, routeerr.ErrInvariantViolation).Reach(id).Segment(f.ID(s)).Detail("internal confluence").Err()
				}
			}
		}

		tailDown := f.Down(r.Tail())
		switch {
		case r.Downstream == -1 && tailDown != -1:
			return routeerr.New(op, routeerr.ErrInvariantViolation).Reach(id).Detail("reach marked as outlet but tail drains further").Err()
		case r.Downstream >= 0:
			if r.Downstream <= id {
				return routeerr.New(op, routeerr.ErrInvariantViolation).Reach(id).Detail("downstream reach %d is not later in order", r.Downstream).Err()
			}
			if tailDown < 0 || p.Reaches[r.Downstream].Head() != tailDown {
				return routeerr.New(op, routeerr.ErrInvariantViolation).Reach(id).Detail("tail does not drain into downstream head").Err()
			}
			if p.Reaches[r.Downstream].Network != r.Network {
				return routeerr.New(op, routeerr.ErrInvariantViolation).Reach(id).Detail("downstream reach in another network").Err()
			}
		}

		if len(r.Upstream) != len(f.Up(r.Head())) {
			return routeerr.New(op, routeerr.ErrInvariantViolation).Reach(id).Detail("upstream reach count disagrees with confluence").Err()
		}
		for _, u := range r.Upstream {
			if p.Reaches[u].Downstream != id {
				return routeerr.New(op, routeerr.ErrInvariantViolation).Reach(id).Detail("upstream reach %d drains elsewhere", u).Err()
			}
			if p.Reaches[u].Rank >= r.Rank {
				return routeerr.New(op, routeerr.ErrInvariantViolation).Reach(id).Detail("rank not above upstream reach %d", u).Err()
			}
		}
	}

	for s, ok := range seen {
		if !ok {
			return routeerr.New(op, routeerr.ErrInvariantViolation).Segment(f.ID(s)).Detail("segment not assigned to a reach").Err()
		}
	}

	total := 0
	for _, n := range p.Networks {
		total += len(n.Reaches)
		outletReach := p.ReachOf[n.Outlet]
		if p.Reaches[outletReach].Downstream != -1 {
			return routeerr.Invariant(op, "network %d outlet reach has a downstream reach", n.ID)
		}
	}
	if len(p.Order) != len(p.Reaches) {
		return routeerr.Invariant(op, "order holds %d reaches, plan has %d", len(p.Order), len(p.Reaches))
	}
	if total != len(p.Reaches) {
		return routeerr.Invariant(op, "networks hold %d reaches, plan has %d", total, len(p.Reaches))
	}
	return nil
}
