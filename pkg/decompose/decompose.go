// Package decompose partitions a network.Forest into independently
// schedulable drainage basins and, within each basin, into reaches: maximal
// chains of segments without an internal confluence.
package decompose

import (
	"sort"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
)

// Reach is a chain of segments solved as one unit of work.
type Reach struct {
	ID      int
	Network int
	// Segments are arena indices ordered head (upstream) to tail (downstream).
	Segments []int
	// Upstream lists the reaches whose tails drain into this reach's head,
	// ascending by ID.
	Upstream []int
	// Downstream is the reach fed by this reach's tail, or -1 at the outlet.
	Downstream int
	// Rank is 0 for headwater reaches, else one more than the highest
	// upstream rank.
	Rank int
	// CriticalPath counts the segments from this reach's head to the outlet.
	CriticalPath int
}

// Head returns the first (most upstream) segment.
func (r *Reach) Head() int { return r.Segments[0] }

// Tail returns the last (most downstream) segment.
func (r *Reach) Tail() int { return r.Segments[len(r.Segments)-1] }

// IsHeadwater reports whether no reach feeds this one.
func (r *Reach) IsHeadwater() bool { return len(r.Upstream) == 0 }

// Network is one drainage basin.
type Network struct {
	ID     int
	Outlet int
	// Reaches are IDs in topological order, upstream first.
	Reaches  []int
	Segments int
}

// Plan is the immutable decomposition of a forest.
type Plan struct {
	Forest   *network.Forest
	Reaches  []Reach
	Networks []Network
	// ReachOf maps a segment index to its reach ID.
	ReachOf []int
	// Order lists every reach ID upstream-first, network by network.
	Order []int
}

// Decompose splits every tree of f into reaches. Reach IDs are assigned in
// topological order (upstream first) within each network, networks follow
// the forest's tree order, and every traversal uses ascending indices, so
// identical input always yields identical output.
func Decompose(f *network.Forest) (*Plan, error) {
	if f == nil {
		return nil, routeerr.Invariant("decompose.Decompose", "nil forest")
	}

	p := &Plan{
		Forest:  f,
		ReachOf: make([]int, f.Len()),
	}
	for i := range p.ReachOf {
		p.ReachOf[i] = -1
	}

	for t, tree := range f.Trees() {
		p.addNetwork(t, tree)
	}
	p.assignRanks()

	p.Order = make([]int, 0, len(p.Reaches))
	for _, n := range p.Networks {
		p.Order = append(p.Order, n.Reaches...)
	}

	if err := p.Verify(); err != nil {
		return nil, err
	}
	return p, nil
}

// pendingTail is a segment that closes a reach yet to be traced, along with
// the discovery slot of the reach it drains into.
type pendingTail struct {
	tail       int
	downstream int
}

// addNetwork traces reaches from the outlet upward using an explicit stack.
// Reaches are discovered downstream-first and then renumbered in reverse so
// IDs end up upstream-first, with sibling reaches numbered in segment order.
func (p *Plan) addNetwork(netID int, tree network.Tree) {
	f := p.Forest
	var found []Reach

	stack := []pendingTail{{tail: tree.Outlet, downstream: -1}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		// Collect tail-to-head while the current segment has a single parent.
		chain := []int{top.tail}
		cur := top.tail
		for up := f.Up(cur); len(up) == 1; up = f.Up(cur) {
			cur = up[0]
			chain = append(chain, cur)
		}
		for l, r := 0, len(chain)-1; l < r; l, r = l+1, r-1 {
			chain[l], chain[r] = chain[r], chain[l]
		}

		slot := len(found)
		found = append(found, Reach{Network: netID, Segments: chain, Downstream: top.downstream})

		// Push ascending: the first sibling pops last and so gets the
		// highest slot, which the renumbering below turns into the lowest ID.
		for _, u := range f.Up(cur) {
			stack = append(stack, pendingTail{tail: u, downstream: slot})
		}
	}

	base := len(p.Reaches)
	n := len(found)
	idOf := func(slot int) int { return base + n - 1 - slot }

	net := Network{ID: netID, Outlet: tree.Outlet, Segments: len(tree.Segments)}
	for k := n - 1; k >= 0; k-- {
		r := found[k]
		r.ID = idOf(k)
		if r.Downstream >= 0 {
			r.Downstream = idOf(r.Downstream)
		}
		for _, s := range r.Segments {
			p.ReachOf[s] = r.ID
		}
		p.Reaches = append(p.Reaches, r)
		net.Reaches = append(net.Reaches, r.ID)
	}

	// Upstream links are derived from the head's upstream segments so they
	// come out ascending by segment index, then sorted by reach ID.
	for _, id := range net.Reaches {
		r := &p.Reaches[id]
		for _, u := range f.Up(r.Head()) {
			r.Upstream = append(r.Upstream, p.ReachOf[u])
		}
		sort.Ints(r.Upstream)
	}

	p.Networks = append(p.Networks, net)
}

// assignRanks walks reaches upstream-first for Rank and downstream-first for
// CriticalPath.
func (p *Plan) assignRanks() {
	for i := range p.Reaches {
		r := &p.Reaches[i]
		r.Rank = 0
		for _, u := range r.Upstream {
			if rk := p.Reaches[u].Rank + 1; rk > r.Rank {
				r.Rank = rk
			}
		}
	}
	for i := len(p.Reaches) - 1; i >= 0; i-- {
		r := &p.Reaches[i]
		r.CriticalPath = len(r.Segments)
		if r.Downstream >= 0 {
			r.CriticalPath += p.Reaches[r.Downstream].CriticalPath
		}
	}
}
