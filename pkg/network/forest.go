package network

import "github.com/dd0wney/cluso-flowroute/pkg/routeerr"

// Len returns the number of segments.
func (f *Forest) Len() int {
	return len(f.params)
}

// Segment returns the parameters of segment i.
func (f *Forest) Segment(i int) *Params {
	return &f.params[i]
}

// ID returns the identifier of segment i.
func (f *Forest) ID(i int) SegmentID {
	return f.params[i].ID
}

// IDs returns every segment identifier in arena order (ascending).
func (f *Forest) IDs() []SegmentID {
	ids := make([]SegmentID, len(f.params))
	for i := range f.params {
		ids[i] = f.params[i].ID
	}
	return ids
}

// Index returns the arena index of id.
func (f *Forest) Index(id SegmentID) (int, bool) {
	i, ok := f.index[id]
	return i, ok
}

// Down returns the downstream index of segment i, or -1 for an outlet.
func (f *Forest) Down(i int) int {
	return f.down[i]
}

// Up returns the upstream indices of segment i in ascending order. The
// returned slice must not be modified.
func (f *Forest) Up(i int) []int {
	return f.up[i]
}

// Trees returns one tree per outlet, ordered by outlet index.
func (f *Forest) Trees() []Tree {
	return f.trees
}

// TreeOf returns the position in Trees of the tree containing segment i.
func (f *Forest) TreeOf(i int) int {
	return f.treeOf[i]
}

// Outlets returns the indices of segments without a downstream segment.
func (f *Forest) Outlets() []int {
	out := make([]int, len(f.trees))
	for i, t := range f.trees {
		out[i] = t.Outlet
	}
	return out
}

// Headwaters returns the indices of segments with no upstream segment.
func (f *Forest) Headwaters() []int {
	var hw []int
	for i := range f.up {
		if len(f.up[i]) == 0 {
			hw = append(hw, i)
		}
	}
	return hw
}

// Validate re-checks the forest invariants: symmetric up/down links, strictly
// ascending upstream lists, and every segment in exactly one tree with its
// downstream segment appearing later in that tree.
func (f *Forest) Validate() error {
	const op = "Forest.Validate"
	n := len(f.params)
	if len(f.down) != n || len(f.up) != n || len(f.treeOf) != n {
		return routeerr.Invariant(op, "arena slices disagree on length")
	}

	for i := 0; i < n; i++ {
		if d := f.down[i]; d >= 0 {
			if d >= n {
				return routeerr.New(op, routeerr.ErrInvariantViolation).Segment(f.params[i].ID).Detail("downstream index %d out of range", d).Err()
			}
			if !containsSorted(f.up[d], i) {
				return routeerr.New(op, routeerr.ErrInvariantViolation).Segment(f.params[i].ID).Detail("missing upstream back-link").Err()
			}
		}
		for k, u := range f.up[i] {
			if k > 0 && f.up[i][k-1] >= u {
				return routeerr.New(op, routeerr.ErrInvariantViolation).Segment(f.params[i].ID).Detail("upstream list not strictly ascending").Err()
			}
			if f.down[u] != i {
				return routeerr.New(op, routeerr.ErrInvariantViolation).Segment(f.params[i].ID).Detail("upstream %d does not drain here", f.params[u].ID).Err()
			}
		}
	}

	pos := make([]int, n)
	for i := range pos {
		pos[i] = -1
	}
	for t, tree := range f.trees {
		for k, s := range tree.Segments {
			if pos[s] != -1 {
				return routeerr.New(op, routeerr.ErrInvariantViolation).Segment(f.params[s].ID).Detail("segment appears in more than one tree").Err()
			}
			if f.treeOf[s] != t {
				return routeerr.New(op, routeerr.ErrInvariantViolation).Segment(f.params[s].ID).Detail("tree index mismatch").Err()
			}
			pos[s] = k
		}
		if last := tree.Segments[len(tree.Segments)-1]; last != tree.Outlet || f.down[last] != -1 {
			return routeerr.Invariant(op, "tree %d does not end at its outlet", t)
		}
	}
	for i := 0; i < n; i++ {
		if pos[i] == -1 {
			return routeerr.New(op, routeerr.ErrInvariantViolation).Segment(f.params[i].ID).Detail("segment not reachable from any outlet").Err()
		}
		if d := f.down[i]; d >= 0 && (f.treeOf[d] != f.treeOf[i] || pos[d] <= pos[i]) {
			return routeerr.New(op, routeerr.ErrInvariantViolation).Segment(f.params[i].ID).Detail("downstream segment precedes it in tree order").Err()
		}
	}
	return nil
}

func containsSorted(s []int, v int) bool {
	lo, hi := 0, len(s)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case s[mid] == v:
			return true
		case s[mid] < v:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}
