package decompose

import (
	"errors"
	"reflect"
	"testing"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
)

func row(id, down int64) network.Params {
	return network.Params{
		ID: id, Downstream: down,
		Length: 1000, Slope: 0.001, Manning: 0.035, BottomWidth: 10, SideSlope: 2,
	}
}

func mustPlan(t *testing.T, rows []network.Params) *Plan {
	t.Helper()
	f, err := network.Build(rows)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	p, err := Decompose(f)
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	return p
}

func segmentIDs(p *Plan, r *Reach) []int64 {
	ids := make([]int64, len(r.Segments))
	for i, s := range r.Segments {
		ids[i] = p.Forest.ID(s)
	}
	return ids
}

func TestDecompose_Confluence(t *testing.T) {
	// A(1), B(2) -> C(3) -> D(4)
	p := mustPlan(t, []network.Params{row(4, 0), row(3, 4), row(1, 3), row(2, 3)})

	if len(p.Networks) != 1 || len(p.Reaches) != 3 {
		t.Fatalf("got %d networks, %d reaches; want 1, 3", len(p.Networks), len(p.Reaches))
	}

	a, _ := p.ReachOfSegment(1)
	b, _ := p.ReachOfSegment(2)
	cd, _ := p.ReachOfSegment(4)

	if got := segmentIDs(p, cd); !reflect.DeepEqual(got, []int64{3, 4}) {
		t.Errorf("outlet reach segments = %v, want [3 4]", got)
	}
	if c, _ := p.ReachOfSegment(3); c.ID != cd.ID {
		t.Error("C and D should share a reach")
	}
	if !reflect.DeepEqual(cd.Upstream, []int{a.ID, b.ID}) {
		t.Errorf("outlet reach upstream = %v, want [%d %d]", cd.Upstream, a.ID, b.ID)
	}
	if a.Rank != 0 || b.Rank != 0 || cd.Rank != 1 {
		t.Errorf("ranks = %d,%d,%d; want 0,0,1", a.Rank, b.Rank, cd.Rank)
	}
	if a.CriticalPath != 3 || cd.CriticalPath != 2 {
		t.Errorf("critical paths = %d,%d; want 3,2", a.CriticalPath, cd.CriticalPath)
	}
	if a.Downstream != cd.ID || cd.Downstream != -1 {
		t.Error("downstream links wrong")
	}
	if a.ID > cd.ID || b.ID > cd.ID {
		t.Error("reach IDs should be upstream-first")
	}
}

func TestDecompose_LinearChainIsOneReach(t *testing.T) {
	p := mustPlan(t, []network.Params{row(1, 2), row(2, 3), row(3, 4), row(4, 0)})

	if len(p.Reaches) != 1 {
		t.Fatalf("got %d reaches, want 1", len(p.Reaches))
	}
	if got := segmentIDs(p, &p.Reaches[0]); !reflect.DeepEqual(got, []int64{1, 2, 3, 4}) {
		t.Errorf("segments = %v, want head-to-tail [1 2 3 4]", got)
	}
}

func TestDecompose_NestedConfluences(t *testing.T) {
	//  1   2
	//   \ /
	//    3   4
	//     \ /
	//      5 - 6 (outlet)
	//  7 - 8 (separate basin)
	rows := []network.Params{
		row(1, 3), row(2, 3), row(3, 5), row(4, 5), row(5, 6), row(6, 0),
		row(7, 8), row(8, 0),
	}
	p := mustPlan(t, rows)

	if len(p.Networks) != 2 {
		t.Fatalf("got %d networks, want 2", len(p.Networks))
	}
	// Reaches: [1], [2], [3], [4], [5 6], [7 8]
	if len(p.Reaches) != 6 {
		t.Fatalf("got %d reaches, want 6", len(p.Reaches))
	}
	outlet, _ := p.ReachOfSegment(6)
	if outlet.Rank != 2 {
		t.Errorf("outlet rank = %d, want 2", outlet.Rank)
	}
	r3, _ := p.ReachOfSegment(3)
	if r3.Rank != 1 || len(r3.Upstream) != 2 {
		t.Errorf("reach of 3: rank %d upstream %v", r3.Rank, r3.Upstream)
	}
	other, _ := p.ReachOfSegment(7)
	if other.Network == outlet.Network {
		t.Error("separate basins must be separate networks")
	}

	stats := p.Stats()
	if stats.Headwaters != 4 || stats.MaxRank != 2 || stats.Segments != 8 || stats.LongestReach != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDecompose_SiblingReachesFollowSegmentOrder(t *testing.T) {
	//  1   2
	//   \ /
	//    3   4
	//     \ /
	//      5
	p := mustPlan(t, []network.Params{row(5, 0), row(4, 5), row(3, 5), row(2, 3), row(1, 3)})

	id := func(seg int64) int {
		r, ok := p.ReachOfSegment(seg)
		if !ok {
			t.Fatalf("segment %d has no reach", seg)
		}
		return r.ID
	}
	if id(1) >= id(2) {
		t.Errorf("reach of 1 = %d, reach of 2 = %d; want ascending", id(1), id(2))
	}
	if id(3) >= id(4) {
		t.Errorf("reach of 3 = %d, reach of 4 = %d; want ascending", id(3), id(4))
	}

	outlet, _ := p.ReachOfSegment(5)
	if want := []int{id(3), id(4)}; !reflect.DeepEqual(outlet.Upstream, want) {
		t.Errorf("outlet upstream = %v, want %v", outlet.Upstream, want)
	}
	r3, _ := p.ReachOfSegment(3)
	if want := []int{id(1), id(2)}; !reflect.DeepEqual(r3.Upstream, want) {
		t.Errorf("reach of 3 upstream = %v, want %v", r3.Upstream, want)
	}
	if err := p.Verify(); err != nil {
		t.Errorf("Verify() = %v", err)
	}
}

func TestDecompose_Deterministic(t *testing.T) {
	rows := []network.Params{
		row(10, 0), row(11, 10), row(12, 10), row(13, 11), row(14, 11), row(15, 12),
		row(16, 15), row(17, 15), row(20, 0), row(21, 20),
	}
	first := mustPlan(t, rows)

	shuffled := make([]network.Params, len(rows))
	for i := range rows {
		shuffled[i] = rows[len(rows)-1-i]
	}
	for run := 0; run < 5; run++ {
		again := mustPlan(t, shuffled)
		if !reflect.DeepEqual(first.Reaches, again.Reaches) {
			t.Fatalf("run %d: reaches differ", run)
		}
		if !reflect.DeepEqual(first.ReachOf, again.ReachOf) {
			t.Fatalf("run %d: segment assignment differs", run)
		}
	}
}

func TestVerify_DetectsCorruption(t *testing.T) {
	p := mustPlan(t, []network.Params{row(4, 0), row(3, 4), row(1, 3), row(2, 3)})
	p.ReachOf[0] = p.ReachOf[3]

	if err := p.Verify(); !errors.Is(err, routeerr.ErrInvariantViolation) {
		t.Errorf("Verify() = %v, want invariant violation", err)
	}
}

func TestDecompose_NilForest(t *testing.T) {
	if _, err := Decompose(nil); !errors.Is(err, routeerr.ErrInvariantViolation) {
		t.Errorf("Decompose(nil) = %v", err)
	}
}
