package network

import (
	"errors"
	"strings"
	"testing"

	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
)

func TestBuild_Confluence(t *testing.T) {
	f, err := Build(confluenceTable())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if f.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", f.Len())
	}
	// Arena is sorted by ID regardless of row order.
	for i, want := range []SegmentID{1, 2, 3, 4} {
		if f.ID(i) != want {
			t.Errorf("ID(%d) = %d, want %d", i, f.ID(i), want)
		}
	}

	c, _ := f.Index(3)
	if got := f.Up(c); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("Up(C) = %v, want [0 1]", got)
	}
	d, _ := f.Index(4)
	if f.Down(d) != -1 {
		t.Errorf("Down(D) = %d, want -1", f.Down(d))
	}

	trees := f.Trees()
	if len(trees) != 1 {
		t.Fatalf("got %d trees, want 1", len(trees))
	}
	if trees[0].Outlet != d {
		t.Errorf("outlet = %d, want %d", trees[0].Outlet, d)
	}
	if last := trees[0].Segments[len(trees[0].Segments)-1]; last != d {
		t.Errorf("tree should end at the outlet, ends at %d", last)
	}
	if got := f.Headwaters(); len(got) != 2 {
		t.Errorf("Headwaters() = %v, want two", got)
	}
}

func TestBuild_OneTreePerOutlet(t *testing.T) {
	rows := []Params{
		channel(10, NoSegment),
		channel(11, 10),
		channel(20, NoSegment),
		channel(21, 20),
		channel(22, 20),
		channel(30, NoSegment),
	}
	f, err := Build(rows)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if got := len(f.Trees()); got != 3 {
		t.Fatalf("got %d trees, want 3", got)
	}
	total := 0
	for _, tr := range f.Trees() {
		total += len(tr.Segments)
	}
	if total != len(rows) {
		t.Errorf("trees cover %d segments, want %d", total, len(rows))
	}
	i21, _ := f.Index(21)
	i20, _ := f.Index(20)
	if f.TreeOf(i21) != f.TreeOf(i20) {
		t.Error("21 and 20 should share a tree")
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		rows []Params
		kind error
		msg  string
	}{
		{
			name: "empty",
			rows: nil,
			kind: routeerr.ErrConfiguration,
		},
		{
			name: "duplicate",
			rows: []Params{channel(1, NoSegment), channel(2, 1), channel(2, 1)},
			kind: routeerr.ErrDuplicateSegment,
			msg:  "segment 2",
		},
		{
			name: "dangling",
			rows: []Params{channel(1, NoSegment), channel(2, 99)},
			kind: routeerr.ErrDanglingReference,
			msg:  "downstream 99",
		},
		{
			name: "self loop",
			rows: []Params{channel(1, NoSegment), channel(2, 2)},
			kind: routeerr.ErrCyclicNetwork,
		},
		{
			name: "cycle to ancestor",
			rows: []Params{channel(1, 2), channel(2, 3), channel(3, 1), channel(4, NoSegment)},
			kind: routeerr.ErrCyclicNetwork,
			msg:  "cycle",
		},
		{
			name: "zero id",
			rows: []Params{channel(0, NoSegment)},
			kind: routeerr.ErrConfiguration,
		},
		{
			name: "invalid row",
			rows: []Params{func() Params { p := channel(1, NoSegment); p.Manning = 0; return p }()},
			kind: routeerr.ErrConfiguration,
			msg:  "n: must be greater than 0",
		},
		{
			name: "reservoir without area",
			rows: []Params{func() Params { p := channel(1, NoSegment); p.Method = Reservoir; return p }()},
			kind: routeerr.ErrConfiguration,
			msg:  "lake_area",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Build(tt.rows)
			if err == nil {
				t.Fatal("expected error")
			}
			if f != nil {
				t.Error("no partial forest may be returned on error")
			}
			if !errors.Is(err, tt.kind) {
				t.Errorf("error %v is not %v", err, tt.kind)
			}
			if tt.msg != "" && !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("error %q should mention %q", err, tt.msg)
			}
		})
	}
}

func TestBuild_CycleInjectedIntoValidTable(t *testing.T) {
	rows := confluenceTable()
	// Point the outlet D back at headwater A: A is now D's downstream and an
	// ancestor of D.
	rows[0].Downstream = 1

	_, err := Build(rows)
	if !errors.Is(err, routeerr.ErrCyclicNetwork) {
		t.Fatalf("Build() error = %v, want cyclic network", err)
	}
	ctx, ok := routeerr.Context(err)
	if !ok || !ctx.HasSegment {
		t.Fatalf("cycle error should carry a segment: %v", err)
	}
}

func TestBuild_DoesNotMutateInput(t *testing.T) {
	rows := confluenceTable()
	before := rows[0].ID
	if _, err := Build(rows); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if rows[0].ID != before {
		t.Error("Build reordered the caller's rows")
	}
}

func TestForest_ValidateDetectsCorruption(t *testing.T) {
	f, err := Build(confluenceTable())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	f.up[2] = []int{1, 0}
	if err := f.Validate(); !errors.Is(err, routeerr.ErrInvariantViolation) {
		t.Errorf("Validate() = %v, want invariant violation", err)
	}
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in   string
		want Method
		ok   bool
	}{
		{"", MuskingumCunge, true},
		{"MC", MuskingumCunge, true},
		{"diffusive", Diffusive, true},
		{"lake", Reservoir, true},
		{"kinematic", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseMethod(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseMethod(%q) error = %v", tt.in, err)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("ParseMethod(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if Diffusive.String() != "diffusive" {
		t.Errorf("String() = %q", Diffusive.String())
	}
}
