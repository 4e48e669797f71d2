package state

import (
	"errors"
	"testing"
	"time"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func testForest(t *testing.T) *network.Forest {
	t.Helper()
	row := func(id, down int64) network.Params {
		return network.Params{ID: id, Downstream: down, Length: 500, Slope: 0.002, Manning: 0.04, BottomWidth: 5}
	}
	f, err := network.Build([]network.Params{row(4, 0), row(3, 4), row(1, 3), row(2, 3)})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return f
}

func TestCold(t *testing.T) {
	f := testForest(t)
	s := Cold(f, t0)

	if s.Step() != 0 || !s.Time().Equal(t0) || s.Len() != 4 {
		t.Fatalf("unexpected cold state: step %d len %d", s.Step(), s.Len())
	}
	if q, ok := s.Discharge(4); !ok || q != 0 {
		t.Errorf("Discharge(4) = %v, %v", q, ok)
	}
	if _, ok := s.Discharge(99); ok {
		t.Error("unknown segment should report false")
	}
}

func TestFromValues(t *testing.T) {
	f := testForest(t)
	vals := map[network.SegmentID]Values{
		1: {Inflow: 1, Outflow: 1, Depth: 0.2},
		2: {Inflow: 1, Outflow: 1, Depth: 0.2},
		3: {Inflow: 2, Outflow: 2, Depth: 0.3},
		4: {Inflow: 2, Outflow: 2, Depth: 0.3},
	}

	s, err := FromValues(f, t0, vals)
	if err != nil {
		t.Fatalf("FromValues failed: %v", err)
	}
	if q, _ := s.Discharge(4); q != 2 {
		t.Errorf("Discharge(4) = %v, want 2", q)
	}
	if h, _ := s.Stage(1); h != 0.2 {
		t.Errorf("Stage(1) = %v, want 0.2", h)
	}
	if got := s.Values(); len(got) != 4 || got[3] != vals[3] {
		t.Errorf("Values() = %v", got)
	}
	if s.TotalOutflow() != 2 {
		t.Errorf("TotalOutflow() = %v, want 2", s.TotalOutflow())
	}

	delete(vals, 3)
	_, err = FromValues(f, t0, vals)
	if !errors.Is(err, routeerr.ErrConfiguration) {
		t.Fatalf("missing segment: got %v", err)
	}
	if ctx, _ := routeerr.Context(err); ctx.Segment != 3 {
		t.Errorf("error should name segment 3, got %+v", ctx)
	}

	vals[3] = Values{Outflow: -1}
	if _, err := FromValues(f, t0, vals); !errors.Is(err, routeerr.ErrConfiguration) {
		t.Errorf("negative value: got %v", err)
	}

	vals[3] = Values{}
	vals[42] = Values{}
	if _, err := FromValues(f, t0, vals); !errors.Is(err, routeerr.ErrConfiguration) {
		t.Errorf("unknown segment: got %v", err)
	}
}

func TestBuilder_DoesNotTouchPrevious(t *testing.T) {
	f := testForest(t)
	prev := Cold(f, t0)

	b := NewBuilder(prev, t0.Add(time.Hour))
	for i := 0; i < f.Len(); i++ {
		b.Set(i, 1, float64(i), 0.1)
	}
	if b.Outflow(2) != 2 {
		t.Errorf("Outflow(2) = %v", b.Outflow(2))
	}
	next := b.Freeze()

	if next.Step() != 1 || !next.Time().Equal(t0.Add(time.Hour)) {
		t.Errorf("next step %d at %v", next.Step(), next.Time())
	}
	for i := 0; i < f.Len(); i++ {
		if prev.Outflow(i) != 0 {
			t.Fatalf("previous state modified at %d", i)
		}
	}
	if Identical(prev, next) {
		t.Error("different steps should not be identical")
	}
}

func TestFromArrays(t *testing.T) {
	f := testForest(t)
	in := []float64{1, 1, 2, 2}

	s, err := FromArrays(f, 7, t0, in, in, []float64{0, 0, 0, 0})
	if err != nil {
		t.Fatalf("FromArrays failed: %v", err)
	}
	in[0] = 99
	if s.Inflow(0) != 1 {
		t.Error("FromArrays should copy its input")
	}
	again, _ := FromArrays(f, 7, t0, []float64{1, 1, 2, 2}, []float64{1, 1, 2, 2}, []float64{0, 0, 0, 0})
	if !Identical(s, again) {
		t.Error("equal arrays should be identical")
	}

	if _, err := FromArrays(f, 0, t0, in[:2], in, in); !errors.Is(err, routeerr.ErrConfiguration) {
		t.Errorf("short column: got %v", err)
	}
}
