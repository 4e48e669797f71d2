package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/dd0wney/cluso-flowroute/pkg/metrics"
	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/state"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// confluence is A(1),B(2) -> C(3) -> D(4).
func confluence(t *testing.T) *network.Forest {
	t.Helper()
	row := func(id, down int64) network.Params {
		return network.Params{ID: id, Downstream: down, Length: 1000, Slope: 0.001, Manning: 0.035, BottomWidth: 10}
	}
	f, err := network.Build([]network.Params{row(4, 0), row(3, 4), row(1, 3), row(2, 3)})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return f
}

func stepState(t *testing.T, f *network.Forest, step int) *state.State {
	t.Helper()
	q := float64(step)
	s, err := state.FromArrays(f, step, t0.Add(time.Duration(step)*time.Hour),
		[]float64{q, q, 2 * q, 2 * q},
		[]float64{q, q, 2 * q, 2 * q},
		[]float64{0.1, 0.1, 0.2, 0.25})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestMemory(t *testing.T) {
	f := confluence(t)
	m := NewMemory()
	if m.Last() != nil {
		t.Fatal("empty sink should have no last state")
	}
	for step := 1; step <= 3; step++ {
		if err := m.Write(context.Background(), stepState(t, f, step)); err != nil {
			t.Fatal(err)
		}
	}
	if got := m.Steps(); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("Steps() = %v", got)
	}
	if m.Last().Step() != 3 {
		t.Errorf("Last().Step() = %d", m.Last().Step())
	}
	m.Close()
	if err := m.Write(context.Background(), stepState(t, f, 4)); err == nil {
		t.Error("write after close should fail")
	}
}

func TestCSV(t *testing.T) {
	f := confluence(t)
	var buf bytes.Buffer
	c := NewCSV(&buf, nil)
	for step := 1; step <= 2; step++ {
		if err := c.Write(context.Background(), stepState(t, f, step)); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1+2*4 {
		t.Fatalf("got %d rows, want 9", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(CSVHeader, ",") {
		t.Errorf("header = %v", rows[0])
	}
	last := rows[len(rows)-1]
	want := []string{"2024-06-01T02:00:00Z", "2", "4", "4", "4", "0.25"}
	if strings.Join(last, ",") != strings.Join(want, ",") {
		t.Errorf("last row = %v, want %v", last, want)
	}
}

func TestCSV_SegmentFilterAndFile(t *testing.T) {
	f := confluence(t)
	path := filepath.Join(t.TempDir(), "chrtout.csv")
	c, err := CreateCSV(path, []network.SegmentID{4})
	if err != nil {
		t.Fatal(err)
	}
	for step := 1; step <= 3; step++ {
		if err := c.Write(context.Background(), stepState(t, f, step)); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header + 3", len(lines))
	}
	for _, l := range lines[1:] {
		if !strings.Contains(l, ",4,") {
			t.Errorf("unexpected row %q", l)
		}
	}
}

type failingSink struct{ closeErr error }

func (failingSink) Name() string { return "failing" }
func (failingSink) Write(context.Context, *state.State) error {
	return errors.New("disk full")
}
func (f failingSink) Close() error { return f.closeErr }

func counterValue(t *testing.T, reg *metrics.Registry, sink, status string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := reg.SinkWritesTotal.WithLabelValues(sink, status).Write(m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestMulti(t *testing.T) {
	f := confluence(t)
	reg := metrics.NewRegistry()
	a, b := NewMemory(), NewMemory()
	multi := NewMulti(reg, a, b)

	for step := 1; step <= 2; step++ {
		if err := multi.Write(context.Background(), stepState(t, f, step)); err != nil {
			t.Fatal(err)
		}
	}
	if len(a.States()) != 2 || len(b.States()) != 2 {
		t.Errorf("fan-out: %d and %d states", len(a.States()), len(b.States()))
	}
	if got := counterValue(t, reg, "memory", "ok"); got != 4 {
		t.Errorf("memory ok writes = %v, want 4", got)
	}
	if err := multi.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMulti_StopsAtFirstFailure(t *testing.T) {
	f := confluence(t)
	reg := metrics.NewRegistry()
	after := NewMemory()
	multi := NewMulti(reg, failingSink{closeErr: errors.New("boom")}, after)

	err := multi.Write(context.Background(), stepState(t, f, 1))
	if err == nil || !strings.Contains(err.Error(), "sink failing: step 1") {
		t.Fatalf("got %v", err)
	}
	if len(after.States()) != 0 {
		t.Error("sinks after a failure should not be written")
	}
	if got := counterValue(t, reg, "failing", "error"); got != 1 {
		t.Errorf("error writes = %v, want 1", got)
	}
	if err := multi.Close(); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Close() = %v", err)
	}
}

func TestStateRows(t *testing.T) {
	f := confluence(t)
	rows := stateRows("run-1", stepState(t, f, 3))
	if len(rows) != 4 {
		t.Fatalf("got %d rows", len(rows))
	}
	for _, r := range rows {
		if len(r) != len(stateColumns) {
			t.Fatalf("row has %d values, want %d", len(r), len(stateColumns))
		}
	}
	outlet := rows[3]
	if outlet[0] != "run-1" || outlet[1] != 3 || outlet[3] != int64(4) || outlet[5] != 6.0 {
		t.Errorf("outlet row = %v", outlet)
	}
	if ts, ok := outlet[2].(time.Time); !ok || !ts.Equal(t0.Add(3*time.Hour)) {
		t.Errorf("model_time = %v", outlet[2])
	}
}
