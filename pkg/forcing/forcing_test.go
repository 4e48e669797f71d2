package forcing

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
)

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

func TestBind_MapsColumnsToArena(t *testing.T) {
	f := testForest(t)
	// Columns deliberately out of arena order, plus one unknown segment.
	m, err := NewMemory([]network.SegmentID{4, 2, 99, 1, 3}, [][]float64{
		{0.4, 0.2, 9, 0.1, 0.3},
		{1.4, 1.2, 9, 1.1, 1.3},
	})
	if err != nil {
		t.Fatal(err)
	}

	b, err := Bind(m, f)
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := b.CheckHorizon(2); err != nil {
		t.Errorf("CheckHorizon(2): %v", err)
	}
	if err := b.CheckHorizon(3); !errors.Is(err, routeerr.ErrConfiguration) {
		t.Errorf("CheckHorizon(3) = %v, want configuration error", err)
	}

	fr, err := b.Frame(2)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release(fr)
	for _, id := range []int64{1, 2, 3, 4} {
		i, _ := f.Index(id)
		want := 1 + float64(id)/10
		if math.Abs(fr.Lateral[i]-want) > 1e-12 {
			t.Errorf("segment %d lateral = %v, want %v", id, fr.Lateral[i], want)
		}
	}
	if fr.Boundary != nil {
		t.Errorf("no boundary expected, got %v", fr.Boundary)
	}

	if _, err := b.Frame(3); !errors.Is(err, routeerr.ErrConfiguration) {
		t.Errorf("Frame past horizon = %v", err)
	}
}

func TestBind_MissingSegment(t *testing.T) {
	f := testForest(t)
	m, _ := NewMemory([]network.SegmentID{1, 2, 4}, [][]float64{{0, 0, 0}})

	_, err := Bind(m, f)
	if !errors.Is(err, routeerr.ErrConfiguration) {
		t.Fatalf("got %v, want configuration error", err)
	}
	if !strings.Contains(err.Error(), "3") {
		t.Errorf("error should name segment 3: %v", err)
	}
}

func TestBind_DuplicateColumn(t *testing.T) {
	f := testForest(t)
	m, _ := NewMemory([]network.SegmentID{1, 2, 3, 4, 2}, [][]float64{{0, 0, 0, 0, 0}})
	if _, err := Bind(m, f); !errors.Is(err, routeerr.ErrConfiguration) {
		t.Errorf("got %v, want configuration error", err)
	}
}

func TestBind_Boundary(t *testing.T) {
	f := testForest(t)
	m, _ := NewMemory(f.IDs(), [][]float64{{0, 0, 0, 0}, {0, 0, 0, 0}})

	withBoundary, err := m.WithBoundary([]network.SegmentID{1}, [][]float64{{2.5}, {math.NaN()}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Bind(withBoundary, f)
	if err != nil {
		t.Fatal(err)
	}
	head, _ := f.Index(1)

	fr, _ := b.Frame(1)
	if fr.Boundary[head] != 2.5 {
		t.Errorf("boundary = %v", fr.Boundary)
	}
	fr, _ = b.Frame(2)
	if _, ok := fr.Boundary[head]; ok {
		t.Error("NaN boundary should mean no override")
	}

	// Segment 3 has upstream segments, so it cannot take a boundary.
	bad, _ := NewMemory(f.IDs(), [][]float64{{0, 0, 0, 0}})
	bad, _ = bad.WithBoundary([]network.SegmentID{3}, [][]float64{{1}})
	if _, err := Bind(bad, f); !errors.Is(err, routeerr.ErrConfiguration) {
		t.Errorf("boundary on confluence: got %v", err)
	}
}

func TestFrame_NonFinite(t *testing.T) {
	f := testForest(t)
	m, _ := NewMemory(f.IDs(), [][]float64{{0, math.Inf(1), 0, 0}})
	b, _ := Bind(m, f)

	if _, err := b.Frame(1); !errors.Is(err, routeerr.ErrNonFinite) {
		t.Errorf("got %v, want non-finite error", err)
	}
}

func TestConstantAndUniform(t *testing.T) {
	f := testForest(t)

	c := NewConstant(map[network.SegmentID]float64{1: 1, 2: 1, 3: 0, 4: 0}, 5)
	if c.Steps() != 5 || len(c.Columns()) != 4 || c.Columns()[0] != 1 {
		t.Fatalf("constant provider: steps %d columns %v", c.Steps(), c.Columns())
	}
	b, err := Bind(c, f)
	if err != nil {
		t.Fatal(err)
	}
	fr, _ := b.Frame(5)
	if i, _ := f.Index(2); fr.Lateral[i] != 1 {
		t.Errorf("segment 2 lateral = %v", fr.Lateral[i])
	}

	u := Uniform(f, 0.25, 3)
	dst := make([]float64, 4)
	if err := u.Lateral(3, dst); err != nil || dst[3] != 0.25 {
		t.Errorf("uniform lateral = %v, %v", dst, err)
	}
	if err := u.Lateral(4, dst); err == nil {
		t.Error("step past range should fail")
	}
}

func TestReadCSV(t *testing.T) {
	in := `# lateral inflow, m3/s
time,1,2,3,4
2024-06-01T01:00:00Z,1.0,1.0,0,0
2024-06-01T02:00:00Z,0.5, 0.75,0,0.1
`
	m, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if m.Steps() != 2 || len(m.Columns()) != 4 {
		t.Fatalf("steps %d columns %v", m.Steps(), m.Columns())
	}
	dst := make([]float64, 4)
	_ = m.Lateral(2, dst)
	if dst[1] != 0.75 || dst[3] != 0.1 {
		t.Errorf("step 2 = %v", dst)
	}

	for name, bad := range map[string]string{
		"bad id":    "time,abc\n1,0\n",
		"bad value": "time,1\n1,x\n",
		"no column": "time\n1\n",
		"ragged":    "time,1,2\n1,0\n",
	} {
		if _, err := ReadCSV(strings.NewReader(bad)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestReadCSV_BoundaryColumns(t *testing.T) {
	in := `time,1,2,3,4,b:1
2024-06-01T01:00:00Z,0,0,0,0,3.5
2024-06-01T02:00:00Z,0,0,0,0,
`
	m, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(m.Columns()) != 4 || len(m.BoundaryColumns()) != 1 || m.BoundaryColumns()[0] != 1 {
		t.Fatalf("columns %v boundary %v", m.Columns(), m.BoundaryColumns())
	}

	f := testForest(t)
	b, err := Bind(m, f)
	if err != nil {
		t.Fatal(err)
	}
	head, _ := f.Index(1)
	fr, _ := b.Frame(1)
	if fr.Boundary[head] != 3.5 {
		t.Errorf("step 1 boundary = %v", fr.Boundary)
	}
	fr, _ = b.Frame(2)
	if _, ok := fr.Boundary[head]; ok {
		t.Error("empty boundary cell should mean no override")
	}

	if _, err := ReadCSV(strings.NewReader("time,1,b:x\n1,0,0\n")); err == nil {
		t.Error("bad boundary id: expected error")
	}
	if _, err := ReadCSV(strings.NewReader("time,1,b:1\n1,0,wet\n")); err == nil {
		t.Error("bad boundary value: expected error")
	}
}

func TestBinary_CarriesBoundaryColumns(t *testing.T) {
	f := testForest(t)
	m, _ := NewMemory(f.IDs(), [][]float64{{0, 0, 0, 0}, {0, 0, 0, 0}})
	m, err := m.WithBoundary([]network.SegmentID{2}, [][]float64{{math.NaN()}, {7.25}})
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "forcing.bin")
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteBinary(out, m); err != nil {
		t.Fatalf("WriteBinary failed: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}

	bin, err := OpenBinary(path)
	if err != nil {
		t.Fatalf("OpenBinary failed: %v", err)
	}
	defer bin.Close()

	if cols := bin.BoundaryColumns(); len(cols) != 1 || cols[0] != 2 {
		t.Fatalf("boundary columns = %v", cols)
	}
	b, err := Bind(bin, f)
	if err != nil {
		t.Fatal(err)
	}
	head, _ := f.Index(2)
	fr, _ := b.Frame(1)
	if _, ok := fr.Boundary[head]; ok {
		t.Error("NaN boundary should mean no override")
	}
	fr, _ = b.Frame(2)
	if fr.Boundary[head] != 7.25 {
		t.Errorf("step 2 boundary = %v", fr.Boundary)
	}
}

func TestOpenBinary_ReadsLateralOnlyVersion(t *testing.T) {
	// Version 1: 16-byte header, no boundary columns.
	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, BinaryMagic)
	buf = binary.LittleEndian.AppendUint32(buf, 1)
	buf = binary.LittleEndian.AppendUint32(buf, 2)
	buf = binary.LittleEndian.AppendUint32(buf, 1)
	buf = binary.LittleEndian.AppendUint64(buf, 1)
	buf = binary.LittleEndian.AppendUint64(buf, 2)
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(0.5))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(1.5))

	path := filepath.Join(t.TempDir(), "v1.bin")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
	bin, err := OpenBinary(path)
	if err != nil {
		t.Fatalf("OpenBinary failed: %v", err)
	}
	defer bin.Close()

	if bin.Steps() != 1 || len(bin.Columns()) != 2 || len(bin.BoundaryColumns()) != 0 {
		t.Fatalf("steps %d columns %v boundary %v", bin.Steps(), bin.Columns(), bin.BoundaryColumns())
	}
	dst := make([]float64, 2)
	if err := bin.Lateral(1, dst); err != nil || dst[0] != 0.5 || dst[1] != 1.5 {
		t.Errorf("lateral = %v, %v", dst, err)
	}
}

func TestBinary_RoundTripThroughMmap(t *testing.T) {
	f := testForest(t)
	m, _ := NewMemory([]network.SegmentID{3, 1, 4, 2}, [][]float64{
		{0.3, 0.1, 0.4, 0.2},
		{1.3, 1.1, 1.4, 1.2},
		{2.3, 2.1, 2.4, 2.2},
	})

	path := filepath.Join(t.TempDir(), "forcing.bin")
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteBinary(out, m); err != nil {
		t.Fatalf("WriteBinary failed: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}

	bin, err := OpenBinary(path)
	if err != nil {
		t.Fatalf("OpenBinary failed: %v", err)
	}
	defer bin.Close()

	if bin.Steps() != 3 {
		t.Errorf("Steps() = %d", bin.Steps())
	}
	b, err := Bind(bin, f)
	if err != nil {
		t.Fatal(err)
	}
	fr, err := b.Frame(3)
	if err != nil {
		t.Fatal(err)
	}
	if i, _ := f.Index(4); fr.Lateral[i] != 2.4 {
		t.Errorf("segment 4 step 3 = %v, want 2.4", fr.Lateral[i])
	}
}

func TestOpenBinary_Rejects(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.bin")
	_ = os.WriteFile(garbage, []byte("not a forcing file at all"), 0o644)
	if _, err := OpenBinary(garbage); err == nil {
		t.Error("bad magic should fail")
	}

	m, _ := NewMemory([]network.SegmentID{1}, [][]float64{{1}, {2}})
	truncated := filepath.Join(dir, "truncated.bin")
	fh, _ := os.Create(truncated)
	_ = WriteBinary(fh, m)
	_ = fh.Close()
	info, _ := os.Stat(truncated)
	_ = os.Truncate(truncated, info.Size()-4)
	if _, err := OpenBinary(truncated); err == nil {
		t.Error("truncated file should fail")
	}
}
