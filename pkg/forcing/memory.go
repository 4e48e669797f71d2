package forcing

import (
	"fmt"
	"slices"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
)

// Memory holds forcing in memory, one row per step.
type Memory struct {
	columns []network.SegmentID
	rows    [][]float64

	boundaryColumns []network.SegmentID
	boundaryRows    [][]float64
}

// NewMemory creates a provider from step-major rows; rows[k] is step k+1.
func NewMemory(columns []network.SegmentID, rows [][]float64) (*Memory, error) {
	for k, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", k+1, len(r), len(columns))
		}
	}
	return &Memory{columns: columns, rows: rows}, nil
}

// WithBoundary attaches headwater boundary inflow. A NaN value means no
// override for that step.
func (m *Memory) WithBoundary(columns []network.SegmentID, rows [][]float64) (*Memory, error) {
	if len(rows) != len(m.rows) {
		return nil, fmt.Errorf("boundary has %d steps, lateral has %d", len(rows), len(m.rows))
	}
	for k, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("boundary row %d has %d values, want %d", k+1, len(r), len(columns))
		}
	}
	m.boundaryColumns, m.boundaryRows = columns, rows
	return m, nil
}

// Columns implements Provider.
func (m *Memory) Columns() []network.SegmentID { return m.columns }

// Steps implements Provider.
func (m *Memory) Steps() int { return len(m.rows) }

// Lateral implements Provider.
func (m *Memory) Lateral(step int, dst []float64) error {
	if step < 1 || step > len(m.rows) {
		return stepError(step, len(m.rows))
	}
	copy(dst, m.rows[step-1])
	return nil
}

// BoundaryColumns implements BoundaryProvider.
func (m *Memory) BoundaryColumns() []network.SegmentID { return m.boundaryColumns }

// Boundary implements BoundaryProvider.
func (m *Memory) Boundary(step int, dst []float64) error {
	if step < 1 || step > len(m.boundaryRows) {
		if len(m.boundaryColumns) == 0 {
			return nil
		}
		return stepError(step, len(m.boundaryRows))
	}
	copy(dst, m.boundaryRows[step-1])
	return nil
}

// Constant supplies the same lateral inflow for every step.
type Constant struct {
	columns []network.SegmentID
	values  []float64
	steps   int
}

// NewConstant creates a provider returning values for steps steps.
func NewConstant(values map[network.SegmentID]float64, steps int) *Constant {
	c := &Constant{steps: steps}
	for id := range values {
		c.columns = append(c.columns, id)
	}
	slices.Sort(c.columns)
	for _, id := range c.columns {
		c.values = append(c.values, values[id])
	}
	return c
}

// Uniform gives every segment of f the same lateral inflow.
func Uniform(f *network.Forest, value float64, steps int) *Constant {
	c := &Constant{columns: f.IDs(), steps: steps}
	c.values = make([]float64, len(c.columns))
	for i := range c.values {
		c.values[i] = value
	}
	return c
}

// Columns implements Provider.
func (c *Constant) Columns() []network.SegmentID { return c.columns }

// Steps implements Provider.
func (c *Constant) Steps() int { return c.steps }

// Lateral implements Provider.
func (c *Constant) Lateral(step int, dst []float64) error {
	if step < 1 || step > c.steps {
		return stepError(step, c.steps)
	}
	copy(dst, c.values)
	return nil
}
