package forcing

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
)

// BoundaryPrefix marks a CSV header as headwater boundary inflow for the
// segment id that follows it, e.g. "b:1042".
const BoundaryPrefix = "b:"

// ReadCSV parses a forcing table. The first column is a time label and is
// ignored; every other header is a segment id, and each row is one step of
// lateral inflow in m3/s. Headers written as BoundaryPrefix plus an id carry
// boundary inflow for that headwater instead; an empty boundary cell leaves
// the step without an override.
func ReadCSV(r io.Reader) (*Memory, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read forcing header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("forcing header needs a time column and at least one segment")
	}

	var (
		columns, bcolumns []network.SegmentID
		isBoundary        = make([]bool, len(header)-1)
	)
	for k, h := range header[1:] {
		h = strings.TrimSpace(h)
		raw, boundary := strings.CutPrefix(h, BoundaryPrefix)
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("forcing column %d: segment id %q: %w", k+2, h, err)
		}
		isBoundary[k] = boundary
		if boundary {
			bcolumns = append(bcolumns, id)
		} else {
			columns = append(columns, id)
		}
	}

	var rows, brows [][]float64
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read forcing: %w", err)
		}
		row := make([]float64, 0, len(columns))
		brow := make([]float64, 0, len(bcolumns))
		for k, v := range rec[1:] {
			v = strings.TrimSpace(v)
			if isBoundary[k] {
				if v == "" {
					brow = append(brow, math.NaN())
					continue
				}
				x, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return nil, fmt.Errorf("forcing line %d column %d: %w", line, k+2, err)
				}
				brow = append(brow, x)
				continue
			}
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("forcing line %d column %d: %w", line, k+2, err)
			}
			row = append(row, x)
		}
		rows = append(rows, row)
		brows = append(brows, brow)
	}

	m, err := NewMemory(columns, rows)
	if err != nil || len(bcolumns) == 0 {
		return m, err
	}
	return m.WithBoundary(bcolumns, brows)
}

// OpenCSV reads a forcing table from path.
func OpenCSV(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}
