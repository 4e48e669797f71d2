package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/state"
)

// CSVHeader is the column layout of the timeseries file.
var CSVHeader = []string{"time", "step", "segment", "inflow", "outflow", "depth"}

// CSV writes one row per segment per step in long format. Rows within a step
// follow ascending segment id.
type CSV struct {
	mu       sync.Mutex
	w        *csv.Writer
	closer   io.Closer
	segments map[network.SegmentID]bool
	header   bool
}

// NewCSV writes to w. When segments is non-empty only those ids are written.
func NewCSV(w io.Writer, segments []network.SegmentID) *CSV {
	c := &CSV{w: csv.NewWriter(w)}
	if len(segments) > 0 {
		c.segments = make(map[network.SegmentID]bool, len(segments))
		for _, id := range segments {
			c.segments[id] = true
		}
	}
	if cl, ok := w.(io.Closer); ok {
		c.closer = cl
	}
	return c
}

// CreateCSV creates (truncating) the file at path.
func CreateCSV(path string, segments []network.SegmentID) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create timeseries file: %w", err)
	}
	return NewCSV(f, segments), nil
}

func (c *CSV) Name() string { return "csv" }

func (c *CSV) Write(_ context.Context, s *state.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.header {
		if err := c.w.Write(CSVHeader); err != nil {
			return err
		}
		c.header = true
	}

	f := s.Forest()
	when := s.Time().UTC().Format(time.RFC3339)
	step := strconv.Itoa(s.Step())
	row := make([]string, len(CSVHeader))
	for i := 0; i < s.Len(); i++ {
		id := f.ID(i)
		if c.segments != nil && !c.segments[id] {
			continue
		}
		row[0] = when
		row[1] = step
		row[2] = strconv.FormatInt(id, 10)
		row[3] = formatFloat(s.Inflow(i))
		row[4] = formatFloat(s.Outflow(i))
		row[5] = formatFloat(s.Depth(i))
		if err := c.w.Write(row); err != nil {
			return err
		}
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
		c.closer = nil
	}
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
