package network

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
	"github.com/dd0wney/cluso-flowroute/pkg/validation"
)

// visit marks used by cycle detection
const (
	unvisited uint8 = iota
	inProgress
	finished
)

// Build validates the parameter table and constructs the Forest.
func Build(rows []Params) (*Forest, error) {
	const op = "network.Build"

	if len(rows) == 0 {
		return nil, routeerr.Configuration(op, "parameter table is empty")
	}

	for i := range rows {
		if err := validateRow(&rows[i]); err != nil {
			return nil, err
		}
	}

	params := make([]Params, len(rows))
	copy(params, rows)
	sort.SliceStable(params, func(a, b int) bool { return params[a].ID < params[b].ID })

	index := make(map[SegmentID]int, len(params))
	for i := range params {
		if i > 0 && params[i].ID == params[i-1].ID {
			return nil, routeerr.New(op, routeerr.ErrDuplicateSegment).Segment(params[i].ID).Err()
		}
		index[params[i].ID] = i
	}

	down := make([]int, len(params))
	for i := range params {
		if params[i].IsOutlet() {
			down[i] = -1
			continue
		}
		d, ok := index[params[i].Downstream]
		if !ok {
			return nil, routeerr.New(op, routeerr.ErrDanglingReference).
				Segment(params[i].ID).
				Detail("downstream %d not in table", params[i].Downstream).
				Err()
		}
		down[i] = d
	}

	if err := detectCycle(params, down); err != nil {
		return nil, err
	}

	up := make([][]int, len(params))
	for i, d := range down {
		if d >= 0 {
			up[d] = append(up[d], i)
		}
	}

	f := &Forest{
		params: params,
		index:  index,
		down:   down,
		up:     up,
		treeOf: make([]int, len(params)),
	}
	f.buildTrees()

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func validateRow(p *Params) error {
	const op = "network.Build"
	if p.ID == NoSegment {
		return routeerr.Configuration(op, "segment id %d is reserved for outlets", NoSegment)
	}
	if err := validation.Struct(op, p); err != nil {
		if ctx, ok := routeerr.Context(err); ok {
			ctx.Segment = p.ID
			ctx.HasSegment = true
		}
		return err
	}
	switch p.Method {
	case MuskingumCunge, Diffusive:
	case Reservoir:
		if p.ReservoirArea <= 0 {
			return routeerr.New(op, routeerr.ErrConfiguration).Segment(p.ID).Detail("reservoir segment needs lake_area > 0").Err()
		}
	default:
		return routeerr.New(op, routeerr.ErrConfiguration).Segment(p.ID).Detail("unknown method %v", p.Method).Err()
	}
	return nil
}

// detectCycle follows downstream links from every segment, marking segments
// in progress along the current walk. Reaching an in-progress segment means
// the walk closed on itself.
func detectCycle(params []Params, down []int) error {
	mark := make([]uint8, len(params))
	path := make([]int, 0, 64)

	for start := range params {
		if mark[start] != unvisited {
			continue
		}
		path = path[:0]
		j := start
		for j >= 0 && mark[j] == unvisited {
			mark[j] = inProgress
			path = append(path, j)
			j = down[j]
		}
		if j >= 0 && mark[j] == inProgress {
			k := 0
			for path[k] != j {
				k++
			}
			cycle := path[k:]
			ids := make([]string, 0, len(cycle)+1)
			for _, c := range cycle {
				ids = append(ids, strconv.FormatInt(params[c].ID, 10))
			}
			ids = append(ids, strconv.FormatInt(params[j].ID, 10))
			return routeerr.New("network.Build", routeerr.ErrCyclicNetwork).
				Segment(params[j].ID).
				Detail("cycle %s", strings.Join(ids, " -> ")).
				Err()
		}
		for _, p := range path {
			mark[p] = finished
		}
	}
	return nil
}

// buildTrees walks upstream from each outlet breadth first and reverses the
// visit order, so every segment precedes its downstream segment.
func (f *Forest) buildTrees() {
	queue := make([]int, 0, 64)
	for i, d := range f.down {
		if d != -1 {
			continue
		}
		t := len(f.trees)
		queue = append(queue[:0], i)
		for head := 0; head < len(queue); head++ {
			s := queue[head]
			f.treeOf[s] = t
			queue = append(queue, f.up[s]...)
		}
		segs := make([]int, len(queue))
		for k := range queue {
			segs[k] = queue[len(queue)-1-k]
		}
		f.trees = append(f.trees, Tree{Outlet: i, Segments: segs})
	}
}
