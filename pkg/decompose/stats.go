package decompose

// Stats summarises a Plan for logs, metrics and the inspect command.
type Stats struct {
	Networks        int `json:"networks"`
	Reaches         int `json:"reaches"`
	Segments        int `json:"segments"`
	Headwaters      int `json:"headwater_reaches"`
	MaxRank         int `json:"max_rank"`
	LongestReach    int `json:"longest_reach"`
	LargestNetwork  int `json:"largest_network_segments"`
	LongestCritical int `json:"longest_critical_path"`
}

// Stats computes summary figures for the plan.
func (p *Plan) Stats() Stats {
	s := Stats{
		Networks: len(p.Networks),
		Reaches:  len(p.Reaches),
		Segments: len(p.ReachOf),
	}
	for i := range p.Reaches {
		r := &p.Reaches[i]
		if r.IsHeadwater() {
			s.Headwaters++
		}
		s.MaxRank = max(s.MaxRank, r.Rank)
		s.LongestReach = max(s.LongestReach, len(r.Segments))
		s.LongestCritical = max(s.LongestCritical, r.CriticalPath)
	}
	for _, n := range p.Networks {
		s.LargestNetwork = max(s.LargestNetwork, n.Segments)
	}
	return s
}

// Reach returns the reach with the given ID.
func (p *Plan) Reach(id int) *Reach {
	return &p.Reaches[id]
}

// ReachOfSegment returns the reach containing the segment with external id.
func (p *Plan) ReachOfSegment(id int64) (*Reach, bool) {
	i, ok := p.Forest.Index(id)
	if !ok {
		return nil, false
	}
	return &p.Reaches[p.ReachOf[i]], true
}
