package network

// channel returns a valid Muskingum-Cunge row draining to down.
func channel(id, down SegmentID) Params {
	return Params{
		ID:          id,
		Downstream:  down,
		Length:      1000,
		Slope:       0.001,
		Manning:     0.035,
		BottomWidth: 10,
		SideSlope:   2,
	}
}

// confluenceTable is A,B -> C -> D.
func confluenceTable() []Params {
	return []Params{
		channel(4, NoSegment), // D
		channel(3, 4),         // C
		channel(1, 3),         // A
		channel(2, 3),         // B
	}
}
