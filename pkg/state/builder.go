package state

import (
	"errors"
	"time"
)

var errNegative = errors.New("negative value")

// Builder accumulates the next State. Distinct segments may be written from
// different goroutines as long as each segment has a single writer and
// readers of a segment are ordered after its writer.
type Builder struct {
	next *State
}

// NewBuilder starts the step after prev, ending at time t.
func NewBuilder(prev *State, t time.Time) *Builder {
	n := prev.Len()
	return &Builder{next: &State{
		forest:  prev.forest,
		step:    prev.step + 1,
		time:    t,
		inflow:  make([]float64, n),
		outflow: make([]float64, n),
		depth:   make([]float64, n),
	}}
}

// Step returns the index of the step being built.
func (b *Builder) Step() int { return b.next.step }

// Set writes every quantity for segment i.
func (b *Builder) Set(i int, inflow, outflow, depth float64) {
	b.next.inflow[i] = inflow
	b.next.outflow[i] = outflow
	b.next.depth[i] = depth
}

// Outflow returns the value already written for segment i.
func (b *Builder) Outflow(i int) float64 {
	return b.next.outflow[i]
}

// Freeze returns the finished State. The builder must not be used again.
func (b *Builder) Freeze() *State {
	s := b.next
	b.next = nil
	return s
}
