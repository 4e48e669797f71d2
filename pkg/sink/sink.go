// Package sink holds the output collaborators of a simulation. A sink
// receives every completed state in step order and never sees a partially
// advanced network.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-flowroute/pkg/metrics"
	"github.com/dd0wney/cluso-flowroute/pkg/state"
)

// Sink consumes completed simulation states.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	// Write is called once per completed step, in step order.
	Write(ctx context.Context, s *state.State) error
	// Close flushes buffered output.
	Close() error
}

// Memory keeps every state it receives. It is used by tests and by callers
// that post-process a short run.
type Memory struct {
	mu     sync.Mutex
	states []*state.State
	closed bool
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Write(_ context.Context, s *state.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	m.states = append(m.states, s)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// States returns the received states in arrival order.
func (m *Memory) States() []*state.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*state.State(nil), m.states...)
}

// Steps returns the step index of every received state.
func (m *Memory) Steps() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps := make([]int, len(m.states))
	for i, s := range m.states {
		steps[i] = s.Step()
	}
	return steps
}

// Last returns the most recent state, or nil.
func (m *Memory) Last() *state.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.states) == 0 {
		return nil
	}
	return m.states[len(m.states)-1]
}

var errClosed = errors.New("sink closed")

// Multi fans each state out to several sinks in order, recording write
// outcomes in the metrics registry.
type Multi struct {
	sinks   []Sink
	metrics *metrics.Registry
}

// NewMulti combines sinks. A nil registry disables metrics.
func NewMulti(reg *metrics.Registry, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, metrics: reg}
}

func (m *Multi) Name() string { return "multi" }

// Write stops at the first failing sink.
func (m *Multi) Write(ctx context.Context, s *state.State) error {
	for _, sk := range m.sinks {
		start := time.Now()
		err := sk.Write(ctx, s)
		if m.metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			m.metrics.RecordSinkWrite(sk.Name(), status, time.Since(start))
		}
		if err != nil {
			return fmt.Errorf("sink %s: step %d: %w", sk.Name(), s.Step(), err)
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, sk := range m.sinks {
		if err := sk.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", sk.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Len reports the number of wrapped sinks.
func (m *Multi) Len() int { return len(m.sinks) }
