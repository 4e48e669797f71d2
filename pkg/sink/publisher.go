package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"

	// Register transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/state"
)

// Record is one segment in a published frame.
type Record struct {
	ID      network.SegmentID `json:"id"`
	Inflow  float64           `json:"inflow"`
	Outflow float64           `json:"outflow"`
	Depth   float64           `json:"depth"`
}

// Frame is the JSON message published for each completed step.
type Frame struct {
	RunID        string    `json:"run_id"`
	Step         int       `json:"step"`
	Horizon      int       `json:"horizon,omitempty"`
	Time         time.Time `json:"time"`
	TotalOutflow float64   `json:"total_outflow"`
	Segments     []Record  `json:"segments"`
}

// DecodeFrame parses a published message.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	return &f, nil
}

// Publisher broadcasts each completed step on a PUB socket. Subscribers that
// are not connected or fall behind miss frames; publishing never blocks the
// simulation.
type Publisher struct {
	mu       sync.Mutex
	sock     mangos.Socket
	runID    string
	horizon  int
	segments []network.SegmentID
	sent     uint64
}

// NewPublisher listens on addr (for example tcp://*:9190 or
// inproc://flowroute). When segments is non-empty only those ids are
// included in frames.
func NewPublisher(addr, runID string, segments []network.SegmentID) (*Publisher, error) {
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to bind PUB socket: %w", err)
	}
	return &Publisher{
		sock:     sock,
		runID:    runID,
		segments: append([]network.SegmentID(nil), segments...),
	}, nil
}

// SetHorizon announces the run length in every frame.
func (p *Publisher) SetHorizon(n int) {
	p.mu.Lock()
	p.horizon = n
	p.mu.Unlock()
}

// Name identifies the sink in logs and metrics.
func (p *Publisher) Name() string { return "publisher" }

// Write publishes one frame for s. Frames are dropped rather than queued
// when no subscriber is connected.
func (p *Publisher) Write(_ context.Context, s *state.State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.Marshal(p.frame(s))
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := p.sock.Send(data); err != nil {
		return fmt.Errorf("failed to publish step %d: %w", s.Step(), err)
	}
	p.sent++
	return nil
}

// Sent returns the number of frames published.
func (p *Publisher) Sent() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Close closes the PUB socket.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sock.Close()
}

func (p *Publisher) frame(s *state.State) Frame {
	fr := Frame{
		RunID:        p.runID,
		Step:         s.Step(),
		Horizon:      p.horizon,
		Time:         s.Time().UTC(),
		TotalOutflow: s.TotalOutflow(),
	}
	f := s.Forest()
	if len(p.segments) == 0 {
		fr.Segments = make([]Record, s.Len())
		for i := range fr.Segments {
			fr.Segments[i] = Record{ID: f.ID(i), Inflow: s.Inflow(i), Outflow: s.Outflow(i), Depth: s.Depth(i)}
		}
		return fr
	}
	fr.Segments = make([]Record, 0, len(p.segments))
	for _, id := range p.segments {
		i, ok := f.Index(id)
		if !ok {
			continue
		}
		fr.Segments = append(fr.Segments, Record{ID: id, Inflow: s.Inflow(i), Outflow: s.Outflow(i), Depth: s.Depth(i)})
	}
	return fr
}
