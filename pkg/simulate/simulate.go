// Package simulate drives a scheduler through the simulation horizon, one
// global time step at a time.
//
// A Simulation is a lazy, finite sequence of states. Each call to Next
// fetches the step's forcing, routes the whole forest, hands the new state to
// the sink and only then exposes it. A step that fails is never emitted; the
// sequence ends after the first unrecovered failure.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-flowroute/pkg/forcing"
	"github.com/dd0wney/cluso-flowroute/pkg/logging"
	"github.com/dd0wney/cluso-flowroute/pkg/metrics"
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
	"github.com/dd0wney/cluso-flowroute/pkg/scheduler"
	"github.com/dd0wney/cluso-flowroute/pkg/sink"
	"github.com/dd0wney/cluso-flowroute/pkg/state"
)

// Config is the time axis of a run.
type Config struct {
	// DT is the step length in seconds.
	DT float64
	// Horizon is the number of steps to simulate.
	Horizon int
}

func (c Config) stepDuration() time.Duration {
	return time.Duration(c.DT * float64(time.Second))
}

// Summary describes a finished (or aborted) run.
type Summary struct {
	RunID    string        `json:"run_id"`
	Steps    int           `json:"steps"`
	Retries  int           `json:"retries"`
	Elapsed  time.Duration `json:"elapsed"`
	LastTime time.Time     `json:"last_time"`
}

// Progress is a point-in-time view of a running simulation.
type Progress struct {
	Step     int
	Horizon  int
	Retries  int
	LastTime time.Time
	Updated  time.Time // wall clock time of the last completed step
	Err      error
	Done     bool
}

// Simulation advances one forest from an initial state.
type Simulation struct {
	sched   *scheduler.Scheduler
	binding *forcing.Binding
	out     sink.Sink
	cfg     Config

	logger  logging.Logger
	metrics *metrics.Registry
	retry   RetryPolicy
	runID   string

	prev    *state.State
	started time.Time

	mu      sync.Mutex
	steps   int
	retries int
	updated time.Time
	err     error
	done    bool
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Simulation) { s.logger = logging.OrDefault(l) }
}

// WithMetrics records step metrics into r.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Simulation) { s.metrics = r }
}

// WithRetryPolicy consults p when a step fails. Without one every step
// failure ends the run.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Simulation) { s.retry = p }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(s *Simulation) { s.runID = id }
}

// New prepares a run. Every segment must have a forcing column and the
// forcing must cover the horizon; otherwise a configuration error is
// returned before any step is taken. out may be nil.
func New(sched *scheduler.Scheduler, initial *state.State, provider forcing.Provider, out sink.Sink, cfg Config, opts ...Option) (*Simulation, error) {
	const op = "simulate.New"

	if sched == nil || initial == nil || provider == nil {
		return nil, routeerr.Invariant(op, "nil scheduler, initial state or forcing")
	}
	f := sched.Plan().Forest
	if initial.Forest() != f {
		return nil, routeerr.Invariant(op, "initial state belongs to a different forest")
	}
	if err := cfgValidate(cfg); err != nil {
		return nil, err
	}
	binding, err := forcing.Bind(provider, f)
	if err != nil {
		return nil, err
	}
	if err := binding.CheckHorizon(cfg.Horizon); err != nil {
		return nil, err
	}

	s := &Simulation{
		sched:   sched,
		binding: binding,
		out:     out,
		cfg:     cfg,
		logger:  logging.NopLogger{},
		prev:    initial,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	s.logger = s.logger.With(logging.RunID(s.runID))
	return s, nil
}

func cfgValidate(cfg Config) error {
	const op = "simulate.New"
	if !(cfg.DT > 0) {
		return routeerr.Configuration(op, "time step must be positive, got %v", cfg.DT)
	}
	if cfg.Horizon <= 0 {
		return routeerr.Configuration(op, "horizon must be positive, got %d", cfg.Horizon)
	}
	return nil
}

// RunID identifies this run in logs, sinks and metrics.
func (s *Simulation) RunID() string { return s.runID }

// Current returns the most recently emitted state (the initial state before
// the first step).
func (s *Simulation) Current() *state.State { return s.prev }

// Progress returns a snapshot safe to read from other goroutines.
func (s *Simulation) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Progress{
		Step:     s.steps,
		Horizon:  s.cfg.Horizon,
		Retries:  s.retries,
		LastTime: s.prev.Time(),
		Updated:  s.updated,
		Err:      s.err,
		Done:     s.done,
	}
}

// Next advances one step and returns the new state. It returns io.EOF once
// the horizon is reached or after a step has failed; the failure itself is
// returned by the call that hit it.
func (s *Simulation) Next(ctx context.Context) (*state.State, error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil, io.EOF
	}
	if s.steps == 0 && s.started.IsZero() {
		s.started = time.Now()
		s.logger.Info("simulation started",
			logging.Int("horizon", s.cfg.Horizon),
			logging.Float64("dt", s.cfg.DT),
			logging.Workers(s.sched.Workers()))
	}
	if s.steps >= s.cfg.Horizon {
		s.done = true
		s.mu.Unlock()
		return nil, io.EOF
	}
	s.mu.Unlock()

	next, err := s.advance(ctx, s.steps+1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err, s.done = err, true
		s.logger.Error("simulation aborted", logging.Step(s.steps+1), logging.Error(err))
		return nil, err
	}
	s.prev = next
	s.steps++
	s.updated = time.Now()
	return next, nil
}

func (s *Simulation) advance(ctx context.Context, n int) (*state.State, error) {
	frame, err := s.binding.Frame(n)
	if err != nil {
		return nil, err
	}
	defer s.binding.Release(frame)

	in := scheduler.StepInputs{
		Time:     s.prev.Time().Add(s.cfg.stepDuration()),
		DT:       s.cfg.DT,
		Lateral:  frame.Lateral,
		Boundary: frame.Boundary,
	}

	sched := s.sched
	for attempt := 1; ; attempt++ {
		start := time.Now()
		next, err := sched.RunStep(ctx, s.prev, in)
		if err == nil {
			s.recordStep("ok", time.Since(start))
			if err := s.emit(ctx, next); err != nil {
				return nil, err
			}
			return next, nil
		}
		s.recordStep("failed", time.Since(start))

		if ctx.Err() != nil || s.retry == nil {
			return nil, err
		}
		settings, ok := s.retry(RetryRequest{
			Step:     s.prev.Step() + 1,
			Attempt:  attempt,
			Err:      err,
			Settings: sched.Kernel().Settings(),
		})
		if !ok {
			return nil, err
		}
		kernel, kerr := sched.Kernel().WithSettings(settings)
		if kerr != nil {
			return nil, errors.Join(err, fmt.Errorf("retry settings rejected: %w", kerr))
		}
		if sched, kerr = s.sched.WithKernel(kernel); kerr != nil {
			return nil, errors.Join(err, kerr)
		}

		s.mu.Lock()
		s.retries++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordRetry()
		}
		s.logger.Warn("retrying step",
			logging.Step(s.prev.Step()+1),
			logging.Int("attempt", attempt+1),
			logging.Float64("tolerance", settings.Tolerance),
			logging.Int("max_iterations", settings.MaxIterations),
			logging.Error(err))
	}
}

func (s *Simulation) emit(ctx context.Context, next *state.State) error {
	if s.out != nil {
		if err := s.out.Write(ctx, next); err != nil {
			return fmt.Errorf("output step %d: %w", next.Step(), err)
		}
	}
	if s.metrics != nil {
		f := next.Forest()
		outlets := make(map[int64]float64, len(f.Outlets()))
		for _, i := range f.Outlets() {
			outlets[f.ID(i)] = next.Outflow(i)
		}
		s.metrics.RecordStepCompleted(next.Time(), outlets)
	}
	s.logger.Debug("step completed",
		logging.Step(next.Step()),
		logging.Time("model_time", next.Time()),
		logging.Float64("total_outflow", next.TotalOutflow()))
	return nil
}

func (s *Simulation) recordStep(status string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordStep(status, d)
	}
}

// States yields every remaining state. Iteration stops at the horizon or
// after yielding the error that ended the run.
func (s *Simulation) States(ctx context.Context) iter.Seq2[*state.State, error] {
	return func(yield func(*state.State, error) bool) {
		for {
			st, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(st, err) || err != nil {
				return
			}
		}
	}
}

// Run drains the simulation. The summary is filled in even when the run
// fails.
func (s *Simulation) Run(ctx context.Context) (Summary, error) {
	var runErr error
	for _, err := range s.States(ctx) {
		if err != nil {
			runErr = err
		}
	}

	s.mu.Lock()
	sum := Summary{
		RunID:    s.runID,
		Steps:    s.steps,
		Retries:  s.retries,
		LastTime: s.prev.Time(),
	}
	if !s.started.IsZero() {
		sum.Elapsed = time.Since(s.started)
	}
	s.mu.Unlock()

	if runErr == nil {
		s.logger.Info("simulation finished",
			logging.Count(sum.Steps),
			logging.Int("retries", sum.Retries),
			logging.Duration("elapsed", sum.Elapsed))
	}
	return sum, runErr
}
