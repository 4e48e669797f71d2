// Package scheduler advances a decomposed forest by one time step, solving
// reaches on a worker pool as soon as every reach feeding them is done.
//
// A single coordinator goroutine owns the per-reach pending counters and the
// ready queue. Workers only solve; they report back over a channel, and the
// coordinator alone decides what becomes runnable next. A reach is therefore
// dispatched exactly once per step, and its inputs are read only after the
// reaches producing them have reported.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-flowroute/pkg/decompose"
	"github.com/dd0wney/cluso-flowroute/pkg/logging"
	"github.com/dd0wney/cluso-flowroute/pkg/metrics"
	"github.com/dd0wney/cluso-flowroute/pkg/parallel"
	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
	"github.com/dd0wney/cluso-flowroute/pkg/routing"
	"github.com/dd0wney/cluso-flowroute/pkg/state"
)

// StepInputs are the external values for one step.
type StepInputs struct {
	// Time is the model time at the end of the step.
	Time time.Time
	// DT is the step length in seconds.
	DT float64
	// Lateral holds lateral inflow per segment, by arena index.
	Lateral []float64
	// Boundary optionally overrides the inflow entering the head of a
	// headwater reach, keyed by the head's arena index.
	Boundary map[int]float64
}

// ReachEvent reports one finished reach solve.
type ReachEvent struct {
	Step    int
	Reach   int
	Elapsed time.Duration
	Err     error
}

// Scheduler runs steps over one plan. RunStep must not be called
// concurrently on the same Scheduler.
type Scheduler struct {
	plan    *decompose.Plan
	kernel  *routing.Kernel
	pool    *parallel.WorkerPool
	ownPool bool
	logger  logging.Logger
	metrics *metrics.Registry
	onReach func(ReachEvent)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Scheduler) { s.logger = logging.OrDefault(l) }
}

// WithMetrics records reach and queue metrics into r.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Scheduler) { s.metrics = r }
}

// WithReachHook calls fn on the coordinator goroutine after every reach.
func WithReachHook(fn func(ReachEvent)) Option {
	return func(s *Scheduler) { s.onReach = fn }
}

// WithPool runs reaches on an existing pool. The caller keeps ownership.
func WithPool(p *parallel.WorkerPool) Option {
	return func(s *Scheduler) { s.pool = p }
}

// New creates a scheduler with its own pool of workers goroutines
// (parallel.DefaultWorkers when workers <= 0) unless WithPool is given.
func New(plan *decompose.Plan, kernel *routing.Kernel, workers int, opts ...Option) (*Scheduler, error) {
	const op = "scheduler.New"
	if plan == nil || kernel == nil {
		return nil, routeerr.Invariant(op, "nil plan or kernel")
	}
	if plan.Forest != kernel.Forest() {
		return nil, routeerr.Invariant(op, "kernel built for a different forest")
	}

	s := &Scheduler{plan: plan, kernel: kernel, logger: logging.NopLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		pool, err := parallel.NewWorkerPool(workers)
		if err != nil {
			return nil, routeerr.New(op, routeerr.ErrConfiguration).Cause(err).Err()
		}
		s.pool, s.ownPool = pool, true
	}
	if s.metrics != nil {
		s.metrics.SetWorkers(s.pool.Workers())
	}
	return s, nil
}

// Workers returns the worker pool size.
func (s *Scheduler) Workers() int { return s.pool.Workers() }

// Plan returns the plan being scheduled.
func (s *Scheduler) Plan() *decompose.Plan { return s.plan }

// Kernel returns the reach solver in use.
func (s *Scheduler) Kernel() *routing.Kernel { return s.kernel }

// WithKernel returns a scheduler sharing this one's pool and options but
// solving with k. Closing the returned scheduler does not close the pool.
func (s *Scheduler) WithKernel(k *routing.Kernel) (*Scheduler, error) {
	if k.Forest() != s.plan.Forest {
		return nil, routeerr.Invariant("scheduler.WithKernel", "kernel built for a different forest")
	}
	cp := *s
	cp.kernel = k
	cp.ownPool = false
	return &cp, nil
}

// Close releases the worker pool if the scheduler created it.
func (s *Scheduler) Close() {
	if s.ownPool {
		s.pool.Close()
	}
}

type result struct {
	reach   int
	err     error
	elapsed time.Duration
}

// RunStep computes the state following prev. Either every reach is solved
// and the new state is returned, or nothing is: on the first failure (or
// context cancellation) no further reaches are dispatched, in-flight solves
// are drained, and the partial step is discarded.
func (s *Scheduler) RunStep(ctx context.Context, prev *state.State, in StepInputs) (*state.State, error) {
	if err := s.checkInputs(prev, in); err != nil {
		return nil, err
	}
	step := prev.Step() + 1
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("step %d cancelled: %w", step, err)
	}

	reaches := s.plan.Reaches
	n := len(reaches)
	next := state.NewBuilder(prev, in.Time)

	pending := make([]int, n)
	ready := &readyQueue{reaches: reaches, ids: make([]int, 0, n)}
	for i := range reaches {
		pending[i] = len(reaches[i].Upstream)
		if pending[i] == 0 {
			ready.push(i)
		}
	}

	done := make(chan result, n)
	ctxDone := ctx.Done()
	inFlight, completed := 0, 0
	var failure error

	for completed < n {
		for failure == nil && ready.Len() > 0 {
			id := ready.pop()
			upstream := s.upstreamInflow(&reaches[id], next, in)
			inFlight++
			if !s.pool.Submit(s.task(id, upstream, in, prev, next, done)) {
				inFlight--
				failure = routeerr.New("scheduler.RunStep", routeerr.ErrInvariantViolation).Reach(id).Detail("worker pool closed").Err()
			}
		}
		if s.metrics != nil {
			s.metrics.SetReadyQueueDepth(ready.Len())
		}
		if inFlight == 0 {
			break
		}

		select {
		case res := <-done:
			inFlight--
			s.report(step, res)
			if res.err != nil {
				if failure == nil {
					failure = res.err
				}
				continue
			}
			completed++
			if d := reaches[res.reach].Downstream; d >= 0 {
				pending[d]--
				if pending[d] == 0 {
					ready.push(d)
				}
			}
		case <-ctxDone:
			ctxDone = nil
			if failure == nil {
				failure = fmt.Errorf("step %d cancelled: %w", step, ctx.Err())
			}
		}
	}

	switch {
	case failure != nil:
		if ctx.Err() != nil && !isRouteErr(failure) {
			return nil, failure
		}
		s.logger.Warn("step failed",
			logging.Step(step),
			logging.Int("completed_reaches", completed),
			logging.Error(failure))
		return nil, routeerr.WithStep(failure, step)
	case completed != n:
		return nil, routeerr.New("scheduler.RunStep", routeerr.ErrInvariantViolation).
			Step(step).
			Detail("only %d of %d reaches became ready", completed, n).
			Err()
	}
	return next.Freeze(), nil
}

// task wraps one reach solve. It always reports exactly once on done, even
// if the solver panics.
func (s *Scheduler) task(id int, upstream float64, in StepInputs, prev *state.State, next *state.Builder, done chan<- result) func() {
	r := &s.plan.Reaches[id]
	kernel := s.kernel
	return func() {
		start := time.Now()
		var err error
		defer func() {
			if p := recover(); p != nil {
				err = routeerr.New("scheduler.RunStep", routeerr.ErrInvariantViolation).
					Reach(id).
					Detail("solver panic: %v", p).
					Err()
			}
			done <- result{reach: id, err: err, elapsed: time.Since(start)}
		}()
		err = kernel.Advance(r, upstream, in.Lateral, in.DT, prev, next)
	}
}

// upstreamInflow sums the outflow of the tails feeding r's head in ascending
// reach order, so the floating point result never depends on completion
// order.
func (s *Scheduler) upstreamInflow(r *decompose.Reach, next *state.Builder, in StepInputs) float64 {
	if r.IsHeadwater() {
		return in.Boundary[r.Head()]
	}
	sum := 0.0
	for _, u := range r.Upstream {
		sum += next.Outflow(s.plan.Reaches[u].Tail())
	}
	return sum
}

func (s *Scheduler) report(step int, res result) {
	if s.metrics != nil {
		if res.err != nil {
			s.metrics.RecordReachFailure(routeerr.KindName(res.err))
		} else {
			s.metrics.RecordReachSolve(res.elapsed)
		}
	}
	if s.onReach != nil {
		s.onReach(ReachEvent{Step: step, Reach: res.reach, Elapsed: res.elapsed, Err: res.err})
	}
}

func (s *Scheduler) checkInputs(prev *state.State, in StepInputs) error {
	const op = "scheduler.RunStep"
	f := s.plan.Forest
	if prev == nil || prev.Forest() != f {
		return routeerr.Invariant(op, "previous state belongs to a different forest")
	}
	step := prev.Step() + 1
	if len(in.Lateral) != f.Len() {
		return routeerr.New(op, routeerr.ErrInvariantViolation).Step(step).
			Detail("lateral inflow has %d values, forest has %d segments", len(in.Lateral), f.Len()).Err()
	}
	if !(in.DT > 0) {
		return routeerr.New(op, routeerr.ErrConfiguration).Step(step).
			Detail("time step must be positive, got %v", in.DT).Err()
	}
	return nil
}

func isRouteErr(err error) bool {
	_, ok := routeerr.Context(err)
	return ok
}
