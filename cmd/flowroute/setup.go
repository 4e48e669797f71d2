package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dd0wney/cluso-flowroute/pkg/config"
	"github.com/dd0wney/cluso-flowroute/pkg/decompose"
	"github.com/dd0wney/cluso-flowroute/pkg/forcing"
	"github.com/dd0wney/cluso-flowroute/pkg/logging"
	"github.com/dd0wney/cluso-flowroute/pkg/metrics"
	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/paramtable"
	"github.com/dd0wney/cluso-flowroute/pkg/restart"
	"github.com/dd0wney/cluso-flowroute/pkg/routing"
	"github.com/dd0wney/cluso-flowroute/pkg/scheduler"
	"github.com/dd0wney/cluso-flowroute/pkg/simulate"
	"github.com/dd0wney/cluso-flowroute/pkg/sink"
	"github.com/dd0wney/cluso-flowroute/pkg/state"
)

// engine is everything a run needs, assembled from the configuration.
type engine struct {
	cfg     *config.Config
	logger  logging.Logger
	metrics *metrics.Registry

	plan     *decompose.Plan
	sched    *scheduler.Scheduler
	provider forcing.Provider
	initial  *state.State

	opened    []sink.Sink
	out       *sink.Multi
	postgres  *sink.Postgres
	publisher *sink.Publisher

	closers []func() error
}

// loadPlan reads the parameter table, builds the forest and decomposes it.
func loadPlan(cfg *config.Config) (*decompose.Plan, error) {
	rows, err := paramtable.Load(cfg.Resolve(cfg.Network.Parameters))
	if err != nil {
		return nil, err
	}
	f, err := network.Build(rows)
	if err != nil {
		return nil, err
	}
	return decompose.Decompose(f)
}

// openForcing returns the configured lateral inflow provider and its
// release function.
func openForcing(cfg *config.Config, f *network.Forest) (forcing.Provider, func() error, error) {
	nop := func() error { return nil }
	if cfg.Forcing.Path == "" {
		return forcing.Uniform(f, cfg.Forcing.Constant, cfg.Simulation.Horizon), nop, nil
	}
	path := cfg.Resolve(cfg.Forcing.Path)
	switch cfg.Forcing.Format {
	case config.FormatBinary:
		b, err := forcing.OpenBinary(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open forcing %s: %w", path, err)
		}
		return b, b.Close, nil
	default:
		m, err := forcing.OpenCSV(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open forcing %s: %w", path, err)
		}
		return m, nop, nil
	}
}

// loadInitial returns the state at the start of the run: a checkpoint when
// one is configured, otherwise a dry network at simulation.start.
func loadInitial(cfg *config.Config, f *network.Forest, logger logging.Logger) (*state.State, error) {
	switch cfg.Initial.Restart {
	case "":
		return state.Cold(f, cfg.Simulation.Start), nil
	case "latest":
		path, _, err := restart.Latest(cfg.Resolve(cfg.Restart.Dir))
		if err != nil {
			return nil, fmt.Errorf("initial state: %w", err)
		}
		return loadRestart(cfg, path, f, logger)
	default:
		return loadRestart(cfg, cfg.Resolve(cfg.Initial.Restart), f, logger)
	}
}

func loadRestart(cfg *config.Config, path string, f *network.Forest, logger logging.Logger) (*state.State, error) {
	s, err := restart.Load(path, f)
	if err != nil {
		return nil, err
	}
	if start := cfg.Simulation.Start; !start.IsZero() && !start.Equal(s.Time()) {
		logger.Warn("restart time differs from simulation.start; using restart time",
			logging.Path(path),
			logging.Time("restart_time", s.Time()),
			logging.Time("start", start))
	}
	logger.Info("initial state loaded", logging.Path(path), logging.Time("model_time", s.Time()))
	return s, nil
}

// outputSegments resolves the segment filter for the timeseries sinks.
func outputSegments(cfg *config.Config, f *network.Forest) []network.SegmentID {
	if cfg.Output.OutletsOnly {
		ids := make([]network.SegmentID, 0, len(f.Outlets()))
		for _, i := range f.Outlets() {
			ids = append(ids, f.ID(i))
		}
		return ids
	}
	return cfg.Output.Segments
}

func newEngine(ctx context.Context, cfg *config.Config, workers int, runID string, logger logging.Logger, reg *metrics.Registry) (_ *engine, err error) {
	e := &engine{cfg: cfg, logger: logger, metrics: reg}
	defer func() {
		if err != nil {
			e.close()
		}
	}()

	if e.plan, err = loadPlan(cfg); err != nil {
		return nil, err
	}
	f := e.plan.Forest
	stats := e.plan.Stats()
	reg.SetNetworkStats(stats.Networks, stats.Reaches, stats.Segments, stats.MaxRank)
	logger.Info("network decomposed",
		logging.Int("segments", stats.Segments),
		logging.Int("reaches", stats.Reaches),
		logging.Int("basins", stats.Networks),
		logging.Int("max_rank", stats.MaxRank))

	kernel, err := routing.NewKernel(f, cfg.Routing)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = cfg.Simulation.Workers
	}
	e.sched, err = scheduler.New(e.plan, kernel, workers,
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(reg))
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, func() error { e.sched.Close(); return nil })

	provider, release, err := openForcing(cfg, f)
	if err != nil {
		return nil, err
	}
	e.provider = provider
	e.closers = append(e.closers, release)

	if e.initial, err = loadInitial(cfg, f, logger); err != nil {
		return nil, err
	}

	segments := outputSegments(cfg, f)
	if path := cfg.Output.CSV; path != "" {
		c, err := sink.CreateCSV(cfg.Resolve(path), segments)
		if err != nil {
			return nil, err
		}
		e.opened = append(e.opened, c)
	}
	if url := cfg.Output.Postgres; url != "" {
		pg, err := sink.NewPostgres(ctx, url, runID)
		if err != nil {
			return nil, err
		}
		e.postgres = pg
		e.opened = append(e.opened, pg)
	}
	if addr := cfg.Output.Publish; addr != "" {
		pub, err := sink.NewPublisher(addr, runID, segments)
		if err != nil {
			return nil, err
		}
		pub.SetHorizon(cfg.Simulation.Horizon)
		e.publisher = pub
		e.opened = append(e.opened, pub)
		logger.Info("publishing steps", logging.String("addr", addr))
	}
	if dir := cfg.Restart.Dir; dir != "" {
		e.opened = append(e.opened, restart.NewWriter(cfg.Resolve(dir), cfg.Restart.Every, logger))
	}
	e.out = sink.NewMulti(reg, e.opened...)
	return e, nil
}

// simulation creates the driver for this engine.
func (e *engine) simulation(runID string) (*simulate.Simulation, error) {
	opts := []simulate.Option{
		simulate.WithLogger(e.logger),
		simulate.WithMetrics(e.metrics),
		simulate.WithRunID(runID),
	}
	if e.cfg.Retry.Attempts > 0 {
		opts = append(opts, simulate.WithRetryPolicy(
			simulate.RelaxOnConvergence(e.cfg.Retry.Attempts, e.cfg.Retry.RelaxFactor)))
	}
	return simulate.New(e.sched, e.initial, e.provider, e.out,
		simulate.Config{DT: e.cfg.Simulation.DT, Horizon: e.cfg.Simulation.Horizon}, opts...)
}

// close flushes the sinks and releases everything else, in reverse order.
func (e *engine) close() error {
	var errs []error
	if e.out != nil {
		if err := e.out.Close(); err != nil {
			errs = append(errs, err)
		}
	} else {
		for _, sk := range e.opened {
			if err := sk.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func displayPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
