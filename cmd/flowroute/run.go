package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-flowroute/pkg/config"
	"github.com/dd0wney/cluso-flowroute/pkg/health"
	"github.com/dd0wney/cluso-flowroute/pkg/logging"
	"github.com/dd0wney/cluso-flowroute/pkg/metrics"
	"github.com/dd0wney/cluso-flowroute/pkg/simulate"
)

// stallAfter is how long a run may go without completing a step before the
// liveness probe degrades.
const stallAfter = 2 * time.Minute

type runOptions struct {
	workers int
	horizon int
	listen  string
	runID   string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		Long:  `Run routes the configured forcing through the network for the configured horizon, writing every completed step to the enabled outputs. A summary is printed as JSON on success.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSimulation(ctx, cmd, root, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "worker goroutines (overrides simulation.workers)")
	cmd.Flags().IntVar(&opts.horizon, "horizon", 0, "number of steps (overrides simulation.horizon)")
	cmd.Flags().StringVar(&opts.listen, "metrics-listen", "", "serve /metrics and /health on this address (overrides metrics.listen)")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "run identifier, unique per run when storing to postgres (default: random UUID)")
	return cmd
}

func runSimulation(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return err
	}
	if opts.horizon > 0 {
		cfg.Simulation.Horizon = opts.horizon
	}
	if opts.listen != "" {
		cfg.Metrics.Listen = opts.listen
	}
	logger := root.logger(cfg.LogLevel())

	runID := opts.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger = logger.With(logging.RunID(runID))

	reg := metrics.NewRegistry()
	eng, err := newEngine(ctx, cfg, opts.workers, runID, logger, reg)
	if err != nil {
		return err
	}

	sim, err := eng.simulation(runID)
	if err != nil {
		eng.close()
		return err
	}

	if cfg.Metrics.Listen != "" {
		srv, err := serveMetrics(cfg.Metrics.Listen, reg, probes(sim, eng), logger)
		if err != nil {
			eng.close()
			return err
		}
		defer shutdown(srv, logger)

		sysCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go updateSystemMetrics(sysCtx, reg)
	}

	summary, runErr := sim.Run(ctx)
	closeErr := eng.close()
	if err := errors.Join(runErr, closeErr); err != nil {
		logger.Error("run failed",
			logging.Count(summary.Steps),
			logging.Error(err))
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// probes wires the simulation and its outputs into health checks.
func probes(sim *simulate.Simulation, eng *engine) *health.HealthChecker {
	runState := func() health.RunState {
		p := sim.Progress()
		return health.RunState{
			Step:     p.Step,
			Horizon:  p.Horizon,
			Retries:  p.Retries,
			Done:     p.Done,
			Err:      p.Err,
			Progress: p.Updated,
		}
	}

	hc := health.NewHealthChecker()
	hc.RegisterCheck("simulation", health.SimulationCheck(runState))
	hc.RegisterCheck("progress", health.StallCheck(runState, stallAfter))
	hc.RegisterCheck("memory", health.MemoryCheck(func() (uint64, uint64) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return m.HeapAlloc, m.Sys
	}))
	hc.RegisterReadinessCheck("simulation", health.SimulationCheck(runState))
	hc.RegisterLivenessCheck("progress", health.StallCheck(runState, stallAfter))

	if pg := eng.postgres; pg != nil {
		ping := health.DatabaseCheck(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pg.Ping(ctx)
		})
		hc.RegisterCheck("database", ping)
		hc.RegisterReadinessCheck("database", ping)
	}
	return hc
}

func serveMetrics(addr string, reg *metrics.Registry, hc *health.HealthChecker, logger logging.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	hc.Register(mux)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", logging.Error(err))
		}
	}()
	logger.Info("serving metrics", logging.String("addr", ln.Addr().String()))
	return srv, nil
}

func shutdown(srv *http.Server, logger logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown", logging.Error(err))
	}
}

func updateSystemMetrics(ctx context.Context, reg *metrics.Registry) {
	start := time.Now()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		reg.UpdateSystemMetrics(start)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
