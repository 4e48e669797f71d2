package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-flowroute/pkg/config"
	"github.com/dd0wney/cluso-flowroute/pkg/forcing"
	"github.com/dd0wney/cluso-flowroute/pkg/logging"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a run configuration without simulating",
		Long:  `Validate loads the configuration, builds and decomposes the network, checks that the forcing covers the horizon and loads the initial state. Nothing is written.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			logger := root.logger(cfg.LogLevel())
			return validateRun(cmd.OutOrStdout(), cfg, logger)
		},
	}
}

func validateRun(out io.Writer, cfg *config.Config, logger logging.Logger) error {
	plan, err := loadPlan(cfg)
	if err != nil {
		return err
	}
	if err := plan.Verify(); err != nil {
		return err
	}
	f := plan.Forest

	provider, release, err := openForcing(cfg, f)
	if err != nil {
		return err
	}
	defer release()
	binding, err := forcing.Bind(provider, f)
	if err != nil {
		return err
	}
	if err := binding.CheckHorizon(cfg.Simulation.Horizon); err != nil {
		return err
	}

	initial, err := loadInitial(cfg, f, logger)
	if err != nil {
		return err
	}

	stats := plan.Stats()
	end := initial.Time().Add(time.Duration(cfg.Simulation.Horizon) * cfg.StepDuration())

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "parameters\t%s\n", displayPath(cfg.Resolve(cfg.Network.Parameters)))
	fmt.Fprintf(tw, "segments\t%d\n", stats.Segments)
	fmt.Fprintf(tw, "reaches\t%d (%d headwater)\n", stats.Reaches, stats.Headwaters)
	fmt.Fprintf(tw, "basins\t%d\n", stats.Networks)
	fmt.Fprintf(tw, "max rank\t%d\n", stats.MaxRank)
	if cfg.Forcing.Path != "" {
		fmt.Fprintf(tw, "forcing\t%s (%s, %d steps)\n", displayPath(cfg.Resolve(cfg.Forcing.Path)), cfg.Forcing.Format, binding.Steps())
	} else {
		fmt.Fprintf(tw, "forcing\tconstant %g m3/s\n", cfg.Forcing.Constant)
	}
	fmt.Fprintf(tw, "initial\t%s (step %d)\n", initialSource(cfg), initial.Step())
	fmt.Fprintf(tw, "window\t%s .. %s\n", initial.Time().Format(time.RFC3339), end.Format(time.RFC3339))
	fmt.Fprintf(tw, "steps\t%d x %gs\n", cfg.Simulation.Horizon, cfg.Simulation.DT)
	fmt.Fprintln(tw, "status\tok")
	return tw.Flush()
}

func initialSource(cfg *config.Config) string {
	switch cfg.Initial.Restart {
	case "":
		return "cold start"
	case "latest":
		return "latest restart in " + displayPath(cfg.Resolve(cfg.Restart.Dir))
	default:
		return displayPath(cfg.Resolve(cfg.Initial.Restart))
	}
}
