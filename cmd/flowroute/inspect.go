package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-flowroute/pkg/decompose"
	"github.com/dd0wney/cluso-flowroute/pkg/network"
	"github.com/dd0wney/cluso-flowroute/pkg/paramtable"
)

type inspectOptions struct {
	json    bool
	reaches bool
}

// reachView is the printable form of a reach.
type reachView struct {
	ID           int                 `json:"id"`
	Network      int                 `json:"network"`
	Rank         int                 `json:"rank"`
	CriticalPath int                 `json:"critical_path"`
	Segments     []network.SegmentID `json:"segments"`
	Upstream     []int               `json:"upstream,omitempty"`
	Downstream   int                 `json:"downstream"`
}

type inspectReport struct {
	Stats   decompose.Stats `json:"stats"`
	Outlets []int64         `json:"outlets"`
	Reaches []reachView     `json:"reaches,omitempty"`
}

func newInspectCmd() *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <params.csv>",
		Short: "Decompose a parameter table and print its reach structure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := paramtable.Load(args[0])
			if err != nil {
				return err
			}
			f, err := network.Build(rows)
			if err != nil {
				return err
			}
			plan, err := decompose.Decompose(f)
			if err != nil {
				return err
			}
			report := buildReport(plan, opts.reaches)
			if opts.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&opts.json, "json", false, "print JSON")
	cmd.Flags().BoolVar(&opts.reaches, "reaches", false, "list every reach in scheduling order")
	return cmd
}

func buildReport(plan *decompose.Plan, withReaches bool) inspectReport {
	f := plan.Forest
	report := inspectReport{Stats: plan.Stats()}
	for _, o := range f.Outlets() {
		report.Outlets = append(report.Outlets, f.ID(o))
	}
	if !withReaches {
		return report
	}
	for _, id := range plan.Order {
		r := plan.Reach(id)
		v := reachView{
			ID:           r.ID,
			Network:      r.Network,
			Rank:         r.Rank,
			CriticalPath: r.CriticalPath,
			Upstream:     r.Upstream,
			Downstream:   r.Downstream,
		}
		for _, s := range r.Segments {
			v.Segments = append(v.Segments, f.ID(s))
		}
		report.Reaches = append(report.Reaches, v)
	}
	return report
}

func printReport(out io.Writer, report inspectReport) error {
	s := report.Stats
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "segments\t%d\n", s.Segments)
	fmt.Fprintf(tw, "reaches\t%d (%d headwater)\n", s.Reaches, s.Headwaters)
	fmt.Fprintf(tw, "basins\t%d (largest %d segments)\n", s.Networks, s.LargestNetwork)
	fmt.Fprintf(tw, "outlets\t%v\n", report.Outlets)
	fmt.Fprintf(tw, "max rank\t%d\n", s.MaxRank)
	fmt.Fprintf(tw, "longest reach\t%d segments\n", s.LongestReach)
	fmt.Fprintf(tw, "longest critical path\t%d segments\n", s.LongestCritical)
	if len(report.Reaches) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "REACH\tBASIN\tRANK\tCRITICAL\tUPSTREAM\tDOWNSTREAM\tSEGMENTS")
		for _, r := range report.Reaches {
			fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%v\t%d\t%v\n",
				r.ID, r.Network, r.Rank, r.CriticalPath, r.Upstream, r.Downstream, r.Segments)
		}
	}
	return tw.Flush()
}
