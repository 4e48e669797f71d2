// Command flowroute-tui follows a running simulation's published steps.
//
//	flowroute run -c run.yaml          # with output.publish: tcp://*:9190
//	flowroute-tui tcp://localhost:9190
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func main() {
	var history int
	cmd := &cobra.Command{
		Use:          "flowroute-tui <address>",
		Short:        "Live view of a flowroute run",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := subscribe(args[0])
			if err != nil {
				return err
			}
			defer sub.Close()

			p := tea.NewProgram(initialModel(args[0], sub.Frames(), history), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().IntVar(&history, "history", 60, "steps of total outflow kept for the trend line")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
