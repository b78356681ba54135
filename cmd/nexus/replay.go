package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexussim/nexus/internal/eventlog"
	"github.com/nexussim/nexus/internal/summary"
)

func newReplayCmd() *cobra.Command {
	var (
		eventPath string
		format    string
		dest      string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Render a recorded event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventPath == "" {
				return newUsageError(fmt.Errorf("--event-log is required"))
			}
			if format != "csv" {
				return newUsageError(fmt.Errorf("unsupported --fmt %q (only csv is implemented)", format))
			}
			in, err := os.Open(eventPath)
			if err != nil {
				return newUsageError(err)
			}
			defer in.Close()

			out := os.Stdout
			if dest != "" && dest != "stdout" {
				f, err := os.Create(dest)
				if err != nil {
					return newUsageError(err)
				}
				defer f.Close()
				out = f
			}

			reader := eventlog.NewReader(in)
			return summary.WriteCSV(out, summary.Drain(reader))
		},
	}
	cmd.Flags().StringVar(&eventPath, "event-log", "", "path to a binary event log produced by simulate")
	cmd.Flags().StringVar(&format, "fmt", "csv", "output format (only csv is implemented)")
	cmd.Flags().StringVar(&dest, "dest", "stdout", "output destination: stdout or a file path")
	return cmd
}
