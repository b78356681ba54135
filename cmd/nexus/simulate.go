package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nexussim/nexus/internal/config"
	"github.com/nexussim/nexus/internal/eventlog"
	"github.com/nexussim/nexus/internal/nexuslog"
	"github.com/nexussim/nexus/internal/orchestrator"
)

func newSimulateCmd() *cobra.Command {
	var (
		configPath string
		nexusRoot  string
		logDest    string
		logLevel   string
		eventPath  string
		tickMillis int
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a simulation to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return newUsageError(fmt.Errorf("--config is required"))
			}
			if _, err := config.Load(configPath); err != nil {
				return newUsageError(err)
			}
			logger, err := nexuslog.New(logDest, logLevel)
			if err != nil {
				return newUsageError(err)
			}
			log := nexuslog.Component(logger, "orchestrator")

			var eventWriter *eventlog.Writer
			if eventPath != "" {
				f, err := os.Create(eventPath)
				if err != nil {
					return newUsageError(err)
				}
				defer f.Close()
				eventWriter = eventlog.NewWriter(f)
				defer eventWriter.Flush()
			}

			metrics := orchestrator.NewMetrics(prometheus.DefaultRegisterer)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			_ = nexusRoot // reserved for overriding params.root from the CLI

			run, err := orchestrator.Boot(ctx, configPath, log, metrics, eventWriter)
			if err != nil {
				return err
			}
			defer run.Teardown()

			if err := run.Execute(ctx, time.Duration(tickMillis)*time.Millisecond); err != nil {
				return &processExitedError{process: run.ID}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the TOML simulation description")
	cmd.Flags().StringVar(&nexusRoot, "nexus-root", "", "accepted but ignored: each protocol is mounted at its own configured root")
	cmd.Flags().StringVar(&logDest, "dest", "stdout", "log destination: stdout or a file path")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	cmd.Flags().StringVar(&eventPath, "event-log", "", "path of the binary event log file to create (the run writes no records to it)")
	cmd.Flags().IntVar(&tickMillis, "tick-length-ms", 10, "wall-clock milliseconds per simulated timestep")
	return cmd
}
