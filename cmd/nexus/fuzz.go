package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nexussim/nexus/internal/config"
	"github.com/nexussim/nexus/internal/nexuslog"
	"github.com/nexussim/nexus/internal/orchestrator"
)

func newFuzzCmd() *cobra.Command {
	var (
		configPath string
		runs       int
		tickMillis int
		baseSeed   uint64
	)
	cmd := &cobra.Command{
		Use:   "fuzz",
		Short: "Re-simulate a topology under varying seeds looking for a process that exits early",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return newUsageError(fmt.Errorf("--config is required"))
			}
			if _, err := config.Load(configPath); err != nil {
				return newUsageError(err)
			}
			logger, err := nexuslog.New("stdout", "warn")
			if err != nil {
				return newUsageError(err)
			}
			log := nexuslog.Component(logger, "fuzz")

			for i := 0; i < runs; i++ {
				seed := baseSeed + uint64(i)
				ctx, cancel := context.WithCancel(cmd.Context())
				metrics := orchestrator.NewMetrics(prometheus.NewRegistry())

				run, err := orchestrator.Boot(ctx, configPath, log, metrics, nil, seed)
				if err != nil {
					cancel()
					return err
				}
				err = run.Execute(ctx, time.Duration(tickMillis)*time.Millisecond)
				run.Teardown()
				cancel()
				if err != nil {
					return &processExitedError{process: fmt.Sprintf("run %d (seed %d)", i, seed)}
				}
				log.WithField("run", i).Info("run completed without premature exit")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the TOML simulation description")
	cmd.Flags().IntVarP(&runs, "n", "n", 10, "number of runs")
	cmd.Flags().IntVar(&tickMillis, "tick-length-ms", 10, "wall-clock milliseconds per simulated timestep")
	cmd.Flags().Uint64Var(&baseSeed, "seed", 0, "first seed to try; subsequent runs increment it")
	return cmd
}
