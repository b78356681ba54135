package main

import (
	"errors"

	"github.com/spf13/cobra"
)

// usageError marks an error that should exit with exitUsage rather than
// exitInternal: a bad flag combination or an unreadable or invalid config file, not
// a simulation-time failure.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func newUsageError(err error) error { return &usageError{err: err} }

func isUsageError(err error) bool {
	var ue *usageError
	return errors.As(err, &ue)
}

// processExitedError marks a run that stopped because a protocol process
// exited before the simulation finished.
type processExitedError struct{ process string }

func (e *processExitedError) Error() string { return "process exited prematurely: " + e.process }

func isProcessExitedError(err error) bool {
	var pe *processExitedError
	return errors.As(err, &pe)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nexus",
		Short: "Deterministic network emulation substrate",
	}
	root.AddCommand(newSimulateCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newFuzzCmd())
	return root
}
