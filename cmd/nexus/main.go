// Command nexus drives the deterministic network emulator: simulate runs
// a topology, replay renders a recorded run's event log, logs tails a
// run's structured log, and fuzz repeatedly simulates a topology looking
// for a process that exits early.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Exit codes: 0 success, 1 usage/config error, 2 a protocol process
// exited prematurely, 3 an internal (router/FUSE/cgroup) failure.
const (
	exitOK = iota
	exitUsage
	exitProcessExited
	exitInternal
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("nexus: command failed")
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case isProcessExitedError(err):
		return exitProcessExited
	case isUsageError(err):
		return exitUsage
	default:
		return exitInternal
	}
}
