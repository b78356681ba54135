package status

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	gopsutilcpu "github.com/shirou/gopsutil/v3/cpu"
	"github.com/sirupsen/logrus"
)

// peakHertz reports the fastest logical CPU's current clock, in Hz,
// preferring gopsutil's cross-platform reading and falling back to
// /proc/cpuinfo's "cpu MHz" field when that reports nothing (common
// inside containers without access to cpufreq sysfs).
func peakHertz() uint64 {
	infos, err := gopsutilcpu.Info()
	if err == nil {
		var peak float64
		for _, info := range infos {
			if info.Mhz > peak {
				peak = info.Mhz
			}
		}
		if peak > 0 {
			return uint64(peak * 1e6)
		}
	}
	raw, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return 0
	}
	if mhz, ok := parseCPUMHz(string(raw)); ok {
		return uint64(mhz * 1e6)
	}
	return 0
}

// Action is a command the health-check loop can issue to a protocol's
// process.
type Action int

const (
	HealthCheck Action = iota
	Freeze
	Unfreeze
	Shutdown
)

// Monitor runs a periodic health-check loop over every tracked process,
// detecting premature exits and issuing freeze/thaw/kill commands from the
// orchestrator.
type Monitor struct {
	tree *Tree
	log  *logrus.Entry
	pids map[string]int // "<node>/<protocol>" -> pid
}

// NewMonitor builds a Monitor bound to tree for process lifecycle actions.
func NewMonitor(tree *Tree, log *logrus.Entry) *Monitor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Monitor{tree: tree, log: log.WithField("component", "status"), pids: make(map[string]int)}
}

// Track registers pid as the process backing node/protocol.
func (m *Monitor) Track(node, protocol string, pid int) {
	m.pids[node+"/"+protocol] = pid
}

// Run polls every tracked process at interval until ctx is canceled,
// logging and returning the process key of the first one found to have
// exited early.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) (exited string, err error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			if key, dead := m.checkAll(); dead {
				return key, nil
			}
		}
	}
}

func (m *Monitor) checkAll() (string, bool) {
	for key, pid := range m.pids {
		if !processAlive(pid) {
			m.log.WithFields(logrus.Fields{"process": key, "pid": pid}).Warn("process exited prematurely")
			return key, true
		}
	}
	return "", false
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Apply issues action against node/protocol's process.
func (m *Monitor) Apply(action Action, node, protocol string) error {
	switch action {
	case Freeze:
		return m.tree.Freeze(node, protocol)
	case Unfreeze:
		return m.tree.Unfreeze(node, protocol)
	case Shutdown:
		pid, ok := m.pids[node+"/"+protocol]
		if !ok {
			return fmt.Errorf("status: no tracked process for %s/%s", node, protocol)
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			return err
		}
		return proc.Signal(syscall.SIGTERM)
	case HealthCheck:
		if _, dead := m.checkAll(); dead {
			return fmt.Errorf("status: a tracked process has exited")
		}
		return nil
	default:
		return fmt.Errorf("status: unknown action %d", action)
	}
}
