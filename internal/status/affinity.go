package status

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}

// CoreAssigner picks physical CPUs for a protocol's requested core count,
// preferring the least-loaded cores so two demanding protocols don't end
// up sharing a core while others sit idle.
type CoreAssigner struct {
	load map[int]uint64 // core -> cores worth of load already assigned
	ncpu int
}

// NewCoreAssigner builds an assigner over ncpu logical CPUs (0..ncpu-1).
func NewCoreAssigner(ncpu int) *CoreAssigner {
	return &CoreAssigner{load: make(map[int]uint64, ncpu), ncpu: ncpu}
}

// Assign reserves `cores` logical CPUs for a protocol, returning the set
// chosen. Ties are broken by lowest core index for determinism.
func (a *CoreAssigner) Assign(cores uint64) ([]int, error) {
	if cores == 0 {
		cores = 1
	}
	if uint64(a.ncpu) < cores {
		return nil, fmt.Errorf("status: requested %d cores but only %d available", cores, a.ncpu)
	}
	candidates := make([]int, a.ncpu)
	for i := range candidates {
		candidates[i] = i
	}
	sort.Slice(candidates, func(i, j int) bool {
		li, lj := a.load[candidates[i]], a.load[candidates[j]]
		if li != lj {
			return li < lj
		}
		return candidates[i] < candidates[j]
	})
	chosen := append([]int(nil), candidates[:cores]...)
	sort.Ints(chosen)
	for _, c := range chosen {
		a.load[c]++
	}
	return chosen, nil
}

// Pin sets pid's CPU affinity mask to exactly the given logical CPUs.
func Pin(pid int, cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, c := range cpus {
		set.Set(c)
	}
	return unix.SchedSetaffinity(pid, &set)
}

// CPUAssignmentStrategy selects how requested hertz translates into a
// cgroup bandwidth limit. Only StrategyAbsolute (cpu.max scaled against
// peak frequency) is implemented; the others are recognized so
// configuration files naming them fail predictably rather than silently
// falling back.
type CPUAssignmentStrategy int

const (
	StrategyAbsolute CPUAssignmentStrategy = iota
	StrategyRelative
	StrategyBandwidth
)

// ErrUnsupportedStrategy is returned by ParseStrategy for the recognized
// but unimplemented "relative" and "bandwidth" names; an unknown name gets
// a different error.
var ErrUnsupportedStrategy = fmt.Errorf("status: unsupported CPU assignment strategy")

// ParseStrategy resolves a configuration string to a CPUAssignmentStrategy.
func ParseStrategy(s string) (CPUAssignmentStrategy, error) {
	switch strings.ToLower(s) {
	case "", "absolute":
		return StrategyAbsolute, nil
	case "relative":
		return StrategyRelative, ErrUnsupportedStrategy
	case "bandwidth":
		return StrategyBandwidth, ErrUnsupportedStrategy
	default:
		return 0, fmt.Errorf("status: unknown CPU assignment strategy %q", s)
	}
}

// parseCPUMHz extracts the first "cpu MHz" value from /proc/cpuinfo,
// used as a frequency fallback on systems without cpufreq sysfs entries.
func parseCPUMHz(cpuinfo string) (float64, bool) {
	for _, line := range strings.Split(cpuinfo, "\n") {
		if !strings.HasPrefix(line, "cpu MHz") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		mhz, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			continue
		}
		return mhz, true
	}
	return 0, false
}
