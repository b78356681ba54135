// Package status manages the resource and health control plane around a
// simulation run: cgroup v2 hierarchies, CPU pinning and frequency
// introspection, and a health-check loop that can freeze, thaw or kill a
// protocol's process.
package status

import (
	"fmt"
	"os"
	"strings"

	"github.com/containerd/cgroups/v3/cgroup2"
)

const (
	kernelGroup = "nexus-kernel"
	nodesGroup  = "nexus-nodes"
)

// Tree owns the two-level cgroup v2 hierarchy the run lives in:
// /sys/fs/cgroup/nexus-kernel for the orchestrator itself, and
// /sys/fs/cgroup/nexus-kernel/nexus-nodes/<node> per simulated node, each
// holding one subgroup per protocol process.
type Tree struct {
	kernel *cgroup2.Manager
	nodes  *cgroup2.Manager
	procs  map[string]*cgroup2.Manager // "<node>/<protocol>" -> manager
}

// NewTree creates the kernel and nodes cgroups and enables CPU and memory
// controllers for delegation to the per-node subtree.
func NewTree() (*Tree, error) {
	kernel, err := cgroup2.NewManager("/sys/fs/cgroup", "/"+kernelGroup, &cgroup2.Resources{})
	if err != nil {
		return nil, fmt.Errorf("status: create kernel cgroup: %w", err)
	}
	if err := enableSubtreeControllers(kernelGroup); err != nil {
		return nil, err
	}
	nodes, err := cgroup2.NewManager("/sys/fs/cgroup", "/"+kernelGroup+"/"+nodesGroup, &cgroup2.Resources{})
	if err != nil {
		return nil, fmt.Errorf("status: create nodes cgroup: %w", err)
	}
	if err := enableSubtreeControllers(kernelGroup + "/" + nodesGroup); err != nil {
		return nil, err
	}
	return &Tree{kernel: kernel, nodes: nodes, procs: make(map[string]*cgroup2.Manager)}, nil
}

func enableSubtreeControllers(group string) error {
	path := "/sys/fs/cgroup/" + group + "/cgroup.subtree_control"
	return writeFile(path, "+cpu +memory")
}

// AddProcess creates (if needed) the subgroup for node/protocol, applies
// its CPU bandwidth limit, and moves pid into it.
func (t *Tree) AddProcess(node, protocol string, pid int, hertzRequested, cores uint64) error {
	key := node + "/" + protocol
	mgr, ok := t.procs[key]
	if !ok {
		var err error
		mgr, err = cgroup2.NewManager("/sys/fs/cgroup", "/"+kernelGroup+"/"+nodesGroup+"/"+key, &cgroup2.Resources{})
		if err != nil {
			return fmt.Errorf("status: create process cgroup %s: %w", key, err)
		}
		t.procs[key] = mgr
	}
	if hertzRequested > 0 {
		if err := mgr.Update(cpuBandwidthResources(hertzRequested, cores)); err != nil {
			return fmt.Errorf("status: set cpu.max for %s: %w", key, err)
		}
	}
	if err := mgr.AddProc(uint64(pid)); err != nil {
		return fmt.Errorf("status: add pid %d to %s: %w", pid, key, err)
	}
	return nil
}

// cpuBandwidthResources converts a requested clock rate and core count
// into a cgroup2 cpu.max quota/period pair: cores worth of full periods,
// scaled down by the fraction of peak frequency requested.
func cpuBandwidthResources(hertzRequested, cores uint64) *cgroup2.Resources {
	if cores == 0 {
		cores = 1
	}
	const periodUS = 100000
	peak := peakHertz()
	quota := int64(periodUS * cores)
	if peak > 0 && hertzRequested < peak {
		quota = int64(float64(periodUS*cores) * float64(hertzRequested) / float64(peak))
	}
	period := uint64(periodUS)
	return &cgroup2.Resources{CPU: &cgroup2.CPU{Max: cgroup2.NewCPUMax(&quota, &period)}}
}

// Freeze suspends every process in node/protocol's subgroup.
func (t *Tree) Freeze(node, protocol string) error {
	mgr, ok := t.procs[node+"/"+protocol]
	if !ok {
		return fmt.Errorf("status: no cgroup for %s/%s", node, protocol)
	}
	return mgr.Freeze()
}

// Unfreeze resumes a previously frozen subgroup.
func (t *Tree) Unfreeze(node, protocol string) error {
	mgr, ok := t.procs[node+"/"+protocol]
	if !ok {
		return fmt.Errorf("status: no cgroup for %s/%s", node, protocol)
	}
	return mgr.Thaw()
}

// Teardown deletes every cgroup created for this run, deepest first.
func (t *Tree) Teardown() error {
	var firstErr error
	nodeDirs := make(map[string]bool)
	for key, mgr := range t.procs {
		if err := mgr.Delete(); err != nil && firstErr == nil {
			firstErr = err
		}
		nodeDirs[strings.SplitN(key, "/", 2)[0]] = true
	}
	for node := range nodeDirs {
		path := "/sys/fs/cgroup/" + kernelGroup + "/" + nodesGroup + "/" + node
		if err := os.Remove(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := t.nodes.Delete(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := t.kernel.Delete(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
