// Package orchestrator wires configuration, resolution, the router, the
// FUSE front-end and the status controller into one run: it boots every
// protocol process, drives the router one timestep at a time, and tears
// everything down when the run ends or a process dies early.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nexussim/nexus/internal/config"
	"github.com/nexussim/nexus/internal/eventlog"
	"github.com/nexussim/nexus/internal/model"
	"github.com/nexussim/nexus/internal/nexusfs"
	"github.com/nexussim/nexus/internal/resolver"
	"github.com/nexussim/nexus/internal/router"
	"github.com/nexussim/nexus/internal/status"
)

// Metrics are the run's prometheus gauges/counters, registered against a
// caller-supplied registry so cmd/nexus can expose them however it likes.
type Metrics struct {
	Timestep       prometheus.Gauge
	PendingEvents  prometheus.Gauge
	ProcessesAlive prometheus.Gauge
}

// NewMetrics registers a fresh Metrics set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Timestep:       prometheus.NewGauge(prometheus.GaugeOpts{Name: "nexus_timestep", Help: "Current simulated timestep."}),
		PendingEvents:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "nexus_pending_events", Help: "Events still in the router queue."}),
		ProcessesAlive: prometheus.NewGauge(prometheus.GaugeOpts{Name: "nexus_processes_alive", Help: "Protocol processes still running."}),
	}
	reg.MustRegister(m.Timestep, m.PendingEvents, m.ProcessesAlive)
	return m
}

// process tracks one spawned protocol: its OS process, its FUSE mount and
// a cancel func to unmount cleanly.
type process struct {
	node, protocol string
	cmd            *exec.Cmd
	mountDir       string
	unmount        func() error
}

// Run holds everything a booted simulation needs to execute and tear
// down.
type Run struct {
	ID       string
	resolved *resolver.Resolved
	backend  *routerBackend
	tree     *status.Tree
	monitor  *status.Monitor
	procs    []*process
	log      *logrus.Entry
	metrics  *Metrics
	eventLog *eventlog.Writer // held for the run; no records are written to it
}

// Boot loads cfgPath, resolves it, stands up the cgroup tree, spawns every
// protocol process behind its own FUSE mount, and unfreezes them only once
// every mount is ready.
func Boot(ctx context.Context, cfgPath string, log *logrus.Entry, metrics *Metrics, eventOut *eventlog.Writer, seedOverride ...uint64) (*Run, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if len(seedOverride) > 0 {
		cfg.Seed = seedOverride[0]
	}
	resolved, err := resolver.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	r := router.New(resolved, log)
	backend := newRouterBackend(r)

	tree, err := status.NewTree()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	monitor := status.NewMonitor(tree, log)

	run := &Run{
		ID:       uuid.NewString(),
		resolved: resolved,
		backend:  backend,
		tree:     tree,
		monitor:  monitor,
		log:      log,
		metrics:  metrics,
		eventLog: eventOut,
	}

	for _, node := range resolved.Nodes {
		for _, p := range node.Protocols {
			proc, err := run.spawn(ctx, node, p)
			if err != nil {
				run.Teardown()
				return nil, fmt.Errorf("orchestrator: spawn %s/%s: %w", node.Name, p.Name, err)
			}
			run.procs = append(run.procs, proc)
			monitor.Track(node.Name, p.Name, proc.cmd.Process.Pid)
		}
	}
	for _, node := range resolved.Nodes {
		for _, p := range node.Protocols {
			if err := monitor.Apply(status.Unfreeze, node.Name, p.Name); err != nil {
				run.log.WithError(err).Warn("failed to unfreeze a freshly spawned process")
			}
		}
	}
	return run, nil
}

// buildChannelRefs derives the filesystem-visible mode of every channel a
// protocol touches: a channel the protocol both publishes and subscribes
// to appears once, as ReadWrite. A channel configured with replay_writes
// always appears as ReplayWrites regardless of which list(s) name it,
// since writes to it are acknowledged but never forwarded to the router.
func buildChannelRefs(resolved *resolver.Resolved, p model.Protocol) []nexusfs.ChannelRef {
	pub := make(map[model.ChannelHandle]bool, len(p.Publishers))
	for _, h := range p.Publishers {
		pub[h] = true
	}
	sub := make(map[model.ChannelHandle]bool, len(p.Subscribers))
	for _, h := range p.Subscribers {
		sub[h] = true
	}

	seen := make(map[model.ChannelHandle]bool, len(pub)+len(sub))
	var refs []nexusfs.ChannelRef
	add := func(h model.ChannelHandle) {
		if seen[h] {
			return
		}
		seen[h] = true
		ch := resolved.Channels[h]
		mode := nexusfs.ReadOnly
		switch {
		case ch.Type.ReplayWrites:
			mode = nexusfs.ReplayWrites
		case pub[h] && sub[h]:
			mode = nexusfs.ReadWrite
		case pub[h]:
			mode = nexusfs.WriteOnly
		}
		refs = append(refs, nexusfs.ChannelRef{Name: ch.Name, Handle: h, Mode: mode, MaxSize: ch.Type.MaxSize})
	}
	for _, h := range p.Publishers {
		add(h)
	}
	for _, h := range p.Subscribers {
		add(h)
	}
	return refs
}

func (run *Run) spawn(ctx context.Context, node model.Node, p model.Protocol) (*process, error) {
	view := nexusfs.ProtocolView{PID: p.PID, Root: p.Root}
	view.Channels = buildChannelRefs(run.resolved, p)

	mountDir := p.Root
	if err := os.MkdirAll(mountDir, 0o755); err != nil {
		return nil, err
	}
	conn, err := fuse.Mount(mountDir, fuse.FSName("nexus"), fuse.Subtype("nexusfs"))
	if err != nil {
		return nil, err
	}
	go func() {
		if err := fusefs.Serve(conn, nexusfs.New(view, run.backend)); err != nil {
			run.log.WithError(err).WithField("protocol", p.Name).Warn("fuse serve exited")
		}
	}()

	cmd := exec.CommandContext(ctx, p.Runner, p.RunnerArgs...)
	cmd.Dir = mountDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		conn.Close()
		return nil, err
	}

	if err := run.tree.AddProcess(node.Name, p.Name, cmd.Process.Pid, p.Resources.HertzRequested, p.Resources.Cores); err != nil {
		run.log.WithError(err).Warn("failed to move process into its cgroup")
	}
	if err := run.monitorFreeze(node.Name, p.Name); err != nil {
		run.log.WithError(err).Warn("failed to freeze newly spawned process before mount handshake")
	}

	return &process{
		node: node.Name, protocol: p.Name, cmd: cmd, mountDir: mountDir,
		unmount: func() error { return fuse.Unmount(mountDir) },
	}, nil
}

func (run *Run) monitorFreeze(node, protocol string) error {
	return run.monitor.Apply(status.Freeze, node, protocol)
}

// Execute drives the router for ts.Count timesteps, or until ctx is
// canceled or a protocol process exits prematurely.
func (run *Run) Execute(ctx context.Context, tickLength time.Duration) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		exited, err := run.monitor.Run(gctx, tickLength*10)
		if err != nil {
			return err
		}
		if exited != "" {
			return fmt.Errorf("orchestrator: process %s exited prematurely", exited)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(tickLength)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				result := run.backend.Step()
				if run.metrics != nil {
					run.metrics.Timestep.Set(float64(result.now))
					run.metrics.PendingEvents.Set(float64(result.pending))
				}
				if result.now >= run.resolved.Timestep.Count {
					// Stop the health monitor too, so Wait returns.
					stop()
					return nil
				}
			}
		}
	})

	err := g.Wait()
	if err == context.Canceled {
		err = nil
	}
	return err
}

// Teardown unmounts every FUSE mount, signals every process to exit, and
// deletes the cgroup tree.
func (run *Run) Teardown() error {
	var firstErr error
	for _, p := range run.procs {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		if err := p.unmount(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if run.tree != nil {
		if err := run.tree.Teardown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if run.backend != nil {
		run.backend.Close()
	}
	return firstErr
}
