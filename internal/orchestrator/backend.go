package orchestrator

import (
	"context"
	"errors"

	"github.com/nexussim/nexus/internal/model"
	"github.com/nexussim/nexus/internal/router"
)

var errUnknownEndpoint = errors.New("orchestrator: pid does not use the requested channel")

// routerBackend adapts the single-threaded Router to nexusfs.Backend
// without ever sharing it across goroutines: every FUSE handler runs on
// its own goroutine, but each request is handed to the backend's single
// owning goroutine over a channel and waits for an explicit reply on one
// made just for that request, rather than reaching into the router under
// a mutex. The router is mutated only inside run(), mirroring the
// simulation's single orchestrator thread.
type routerBackend struct {
	router *router.Router

	writes chan writeRequest
	reads  chan readRequest
	steps  chan stepRequest
	done   chan struct{}
}

type writeRequest struct {
	node    model.NodeHandle
	channel model.ChannelHandle
	data    []byte
	reply   chan error
}

type readRequest struct {
	handlePtr int
	reply     chan readReply
}

// readReply mirrors the router's Shared/Exclusive/Empty reply model: ok
// is false for Empty, in which case Data is always nil.
type readReply struct {
	data []byte
	ok   bool
}

type stepRequest struct {
	reply chan stepResult
}

type stepResult struct {
	now     uint64
	pending int
}

func newRouterBackend(r *router.Router) *routerBackend {
	b := &routerBackend{
		router: r,
		writes: make(chan writeRequest, 64),
		reads:  make(chan readRequest, 64),
		steps:  make(chan stepRequest),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// run is the backend's single owning goroutine: it is the only place
// *router.Router's mutable state is touched (Write and Read only call its
// lookups over the immutable resolved topology), serializing writes, reads and timestep
// advances into one stream of events exactly as a single-threaded
// discrete-event router requires.
func (b *routerBackend) run() {
	for {
		select {
		case req := <-b.writes:
			req.reply <- b.router.ReceiveWrite(req.node, req.channel, req.data)
		case req := <-b.reads:
			msg, ok := b.router.RequestRead(req.handlePtr)
			req.reply <- readReply{data: msg.Data, ok: ok}
		case req := <-b.steps:
			b.router.Step()
			req.reply <- stepResult{now: b.router.Now(), pending: b.router.Pending()}
		case <-b.done:
			return
		}
	}
}

// Write forwards a publisher's bytes to the router's owning goroutine and
// waits for it to be enqueued.
func (b *routerBackend) Write(ctx context.Context, pid model.PID, channel model.ChannelHandle, data []byte) error {
	node := b.router.EndpointNode(int(pid))
	reply := make(chan error, 1)
	select {
	case b.writes <- writeRequest{node: node, channel: channel, data: data, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read asks the router's owning goroutine for the next deliverable
// message and returns immediately with whatever it has: a non-empty
// payload, or a nil, zero-length reply when the mailbox has nothing to
// offer right now. It never blocks waiting for a future delivery -
// callers that want to poll again do so on their own schedule.
func (b *routerBackend) Read(ctx context.Context, pid model.PID, channel model.ChannelHandle) ([]byte, error) {
	handlePtr, ok := b.router.EndpointIndex(int(pid), channel)
	if !ok {
		return nil, errUnknownEndpoint
	}
	reply := make(chan readReply, 1)
	select {
	case b.reads <- readRequest{handlePtr: handlePtr, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		if !r.ok {
			return nil, nil
		}
		return r.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Step asks the router's owning goroutine to advance one timestep and
// reports the resulting clock and queue depth, for the orchestrator's
// tick loop and metrics.
func (b *routerBackend) Step() stepResult {
	reply := make(chan stepResult, 1)
	b.steps <- stepRequest{reply: reply}
	return <-reply
}

// Close stops the backend's owning goroutine.
func (b *routerBackend) Close() {
	close(b.done)
}
