package router

import (
	"testing"

	"github.com/nexussim/nexus/internal/config"
	"github.com/nexussim/nexus/internal/model"
	"github.com/nexussim/nexus/internal/resolver"
)

const exclusiveTopology = `
[params]
seed = 1
root = "/tmp"
[params.timestep]
length = 1
unit = "s"
count = 100

[links.ideal2.delays]
transmission = "0 bit/s"
processing = "0 bit/s"
propagation = "0"

[channels.link1]
link = "ideal2"
[channels.link1.type]
kind = "exclusive"

[nodes.a]
position = [0,0,0]
[[nodes.a.protocols]]
name = "p1"
publishers = ["link1"]

[nodes.b]
position = [0,0,0]
[[nodes.b.protocols]]
name = "p1"
subscribers = ["link1"]
`

func mustResolve(t *testing.T, src string) *resolver.Resolved {
	t.Helper()
	cfg, err := config.LoadBytes([]byte(src))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	r, err := resolver.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return r
}

func TestRouterDeliversExclusiveMessageImmediatelyOnIdealLink(t *testing.T) {
	resolved := mustResolve(t, exclusiveTopology)
	rt := New(resolved, nil)

	var destHandle int
	for i, ep := range resolved.Endpoints {
		if resolved.Nodes[ep.Node].Name == "b" {
			destHandle = i
		}
	}
	srcChannel := resolved.Channels[0].Handle

	if err := rt.ReceiveWrite(resolved.Nodes[0].Handle, srcChannel, []byte("hello")); err != nil {
		t.Fatalf("ReceiveWrite: %v", err)
	}
	rt.Step()

	msg, ok := rt.RequestRead(destHandle)
	if !ok {
		t.Fatal("expected a delivered message on an ideal (zero-delay) link after one step")
	}
	if string(msg.Data) != "hello" {
		t.Fatalf("data = %q, want %q", msg.Data, "hello")
	}
}

func TestRouterRequestReadEmptyMailboxReturnsFalse(t *testing.T) {
	resolved := mustResolve(t, exclusiveTopology)
	rt := New(resolved, nil)
	if _, ok := rt.RequestRead(0); ok {
		t.Fatal("expected no message in an empty mailbox")
	}
}

const ttlTopology = `
[params]
seed = 1
root = "/tmp"
[params.timestep]
length = 1
unit = "s"
count = 100

[links.ideal2.delays]
transmission = "0 bit/s"
processing = "0 bit/s"
propagation = "0"

[channels.link1]
link = "ideal2"
[channels.link1.type]
kind = "exclusive"
ttl = 2
unit = "s"

[nodes.a]
position = [0,0,0]
[[nodes.a.protocols]]
name = "p1"
publishers = ["link1"]

[nodes.b]
position = [0,0,0]
[[nodes.b.protocols]]
name = "p1"
subscribers = ["link1"]
`

func findDest(resolved *resolver.Resolved, nodeName string) int {
	for i, ep := range resolved.Endpoints {
		if resolved.Nodes[ep.Node].Name == nodeName {
			return i
		}
	}
	return -1
}

// TestRouterDropsExpiredMessageOnRead exercises concrete scenario 3: a
// message with a 2-second TTL written before the first Step (t=0) on an
// ideal link becomes active at once with expiration tick 2, is swept from
// the mailbox by the Step to t=3, so a read at t=4 must reply Empty.
func TestRouterDropsExpiredMessageOnRead(t *testing.T) {
	resolved := mustResolve(t, ttlTopology)
	rt := New(resolved, nil)
	dest := findDest(resolved, "b")
	srcChannel := resolved.Channels[0].Handle

	if err := rt.ReceiveWrite(resolved.Nodes[0].Handle, srcChannel, []byte("x")); err != nil {
		t.Fatalf("ReceiveWrite: %v", err)
	}
	for i := 0; i < 4; i++ {
		rt.Step()
	}

	if _, ok := rt.RequestRead(dest); ok {
		t.Fatal("expected expired message to be dropped, got a delivery")
	}
}

const sharedTopology = `
[params]
seed = 1
root = "/tmp"
[params.timestep]
length = 1
unit = "s"
count = 100

[links.air.delays]
transmission = "0 bit/s"
processing = "0 bit/s"
propagation = "0"

[channels.bus]
link = "air"
[channels.bus.type]
kind = "shared"
max_size = 1

[nodes.a]
position = [0,0,0]
[[nodes.a.protocols]]
name = "p1"
publishers = ["bus"]

[nodes.c]
position = [0,0,0]
[[nodes.c.protocols]]
name = "p1"
publishers = ["bus"]

[nodes.b]
position = [0,0,0]
[[nodes.b.protocols]]
name = "p1"
subscribers = ["bus"]
`

// TestRouterCombinesCollidingSharedWrites exercises concrete scenario 4:
// two writes land in the same (as yet unread) mailbox slot on a shared
// channel; the read that observes both must OR-combine them rather than
// just returning the oldest.
func TestRouterCombinesCollidingSharedWrites(t *testing.T) {
	resolved := mustResolve(t, sharedTopology)
	rt := New(resolved, nil)
	dest := findDest(resolved, "b")
	srcChannel := resolved.Channels[0].Handle

	var nodeA, nodeC model.NodeHandle
	for _, n := range resolved.Nodes {
		switch n.Name {
		case "a":
			nodeA = n.Handle
		case "c":
			nodeC = n.Handle
		}
	}

	if err := rt.ReceiveWrite(nodeA, srcChannel, []byte{0x0F}); err != nil {
		t.Fatalf("ReceiveWrite a: %v", err)
	}
	if err := rt.ReceiveWrite(nodeC, srcChannel, []byte{0xF0}); err != nil {
		t.Fatalf("ReceiveWrite c: %v", err)
	}
	rt.Step()

	msg, ok := rt.RequestRead(dest)
	if !ok {
		t.Fatal("expected a combined delivery from the colliding writes")
	}
	if len(msg.Data) != 1 || msg.Data[0] != 0xFF {
		t.Fatalf("data = %v, want [0xFF]", msg.Data)
	}
}

const backpressureTopology = `
[params]
seed = 1
root = "/tmp"
[params.timestep]
length = 1
unit = "s"
count = 100

[links.ideal2.delays]
transmission = "0 bit/s"
processing = "0 bit/s"
propagation = "0"

[channels.link1]
link = "ideal2"
[channels.link1.type]
kind = "exclusive"
nbuffered = 2

[nodes.a]
position = [0,0,0]
[[nodes.a.protocols]]
name = "p1"
publishers = ["link1"]

[nodes.b]
position = [0,0,0]
[[nodes.b.protocols]]
name = "p1"
subscribers = ["link1"]
`

// TestRouterDropsDeliveryBeyondNBuffered exercises concrete scenario 6:
// three writes land on the same tick on an exclusive channel capped at
// nbuffered=2; the third is dropped at delivery time and only the first
// two are ever readable.
func TestRouterDropsDeliveryBeyondNBuffered(t *testing.T) {
	resolved := mustResolve(t, backpressureTopology)
	rt := New(resolved, nil)
	dest := findDest(resolved, "b")
	srcChannel := resolved.Channels[0].Handle
	srcNode := resolved.Nodes[0].Handle

	for _, b := range [][]byte{{1}, {2}, {3}} {
		if err := rt.ReceiveWrite(srcNode, srcChannel, b); err != nil {
			t.Fatalf("ReceiveWrite: %v", err)
		}
	}
	rt.Step()

	first, ok := rt.RequestRead(dest)
	if !ok || first.Data[0] != 1 {
		t.Fatalf("first read = %v, %v; want [1], true", first.Data, ok)
	}
	second, ok := rt.RequestRead(dest)
	if !ok || second.Data[0] != 2 {
		t.Fatalf("second read = %v, %v; want [2], true", second.Data, ok)
	}
	if _, ok := rt.RequestRead(dest); ok {
		t.Fatal("expected third message to have been dropped by nbuffered capacity")
	}
}
