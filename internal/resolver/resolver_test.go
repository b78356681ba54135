package resolver

import (
	"testing"

	"github.com/nexussim/nexus/internal/config"
)

const twoNodeTopology = `
[params]
seed = 1
root = "/tmp/nexus"
[params.timestep]
length = 1
unit = "s"
count = 10

[links.copper.delays]
transmission = "1 bit/s"
processing = "1 bit/s"
propagation = "0"

[channels.bus]
link = "copper"
[channels.bus.type]
kind = "shared"
max_size = 64

[nodes.a]
position = [0.0, 0.0, 0.0]
[[nodes.a.protocols]]
name = "p1"
publishers = ["bus"]

[nodes.b]
position = [1.0, 0.0, 0.0]
[[nodes.b.protocols]]
name = "p1"
subscribers = ["bus"]
`

func TestResolveAssignsHandlesAndRoutes(t *testing.T) {
	cfg, err := config.LoadBytes([]byte(twoNodeTopology))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	r, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(r.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(r.Nodes))
	}
	if len(r.Channels) != 1 {
		t.Fatalf("channels = %d, want 1", len(r.Channels))
	}

	nodeA, nodeB := r.Nodes[0], r.Nodes[1]
	if nodeA.Name != "a" || nodeB.Name != "b" {
		t.Fatalf("expected name-sorted handles, got %s then %s", nodeA.Name, nodeB.Name)
	}

	routes := r.Route(r.Channels[0].Handle, nodeA.Handle)
	if len(routes) != 1 {
		t.Fatalf("routes from a = %d, want 1", len(routes))
	}
	if routes[0].Distance != 1.0 {
		t.Fatalf("distance = %v, want 1.0", routes[0].Distance)
	}
}

func TestResolveSelfDeliversToPublishOnlyNodeWhenReadOwnWritesSet(t *testing.T) {
	const src = `
[params]
seed = 1
root = "/tmp/nexus"
[params.timestep]
length = 1
unit = "s"
count = 10

[links.copper.delays]
transmission = "1 bit/s"
processing = "1 bit/s"
propagation = "0"

[channels.bus]
link = "copper"
[channels.bus.type]
kind = "shared"
max_size = 64
read_own_writes = true

[nodes.a]
position = [0.0, 0.0, 0.0]
[[nodes.a.protocols]]
name = "p1"
publishers = ["bus"]
`
	cfg, err := config.LoadBytes([]byte(src))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	r, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	nodeA := r.Nodes[0]
	routes := r.Route(r.Channels[0].Handle, nodeA.Handle)
	if len(routes) != 1 {
		t.Fatalf("routes from a = %d, want 1 (self-delivery even though a is not a declared subscriber)", len(routes))
	}
}

func TestResolveRejectsUndeclaredChannel(t *testing.T) {
	src := `
[params]
seed = 1
root = "/tmp"
[params.timestep]
length = 1
unit = "s"
count = 1

[nodes.a]
position = [0,0,0]
[[nodes.a.protocols]]
name = "p1"
publishers = ["nope"]
`
	cfg, err := config.LoadBytes([]byte(src))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if _, err := Resolve(cfg); err == nil {
		t.Fatal("expected undeclared channel error, got nil")
	}
}
