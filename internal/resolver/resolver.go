// Package resolver turns a validated configuration into the dense,
// handle-indexed model the router and link simulator operate on: nodes,
// channels and processes each get a small integer handle, and every
// publisher/subscriber name is turned into a concrete routing entry.
package resolver

import (
	"fmt"
	"sort"

	"github.com/nexussim/nexus/internal/config"
	"github.com/nexussim/nexus/internal/model"
	"github.com/nexussim/nexus/internal/units"
)

// Resolved is the fully handle-indexed simulation, ready to hand to the
// router and the orchestrator.
type Resolved struct {
	Timestep  units.TimestepConfig
	Seed      uint64
	Root      string
	Nodes     []model.Node
	Channels  []model.Channel // indexed by ChannelHandle
	Endpoints []model.Endpoint
	// Routes maps a channel and source node to the flat endpoint indices
	// that should receive a transmission on it, alongside each
	// destination's distance from the source.
	Routes map[routeKey][]model.Route

	// pidNode and endpointIndex let a caller holding only a PID and a
	// channel (as nexusfs does) find the node that owns it and the flat
	// endpoint slot to read or write through.
	pidNode       map[model.PID]model.NodeHandle
	endpointIndex map[pidChannel]int
}

type pidChannel struct {
	PID     model.PID
	Channel model.ChannelHandle
}

// NodeOf returns the node a PID's process is running on.
func (r *Resolved) NodeOf(pid model.PID) model.NodeHandle {
	return r.pidNode[pid]
}

// EndpointIndex returns the flat endpoint index backing pid's use of
// channel, if that protocol publishes or subscribes to it.
func (r *Resolved) EndpointIndex(pid model.PID, channel model.ChannelHandle) (int, bool) {
	idx, ok := r.endpointIndex[pidChannel{PID: pid, Channel: channel}]
	return idx, ok
}

type routeKey struct {
	Channel model.ChannelHandle
	Source  model.NodeHandle
}

// ErrUndeclaredChannel is returned when a protocol's publisher or
// subscriber list names a channel neither declared globally nor shadowed
// locally on its node.
type ErrUndeclaredChannel struct {
	Node, Protocol, Channel string
}

func (e *ErrUndeclaredChannel) Error() string {
	return fmt.Sprintf("resolver: node %q protocol %q references undeclared channel %q", e.Node, e.Protocol, e.Channel)
}

// Resolve assigns dense handles to every node and channel named in cfg,
// builds the flat endpoint vector, and precomputes the routing table.
func Resolve(cfg *config.Resolved) (*Resolved, error) {
	nodeHandles := make(map[string]model.NodeHandle, len(cfg.Nodes))
	nodes := make([]model.Node, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		nodeHandles[n.Name] = model.NodeHandle(i)
		nodes[i] = model.Node{
			Name:     n.Name,
			Handle:   model.NodeHandle(i),
			Position: n.Position,
		}
	}

	// Global channels first, in name-sorted order for determinism, then
	// each node's internal channels, shadowing the global namespace only
	// within that node.
	globalNames := sortedKeys(cfg.Channels)
	var channels []model.Channel
	channelHandles := make(map[string]model.ChannelHandle, len(cfg.Channels))
	for _, name := range globalNames {
		spec := cfg.Channels[name]
		h := model.ChannelHandle(len(channels))
		channelHandles[name] = h
		channels = append(channels, model.Channel{
			Name:        name,
			Handle:      h,
			Link:        spec.Link,
			Type:        spec.Type,
			Publishers:  map[model.NodeHandle]bool{},
			Subscribers: map[model.NodeHandle]bool{},
		})
	}

	// internalHandles[nodeName][channelName] overrides channelHandles
	// when a protocol on that node references channelName.
	internalHandles := make(map[string]map[string]model.ChannelHandle, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		if len(n.InternalChannels) == 0 {
			continue
		}
		local := make(map[string]model.ChannelHandle, len(n.InternalChannels))
		for _, name := range sortedKeys(n.InternalChannels) {
			spec := n.InternalChannels[name]
			owner := nodeHandles[n.Name]
			h := model.ChannelHandle(len(channels))
			local[name] = h
			channels = append(channels, model.Channel{
				Name:        name,
				Handle:      h,
				Link:        spec.Link,
				Type:        spec.Type,
				Publishers:  map[model.NodeHandle]bool{},
				Subscribers: map[model.NodeHandle]bool{},
				Internal:    true,
				Owner:       owner,
			})
		}
		internalHandles[n.Name] = local
	}

	lookup := func(nodeName, protoName, channelName string) (model.ChannelHandle, error) {
		if local, ok := internalHandles[nodeName]; ok {
			if h, ok := local[channelName]; ok {
				return h, nil
			}
		}
		if h, ok := channelHandles[channelName]; ok {
			return h, nil
		}
		return 0, &ErrUndeclaredChannel{Node: nodeName, Protocol: protoName, Channel: channelName}
	}

	endpoints := make([]model.Endpoint, 0)
	pidNode := make(map[model.PID]model.NodeHandle)
	endpointIndex := make(map[pidChannel]int)
	for i, n := range cfg.Nodes {
		nodeHandle := nodeHandles[n.Name]
		protos := make([]model.Protocol, 0, len(n.Protocols))
		for _, p := range n.Protocols {
			pid := model.PID(len(endpoints))
			pidNode[pid] = nodeHandle

			pub := make([]model.ChannelHandle, 0, len(p.Publishers))
			for _, name := range p.Publishers {
				h, err := lookup(n.Name, p.Name, name)
				if err != nil {
					return nil, err
				}
				pub = append(pub, h)
				channels[h].Publishers[nodeHandle] = true
				endpointIndex[pidChannel{PID: pid, Channel: h}] = len(endpoints)
				endpoints = append(endpoints, model.Endpoint{PID: pid, Node: nodeHandle, Channel: h})
			}
			sub := make([]model.ChannelHandle, 0, len(p.Subscribers))
			for _, name := range p.Subscribers {
				h, err := lookup(n.Name, p.Name, name)
				if err != nil {
					return nil, err
				}
				sub = append(sub, h)
				channels[h].Subscribers[nodeHandle] = true
				endpointIndex[pidChannel{PID: pid, Channel: h}] = len(endpoints)
				endpoints = append(endpoints, model.Endpoint{PID: pid, Node: nodeHandle, Channel: h})
			}

			protos = append(protos, model.Protocol{
				Name:        p.Name,
				Root:        p.Root,
				Runner:      p.Runner,
				RunnerArgs:  p.RunnerArgs,
				Build:       p.Build,
				BuildArgs:   p.BuildArgs,
				PID:         pid,
				Publishers:  pub,
				Subscribers: sub,
				Resources:   p.Resources,
			})
		}
		nodes[i].Protocols = protos
	}

	routes := buildRoutes(nodes, channels, endpoints)

	return &Resolved{
		Timestep:      cfg.Timestep,
		Seed:          cfg.Seed,
		Root:          cfg.Root,
		Nodes:         nodes,
		Channels:      channels,
		Endpoints:     endpoints,
		Routes:        routes,
		pidNode:       pidNode,
		endpointIndex: endpointIndex,
	}, nil
}

// buildRoutes precomputes, for every (channel, source node) pair, the flat
// endpoint indices of every node that should receive a transmission a
// publisher on that node sends, along with its distance. A destination
// node is included if it is a declared subscriber, or if it is the
// source node itself and the channel's DeliversToSelf is set - the
// latter applies even when the source node is not itself a declared
// subscriber, so a publish-only node can still read its own writes.
func buildRoutes(nodes []model.Node, channels []model.Channel, endpoints []model.Endpoint) map[routeKey][]model.Route {
	routes := make(map[routeKey][]model.Route)
	for _, ch := range channels {
		for src := range ch.Publishers {
			var dests []model.Route
			for dst := model.NodeHandle(0); int(dst) < len(nodes); dst++ {
				if !ch.Subscribers[dst] && !(dst == src && ch.Type.DeliversToSelf()) {
					continue
				}
				dist, unit := model.Distance(nodes[src].Position, nodes[dst].Position)
				for idx, ep := range endpoints {
					if ep.Node == dst && ep.Channel == ch.Handle {
						dests = append(dests, model.Route{HandlePtr: idx, Distance: dist, Unit: unit})
					}
				}
			}
			sort.Slice(dests, func(i, j int) bool { return dests[i].HandlePtr < dests[j].HandlePtr })
			routes[routeKey{Channel: ch.Handle, Source: src}] = dests
		}
	}
	return routes
}

// Route returns the precomputed destinations for a publisher on node src
// transmitting on channel ch.
func (r *Resolved) Route(ch model.ChannelHandle, src model.NodeHandle) []model.Route {
	return r.Routes[routeKey{Channel: ch, Source: src}]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
