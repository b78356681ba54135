package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/nexussim/nexus/internal/model"
	"github.com/nexussim/nexus/internal/units"
)

// Resolved is the fully validated, inheritance-flattened simulation
// description, still keyed by name: the resolver is what assigns dense
// handles and builds the flat endpoint vector.
type Resolved struct {
	Timestep units.TimestepConfig
	Seed     uint64
	Root     string
	Links    map[string]model.Link
	Channels map[string]ChannelSpec
	Nodes    []NodeSpec
}

// ChannelSpec is a validated channel, still referencing its link by value
// rather than by handle.
type ChannelSpec struct {
	Name string
	Link model.Link
	Type model.ChannelType
}

// ProtocolSpec is a validated protocol entry, still referencing channels
// by name.
type ProtocolSpec struct {
	Name        string
	Root        string
	Runner      string
	RunnerArgs  []string
	Build       string
	BuildArgs   []string
	Resources   model.Resources
	Publishers  []string
	Subscribers []string
}

// NodeSpec is a validated node, carrying both the globally visible channel
// names it may reference and any node-local channels that shadow them.
type NodeSpec struct {
	Name             string
	Position         model.Position
	Protocols        []ProtocolSpec
	InternalChannels map[string]ChannelSpec
}

func validate(sim *Simulation) (*Resolved, error) {
	tsUnit, err := parseTimeUnit(sim.Params.Timestep.Unit)
	if err != nil {
		return nil, fmt.Errorf("params.timestep: %w", err)
	}
	if sim.Params.Timestep.Length == 0 {
		return nil, fmt.Errorf("params.timestep.length must be nonzero")
	}

	links, err := resolveLinks(sim.Links)
	if err != nil {
		return nil, err
	}

	channels := make(map[string]ChannelSpec, len(sim.Channels))
	for name, c := range sim.Channels {
		spec, err := resolveChannel(name, c, links)
		if err != nil {
			return nil, err
		}
		channels[name] = spec
	}

	var nodes []NodeSpec
	for name, n := range sim.Nodes {
		node, err := resolveNode(name, n, links)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	// Map iteration order is randomized; handle assignment must be
	// deterministic across runs with the same description.
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	for i := range nodes {
		sort.Slice(nodes[i].Protocols, func(a, b int) bool {
			return nodes[i].Protocols[a].Name < nodes[i].Protocols[b].Name
		})
	}

	return &Resolved{
		Timestep: units.TimestepConfig{
			Length: sim.Params.Timestep.Length,
			Unit:   tsUnit,
			Count:  sim.Params.Timestep.Count,
		},
		Seed:     sim.Params.Seed,
		Root:     sim.Params.Root,
		Links:    links,
		Channels: channels,
		Nodes:    nodes,
	}, nil
}

// idealLink is the implicit root of inheritance: instantaneous, lossless,
// zero propagation delay.
func idealLink() model.Link {
	zero := func(float64) float64 { return 0 }
	zero2 := func(float64, float64) float64 { return 0 }
	return model.Link{
		Name:         LinkIdeal,
		Transmission: units.Rate{Amount: 0},
		Processing:   units.Rate{Amount: 0},
		Propagation:  zero,
		PropDistance: units.Kilometers,
		PropTime:     units.Seconds,
		PacketLoss:   zero2,
		BitError:     zero2,
	}
}

// resolveLinks flattens the inherit chain for every link, detecting
// cycles via depth-first walk with a three-color visited set.
func resolveLinks(raw map[string]Link) (map[string]model.Link, error) {
	resolved := map[string]model.Link{LinkIdeal: idealLink()}
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(raw))

	var resolve func(name string) error
	resolve = func(name string) error {
		if name == LinkIdeal {
			return nil
		}
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("links.%s: inheritance cycle detected", name)
		}
		ast, ok := raw[name]
		if !ok {
			return fmt.Errorf("links.%s: undefined (referenced via inherit)", name)
		}
		state[name] = visiting

		parentName := ast.Inherit
		if parentName == "" {
			parentName = LinkIdeal
		}
		if err := resolve(parentName); err != nil {
			return err
		}
		parent := resolved[parentName]

		link, err := buildLink(name, ast, parent)
		if err != nil {
			return err
		}
		resolved[name] = link
		state[name] = done
		return nil
	}

	for name := range raw {
		if err := resolve(name); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func buildLink(name string, ast Link, parent model.Link) (model.Link, error) {
	link := parent
	link.Name = name

	if ast.Delays.Transmission != "" {
		rate, err := parseRate(ast.Delays.Transmission)
		if err != nil {
			return model.Link{}, fmt.Errorf("links.%s.delays.transmission: %w", name, err)
		}
		link.Transmission = rate
	}
	if ast.Delays.Processing != "" {
		rate, err := parseRate(ast.Delays.Processing)
		if err != nil {
			return model.Link{}, fmt.Errorf("links.%s.delays.processing: %w", name, err)
		}
		link.Processing = rate
	}
	if ast.Delays.PropDistanceUnit != "" {
		u, err := parseDistanceUnit(ast.Delays.PropDistanceUnit)
		if err != nil {
			return model.Link{}, fmt.Errorf("links.%s.delays.propagation_distance_unit: %w", name, err)
		}
		link.PropDistance = u
	}
	if ast.Delays.PropTimeUnit != "" {
		u, err := parseTimeUnit(ast.Delays.PropTimeUnit)
		if err != nil {
			return model.Link{}, fmt.Errorf("links.%s.delays.propagation_time_unit: %w", name, err)
		}
		link.PropTime = u
	}
	if ast.Delays.Propagation != "" {
		fn, err := compileExpr1(ast.Delays.Propagation)
		if err != nil {
			return model.Link{}, fmt.Errorf("links.%s.delays.propagation: %w", name, err)
		}
		link.Propagation = fn
	}
	if ast.PacketLoss != "" {
		fn, err := compileExpr2(ast.PacketLoss)
		if err != nil {
			return model.Link{}, fmt.Errorf("links.%s.packet_loss: %w", name, err)
		}
		link.PacketLoss = fn
	}
	if ast.BitError != "" {
		fn, err := compileExpr2(ast.BitError)
		if err != nil {
			return model.Link{}, fmt.Errorf("links.%s.bit_error: %w", name, err)
		}
		link.BitError = fn
	}
	return link, nil
}

func resolveChannel(name string, c Channel, links map[string]model.Link) (ChannelSpec, error) {
	link, ok := links[c.Link]
	if !ok {
		return ChannelSpec{}, fmt.Errorf("channels.%s: undefined link %q", name, c.Link)
	}
	ct, err := resolveChannelType(name, c.Type)
	if err != nil {
		return ChannelSpec{}, err
	}
	return ChannelSpec{Name: name, Link: link, Type: ct}, nil
}

func resolveChannelType(channelName string, t ChannelTypeAST) (model.ChannelType, error) {
	var kind model.ChannelKind
	switch strings.ToLower(t.Kind) {
	case "shared":
		kind = model.Shared
	case "exclusive", "":
		kind = model.Exclusive
	default:
		return model.ChannelType{}, fmt.Errorf("channels.%s.type.kind: unknown kind %q", channelName, t.Kind)
	}
	if kind == model.Shared && t.MaxSize == 0 {
		return model.ChannelType{}, fmt.Errorf("channels.%s.type: shared channels require max_size", channelName)
	}

	ttlUnit := units.Seconds
	if t.Unit != "" {
		u, err := parseTimeUnit(t.Unit)
		if err != nil {
			return model.ChannelType{}, fmt.Errorf("channels.%s.type.unit: %w", channelName, err)
		}
		ttlUnit = u
	}

	return model.ChannelType{
		Kind:          kind,
		TTL:           t.TTL,
		TTLUnit:       ttlUnit,
		MaxSize:       t.MaxSize,
		ReadOwnWrites: t.ReadOwnWrites,
		NBuffered:     t.NBuffered,
		ReplayWrites:  t.ReplayWrites,
	}, nil
}

func resolveNode(name string, n Node, links map[string]model.Link) (NodeSpec, error) {
	posUnit := units.Meters
	if n.PositionUnit != "" {
		u, err := parseDistanceUnit(n.PositionUnit)
		if err != nil {
			return NodeSpec{}, fmt.Errorf("nodes.%s.position_unit: %w", name, err)
		}
		posUnit = u
	}

	internal := make(map[string]ChannelSpec, len(n.InternalNames))
	for cname, c := range n.InternalNames {
		if c.Link == "" {
			c.Link = LinkIdeal
		}
		spec, err := resolveChannel(cname, c, links)
		if err != nil {
			return NodeSpec{}, fmt.Errorf("nodes.%s: %w", name, err)
		}
		internal[cname] = spec
	}

	protocols := make([]ProtocolSpec, 0, len(n.Protocols))
	for _, p := range n.Protocols {
		if p.Name == "" {
			return NodeSpec{}, fmt.Errorf("nodes.%s: protocol missing name", name)
		}
		protocols = append(protocols, ProtocolSpec{
			Name:       p.Name,
			Root:       p.Root,
			Runner:     p.Runner,
			RunnerArgs: p.RunnerArgs,
			Build:      p.Build,
			BuildArgs:  p.BuildArgs,
			Resources: model.Resources{
				HertzRequested: p.Resources.CPU.Hertz,
				Cores:          p.Resources.CPU.Cores,
			},
			Publishers:  p.Publishers,
			Subscribers: p.Subscribers,
		})
	}

	return NodeSpec{
		Name: name,
		Position: model.Position{
			Point: model.Point{X: n.Position[0], Y: n.Position[1], Z: n.Position[2]},
			Unit:  posUnit,
		},
		Protocols:        protocols,
		InternalChannels: internal,
	}, nil
}

func parseTimeUnit(s string) (units.TimeUnit, error) {
	switch strings.ToLower(s) {
	case "s", "sec", "seconds":
		return units.Seconds, nil
	case "ms", "milliseconds":
		return units.Milliseconds, nil
	case "us", "microseconds":
		return units.Microseconds, nil
	case "ns", "nanoseconds":
		return units.Nanoseconds, nil
	default:
		return 0, fmt.Errorf("unknown time unit %q", s)
	}
}

func parseDistanceUnit(s string) (units.DistanceUnit, error) {
	switch strings.ToLower(s) {
	case "mm", "millimeters":
		return units.Millimeters, nil
	case "cm", "centimeters":
		return units.Centimeters, nil
	case "m", "meters":
		return units.Meters, nil
	case "km", "kilometers":
		return units.Kilometers, nil
	default:
		return 0, fmt.Errorf("unknown distance unit %q", s)
	}
}

func parseDataUnit(s string) (units.DataUnit, error) {
	switch strings.ToLower(s) {
	case "bit", "bits":
		return units.Bit, nil
	case "kilobit", "kilobits":
		return units.Kilobit, nil
	case "megabit", "megabits":
		return units.Megabit, nil
	case "gigabit", "gigabits":
		return units.Gigabit, nil
	case "byte", "bytes":
		return units.Byte, nil
	case "kilobyte", "kilobytes":
		return units.Kilobyte, nil
	case "megabyte", "megabytes":
		return units.Megabyte, nil
	case "gigabyte", "gigabytes":
		return units.Gigabyte, nil
	default:
		return 0, fmt.Errorf("unknown data unit %q", s)
	}
}

// parseRate parses a rate of the form "<amount> <data-unit>/<time-unit>",
// e.g. "200 bit/s" or "10 megabyte/ms".
func parseRate(s string) (units.Rate, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return units.Rate{}, fmt.Errorf("expected \"<amount> <data-unit>/<time-unit>\", got %q", s)
	}
	amount, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return units.Rate{}, fmt.Errorf("invalid amount %q: %w", fields[0], err)
	}
	parts := strings.SplitN(fields[1], "/", 2)
	if len(parts) != 2 {
		return units.Rate{}, fmt.Errorf("expected \"<data-unit>/<time-unit>\", got %q", fields[1])
	}
	dataUnit, err := parseDataUnit(parts[0])
	if err != nil {
		return units.Rate{}, err
	}
	timeUnit, err := parseTimeUnit(parts[1])
	if err != nil {
		return units.Rate{}, err
	}
	return units.Rate{Amount: amount, Data: dataUnit, Time: timeUnit}, nil
}

// exprEnv1 is the evaluation environment for a one-variable propagation
// expression: x is the hop distance.
type exprEnv1 struct {
	X float64 `expr:"x"`
}

// exprEnv2 is the evaluation environment for a two-variable packet-loss or
// bit-error expression: x is distance, y is message size in bits.
type exprEnv2 struct {
	X float64 `expr:"x"`
	Y float64 `expr:"y"`
}

func compileExpr1(src string) (model.Expr1, error) {
	program, err := expr.Compile(src, expr.Env(exprEnv1{}), expr.AsFloat64())
	if err != nil {
		return nil, err
	}
	return func(x float64) float64 {
		return runFloat(program, exprEnv1{X: x})
	}, nil
}

func compileExpr2(src string) (model.Expr2, error) {
	program, err := expr.Compile(src, expr.Env(exprEnv2{}), expr.AsFloat64())
	if err != nil {
		return nil, err
	}
	return func(x, y float64) float64 {
		return runFloat(program, exprEnv2{X: x, Y: y})
	}, nil
}

func runFloat(program *vm.Program, env interface{}) float64 {
	out, err := expr.Run(program, env)
	if err != nil {
		// Compiled with expr.AsFloat64 so a runtime failure here means a
		// division by zero or similar arithmetic fault, not a type error.
		return 0
	}
	switch v := out.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
