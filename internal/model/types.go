// Package model holds the resolved data model shared by the resolver,
// router and link simulator: nodes, protocols, channels, links and the
// handle types that index them. Everything here is immutable after
// startup except where noted.
package model

import (
	"math"

	"github.com/nexussim/nexus/internal/units"
)

// NodeHandle is a dense, zero-based index assigned once at startup.
type NodeHandle int

// ChannelHandle is a dense, zero-based index assigned once at startup,
// covering both global and per-node internal channels.
type ChannelHandle int

// PID identifies a protocol instance within a run. The resolver assigns it
// at startup; it is not the OS process ID.
type PID int

// Point is a position in 3D space.
type Point struct {
	X, Y, Z float64
}

// Position is a point expressed in a specific distance unit.
type Position struct {
	Point Point
	Unit  units.DistanceUnit
}

// Distance returns the Euclidean distance between two positions in the
// smaller of their two units: the coordinates of the position expressed in
// the larger unit are multiplied up into the smaller one, so no precision
// is thrown away converting down. The smaller unit is returned alongside
// the distance.
func Distance(a, b Position) (float64, units.DistanceUnit) {
	aGreater, ratio := a.Unit.Ratio(b.Unit)
	scalar := math.Pow(10, float64(ratio))
	unit := a.Unit
	if aGreater {
		unit = b.Unit
	}
	ax, ay, az := a.Point.X, a.Point.Y, a.Point.Z
	bx, by, bz := b.Point.X, b.Point.Y, b.Point.Z
	if aGreater {
		ax, ay, az = ax*scalar, ay*scalar, az*scalar
	} else {
		bx, by, bz = bx*scalar, by*scalar, bz*scalar
	}
	dx, dy, dz := ax-bx, ay-by, az-bz
	return math.Sqrt(dx*dx + dy*dy + dz*dz), unit
}

// Node is a physical host with a fixed position, owning one or more
// protocols.
type Node struct {
	Name      string
	Handle    NodeHandle
	Position  Position
	Protocols []Protocol
}

// Protocol is a single OS process launched for a node, with the channel
// handles it publishes to and subscribes from.
type Protocol struct {
	Name        string
	Root        string
	Runner      string
	RunnerArgs  []string
	Build       string
	BuildArgs   []string
	PID         PID
	Publishers  []ChannelHandle
	Subscribers []ChannelHandle
	Resources   Resources
}

// Resources is the requested CPU allocation for a protocol.
type Resources struct {
	HertzRequested uint64 // 0 = unconstrained
	Cores          uint64 // 0 defaults to 1 when HertzRequested > 0
}

// ChannelKind distinguishes per-subscriber FIFO delivery from a shared,
// collision-prone medium.
type ChannelKind int

const (
	Exclusive ChannelKind = iota
	Shared
)

func (k ChannelKind) String() string {
	if k == Shared {
		return "shared"
	}
	return "exclusive"
}

// ChannelType carries the kind-specific configuration of a channel.
type ChannelType struct {
	Kind          ChannelKind
	TTL           *uint64 // nil = no expiration
	TTLUnit       units.TimeUnit
	MaxSize       uint64 // bytes; 0 = unbounded for Exclusive, required for Shared
	ReadOwnWrites bool
	NBuffered     *uint64 // Exclusive only; nil = unbounded
	ReplayWrites  bool    // writes are acknowledged but never forwarded to the router
}

// DeliversToSelf reports whether a source node should also receive its own
// transmissions on this channel.
func (t ChannelType) DeliversToSelf() bool { return t.ReadOwnWrites }

// Link describes the physical layer shared by one or more channels.
type Link struct {
	Name          string
	Transmission  units.Rate
	Processing    units.Rate
	Propagation   Expr1 // f(distance in PropDistance units) -> elapsed time in PropTime units
	PropDistance  units.DistanceUnit
	PropTime      units.TimeUnit
	PacketLoss    Expr2 // f(distance, size) -> probability in [0,1]
	BitError      Expr2 // f(distance, size) -> probability in [0,1]
}

// Expr1 is a compiled one-variable (distance) expression.
type Expr1 func(distance float64) float64

// Expr2 is a compiled two-variable (distance, size) expression.
type Expr2 func(distance, size float64) float64

// Channel is a named communication medium.
type Channel struct {
	Name        string
	Handle      ChannelHandle
	Link        Link
	Type        ChannelType
	Publishers  map[NodeHandle]bool
	Subscribers map[NodeHandle]bool
	Internal    bool // scoped to a single node; uses the ideal link unless its config names one
	Owner       NodeHandle // valid only if Internal
}

// Endpoint is a (process, node, channel) triple: one entry in the flat
// handle vector the resolver produces.
type Endpoint struct {
	PID     PID
	Node    NodeHandle
	Channel ChannelHandle
}

// Route is precomputed per (channel, source node): the index into the flat
// handle vector of a receiving endpoint, plus its distance from the
// source.
type Route struct {
	HandlePtr int
	Distance  float64
	Unit      units.DistanceUnit
}
