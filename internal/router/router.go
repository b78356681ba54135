// Package router is the discrete-event core of the simulation: it turns
// writes from one endpoint into scheduled deliveries at others, applying
// each hop's link simulation either at enqueue time (Exclusive channels)
// or lazily at read time against the destination's actual mailbox
// contents (Shared channels, where overlapping transmissions collide).
package router

import (
	"container/heap"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/nexussim/nexus/internal/linksim"
	"github.com/nexussim/nexus/internal/model"
	"github.com/nexussim/nexus/internal/resolver"
	"github.com/nexussim/nexus/internal/units"
)

// AddressedMsg is a message in flight or sitting in a mailbox. Distance
// and Unit are only meaningful for Shared channels, whose link simulation
// is deferred until a read observes the mailbox.
type AddressedMsg struct {
	HandlePtr  int // flat endpoint index of the destination
	SrcNode    model.NodeHandle
	Data       []byte
	Distance   float64
	Unit       units.DistanceUnit
	Expiration *uint64 // timestep at which this message is no longer deliverable; nil = never
}

// pendingEvent is one entry of the router's priority queue: a message
// scheduled to become deliverable at Activation, broken ties resolved by
// Seq so enqueue order is preserved for simultaneous arrivals.
type pendingEvent struct {
	Activation uint64
	Seq        uint64
	Msg        AddressedMsg
}

type eventQueue []*pendingEvent

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].Activation != q[j].Activation {
		return q[i].Activation < q[j].Activation
	}
	return q[i].Seq < q[j].Seq
}
func (q eventQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x interface{}) { *q = append(*q, x.(*pendingEvent)) }
func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// mailbox is a per-endpoint FIFO of delivered messages awaiting a reader.
type mailbox struct {
	pending []AddressedMsg
}

func (m *mailbox) push(msg AddressedMsg) { m.pending = append(m.pending, msg) }

func (m *mailbox) front() (AddressedMsg, bool) {
	if len(m.pending) == 0 {
		return AddressedMsg{}, false
	}
	return m.pending[0], true
}

func (m *mailbox) popFront() (AddressedMsg, bool) {
	if len(m.pending) == 0 {
		return AddressedMsg{}, false
	}
	msg := m.pending[0]
	m.pending = m.pending[1:]
	return msg, true
}

// drain removes and returns every entry currently in the mailbox, used
// when a Shared-channel read resolves a collision across all of them.
func (m *mailbox) drain() []AddressedMsg {
	out := m.pending
	m.pending = nil
	return out
}

func (m *mailbox) len() int { return len(m.pending) }

// Router owns the event queue and per-endpoint mailboxes for one
// simulation run.
type Router struct {
	resolved *resolver.Resolved
	queue    eventQueue
	seq      uint64
	now      uint64
	mailbox  []mailbox // indexed by flat endpoint index
	rng      *rand.Rand
	log      *logrus.Entry
}

// New builds a Router over an already-resolved topology.
func New(resolved *resolver.Resolved, log *logrus.Entry) *Router {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Router{
		resolved: resolved,
		mailbox:  make([]mailbox, len(resolved.Endpoints)),
		rng:      rand.New(rand.NewSource(int64(resolved.Seed))),
		log:      log.WithField("component", "router"),
	}
}

// Now returns the current simulated timestep.
func (r *Router) Now() uint64 { return r.now }

// EndpointNode returns the node that owns pid's process.
func (r *Router) EndpointNode(pid int) model.NodeHandle {
	return r.resolved.NodeOf(model.PID(pid))
}

// EndpointIndex returns the flat endpoint index backing pid's use of
// channel, mirroring resolver.Resolved.EndpointIndex.
func (r *Router) EndpointIndex(pid int, channel model.ChannelHandle) (int, bool) {
	return r.resolved.EndpointIndex(model.PID(pid), channel)
}

func (r *Router) nextSeq() uint64 {
	return atomic.AddUint64(&r.seq, 1)
}

func (r *Router) channelForHandle(handlePtr int) model.Channel {
	ep := r.resolved.Endpoints[handlePtr]
	return r.resolved.Channels[ep.Channel]
}

// ReceiveWrite accepts bytes written by the publisher at srcNode on
// channel and schedules a delivery event per route. Exclusive channels
// apply loss/bit-error now, per destination, since each subscriber gets
// its own buffered copy; Shared channels defer link simulation to read
// time, since what actually collides depends on mailbox occupancy a
// write can't know about yet.
func (r *Router) ReceiveWrite(srcNode model.NodeHandle, channel model.ChannelHandle, data []byte) error {
	if int(channel) >= len(r.resolved.Channels) {
		return fmt.Errorf("router: unknown channel handle %d", channel)
	}
	ch := r.resolved.Channels[channel]
	routes := r.resolved.Route(channel, srcNode)
	sizeBits := uint64(len(data)) * 8
	base := append([]byte(nil), data...)

	for _, route := range routes {
		payload := base
		if ch.Type.Kind == model.Exclusive {
			if linksim.PacketLost(ch.Link, route.Distance, float64(sizeBits), r.rng) {
				r.log.WithFields(logrus.Fields{"channel": ch.Name, "dest": route.HandlePtr}).Debug("packet lost in transit")
				continue
			}
			payload = append([]byte(nil), base...)
			linksim.ApplyBitErrors(ch.Link, route.Distance, payload, r.rng)
		}

		delay := linksim.HopDelay(ch.Link, sizeBits, route.Distance, route.Unit, r.resolved.Timestep)
		activation := r.now + delay
		heap.Push(&r.queue, &pendingEvent{
			Activation: activation,
			Seq:        r.nextSeq(),
			Msg: AddressedMsg{
				HandlePtr:  route.HandlePtr,
				SrcNode:    srcNode,
				Data:       payload,
				Distance:   route.Distance,
				Unit:       route.Unit,
				Expiration: ttlExpiration(ch, activation, r.resolved.Timestep),
			},
		})
	}
	return nil
}

// ttlExpiration computes the mailbox expiration tick for a message that
// becomes active at becomesActiveAt: TTL is scaled from its configured
// unit into ts.Unit by powers of ten, then the remainder is rolled over
// against the timestep length exactly as the combined delay/TTL
// arithmetic requires, so a TTL that crosses a tick boundary pushes the
// expiration out by one extra tick rather than truncating early.
func ttlExpiration(ch model.Channel, becomesActiveAt uint64, ts units.TimestepConfig) *uint64 {
	if ch.Type.TTL == nil {
		return nil
	}
	scaledTTL := *ch.Type.TTL
	if greater, shift := ch.Type.TTLUnit.Ratio(ts.Unit); greater {
		scaledTTL *= pow10(shift)
	} else {
		scaledTTL /= pow10(shift)
	}

	length := ts.Length
	if length == 0 {
		length = 1
	}
	remaining := length - becomesActiveAt%length
	expiration := becomesActiveAt
	if scaledTTL >= remaining {
		expiration++
		scaledTTL -= remaining
	}
	expiration += scaledTTL / length
	return &expiration
}

func pow10(shift uint) uint64 {
	x := uint64(1)
	for i := uint(0); i < shift; i++ {
		x *= 10
	}
	return x
}

// Step advances the simulation by one timestep: stale mailbox heads are
// dropped first, then every event whose activation has arrived is moved
// into its destination's mailbox, subject to the destination channel's
// nbuffered capacity for Exclusive channels.
func (r *Router) Step() {
	r.now++

	for i := range r.mailbox {
		for {
			front, ok := r.mailbox[i].front()
			if !ok || front.Expiration == nil || *front.Expiration >= r.now {
				break
			}
			r.mailbox[i].popFront()
		}
	}

	for r.queue.Len() > 0 && r.queue[0].Activation <= r.now {
		ev := heap.Pop(&r.queue).(*pendingEvent)
		handlePtr := ev.Msg.HandlePtr
		ch := r.channelForHandle(handlePtr)
		if ch.Type.Kind == model.Exclusive && ch.Type.NBuffered != nil && uint64(r.mailbox[handlePtr].len()) >= *ch.Type.NBuffered {
			r.log.WithFields(logrus.Fields{"channel": ch.Name, "dest": handlePtr}).Warn("message dropped: nbuffered capacity reached")
			continue
		}
		r.mailbox[handlePtr].push(ev.Msg)
	}
}

// RequestRead resolves the next deliverable message for handlePtr.
// Exclusive channels pop the mailbox front and drop it if it has expired
// since the last Step. Shared channels first drop any expired head
// entries, then resolve link simulation against whatever remains: zero
// entries is Empty, one is delivered as-is (link-simmed now), more than
// one is a collision whose survivors are combined. ok is false for an
// Empty reply.
func (r *Router) RequestRead(handlePtr int) (AddressedMsg, bool) {
	ch := r.channelForHandle(handlePtr)
	mb := &r.mailbox[handlePtr]

	if ch.Type.Kind == model.Exclusive {
		msg, ok := mb.popFront()
		if !ok {
			return AddressedMsg{}, false
		}
		if msg.Expiration != nil && *msg.Expiration < r.now {
			r.log.WithFields(logrus.Fields{"dest": handlePtr, "now": r.now, "expiration": *msg.Expiration}).Warn("message dropped due to timeout")
			return AddressedMsg{}, false
		}
		return msg, true
	}

	for {
		front, ok := mb.front()
		if !ok || front.Expiration == nil || *front.Expiration >= r.now {
			break
		}
		mb.popFront()
	}
	return r.deliverShared(handlePtr, ch, mb)
}

func (r *Router) deliverShared(handlePtr int, ch model.Channel, mb *mailbox) (AddressedMsg, bool) {
	switch mb.len() {
	case 0:
		return AddressedMsg{}, false
	case 1:
		msg, _ := mb.popFront()
		return r.simulateShared(ch, msg)
	default:
		r.log.WithFields(logrus.Fields{"channel": ch.Name, "dest": handlePtr}).Warn("collision detected on shared medium")
		entries := mb.drain()
		var combined []byte
		var srcNode model.NodeHandle
		delivered := false
		for _, msg := range entries {
			resolved, ok := r.simulateShared(ch, msg)
			if !ok {
				continue
			}
			combined = linksim.Combine(combined, resolved.Data, ch.Type.MaxSize)
			srcNode = resolved.SrcNode
			delivered = true
		}
		if !delivered {
			return AddressedMsg{}, false
		}
		return AddressedMsg{HandlePtr: handlePtr, SrcNode: srcNode, Data: combined}, true
	}
}

// simulateShared runs packet-loss and bit-error simulation for one Shared
// mailbox entry, using the distance captured when it was enqueued.
func (r *Router) simulateShared(ch model.Channel, msg AddressedMsg) (AddressedMsg, bool) {
	if linksim.PacketLost(ch.Link, msg.Distance, float64(len(msg.Data)*8), r.rng) {
		r.log.WithField("dest", msg.HandlePtr).Debug("shared packet lost in transit")
		return AddressedMsg{}, false
	}
	payload := append([]byte(nil), msg.Data...)
	linksim.ApplyBitErrors(ch.Link, msg.Distance, payload, r.rng)
	msg.Data = payload
	return msg, true
}

// Pending reports how many events remain in the queue, which the
// orchestrator publishes as its pending-events gauge.
func (r *Router) Pending() int { return r.queue.Len() }
