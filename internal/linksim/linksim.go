// Package linksim applies a link's physical characteristics to a message
// in flight: how many ticks it takes to arrive, whether it is dropped,
// and which bits of it get flipped.
package linksim

import (
	"math"
	"math/rand"

	"github.com/nexussim/nexus/internal/model"
	"github.com/nexussim/nexus/internal/units"
)

// HopDelay returns the number of timesteps a message of sizeBits must wait
// before it is delivered across link, travelling distance (in distUnit).
//
// The three contributions - transmission, processing and propagation -
// are combined as a single rational before rounding: transmission and
// processing share a common denominator and are summed exactly, the
// propagation term (itself fractional) is scaled by that denominator and
// floor-truncated before being added in, and only then is one ceiling
// taken of the whole. Rounding each term separately and summing the
// results produces off-by-one answers whenever the fractional remainders
// straddle a tick boundary, so the combination order matters.
func HopDelay(link model.Link, sizeBits uint64, distance float64, distUnit units.DistanceUnit, ts units.TimestepConfig) uint64 {
	trans := units.TimestepsRequired(sizeBits, units.Bit, link.Transmission, ts)
	proc := units.TimestepsRequired(sizeBits, units.Bit, link.Processing, ts)

	num := proc.Num*trans.Den + trans.Num*proc.Den
	den := proc.Den * trans.Den

	propDist := distance
	if distUnit != link.PropDistance {
		greater, shift := distUnit.Ratio(link.PropDistance)
		scalar := math.Pow(10, float64(shift))
		if greater {
			propDist *= scalar
		} else {
			propDist /= scalar
		}
	}
	propTicks := link.Propagation(propDist)
	if link.PropTime != ts.Unit {
		greater, shift := link.PropTime.Ratio(ts.Unit)
		scalar := math.Pow(10, float64(shift))
		if greater {
			propTicks *= scalar
		} else {
			propTicks /= scalar
		}
	}

	num += uint64(propTicks * float64(den)) // truncating: floor
	return units.Rational{Num: num, Den: den}.CeilDiv()
}

// PacketLost reports whether a message travelling distance over sizeBits
// should be dropped outright, per link's packet-loss expression
// evaluated as a Bernoulli trial.
func PacketLost(link model.Link, distance, sizeBits float64, rng *rand.Rand) bool {
	if link.PacketLoss == nil {
		return false
	}
	p := clampProbability(link.PacketLoss(distance, sizeBits))
	if p <= 0 {
		return false
	}
	return rng.Float64() < p
}

// ApplyBitErrors flips each bit of data independently with probability
// link.BitError(distance, len(data) in bits), returning the number of
// bits flipped. data is mutated in place.
func ApplyBitErrors(link model.Link, distance float64, data []byte, rng *rand.Rand) int {
	if link.BitError == nil {
		return 0
	}
	p := clampProbability(link.BitError(distance, float64(len(data)*8)))
	if p <= 0 {
		return 0
	}
	flipped := 0
	for byteIdx := range data {
		for bit := 0; bit < 8; bit++ {
			if rng.Float64() < p {
				data[byteIdx] ^= 1 << uint(bit)
				flipped++
			}
		}
	}
	return flipped
}

func clampProbability(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Combine merges two overlapping transmissions on a Shared channel by
// bitwise OR aligned at offset 0, treating the shorter input as
// zero-extended to the longer one's length and truncating the result to
// maxSize bytes; it is never padded out to maxSize. This models
// a shared medium where simultaneous transmissions interfere rather than
// being kept distinct.
func Combine(existing, incoming []byte, maxSize uint64) []byte {
	n := len(existing)
	if len(incoming) > n {
		n = len(incoming)
	}
	if uint64(n) > maxSize {
		n = int(maxSize)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		var a, b byte
		if i < len(existing) {
			a = existing[i]
		}
		if i < len(incoming) {
			b = incoming[i]
		}
		out[i] = a | b
	}
	return out
}
