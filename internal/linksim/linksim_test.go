package linksim

import (
	"math/rand"
	"testing"

	"github.com/nexussim/nexus/internal/model"
	"github.com/nexussim/nexus/internal/units"
)

func testLink() model.Link {
	return model.Link{
		Transmission: units.Rate{Amount: 200, Data: units.Bit, Time: units.Seconds},
		Processing:   units.Rate{Amount: 200, Data: units.Bit, Time: units.Seconds},
		Propagation:  func(x float64) float64 { return 5 * x },
		PropDistance: units.Kilometers,
		PropTime:     units.Seconds,
	}
}

func TestHopDelayMatchesScenarioTable(t *testing.T) {
	ts := units.TimestepConfig{Length: 1, Unit: units.Seconds, Count: 1000}
	link := testLink()
	cases := []struct {
		distance float64
		size     uint64
		want     uint64
	}{
		{0.0001, 0, 1},
		{0.0, 1, 1},
		{0.0, 100, 1},
		{1.0, 0, 5},
		{1.0, 200, 7},
		{1.4, 200, 9},
		{1.9, 200, 12},
		{2.0, 200, 12},
	}
	for _, c := range cases {
		got := HopDelay(link, c.size, c.distance, units.Kilometers, ts)
		if got != c.want {
			t.Errorf("HopDelay(distance=%v, size=%d) = %d, want %d", c.distance, c.size, got, c.want)
		}
	}
}

func TestPacketLostZeroProbabilityNeverDrops(t *testing.T) {
	link := testLink()
	link.PacketLoss = func(distance, size float64) float64 { return 0 }
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		if PacketLost(link, 1.0, 100, rng) {
			t.Fatal("zero-probability loss expression dropped a packet")
		}
	}
}

func TestPacketLostCertainAlwaysDrops(t *testing.T) {
	link := testLink()
	link.PacketLoss = func(distance, size float64) float64 { return 1 }
	rng := rand.New(rand.NewSource(1))
	if !PacketLost(link, 1.0, 100, rng) {
		t.Fatal("probability-1 loss expression did not drop")
	}
}

func TestApplyBitErrorsZeroProbabilityLeavesDataUntouched(t *testing.T) {
	link := testLink()
	link.BitError = func(distance, size float64) float64 { return 0 }
	data := []byte{0xAA, 0x55, 0xFF}
	want := append([]byte(nil), data...)
	rng := rand.New(rand.NewSource(2))
	if n := ApplyBitErrors(link, 1.0, data, rng); n != 0 {
		t.Fatalf("flipped %d bits, want 0", n)
	}
	for i := range data {
		if data[i] != want[i] {
			t.Fatalf("data mutated despite zero bit-error probability")
		}
	}
}

func TestCombineTruncatesToMaxSize(t *testing.T) {
	out := Combine([]byte{0x0F, 0x00, 0xFF}, []byte{0xF0, 0xFF}, 2)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0] != 0xFF || out[1] != 0xFF {
		t.Fatalf("Combine = %x, want [ff ff]", out)
	}
}
