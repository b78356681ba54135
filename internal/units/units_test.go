package units

import "testing"

func TestConvertDataRoundTrip(t *testing.T) {
	for _, u := range []DataUnit{Bit, Kilobit, Megabit, Gigabit, Byte, Kilobyte, Megabyte, Gigabyte} {
		r := ConvertData(12345, u, u)
		if r.Num != 12345 || r.Den != 1 {
			t.Fatalf("convert(%v,%v,%v) = %+v, want identity", 12345, u, u, r)
		}
	}
}

func TestConvertDataByteToBit(t *testing.T) {
	r := ConvertData(1, Byte, Bit)
	if got := r.CeilDiv(); got != 8 {
		t.Fatalf("1 byte in bits = %d, want 8", got)
	}
}

func TestConvertTimeIdentity(t *testing.T) {
	r := ConvertTime(500, Milliseconds, Milliseconds)
	if r.Num != 500 || r.Den != 1 {
		t.Fatalf("identity conversion changed value: %+v", r)
	}
}

func TestTimestepsRequiredZeroRateIsInstant(t *testing.T) {
	ts := TimestepConfig{Length: 1, Unit: Seconds, Count: 1000}
	r := TimestepsRequired(100, Bit, Rate{Amount: 0}, ts)
	if r.CeilDiv() != 0 {
		t.Fatalf("zero-rate (ideal) link should contribute zero ticks, got %d", r.CeilDiv())
	}
}

func TestTimestepsRequiredMatchesAnalyticalCeiling(t *testing.T) {
	ts := TimestepConfig{Length: 1, Unit: Seconds, Count: 1000}
	rate := Rate{Amount: 200, Data: Bit, Time: Seconds}
	cases := []struct {
		amount uint64
		want   uint64
	}{
		{0, 0},
		{1, 1},
		{100, 1},
		{200, 1},
		{201, 2},
		{400, 2},
	}
	for _, c := range cases {
		got := TimestepsRequired(c.amount, Bit, rate, ts).CeilDiv()
		if got != c.want {
			t.Errorf("timesteps_required(%d, 200 bit/s) = %d, want %d", c.amount, got, c.want)
		}
	}
}
