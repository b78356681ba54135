package status

import "testing"

func TestParseStrategyAbsolute(t *testing.T) {
	s, err := ParseStrategy("absolute")
	if err != nil {
		t.Fatalf("ParseStrategy(absolute): %v", err)
	}
	if s != StrategyAbsolute {
		t.Fatalf("got %v, want StrategyAbsolute", s)
	}
}

func TestParseStrategyUnsupportedNamedStrategies(t *testing.T) {
	for _, name := range []string{"relative", "bandwidth"} {
		if _, err := ParseStrategy(name); err != ErrUnsupportedStrategy {
			t.Fatalf("ParseStrategy(%s) error = %v, want ErrUnsupportedStrategy", name, err)
		}
	}
}

func TestParseStrategyUnknownName(t *testing.T) {
	if _, err := ParseStrategy("quantum"); err == nil {
		t.Fatal("expected error for unknown strategy name")
	}
}

func TestCoreAssignerPrefersLeastLoaded(t *testing.T) {
	a := NewCoreAssigner(4)
	first, err := a.Assign(2)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("got %d cores, want 2", len(first))
	}
	second, err := a.Assign(2)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	seen := map[int]bool{}
	for _, c := range first {
		seen[c] = true
	}
	for _, c := range second {
		if seen[c] {
			t.Fatalf("core %d assigned to both protocols; expected disjoint assignment across exactly 4 cores", c)
		}
	}
}

func TestCoreAssignerRejectsOversizedRequest(t *testing.T) {
	a := NewCoreAssigner(2)
	if _, err := a.Assign(4); err == nil {
		t.Fatal("expected error requesting more cores than available")
	}
}

func TestParseCPUMHz(t *testing.T) {
	cpuinfo := "processor\t: 0\ncpu MHz\t\t: 2400.000\nmodel name\t: test\n"
	mhz, ok := parseCPUMHz(cpuinfo)
	if !ok {
		t.Fatal("expected to find cpu MHz line")
	}
	if mhz != 2400.0 {
		t.Fatalf("mhz = %v, want 2400.0", mhz)
	}
}
