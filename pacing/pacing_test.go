package pacing

import (
	"math"
	"testing"
)

func TestNewProtocol_RejectsMalformedSteps(t *testing.T) {
	cases := []struct {
		name string
		step Step
	}{
		{"zero length", Step{Start: 0, Length: 0, Level: 1}},
		{"negative length", Step{Start: 0, Length: -1, Level: 1}},
		{"negative period", Step{Start: 0, Length: 1, Level: 1, Period: -1}},
		{"period shorter than pulse", Step{Start: 0, Length: 2, Level: 1, Period: 1}},
		{"negative multiplier", Step{Start: 0, Length: 1, Level: 1, Multiplier: -1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := NewProtocol([]Step{c.step}); err == nil {
				t.Fatalf("expected error for %+v", c.step)
			}
		})
	}
}

func TestEmptyProtocol_AlwaysZeroLevelNoBoundary(t *testing.T) {
	p, err := NewProtocol(nil)
	if err != nil {
		t.Fatal(err)
	}
	level, next := p.Advance(0, 100)
	if level != 0 {
		t.Errorf("level = %v, want 0", level)
	}
	if !math.IsInf(next, 1) {
		t.Errorf("next = %v, want +Inf", next)
	}
}

func TestAdvance_SinglePulse(t *testing.T) {
	p, err := NewProtocol([]Step{{Start: 1, Length: 0.5, Level: 1}})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		t             float64
		wantLevel     float64
		wantNextTime  float64
	}{
		{0.0, 0, 1.0},
		{1.0, 1, 1.5},
		{1.25, 1, 1.5},
		{1.5, 0, math.Inf(1)},
		{5.0, 0, math.Inf(1)},
	}
	for _, c := range cases {
		level, next := p.Advance(0, c.t)
		if level != c.wantLevel {
			t.Errorf("t=%v: level = %v, want %v", c.t, level, c.wantLevel)
		}
		if next != c.wantNextTime {
			t.Errorf("t=%v: next = %v, want %v", c.t, next, c.wantNextTime)
		}
	}
}

func TestAdvance_PeriodicPulseRepeatsIndefinitelyByDefault(t *testing.T) {
	p, err := NewProtocol([]Step{{Start: 0, Length: 0.5, Level: 2, Period: 10}})
	if err != nil {
		t.Fatal(err)
	}

	// Third repeat window: [20, 20.5)
	level, next := p.Advance(0, 20.1)
	if level != 2 {
		t.Errorf("level = %v, want 2", level)
	}
	if next != 20.5 {
		t.Errorf("next = %v, want 20.5", next)
	}
}

func TestAdvance_MultiplierBoundsRepeats(t *testing.T) {
	p, err := NewProtocol([]Step{{Start: 0, Length: 0.5, Level: 2, Period: 10, Multiplier: 2}})
	if err != nil {
		t.Fatal(err)
	}

	// Windows at n=0 [0,0.5) and n=1 [10,10.5); n=2 should be suppressed.
	if level, _ := p.Advance(0, 0.1); level != 2 {
		t.Errorf("n=0: level = %v, want 2", level)
	}
	if level, _ := p.Advance(0, 10.1); level != 2 {
		t.Errorf("n=1: level = %v, want 2", level)
	}
	level, next := p.Advance(0, 20.1)
	if level != 0 {
		t.Errorf("n=2 (exhausted): level = %v, want 0", level)
	}
	if !math.IsInf(next, 1) {
		t.Errorf("n=2 (exhausted): next = %v, want +Inf", next)
	}
}

func TestAdvance_IsIdempotentForRepeatedSameTarget(t *testing.T) {
	p, err := NewProtocol([]Step{{Start: 1, Length: 1, Level: 3, Period: 5}})
	if err != nil {
		t.Fatal(err)
	}

	l1, n1 := p.Advance(0, 3.5)
	l2, n2 := p.Advance(3.5, 3.5)
	if l1 != l2 || n1 != n2 {
		t.Errorf("repeated Advance(., 3.5) diverged: (%v,%v) vs (%v,%v)", l1, n1, l2, n2)
	}
}

func TestAdvance_BoundaryNotSkippedAcrossLargeStep(t *testing.T) {
	// Event at t=1.0; caller steps with default_dt=0.7 and must land exactly
	// on the boundary.
	p, err := NewProtocol([]Step{{Start: 1.0, Length: 0.5, Level: 1}})
	if err != nil {
		t.Fatal(err)
	}

	t0 := 0.0
	_, next := p.Advance(0, t0)
	if next != 1.0 {
		t.Fatalf("next = %v, want 1.0", next)
	}

	// The first full step of 0.7 stays short of the event; the chooser then
	// shrinks the second step to the remaining distance.
	defaultDt := 0.7
	t1 := t0 + defaultDt
	_, next = p.Advance(t0, t1)

	dt := defaultDt
	if next-t1 < dt {
		dt = next - t1
	}
	if math.Abs(dt-0.3) > 1e-12 {
		t.Errorf("chosen dt = %v, want 0.3 (shrunk to land on boundary)", dt)
	}
	landed := t1 + dt
	if landed != 1.0 {
		t.Errorf("landed at %v, want exactly 1.0", landed)
	}
}

func TestLevelAndNextTime_ReflectLastAdvance(t *testing.T) {
	p, err := NewProtocol([]Step{{Start: 0, Length: 1, Level: 5}})
	if err != nil {
		t.Fatal(err)
	}
	p.Advance(0, 0.5)
	if p.Level() != 5 {
		t.Errorf("Level() = %v, want 5", p.Level())
	}
	if p.NextTime() != 1 {
		t.Errorf("NextTime() = %v, want 1", p.NextTime())
	}
}
