// Package pacing implements the piecewise-constant stimulus schedule that
// drives an electrophysiology simulation's pace(t) function. It has no
// device dependency: it is pure host-side scheduling logic, grounded on the
// operation set exposed by myokit's event-based pacing system
// (advance/next_time/pace/time — see original_source/tests/ansic_event_based_pacing.py).
package pacing

import (
	"fmt"
	"math"
	"sort"
)

// Step describes one entry in a piecewise-constant stimulus schedule: the
// level is active for Length time units starting at Start, optionally
// repeating every Period time units. Multiplier caps the number of
// repetitions (0 means "repeat indefinitely", only meaningful when Period
// is positive).
type Step struct {
	Start      float64
	Length     float64
	Level      float64
	Period     float64
	Multiplier float64
}

// Protocol is a finite list of Steps producing a piecewise-constant pace(t).
// The zero value (no steps) is a valid, always-zero protocol.
type Protocol struct {
	steps []Step

	level    float64
	nextTime float64
}

// NewProtocol validates steps and returns a Protocol. A malformed schedule
// (non-positive Length, or a repeat Period shorter than the pulse it
// repeats) is a Protocol error, fatal at Init per the integrator's error
// handling design.
func NewProtocol(steps []Step) (*Protocol, error) {
	for i, s := range steps {
		if s.Length <= 0 {
			return nil, fmt.Errorf("pacing: step %d has non-positive length %v", i, s.Length)
		}
		if s.Period < 0 {
			return nil, fmt.Errorf("pacing: step %d has negative period %v", i, s.Period)
		}
		if s.Period > 0 && s.Period < s.Length {
			return nil, fmt.Errorf("pacing: step %d period %v is shorter than its pulse length %v", i, s.Period, s.Length)
		}
		if s.Multiplier < 0 {
			return nil, fmt.Errorf("pacing: step %d has negative multiplier %v", i, s.Multiplier)
		}
	}

	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	p := &Protocol{steps: sorted, nextTime: math.Inf(1)}
	return p, nil
}

// Advance moves the protocol's notion of "now" to tTo and reports the
// resulting pace level and the next time that level will change (+Inf if
// never). tFrom is accepted for symmetry with myokit's advance(new_time)
// signature but the computation is a pure function of tTo, so Advance is
// idempotent for any repeated call with the same tTo regardless of whether
// a boundary was crossed.
func (p *Protocol) Advance(tFrom, tTo float64) (level, nextTime float64) {
	_ = tFrom

	level = 0
	nextTime = math.Inf(1)
	for _, s := range p.steps {
		level += stepLevel(s, tTo)
		if b := stepNextBoundary(s, tTo); b < nextTime {
			nextTime = b
		}
	}
	p.level = level
	p.nextTime = nextTime
	return level, nextTime
}

// Level returns the level computed by the most recent Advance (0 before the
// first Advance call).
func (p *Protocol) Level() float64 { return p.level }

// NextTime returns the next-boundary time computed by the most recent
// Advance (+Inf before the first Advance call on a Protocol built by
// NewProtocol; 0 on a zero-value Protocol).
func (p *Protocol) NextTime() float64 { return p.nextTime }

// stepLevel reports the level s contributes at time t: s.Level while inside
// an active window, 0 otherwise.
func stepLevel(s Step, t float64) float64 {
	if t < s.Start {
		return 0
	}
	if s.Period <= 0 {
		if t < s.Start+s.Length {
			return s.Level
		}
		return 0
	}
	n := math.Floor((t - s.Start) / s.Period)
	if s.Multiplier > 0 && n >= s.Multiplier {
		return 0
	}
	windowStart := s.Start + n*s.Period
	if t < windowStart+s.Length {
		return s.Level
	}
	return 0
}

// stepNextBoundary reports the least time strictly greater than t at which
// s's contribution to the pace level changes, or +Inf if s has no more
// transitions at or after t.
func stepNextBoundary(s Step, t float64) float64 {
	if t < s.Start {
		return s.Start
	}
	if s.Period <= 0 {
		end := s.Start + s.Length
		if t < end {
			return end
		}
		return math.Inf(1)
	}

	n := math.Floor((t - s.Start) / s.Period)
	if s.Multiplier > 0 && n >= s.Multiplier {
		return math.Inf(1)
	}
	windowStart := s.Start + n*s.Period
	windowEnd := windowStart + s.Length
	if t < windowStart {
		return windowStart
	}
	if t < windowEnd {
		return windowEnd
	}

	n++
	if s.Multiplier > 0 && n >= s.Multiplier {
		return math.Inf(1)
	}
	return s.Start + n*s.Period
}
