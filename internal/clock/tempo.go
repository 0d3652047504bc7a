package clock

import (
	"fmt"
	"math"

	"github.com/cbegin/tickwork/internal/errs"
	"github.com/cbegin/tickwork/internal/timeline"
)

type rampKind int

const (
	rampStep rampKind = iota
	rampLinear
)

type tempoPoint struct {
	kind rampKind
	bpm  float64
}

// TempoMap is the tempo automation of a clock. Ticks are found by integrating
// the tick rate between breakpoints, so a query spanning a ramp is exact
// rather than a single bpm multiply.
type TempoMap struct {
	ppq     int
	initial float64
	points  *timeline.Timeline[tempoPoint]
}

// NewTempoMap starts at bpm from time zero onward.
func NewTempoMap(bpm float64, ppq int) *TempoMap {
	return &TempoMap{ppq: ppq, initial: bpm, points: timeline.New[tempoPoint]()}
}

// Clone returns an independent copy of the map.
func (m *TempoMap) Clone() *TempoMap {
	c := NewTempoMap(m.initial, m.ppq)
	for _, p := range m.points.Events() {
		c.points.Add(p.Time, p.Value)
	}
	return c
}

// PPQ returns the tick resolution per quarter note.
func (m *TempoMap) PPQ() int { return m.ppq }

func validBPM(bpm float64) error {
	if !(bpm > 0) || math.IsInf(bpm, 0) {
		return fmt.Errorf("%w: bpm %v", errs.ErrInvalidRange, bpm)
	}
	return nil
}

func validTime(t float64) error {
	if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("%w: time %v", errs.ErrInvalidRange, t)
	}
	return nil
}

// SetBPM steps the tempo to bpm at time t.
func (m *TempoMap) SetBPM(bpm, t float64) error {
	if err := validBPM(bpm); err != nil {
		return err
	}
	if err := validTime(t); err != nil {
		return err
	}
	m.points.Add(t, tempoPoint{kind: rampStep, bpm: bpm})
	return nil
}

// RampBPM ramps linearly from the previous breakpoint to bpm, arriving at t.
func (m *TempoMap) RampBPM(bpm, t float64) error {
	if err := validBPM(bpm); err != nil {
		return err
	}
	if err := validTime(t); err != nil {
		return err
	}
	m.points.Add(t, tempoPoint{kind: rampLinear, bpm: bpm})
	return nil
}

// Cancel removes every breakpoint at or after t.
func (m *TempoMap) Cancel(t float64) {
	m.points.Cancel(t)
}

func (m *TempoMap) rate(bpm float64) float64 {
	return bpm / 60 * float64(m.ppq)
}

// BPMAt returns the tempo in effect at t.
func (m *TempoMap) BPMAt(t float64) float64 {
	prevT, prevBPM := 0.0, m.initial
	for _, p := range m.points.Events() {
		if p.Time > t {
			if p.Value.kind == rampLinear && p.Time > prevT && t > prevT {
				return prevBPM + (p.Value.bpm-prevBPM)*(t-prevT)/(p.Time-prevT)
			}
			return prevBPM
		}
		prevT, prevBPM = p.Time, p.Value.bpm
	}
	return prevBPM
}

// segmentTicks integrates the tick rate across [t0, t1] where the tempo moves
// from bpm0 toward a breakpoint of the given kind.
func (m *TempoMap) segmentTicks(kind rampKind, t0, bpm0, t1, bpm1 float64) float64 {
	if t1 <= t0 {
		return 0
	}
	if kind == rampLinear {
		return (t1 - t0) * (m.rate(bpm0) + m.rate(bpm1)) / 2
	}
	return (t1 - t0) * m.rate(bpm0)
}

// TicksAt returns the ticks elapsed between time zero and t.
func (m *TempoMap) TicksAt(t float64) float64 {
	if t <= 0 {
		return t * m.rate(m.initial)
	}
	var acc float64
	prevT, prevBPM := 0.0, m.initial
	for _, p := range m.points.Events() {
		if p.Time >= t {
			end := prevBPM
			if p.Value.kind == rampLinear && p.Time > prevT {
				end = prevBPM + (p.Value.bpm-prevBPM)*(t-prevT)/(p.Time-prevT)
			}
			return acc + m.segmentTicks(p.Value.kind, prevT, prevBPM, t, end)
		}
		acc += m.segmentTicks(p.Value.kind, prevT, prevBPM, p.Time, p.Value.bpm)
		prevT, prevBPM = p.Time, p.Value.bpm
	}
	return acc + m.segmentTicks(rampStep, prevT, prevBPM, t, prevBPM)
}

// TimeOfTicks inverts TicksAt: it returns the time at which the integral
// from zero reaches ticks.
func (m *TempoMap) TimeOfTicks(ticks float64) float64 {
	if ticks <= 0 {
		return ticks / m.rate(m.initial)
	}
	var acc float64
	prevT, prevBPM := 0.0, m.initial
	for _, p := range m.points.Events() {
		seg := m.segmentTicks(p.Value.kind, prevT, prevBPM, p.Time, p.Value.bpm)
		if acc+seg >= ticks && seg > 0 {
			return prevT + m.solveSegment(p.Value.kind, prevT, prevBPM, p.Time, p.Value.bpm, ticks-acc)
		}
		acc += seg
		prevT, prevBPM = p.Time, p.Value.bpm
	}
	return prevT + (ticks-acc)/m.rate(prevBPM)
}

// solveSegment returns the offset x into a segment at which d ticks have
// elapsed. Within a linear ramp the rate is r0 + a*x, so the elapsed ticks
// are r0*x + a*x^2/2.
func (m *TempoMap) solveSegment(kind rampKind, t0, bpm0, t1, bpm1, d float64) float64 {
	r0 := m.rate(bpm0)
	if kind != rampLinear {
		return d / r0
	}
	a := (m.rate(bpm1) - r0) / (t1 - t0)
	if math.Abs(a) < 1e-12 {
		return d / r0
	}
	disc := r0*r0 + 2*a*d
	if disc < 0 {
		disc = 0
	}
	return (-r0 + math.Sqrt(disc)) / a
}

// DurationOfTicks returns how long n ticks last when counted from time at.
func (m *TempoMap) DurationOfTicks(n, at float64) float64 {
	return m.TimeOfTicks(m.TicksAt(at)+n) - at
}
