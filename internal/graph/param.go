// Package graph is the small native audio graph the transport drives:
// automatable parameters, tone sources with sample-accurate start and stop,
// and a mixing bus that renders into an audio context.
package graph

import (
	"fmt"
	"math"
	"sync"

	"github.com/cbegin/tickwork/internal/errs"
	"github.com/cbegin/tickwork/internal/timeline"
)

type curve int

const (
	curveSet curve = iota
	curveLinear
	curveExponential
)

type automation struct {
	curve curve
	value float64
}

// Param is a value automated over audio-clock time. Ramps run from the
// previous automation event (or the default value at time zero) to their own
// time and value.
type Param struct {
	mu      sync.Mutex
	initial float64
	lo, hi  float64
	events  *timeline.Timeline[automation]
}

// NewParam returns a parameter that reports value until automated. Values
// are clamped to [lo, hi].
func NewParam(value, lo, hi float64) *Param {
	return &Param{initial: value, lo: lo, hi: hi, events: timeline.New[automation]()}
}

func (p *Param) check(value, t float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: param value %v", errs.ErrInvalidRange, value)
	}
	if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("%w: automation time %v", errs.ErrInvalidRange, t)
	}
	return nil
}

// SetValueAtTime steps to value at t.
func (p *Param) SetValueAtTime(value, t float64) error {
	if err := p.check(value, t); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events.Add(t, automation{curve: curveSet, value: value})
	return nil
}

// LinearRampToValueAtTime ramps linearly to value, arriving at t.
func (p *Param) LinearRampToValueAtTime(value, t float64) error {
	if err := p.check(value, t); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events.Add(t, automation{curve: curveLinear, value: value})
	return nil
}

// ExponentialRampToValueAtTime ramps exponentially to value, arriving at t.
// Both ends of the ramp must be positive.
func (p *Param) ExponentialRampToValueAtTime(value, t float64) error {
	if err := p.check(value, t); err != nil {
		return err
	}
	if value <= 0 {
		return fmt.Errorf("%w: exponential ramp target %v must be positive", errs.ErrInvalidRange, value)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if from := p.valueAt(t); from <= 0 {
		return fmt.Errorf("%w: exponential ramp from %v", errs.ErrInvalidRange, from)
	}
	p.events.Add(t, automation{curve: curveExponential, value: value})
	return nil
}

// CancelScheduledValues drops every automation event at or after t.
func (p *Param) CancelScheduledValues(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events.Cancel(t)
}

// ValueAt returns the automated value at t.
func (p *Param) ValueAt(t float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valueAt(t)
}

// Prune forgets automation that no longer affects values at or after t.
func (p *Param) Prune(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events.Prune(t)
}

func (p *Param) valueAt(t float64) float64 {
	t0, v0 := 0.0, p.initial
	if prev, ok := p.events.At(t); ok {
		t0, v0 = prev.Time, prev.Value.value
	}
	next, ok := p.events.After(t)
	if !ok || next.Value.curve == curveSet || next.Time <= t0 {
		return p.clamp(v0)
	}
	frac := (t - t0) / (next.Time - t0)
	v1 := next.Value.value
	switch next.Value.curve {
	case curveExponential:
		if v0 <= 0 {
			return p.clamp(v0)
		}
		return p.clamp(v0 * math.Pow(v1/v0, frac))
	default:
		return p.clamp(v0 + (v1-v0)*frac)
	}
}

func (p *Param) clamp(v float64) float64 {
	return math.Min(p.hi, math.Max(p.lo, v))
}
