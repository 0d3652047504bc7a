// Package clock is the tick generator behind the transport. It integrates a
// tempo map over time and, on every look-ahead pass, reports each tick that
// falls inside the pass window together with the exact time of that tick.
package clock

import (
	"fmt"
	"math"

	"github.com/cbegin/tickwork/internal/errs"
	"github.com/cbegin/tickwork/internal/timeline"
)

// DefaultPPQ is the tick resolution per quarter note.
const DefaultPPQ = 192

// TickFunc receives each tick with its exact time and integer position.
type TickFunc func(t float64, tick int64)

// StateFunc receives each state change when a pass crosses it.
type StateFunc func(state State, t float64, ticks float64)

// Option configures a Clock.
type Option func(*Clock)

// WithPPQ sets the tick resolution. Values below one are ignored.
func WithPPQ(ppq int) Option {
	return func(c *Clock) {
		if ppq > 0 {
			c.ppq = ppq
		}
	}
}

// WithBPM sets the initial tempo. Non-positive values are ignored.
func WithBPM(bpm float64) Option {
	return func(c *Clock) {
		if bpm > 0 {
			c.bpm = bpm
		}
	}
}

// WithStateFunc registers a listener for state changes crossed by Advance.
func WithStateFunc(fn StateFunc) Option {
	return func(c *Clock) {
		c.onState = fn
	}
}

// Clock is not safe for concurrent use; the transport serializes access.
type Clock struct {
	ppq     int
	bpm     float64
	tempo   *TempoMap
	source  *TickSource
	onTick  TickFunc
	onState StateFunc

	lastUpdate float64
	seenTime   float64
	seenID     timeline.ID
}

func New(onTick TickFunc, opts ...Option) *Clock {
	c := &Clock{ppq: DefaultPPQ, bpm: 120, onTick: onTick, seenTime: math.Inf(-1)}
	for _, opt := range opts {
		opt(c)
	}
	c.tempo = NewTempoMap(c.bpm, c.ppq)
	c.source = NewTickSource(c.tempo)
	return c
}

func (c *Clock) PPQ() int { return c.ppq }

// Tempo exposes the tempo automation.
func (c *Clock) Tempo() *TempoMap { return c.tempo }

// StateAt returns the playback state at t.
func (c *Clock) StateAt(t float64) State { return c.source.StateAt(t) }

// Start starts the clock at t, resuming from a pause or from zero after a stop.
// It fails when the clock is started at t or the next recorded change after t
// is already a start.
func (c *Clock) Start(t float64) error {
	if err := validTime(t); err != nil {
		return err
	}
	if st := c.source.StateAt(t); st == Started {
		return fmt.Errorf("%w: clock already started at %v", errs.ErrInvalidState, t)
	}
	if next, ok := c.source.states.After(t); ok && next.Value == Started {
		return fmt.Errorf("%w: clock already starts at %v", errs.ErrInvalidState, next.Time)
	}
	c.source.Start(t)
	return nil
}

// StartFrom starts the clock at t with the position set to ticks.
func (c *Clock) StartFrom(t, ticks float64) error {
	if ticks < 0 {
		return fmt.Errorf("%w: start offset %v", errs.ErrInvalidRange, ticks)
	}
	if err := c.Start(t); err != nil {
		return err
	}
	c.source.SetTicksAt(ticks, t)
	return nil
}

// Stop stops the clock at t and resets its position.
func (c *Clock) Stop(t float64) error {
	if err := validTime(t); err != nil {
		return err
	}
	if st := c.source.StateAt(t); st == Stopped {
		return fmt.Errorf("%w: clock already stopped at %v", errs.ErrInvalidState, t)
	}
	c.source.Stop(t)
	return nil
}

// Pause freezes the position at t.
func (c *Clock) Pause(t float64) error {
	if err := validTime(t); err != nil {
		return err
	}
	if st := c.source.StateAt(t); st != Started {
		return fmt.Errorf("%w: cannot pause a %s clock", errs.ErrInvalidState, st)
	}
	c.source.Pause(t)
	return nil
}

// SetRate steps the tempo to bpm at t.
func (c *Clock) SetRate(bpm, t float64) error {
	return c.tempo.SetBPM(bpm, t)
}

// RampRate ramps the tempo linearly from its value at from to bpm at to.
func (c *Clock) RampRate(bpm, from, to float64) error {
	if err := validBPM(bpm); err != nil {
		return err
	}
	if to <= from {
		return fmt.Errorf("%w: ramp end %v not after start %v", errs.ErrInvalidRange, to, from)
	}
	if err := c.tempo.SetBPM(c.tempo.BPMAt(from), from); err != nil {
		return err
	}
	return c.tempo.RampBPM(bpm, to)
}

// BPMAt returns the tempo at t.
func (c *Clock) BPMAt(t float64) float64 { return c.tempo.BPMAt(t) }

// TicksAt returns the tick position at t.
func (c *Clock) TicksAt(t float64) float64 { return c.source.TicksAt(t) }

// SecondsAt returns the started time accumulated at t.
func (c *Clock) SecondsAt(t float64) float64 { return c.source.SecondsAt(t) }

// SetTicksAt seeks the position to ticks at t.
func (c *Clock) SetTicksAt(ticks, t float64) {
	c.source.SetTicksAt(ticks, t)
}

// TimeOfTick returns when the position reaches tick, extrapolating from the
// last state change or seek at or before before.
func (c *Clock) TimeOfTick(tick, before float64) float64 {
	anchor := 0.0
	if ev, ok := c.source.states.EntryAt(before); ok {
		anchor = ev.Time
	}
	if ev, ok := c.source.seeks.At(before); ok && ev.Time > anchor {
		anchor = ev.Time
	}
	pos := c.source.TicksAt(anchor)
	return c.tempo.TimeOfTicks(c.tempo.TicksAt(anchor) + tick - pos)
}

// Cancel drops state changes, seeks and tempo breakpoints at or after t.
func (c *Clock) Cancel(t float64) {
	c.source.Cancel(t)
	c.tempo.Cancel(t)
}

// LastUpdate returns the end of the last pass window.
func (c *Clock) LastUpdate() float64 { return c.lastUpdate }

// Advance runs a pass over [LastUpdate, now). Ticks and state changes are
// delivered in time order; a state change made by a tick callback is reported
// once the ticks before it are done. Windows never overlap, so each tick is
// delivered once.
func (c *Clock) Advance(now float64) {
	if now <= c.lastUpdate {
		return
	}
	cursor := c.lastUpdate
	c.lastUpdate = now
	c.source.Prune(cursor)
	for {
		end := now
		if ev, ok := c.nextState(cursor, now); ok {
			end = ev.Time
		}
		if c.onTick != nil {
			c.source.ForEachTickBetween(cursor, end, c.onTick)
		}
		ev, ok := c.nextState(cursor, now)
		if !ok {
			return
		}
		c.seenTime, c.seenID = ev.Time, ev.ID
		if c.onState != nil {
			c.onState(ev.Value, ev.Time, c.source.TicksAt(ev.Time))
		}
		cursor = ev.Time
	}
}

// nextState returns the first state entry in [from, to) not yet reported.
func (c *Clock) nextState(from, to float64) (timeline.Event[State], bool) {
	for _, ev := range c.source.states.Between(from, to) {
		if ev.Time > c.seenTime || (ev.Time == c.seenTime && ev.ID > c.seenID) {
			return ev, true
		}
	}
	return timeline.Event[State]{}, false
}
