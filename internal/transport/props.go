package transport

import (
	"fmt"
	"math"

	"github.com/cbegin/tickwork/internal/clock"
	"github.com/cbegin/tickwork/internal/errs"
	"github.com/cbegin/tickwork/internal/timeexpr"
)

// State is the transport playback state.
type State = clock.State

const (
	Stopped = clock.Stopped
	Started = clock.Started
	Paused  = clock.Paused
)

// Start starts the transport at at (nil means now). A non-nil offset sets the
// position the transport starts from; otherwise it resumes a pause or starts
// from the current position.
func (t *Transport) Start(at, offset timeexpr.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	when, err := t.resolveTime(at)
	if err != nil {
		return err
	}
	if offset == nil {
		return t.clock.Start(when)
	}
	ticks, err := t.position(offset)
	if err != nil {
		return err
	}
	return t.clock.StartFrom(when, ticks)
}

// Stop stops the transport at at (nil means now) and rewinds it to zero.
func (t *Transport) Stop(at timeexpr.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	when, err := t.resolveTime(at)
	if err != nil {
		return err
	}
	return t.clock.Stop(when)
}

// Pause freezes the position at at (nil means now).
func (t *Transport) Pause(at timeexpr.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	when, err := t.resolveTime(at)
	if err != nil {
		return err
	}
	return t.clock.Pause(when)
}

// Toggle stops a started transport and starts any other.
func (t *Transport) Toggle(at timeexpr.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	when, err := t.resolveTime(at)
	if err != nil {
		return err
	}
	if t.clock.StateAt(when) == clock.Started {
		return t.clock.Stop(when)
	}
	return t.clock.Start(when)
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock.StateAt(t.ac.Now())
}

func (t *Transport) StateAt(at float64) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock.StateAt(at)
}

func (t *Transport) BPM() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock.BPMAt(t.ac.Now())
}

// SetBPM steps the tempo now. Ticks already passed keep their times.
func (t *Transport) SetBPM(bpm float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.ac.Now()
	return t.retime(now, func() error { return t.clock.SetRate(bpm, now) })
}

// SetBPMAt steps the tempo at at.
func (t *Transport) SetBPMAt(bpm float64, at timeexpr.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	when, err := t.resolveTime(at)
	if err != nil {
		return err
	}
	return t.retime(when, func() error { return t.clock.SetRate(bpm, when) })
}

// RampBPM ramps the tempo linearly to bpm over duration, starting at at
// (nil means now).
func (t *Transport) RampBPM(bpm float64, duration, at timeexpr.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	from, err := t.resolveTime(at)
	if err != nil {
		return err
	}
	d, err := timeexpr.Duration(duration, t.env())
	if err != nil {
		return err
	}
	return t.retime(from, func() error { return t.clock.RampRate(bpm, from, from+d) })
}

// Duration converts v to a positive length in seconds at the current tempo.
func (t *Transport) Duration(v timeexpr.Value) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return timeexpr.Duration(v, t.env())
}

// DurationAt converts v to a length in seconds at the tempo in effect at at.
func (t *Transport) DurationAt(v timeexpr.Value, at float64) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return timeexpr.Duration(v, env{t: t, now: at})
}

// TimeSignature returns the number of quarter notes per measure.
func (t *Transport) TimeSignature() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numerator
}

func (t *Transport) SetTimeSignature(numerator int) error {
	if numerator < 1 {
		return fmt.Errorf("%w: time signature %d", errs.ErrInvalidRange, numerator)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.numerator = numerator
	return nil
}

func (t *Transport) PPQ() int { return t.clock.PPQ() }

// Ticks returns the exact position now.
func (t *Transport) Ticks() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock.TicksAt(t.ac.Now())
}

// SetTicks seeks to ticks now and re-syncs repeats to the new position.
func (t *Transport) SetTicks(ticks float64) error {
	if ticks < 0 || math.IsNaN(ticks) || math.IsInf(ticks, 0) {
		return fmt.Errorf("%w: ticks %v", errs.ErrInvalidRange, ticks)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seek(ticks)
	return nil
}

func (t *Transport) seek(ticks float64) {
	now := t.ac.Now()
	t.clock.SetTicksAt(ticks, now)
	if t.clock.StateAt(now) == clock.Started {
		t.syncRepeats(ticks)
	}
}

// Position returns the position now as bars:beats:sixteenths.
func (t *Transport) Position() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return timeexpr.BarsBeatsSixteenths(t.clock.TicksAt(t.ac.Now()), t.clock.PPQ(), t.numerator)
}

// SetPosition seeks to p, typically a "bars:beats:sixteenths" value.
func (t *Transport) SetPosition(p timeexpr.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ticks, err := t.position(p)
	if err != nil {
		return err
	}
	if ticks < 0 {
		return fmt.Errorf("%w: position %s", errs.ErrInvalidRange, p)
	}
	t.seek(ticks)
	return nil
}

// Seconds returns the started time accumulated since the last stop.
func (t *Transport) Seconds() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock.SecondsAt(t.ac.Now())
}

// SetSeconds seeks to the position s seconds in at the current tempo.
func (t *Transport) SetSeconds(s float64) error {
	if s < 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return fmt.Errorf("%w: seconds %v", errs.ErrInvalidRange, s)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	bpm := t.clock.BPMAt(t.ac.Now())
	t.seek(math.Round(s * bpm / 60 * float64(t.clock.PPQ())))
	return nil
}

// Progress returns how far through the loop region the position is, in
// [0, 1]. It is 0 when not looping.
func (t *Transport) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loop || t.loopEnd <= t.loopStart {
		return 0
	}
	p := (t.clock.TicksAt(t.ac.Now()) - t.loopStart) / (t.loopEnd - t.loopStart)
	return min(max(p, 0), 1)
}

func (t *Transport) Loop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop
}

func (t *Transport) SetLoop(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loop = on
}

// LoopStart returns the loop start in seconds at the current tempo.
func (t *Transport) LoopStart() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticksToSeconds(t.loopStart)
}

// LoopEnd returns the loop end in seconds at the current tempo.
func (t *Transport) LoopEnd() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticksToSeconds(t.loopEnd)
}

// LoopTicks returns the loop region in ticks.
func (t *Transport) LoopTicks() (start, end float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loopStart, t.loopEnd
}

func (t *Transport) ticksToSeconds(ticks float64) float64 {
	return ticks / float64(t.clock.PPQ()) * 60 / t.clock.BPMAt(t.ac.Now())
}

// SetLoopPoints sets the loop region. The end must lie after the start.
func (t *Transport) SetLoopPoints(start, end timeexpr.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.position(start)
	if err != nil {
		return err
	}
	e, err := t.position(end)
	if err != nil {
		return err
	}
	if s < 0 || e <= s {
		return fmt.Errorf("%w: loop [%s, %s)", errs.ErrInvalidRange, start, end)
	}
	t.loopStart, t.loopEnd = s, e
	return nil
}

func (t *Transport) Swing() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.swing
}

// SetSwing delays every odd subdivision by up to a third of a subdivision.
// amount lies in [0, 1].
func (t *Transport) SetSwing(amount float64) error {
	if !(amount >= 0 && amount <= 1) {
		return fmt.Errorf("%w: swing %v", errs.ErrInvalidRange, amount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.swing = amount
	return nil
}

// SwingSubdivision returns the swung subdivision in ticks.
func (t *Transport) SwingSubdivision() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.swingSub
}

// SetSwingSubdivision sets the swung subdivision, "8n" by default.
func (t *Transport) SetSwingSubdivision(v timeexpr.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ticks, err := t.length(v)
	if err != nil {
		return err
	}
	t.swingSub = math.Round(ticks)
	return nil
}

// NextSubdivision returns the audio-clock time of the next multiple of sub
// after now, or 0 when the transport is not started.
func (t *Transport) NextSubdivision(sub timeexpr.Value) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ticks, err := t.length(sub)
	if err != nil {
		return 0, err
	}
	now := t.ac.Now()
	if t.clock.StateAt(now) != clock.Started {
		return 0, nil
	}
	pos := t.clock.TicksAt(now)
	remaining := ticks - math.Mod(pos, ticks)
	return t.clock.TimeOfTick(pos+remaining, now), nil
}
