package clock

import (
	"math"

	"github.com/cbegin/tickwork/internal/timeline"
)

// State is the playback state of a clock.
type State int

const (
	Stopped State = iota
	Started
	Paused
)

func (s State) String() string {
	switch s {
	case Started:
		return "started"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

const (
	tickEpsilon = 1e-6
	timeEpsilon = 1e-9
)

// TickSource turns a tempo map into a tick position that only advances while
// started. Stopping resets the position to zero, pausing freezes it, and seeks
// overwrite it at a given time.
type TickSource struct {
	tempo  *TempoMap
	states *timeline.States[State]
	seeks  *timeline.Timeline[float64]

	lastFired float64
	fired     bool
}

func NewTickSource(tempo *TempoMap) *TickSource {
	return &TickSource{
		tempo:  tempo,
		states: timeline.NewStates(Stopped),
		seeks:  timeline.New[float64](),
	}
}

// Tempo returns the tempo map the source integrates.
func (s *TickSource) Tempo() *TempoMap { return s.tempo }

// StateAt returns the playback state at t.
func (s *TickSource) StateAt(t float64) State { return s.states.StateAt(t) }

// Start records a start at t. A start from Paused resumes the frozen position.
func (s *TickSource) Start(t float64) {
	s.states.Set(Started, t)
}

// Stop records a stop at t, dropping any state changes or seeks scheduled
// at or after t.
func (s *TickSource) Stop(t float64) {
	s.states.Cancel(t)
	s.seeks.Cancel(t)
	s.states.Set(Stopped, t)
}

// Pause records a pause at t.
func (s *TickSource) Pause(t float64) {
	s.states.Set(Paused, t)
}

// Cancel drops every state change and seek at or after t.
func (s *TickSource) Cancel(t float64) {
	s.states.Cancel(t)
	s.seeks.Cancel(t)
}

// SetTicksAt overwrites the position with ticks from t onward.
func (s *TickSource) SetTicksAt(ticks, t float64) {
	s.seeks.Add(t, ticks)
}

// periods returns the state entries that shape the position at t, starting
// from the last stop at or before t. Without a stop the walk starts from a
// synthetic stopped entry at -Inf.
func (s *TickSource) periods(t float64) []timeline.Event[State] {
	upper := math.Nextafter(t, math.Inf(1))
	stop, ok := s.states.LastState(Stopped, t)
	if !ok {
		stop = timeline.Event[State]{Time: math.Inf(-1), Value: Stopped}
	}
	out := []timeline.Event[State]{stop}
	lo := stop.Time
	if math.IsInf(lo, -1) {
		first, found := s.states.After(math.Inf(-1))
		if !found {
			return out
		}
		lo = first.Time
	}
	for _, ev := range s.states.Between(lo, upper) {
		if ok && ev.Time == stop.Time && ev.ID <= stop.ID {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// walk accumulates integral over the started periods up to t. Within each
// period only the latest seek matters; seekValue converts it to the units
// being accumulated.
func (s *TickSource) walk(t float64, integral func(float64) float64, seekValue func(timeline.Event[float64]) float64) float64 {
	periods := s.periods(t)
	var acc float64
	for i, p := range periods {
		end := t
		if i+1 < len(periods) {
			end = periods[i+1].Time
		}
		from := p.Time
		if p.Value == Stopped {
			acc = 0
		}
		if seek, ok := s.seeks.At(end); ok && seek.Time >= p.Time {
			acc, from = seekValue(seek), seek.Time
		}
		if p.Value == Started {
			acc += integral(end) - integral(from)
		}
	}
	return acc
}

// TicksAt returns the tick position at t.
func (s *TickSource) TicksAt(t float64) float64 {
	return s.walk(t, s.tempo.TicksAt, func(ev timeline.Event[float64]) float64 { return ev.Value })
}

// SecondsAt returns the started time accumulated up to t, restarting from
// zero at each stop. A seek converts its ticks at the tempo of the seek.
func (s *TickSource) SecondsAt(t float64) float64 {
	return s.walk(t, func(x float64) float64 { return x }, func(ev timeline.Event[float64]) float64 {
		return ev.Value / s.tempo.rate(s.tempo.BPMAt(ev.Time))
	})
}

// Prune forgets seeks superseded before t. Queries at or after t are
// unaffected.
func (s *TickSource) Prune(t float64) {
	s.seeks.Prune(t)
}

// nextChange returns the time of the first state entry or seek after t.
func (s *TickSource) nextChange(t float64) (float64, bool) {
	next, ok := math.Inf(1), false
	if ev, found := s.states.After(t); found {
		next, ok = ev.Time, true
	}
	if ev, found := s.seeks.After(t); found && ev.Time < next {
		next, ok = ev.Time, true
	}
	return next, ok
}

// timeOfNextTick returns when the position, anchored at t with value pos,
// reaches tick k at the current tempo automation.
func (s *TickSource) timeOfNextTick(t, pos, k float64) float64 {
	return s.tempo.TimeOfTicks(s.tempo.TicksAt(t) + (k - pos))
}

// ForEachTickBetween calls fn for every integer tick the position crosses in
// [t0, t1) while started, passing the exact time of the tick. A tick is never
// delivered twice across consecutive windows. fn may seek, pause or stop the
// source; the walk picks the change up before computing the next tick.
func (s *TickSource) ForEachTickBetween(t0, t1 float64, fn func(t float64, tick int64)) {
	t := t0
	for t < t1 {
		segEnd := t1
		if next, ok := s.nextChange(t); ok && next < t1 {
			segEnd = next
		}
		if s.states.StateAt(t) == Started {
			pos := s.TicksAt(t)
			k := math.Ceil(pos - tickEpsilon)
			anchor := t
			for {
				tt := s.timeOfNextTick(anchor, pos, k)
				if tt < anchor {
					tt = anchor
				}
				if tt >= segEnd {
					break
				}
				if !s.fired || tt > s.lastFired+timeEpsilon {
					s.lastFired, s.fired = tt, true
					fn(tt, int64(k))
				}
				segEnd = t1
				if next, ok := s.nextChange(tt); ok && next < t1 {
					segEnd = next
				}
				if s.states.StateAt(tt) != Started {
					break
				}
				anchor = tt
				pos = s.TicksAt(tt)
				k = math.Floor(pos+tickEpsilon) + 1
			}
		}
		if segEnd <= t {
			break
		}
		t = segEnd
	}
}
