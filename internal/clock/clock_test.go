package clock

import (
	"errors"
	"math"
	"testing"

	"github.com/cbegin/tickwork/internal/errs"
)

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestTicksRoundTripAtConstantTempo(t *testing.T) {
	c := New(nil, WithBPM(120))
	if err := c.Start(0.25); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, at := range []float64{0.25, 0.3, 1, 2.5, 17.123} {
		ticks := c.TicksAt(at)
		if got := c.TimeOfTick(ticks, at); !approx(got, at, 1e-9) {
			t.Errorf("TimeOfTick(TicksAt(%v)) = %v", at, got)
		}
	}
	if got := c.TicksAt(1.25); !approx(got, 384, 1e-9) {
		t.Fatalf("ticks after 1s at 120bpm = %v, want 384", got)
	}
}

func TestTempoMapIntegratesRamps(t *testing.T) {
	m := NewTempoMap(60, 192)
	if err := m.RampBPM(120, 2); err != nil {
		t.Fatal(err)
	}
	// rate goes 192 -> 384 ticks/s over two seconds
	if got := m.TicksAt(2); !approx(got, 576, 1e-9) {
		t.Fatalf("ticks over ramp = %v, want 576", got)
	}
	if got := m.TicksAt(1); !approx(got, 240, 1e-9) {
		t.Fatalf("ticks at ramp midpoint = %v, want 240", got)
	}
	if got := m.BPMAt(1); !approx(got, 90, 1e-9) {
		t.Fatalf("bpm at ramp midpoint = %v, want 90", got)
	}
	for _, at := range []float64{0.5, 1, 1.7, 2, 3.5} {
		if got := m.TimeOfTicks(m.TicksAt(at)); !approx(got, at, 1e-9) {
			t.Errorf("TimeOfTicks(TicksAt(%v)) = %v", at, got)
		}
	}
	if got := m.TicksAt(3); !approx(got, 576+384, 1e-9) {
		t.Fatalf("ticks after ramp = %v, want %v", got, 576+384)
	}
}

func TestTempoStepIsNotRetroactive(t *testing.T) {
	m := NewTempoMap(120, 192)
	before := m.TicksAt(1)
	if err := m.SetBPM(60, 1); err != nil {
		t.Fatal(err)
	}
	if got := m.TicksAt(1); got != before {
		t.Fatalf("ticks at 1 changed from %v to %v", before, got)
	}
	if got := m.TicksAt(2); !approx(got, 384+192, 1e-9) {
		t.Fatalf("ticks at 2 = %v, want 576", got)
	}
	m.Cancel(1)
	if got := m.BPMAt(5); got != 120 {
		t.Fatalf("bpm after cancel = %v, want 120", got)
	}
}

func TestTempoMapRejectsBadValues(t *testing.T) {
	m := NewTempoMap(120, 192)
	for _, bpm := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := m.SetBPM(bpm, 1); !errors.Is(err, errs.ErrInvalidRange) {
			t.Errorf("SetBPM(%v) error = %v", bpm, err)
		}
	}
	if err := m.RampBPM(100, -1); !errors.Is(err, errs.ErrInvalidRange) {
		t.Errorf("RampBPM at negative time error = %v", err)
	}
}

func TestPauseFreezesAndStopResets(t *testing.T) {
	c := New(nil, WithBPM(120))
	mustNoErr(t, c.Start(0))
	mustNoErr(t, c.Pause(1))
	if got := c.TicksAt(1.5); !approx(got, 384, 1e-9) {
		t.Fatalf("paused ticks = %v, want 384", got)
	}
	mustNoErr(t, c.Start(2))
	if got := c.TicksAt(3); !approx(got, 768, 1e-9) {
		t.Fatalf("resumed ticks = %v, want 768", got)
	}
	if got := c.SecondsAt(3); !approx(got, 2, 1e-9) {
		t.Fatalf("seconds = %v, want 2", got)
	}
	mustNoErr(t, c.Stop(4))
	if got := c.TicksAt(4.5); got != 0 {
		t.Fatalf("ticks after stop = %v, want 0", got)
	}
	mustNoErr(t, c.Start(5))
	if got := c.TicksAt(5.5); !approx(got, 192, 1e-9) {
		t.Fatalf("ticks after restart = %v, want 192", got)
	}
	if got := c.StateAt(4.5); got != Stopped {
		t.Fatalf("state at 4.5 = %v", got)
	}
}

func TestStartFromOffset(t *testing.T) {
	c := New(nil)
	mustNoErr(t, c.StartFrom(0, 100))
	if got := c.TicksAt(0.5); !approx(got, 292, 1e-9) {
		t.Fatalf("ticks = %v, want 292", got)
	}
	if err := c.Stop(1); err != nil {
		t.Fatal(err)
	}
	if err := c.StartFrom(2, -1); !errors.Is(err, errs.ErrInvalidRange) {
		t.Fatalf("negative offset error = %v", err)
	}
}

func TestStateTransitionErrors(t *testing.T) {
	c := New(nil)
	if err := c.Stop(0); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("stop while stopped: %v", err)
	}
	if err := c.Pause(0); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("pause while stopped: %v", err)
	}
	mustNoErr(t, c.Start(0))
	if err := c.Start(1); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("start while started: %v", err)
	}
	mustNoErr(t, c.Pause(1))
	if err := c.Pause(2); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("pause while paused: %v", err)
	}
	mustNoErr(t, c.Stop(2))
}

func TestStartRejectedBeforeScheduledStart(t *testing.T) {
	c := New(nil)
	mustNoErr(t, c.Start(0))
	mustNoErr(t, c.Pause(1))
	mustNoErr(t, c.Start(3))
	if err := c.Start(2); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("start before a scheduled start: %v", err)
	}
	if got := c.StateAt(2.5); got != Paused {
		t.Fatalf("state at 2.5 = %v, want paused", got)
	}
	mustNoErr(t, c.Stop(4))
	mustNoErr(t, c.Start(5))
}

func TestStopCancelsLaterStart(t *testing.T) {
	c := New(nil)
	mustNoErr(t, c.Start(0))
	mustNoErr(t, c.Pause(1))
	mustNoErr(t, c.Start(3))
	mustNoErr(t, c.Stop(2))
	if got := c.StateAt(4); got != Stopped {
		t.Fatalf("state at 4 = %v, want stopped", got)
	}
}

func TestAdvanceDeliversEachTickOnce(t *testing.T) {
	var ticks []int64
	var times []float64
	c := New(func(at float64, tick int64) {
		ticks = append(ticks, tick)
		times = append(times, at)
	}, WithBPM(120), WithPPQ(4))
	mustNoErr(t, c.Start(0))

	now := 0.0
	for _, step := range []float64{0.013, 0.1, 0.125, 0.0001, 0.2, 0.03, 0.25} {
		now += step
		c.Advance(now)
	}
	c.Advance(0.99)
	if len(ticks) != 8 {
		t.Fatalf("got %d ticks %v, want 8", len(ticks), ticks)
	}
	for i, tick := range ticks {
		if tick != int64(i) {
			t.Fatalf("tick %d = %d", i, tick)
		}
		if !approx(times[i], float64(i)/8, 1e-9) {
			t.Fatalf("tick %d at %v, want %v", i, times[i], float64(i)/8)
		}
	}
	c.Advance(1.5)
	if len(ticks) != 12 || ticks[8] != 8 || !approx(times[8], 1, 1e-9) {
		t.Fatalf("second window ticks = %v", ticks[8:])
	}
	c.Advance(1.2)
	if len(ticks) != 12 {
		t.Fatalf("advancing backwards delivered ticks: %v", ticks)
	}
}

func TestAdvanceFollowsSeekFromCallback(t *testing.T) {
	var c *Clock
	var ticks []int64
	c = New(func(at float64, tick int64) {
		ticks = append(ticks, tick)
		if tick == 4 {
			c.SetTicksAt(0, at)
		}
	}, WithBPM(120), WithPPQ(4))
	mustNoErr(t, c.Start(0))
	c.Advance(1.2)
	want := []int64{0, 1, 2, 3, 4, 1, 2, 3, 4, 1}
	if len(ticks) < len(want) {
		t.Fatalf("ticks = %v", ticks)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Fatalf("ticks = %v, want prefix %v", ticks, want)
		}
	}
}

func TestAdvanceStopsAtPause(t *testing.T) {
	var ticks []int64
	c := New(func(at float64, tick int64) { ticks = append(ticks, tick) }, WithPPQ(4))
	mustNoErr(t, c.Start(0))
	mustNoErr(t, c.Pause(0.3))
	mustNoErr(t, c.Start(1))
	c.Advance(1.3)
	// 0, 0.125, 0.25 before the pause; position 2.4 resumes at 1.0 so tick 3
	// lands 0.075s later.
	want := []int64{0, 1, 2, 3, 4}
	if len(ticks) != len(want) {
		t.Fatalf("ticks = %v, want %v", ticks, want)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Fatalf("ticks = %v, want %v", ticks, want)
		}
	}
}

func TestAdvanceReportsStateChanges(t *testing.T) {
	type change struct {
		state State
		at    float64
	}
	var changes []change
	c := New(nil, WithStateFunc(func(s State, at, _ float64) {
		changes = append(changes, change{s, at})
	}))
	mustNoErr(t, c.Start(0.1))
	mustNoErr(t, c.Stop(0.6))
	c.Advance(0.5)
	c.Advance(1)
	if len(changes) != 2 || changes[0].state != Started || changes[1].state != Stopped || changes[1].at != 0.6 {
		t.Fatalf("changes = %+v", changes)
	}
}

func TestTicksFollowTempoRamp(t *testing.T) {
	var times []float64
	c := New(func(at float64, _ int64) { times = append(times, at) }, WithBPM(60), WithPPQ(1))
	mustNoErr(t, c.RampRate(120, 0, 4))
	mustNoErr(t, c.Start(0))
	c.Advance(3.99)
	// ticks over the ramp = 4 * (1 + 2) / 2 = 6, tick 6 lands at 4s
	if len(times) != 6 {
		t.Fatalf("got %d ticks at %v, want 6", len(times), times)
	}
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			t.Fatalf("tick times not increasing: %v", times)
		}
		if got := c.TicksAt(times[i]); !approx(got, float64(i), 1e-6) {
			t.Fatalf("ticks at tick %d time = %v", i, got)
		}
	}
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
