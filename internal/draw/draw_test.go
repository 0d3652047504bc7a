package draw

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cbegin/tickwork/internal/errs"
)

type fakeClock struct{ now float64 }

func (c *fakeClock) CurrentTime() float64 { return c.now }

func TestFrameRunsDueCallbacksInOrder(t *testing.T) {
	clk := &fakeClock{}
	s := New(clk)
	var got []string
	add := func(label string, at float64) {
		t.Helper()
		if _, err := s.Schedule(func() { got = append(got, label) }, at); err != nil {
			t.Fatal(err)
		}
	}
	add("b", 0.5)
	add("a", 0.1)
	add("c", 0.5)

	clk.now = 0.05
	if n := s.Frame(); n != 0 {
		t.Fatalf("early frame ran %d callbacks", n)
	}
	clk.now = 0.095 // inside the 8ms anticipation window
	if n := s.Frame(); n != 1 {
		t.Fatalf("anticipated frame ran %d callbacks, want 1", n)
	}
	clk.now = 0.6
	if n := s.Frame(); n != 2 {
		t.Fatalf("late frame ran %d callbacks, want 2", n)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestFrameDropsExpiredCallbacks(t *testing.T) {
	clk := &fakeClock{}
	s := New(clk)
	ran := false
	_, _ = s.Schedule(func() { ran = true }, 1)
	clk.now = 1.3
	if n := s.Frame(); n != 0 || ran {
		t.Fatalf("expired callback ran (n=%d)", n)
	}
	if s.Len() != 0 {
		t.Fatalf("expired callback still queued")
	}
}

func TestOptionsCancelAndPanics(t *testing.T) {
	clk := &fakeClock{}
	s := New(clk, WithAnticipation(0), WithExpiration(1))
	_, _ = s.Schedule(func() { panic("ui") }, 0.5)
	var after bool
	_, _ = s.Schedule(func() { after = true }, 0.5)
	_, _ = s.Schedule(func() {}, 2)
	if n := s.Cancel(2); n != 1 {
		t.Fatalf("Cancel = %d, want 1", n)
	}
	clk.now = 0.499
	if s.Frame() != 0 {
		t.Fatal("zero anticipation should not run early")
	}
	clk.now = 1.4
	if n := s.Frame(); n != 2 || !after {
		t.Fatalf("frame ran %d, after=%v", n, after)
	}
	if _, err := s.Schedule(nil, 1); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("nil callback error = %v", err)
	}
	if _, err := s.Schedule(func() {}, -1); !errors.Is(err, errs.ErrInvalidRange) {
		t.Fatalf("negative time error = %v", err)
	}
}

type atomicClock struct{ nanos atomic.Int64 }

func (c *atomicClock) CurrentTime() float64 { return float64(c.nanos.Load()) / 1e9 }

func TestRunDrivesFrames(t *testing.T) {
	clk := &atomicClock{}
	s := New(clk)
	fired := make(chan struct{})
	_, _ = s.Schedule(func() { close(fired) }, 0.01)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 200) }()

	clk.nanos.Store(int64(10 * time.Millisecond))
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never delivered the callback")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
	if err := s.Run(context.Background(), 0); !errors.Is(err, errs.ErrInvalidRange) {
		t.Fatalf("zero fps error = %v", err)
	}
}
