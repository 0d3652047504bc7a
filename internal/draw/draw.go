// Package draw moves work scheduled at audio-clock times onto the UI frame
// loop. Callbacks run on the frame that first reaches their time, slightly
// early, and are dropped when the frame loop falls too far behind.
package draw

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cbegin/tickwork/internal/errs"
	"github.com/cbegin/tickwork/internal/timeline"
)

const (
	DefaultAnticipation = 0.008
	DefaultExpiration   = 0.25
	DefaultFPS          = 60
)

// Clock reports the audio time currently being heard.
type Clock interface {
	CurrentTime() float64
}

type Option func(*Scheduler)

// WithAnticipation sets how early, in seconds, a callback may run.
func WithAnticipation(seconds float64) Option {
	return func(s *Scheduler) {
		if seconds >= 0 {
			s.anticipation = seconds
		}
	}
}

// WithExpiration sets how late, in seconds, a callback may still run.
func WithExpiration(seconds float64) Option {
	return func(s *Scheduler) {
		if seconds > 0 {
			s.expiration = seconds
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

type Scheduler struct {
	clock        Clock
	anticipation float64
	expiration   float64
	logger       *slog.Logger

	mu     sync.Mutex
	events *timeline.Timeline[func()]
}

func New(clock Clock, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:        clock,
		anticipation: DefaultAnticipation,
		expiration:   DefaultExpiration,
		logger:       slog.Default(),
		events:       timeline.New[func()](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule queues fn for the frame that reaches audio time at.
func (s *Scheduler) Schedule(fn func(), at float64) (timeline.ID, error) {
	if fn == nil {
		return 0, fmt.Errorf("%w: nil draw callback", errs.ErrInvalidState)
	}
	if at < 0 {
		return 0, fmt.Errorf("%w: draw time %v", errs.ErrInvalidRange, at)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Add(at, fn), nil
}

// Cancel drops every callback at or after t.
func (s *Scheduler) Cancel(t float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Cancel(t)
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Len()
}

// Frame runs every callback due by the current audio time and returns how
// many ran. Callbacks more than the expiration late are discarded unrun.
func (s *Scheduler) Frame() int {
	now := s.clock.CurrentTime()
	var due []func()
	s.mu.Lock()
	for {
		ev, ok := s.events.First()
		if !ok || ev.Time-s.anticipation > now {
			break
		}
		s.events.Shift()
		if now-ev.Time <= s.expiration {
			due = append(due, ev.Value)
		} else {
			s.logger.Debug("draw callback expired", "time", ev.Time, "now", now)
		}
	}
	s.mu.Unlock()

	for _, fn := range due {
		s.run(fn)
	}
	return len(due)
}

func (s *Scheduler) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("draw callback panicked", "err", r)
		}
	}()
	fn()
}

// Run calls Frame fps times per second until ctx is done.
func (s *Scheduler) Run(ctx context.Context, fps int) error {
	if fps <= 0 {
		return fmt.Errorf("%w: fps %d", errs.ErrInvalidRange, fps)
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Frame()
		}
	}
}
