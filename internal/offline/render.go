// Package offline renders scheduled programs faster than real time. The
// coordinator builds a child audio context and transport for each render,
// exposes it as the current context while the render runs, and always
// restores the previous one.
package offline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/cbegin/tickwork/internal/audioctx"
	"github.com/cbegin/tickwork/internal/errs"
	"github.com/cbegin/tickwork/internal/transport"
)

// BuildFunc schedules a program against the offline context and transport.
// It runs before any audio is rendered.
type BuildFunc func(ac *audioctx.Context, tr *transport.Transport) error

type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTransportOptions applies opts to every transport a render creates.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Coordinator) {
		c.transportOpts = append(c.transportOpts, opts...)
	}
}

// WithContextOptions applies opts to every offline context a render creates.
func WithContextOptions(opts ...audioctx.Option) Option {
	return func(c *Coordinator) {
		c.contextOpts = append(c.contextOpts, opts...)
	}
}

// Coordinator owns the current-context slot. Only one render may be in
// flight at a time.
type Coordinator struct {
	logger        *slog.Logger
	transportOpts []transport.Option
	contextOpts   []audioctx.Option

	mu       sync.Mutex
	current  *audioctx.Context
	inFlight bool
}

// NewCoordinator starts with realtime (which may be nil) as the current
// context.
func NewCoordinator(realtime *audioctx.Context, opts ...Option) *Coordinator {
	c := &Coordinator{logger: slog.Default(), current: realtime}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the context scheduling should target right now: the
// offline context during a render, the realtime one otherwise.
func (c *Coordinator) Current() *audioctx.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Render creates an offline context and transport, runs build against them
// and renders duration seconds without waiting on the wall clock. The
// previous current context is restored on every exit path, including a
// panic in build.
func (c *Coordinator) Render(ctx context.Context, build BuildFunc, duration float64, channels, sampleRate int) (buf *Buffer, err error) {
	if build == nil {
		return nil, fmt.Errorf("%w: nil build function", errs.ErrInvalidState)
	}
	if !(duration > 0) || math.IsInf(duration, 0) {
		return nil, fmt.Errorf("%w: render duration %v", errs.ErrInvalidRange, duration)
	}
	ac, err := audioctx.NewOffline(sampleRate, channels, append([]audioctx.Option{audioctx.WithLogger(c.logger)}, c.contextOpts...)...)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return nil, errs.ErrConcurrentRender
	}
	prev := c.current
	c.current, c.inFlight = ac, true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.current, c.inFlight = prev, false
		c.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("offline build panicked: %v", r)
		}
	}()

	tr, err := transport.New(ac, append([]transport.Option{transport.WithLogger(c.logger)}, c.transportOpts...)...)
	if err != nil {
		return nil, err
	}
	defer tr.Close()

	if err := build(ac, tr); err != nil {
		return nil, fmt.Errorf("offline build: %w", err)
	}
	frames := int64(math.Round(duration * float64(sampleRate)))
	c.logger.Debug("offline render", "seconds", duration, "frames", frames, "sample_rate", sampleRate)
	data, err := ac.RenderFrames(ctx, frames)
	if err != nil {
		return nil, fmt.Errorf("offline render: %w", err)
	}
	return &Buffer{Data: data, Channels: channels, SampleRate: sampleRate}, nil
}
