// Package audioctx is the audio clock every scheduling component reads. A
// Context counts rendered frames, so CurrentTime is exactly the time of the
// next frame to be produced, and it drives the look-ahead passes of the
// clocks attached to it: a ticker goroutine in realtime, a synchronous block
// loop offline.
package audioctx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbegin/tickwork/internal/errs"
)

const (
	DefaultSampleRate     = 48000
	DefaultChannels       = 2
	DefaultLookAhead      = 0.1
	DefaultUpdateInterval = 25 * time.Millisecond
	DefaultBlockSize      = 128
)

// Renderer produces interleaved frames beginning at an absolute frame index.
type Renderer interface {
	Render(dst []float32, channels int, start int64)
}

// PassFunc runs one look-ahead pass up to now.
type PassFunc func(now float64)

// Option configures a Context.
type Option func(*config)

type config struct {
	sampleRate     int
	channels       int
	lookAhead      float64
	updateInterval time.Duration
	blockSize      int
	wallClock      bool
	logger         *slog.Logger
}

func defaultConfig() config {
	return config{
		sampleRate:     DefaultSampleRate,
		channels:       DefaultChannels,
		lookAhead:      DefaultLookAhead,
		updateInterval: DefaultUpdateInterval,
		blockSize:      DefaultBlockSize,
		logger:         slog.Default(),
	}
}

func WithSampleRate(rate int) Option {
	return func(cfg *config) {
		cfg.sampleRate = rate
	}
}

func WithChannels(n int) Option {
	return func(cfg *config) {
		cfg.channels = n
	}
}

// WithLookAhead sets how far ahead of CurrentTime passes schedule, in seconds.
func WithLookAhead(seconds float64) Option {
	return func(cfg *config) {
		cfg.lookAhead = seconds
	}
}

// WithUpdateInterval sets the wall-clock period of realtime passes.
func WithUpdateInterval(d time.Duration) Option {
	return func(cfg *config) {
		cfg.updateInterval = d
	}
}

// WithBlockSize sets the frames rendered per offline step.
func WithBlockSize(frames int) Option {
	return func(cfg *config) {
		cfg.blockSize = frames
	}
}

// WithWallClock makes CurrentTime follow the wall clock from Start instead of
// the rendered frame count. Use it when nothing pulls audio, e.g. MIDI-only
// playback.
func WithWallClock(enabled bool) Option {
	return func(cfg *config) {
		cfg.wallClock = enabled
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

type Context struct {
	sampleRate     int
	channels       int
	lookAhead      float64
	updateInterval time.Duration
	blockSize      int
	wallClock      bool
	offline        bool
	logger         *slog.Logger

	frames atomic.Int64
	epoch  atomic.Int64 // wall clock start, unix nanos

	mu     sync.Mutex
	passes map[int]PassFunc
	order  []int
	nextID int
	dest   Renderer

	passMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func validate(cfg config) error {
	if cfg.sampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", errs.ErrInvalidRange, cfg.sampleRate)
	}
	if cfg.channels <= 0 {
		return fmt.Errorf("%w: channels %d", errs.ErrInvalidRange, cfg.channels)
	}
	if cfg.lookAhead < 0 {
		return fmt.Errorf("%w: look-ahead %v", errs.ErrInvalidRange, cfg.lookAhead)
	}
	if cfg.updateInterval <= 0 {
		return fmt.Errorf("%w: update interval %v", errs.ErrInvalidRange, cfg.updateInterval)
	}
	if cfg.blockSize <= 0 {
		return fmt.Errorf("%w: block size %d", errs.ErrInvalidRange, cfg.blockSize)
	}
	return nil
}

func newContext(cfg config, offline bool) *Context {
	return &Context{
		sampleRate:     cfg.sampleRate,
		channels:       cfg.channels,
		lookAhead:      cfg.lookAhead,
		updateInterval: cfg.updateInterval,
		blockSize:      cfg.blockSize,
		wallClock:      cfg.wallClock && !offline,
		offline:        offline,
		logger:         cfg.logger,
		passes:         make(map[int]PassFunc),
	}
}

// New returns a realtime context. Its time advances as an audio backend pulls
// frames through Process, or with the wall clock when configured so.
func New(opts ...Option) (*Context, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return newContext(cfg, false), nil
}

// NewOffline returns a context that only advances inside RenderFrames. Its
// look-ahead is one block, so every pass schedules exactly the block about
// to be rendered.
func NewOffline(sampleRate, channels int, opts ...Option) (*Context, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.sampleRate = sampleRate
	cfg.channels = channels
	if err := validate(cfg); err != nil {
		return nil, err
	}
	cfg.lookAhead = float64(cfg.blockSize) / float64(cfg.sampleRate)
	return newContext(cfg, true), nil
}

func (c *Context) SampleRate() int { return c.sampleRate }
func (c *Context) Channels() int   { return c.channels }
func (c *Context) Offline() bool   { return c.offline }

// LookAhead returns the scheduling lead in seconds.
func (c *Context) LookAhead() float64 { return c.lookAhead }

func (c *Context) Logger() *slog.Logger { return c.logger }

// Frames returns the number of frames produced so far.
func (c *Context) Frames() int64 { return c.frames.Load() }

// CurrentTime is the audio-clock time of the next frame to be produced.
func (c *Context) CurrentTime() float64 {
	if c.wallClock {
		start := c.epoch.Load()
		if start == 0 {
			return 0
		}
		return time.Duration(time.Now().UnixNano() - start).Seconds()
	}
	return float64(c.frames.Load()) / float64(c.sampleRate)
}

// Now is CurrentTime plus the look-ahead: the earliest time new work can
// still be scheduled sample-accurately.
func (c *Context) Now() float64 {
	return c.CurrentTime() + c.lookAhead
}

// AddPass registers fn to run on every look-ahead pass and returns a function
// that removes it. Passes run in registration order.
func (c *Context) AddPass(fn PassFunc) (remove func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.passes[id] = fn
	c.order = append(c.order, id)
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.passes, id)
			for i, v := range c.order {
				if v == id {
					c.order = append(c.order[:i], c.order[i+1:]...)
					break
				}
			}
		})
	}
}

// SetDestination sets what Process renders.
func (c *Context) SetDestination(r Renderer) {
	c.mu.Lock()
	c.dest = r
	c.mu.Unlock()
}

// Pass runs every registered pass once with the current Now. Passes never
// overlap.
func (c *Context) Pass() {
	c.passMu.Lock()
	defer c.passMu.Unlock()
	now := c.Now()
	c.mu.Lock()
	fns := make([]PassFunc, 0, len(c.order))
	for _, id := range c.order {
		fns = append(fns, c.passes[id])
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(now)
	}
}

// Process renders the destination into dst (interleaved, Channels wide) and
// advances the clock by the frames written. It is the SampleSource an audio
// backend pulls from.
func (c *Context) Process(dst []float32) {
	frames := len(dst) / c.channels
	c.mu.Lock()
	dest := c.dest
	c.mu.Unlock()
	if dest != nil {
		dest.Render(dst[:frames*c.channels], c.channels, c.frames.Load())
	} else {
		clear(dst)
	}
	c.frames.Add(int64(frames))
}

// Start launches the realtime pass loop. It runs until ctx is done or Close
// is called.
func (c *Context) Start(ctx context.Context) error {
	if c.offline {
		return fmt.Errorf("%w: offline contexts advance through RenderFrames", errs.ErrInvalidState)
	}
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("%w: context already running", errs.ErrInvalidState)
	}
	if c.wallClock {
		c.epoch.CompareAndSwap(0, time.Now().UnixNano())
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
	c.logger.Debug("audio context started",
		"sample_rate", c.sampleRate, "look_ahead", c.lookAhead, "interval", c.updateInterval)
	return nil
}

func (c *Context) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.updateInterval)
	defer ticker.Stop()
	c.Pass()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Pass()
		}
	}
}

// Close stops the realtime pass loop and waits for it to exit.
func (c *Context) Close() error {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	c.logger.Debug("audio context closed", "time", c.CurrentTime())
	return nil
}

// RenderFrames drives an offline context for n frames: each block runs a
// pass and then renders, so nothing waits on the wall clock. It returns the
// interleaved output.
func (c *Context) RenderFrames(ctx context.Context, n int64) ([]float32, error) {
	if !c.offline {
		return nil, fmt.Errorf("%w: realtime contexts are driven by their backend", errs.ErrInvalidState)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: frame count %d", errs.ErrInvalidRange, n)
	}
	out := make([]float32, n*int64(c.channels))
	block := int64(c.blockSize)
	for pos := int64(0); pos < n; pos += block {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(pos+block, n)
		c.Pass()
		c.Process(out[pos*int64(c.channels) : end*int64(c.channels)])
	}
	return out, nil
}
