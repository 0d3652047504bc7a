package tickwork

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	intaudio "github.com/cbegin/tickwork/internal/audio"
	"github.com/cbegin/tickwork/internal/audioctx"
	"github.com/cbegin/tickwork/internal/graph"
	"github.com/cbegin/tickwork/internal/offline"
	"github.com/cbegin/tickwork/internal/transport"
)

const (
	DriverEbiten = intaudio.DriverEbiten
	DriverOto    = intaudio.DriverOto
)

type PlayerOption func(*playerConfig)

type playerConfig struct {
	sampleRate    int
	driver        string
	bufferSize    time.Duration
	lookAhead     float64
	logger        *slog.Logger
	sampleTap     func([]float32)
	transportOpts []transport.Option
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		sampleRate: audioctx.DefaultSampleRate,
		driver:     DriverEbiten,
		bufferSize: intaudio.DefaultBufferSize,
		lookAhead:  audioctx.DefaultLookAhead,
		logger:     slog.Default(),
	}
}

func WithSampleRate(rate int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleRate = rate
	}
}

// WithDriver selects the output backend, DriverEbiten or DriverOto.
func WithDriver(name string) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.driver = name
	}
}

// WithBufferSize sets the device buffer. Keep it below the look-ahead or
// callbacks land after the audio they schedule has already been pulled.
func WithBufferSize(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.bufferSize = d
	}
}

func WithLookAhead(seconds float64) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.lookAhead = seconds
	}
}

func WithLogger(l *slog.Logger) PlayerOption {
	return func(cfg *playerConfig) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithSampleTap installs a callback invoked with each rendered stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleTap = tap
	}
}

func WithTransportOptions(opts ...transport.Option) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.transportOpts = append(cfg.transportOpts, opts...)
	}
}

// Player owns a realtime audio context, its transport and an output bus.
// The output device is opened lazily by Open or Play.
type Player struct {
	cfg      playerConfig
	ac       *audioctx.Context
	tr       *transport.Transport
	bus      *graph.Bus
	renderer *offline.Coordinator

	mu     sync.Mutex
	out    intaudio.Player
	volume float64
}

func NewPlayer(opts ...PlayerOption) (*Player, error) {
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	ac, err := audioctx.New(
		audioctx.WithSampleRate(cfg.sampleRate),
		audioctx.WithLookAhead(cfg.lookAhead),
		audioctx.WithLogger(cfg.logger),
	)
	if err != nil {
		return nil, err
	}
	trOpts := append([]transport.Option{transport.WithLogger(cfg.logger)}, cfg.transportOpts...)
	tr, err := transport.New(ac, trOpts...)
	if err != nil {
		return nil, err
	}
	var busOpts []graph.BusOption
	if cfg.sampleTap != nil {
		busOpts = append(busOpts, graph.WithSampleTap(cfg.sampleTap))
	}
	bus := graph.NewBus(cfg.sampleRate, busOpts...)
	ac.SetDestination(bus)
	return &Player{
		cfg:      cfg,
		ac:       ac,
		tr:       tr,
		bus:      bus,
		renderer: offline.NewCoordinator(ac, offline.WithLogger(cfg.logger), offline.WithTransportOptions(cfg.transportOpts...)),
		volume:   1,
	}, nil
}

func (p *Player) Context() *Context     { return p.ac }
func (p *Player) Transport() *Transport { return p.tr }
func (p *Player) Bus() *graph.Bus       { return p.bus }

// Open starts the context pass loop and the output device. It is a no-op
// when already open.
func (p *Player) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openLocked(ctx)
}

func (p *Player) openLocked(ctx context.Context) error {
	if p.out != nil {
		return nil
	}
	if err := p.ac.Start(ctx); err != nil {
		return err
	}
	out, err := intaudio.Open(p.cfg.driver, p.cfg.sampleRate, p.ac.Channels(), p.ac,
		intaudio.WithBufferSize(p.cfg.bufferSize))
	if err != nil {
		_ = p.ac.Close()
		return fmt.Errorf("open %s output: %w", p.cfg.driver, err)
	}
	p.out = out
	p.out.Play()
	p.cfg.logger.Info("audio output open", "driver", p.cfg.driver, "sample_rate", p.cfg.sampleRate)
	return nil
}

// Play replaces whatever was playing with prog and starts it now.
func (p *Player) Play(ctx context.Context, prog *Program) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openLocked(ctx); err != nil {
		return err
	}
	return p.load(prog)
}

// load stops the transport, drops the callbacks and voices of any earlier
// program, then applies prog and starts it. Callers hold p.mu.
func (p *Player) load(prog *Program) error {
	if p.tr.State() != Stopped {
		if err := p.tr.Stop(nil); err != nil {
			return err
		}
	}
	if _, err := p.tr.Cancel(nil); err != nil {
		return err
	}
	p.bus.Clear()
	p.tr.SetLoop(false)
	if err := p.tr.SetSwing(0); err != nil {
		return err
	}
	if err := p.tr.SetBPM(prog.BPM); err != nil {
		return err
	}
	if err := prog.Apply(p.tr, p.bus); err != nil {
		return err
	}
	return p.tr.Start(nil, nil)
}

func (p *Player) Pause() error  { return p.tr.Pause(nil) }
func (p *Player) Resume() error { return p.tr.Start(nil, nil) }
func (p *Player) Stop() error   { return p.tr.Stop(nil) }

// Wait blocks until the transport stops or ctx is done. It returns
// immediately when the transport is already stopped.
func (p *Player) Wait(ctx context.Context) error {
	stopped := make(chan struct{})
	var once sync.Once
	remove := p.tr.Listen(func(ev Event) {
		if ev.Kind == EventStop {
			once.Do(func() { close(stopped) })
		}
	})
	defer remove()
	if p.tr.State() == Stopped {
		return nil
	}
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watch returns a channel of transport lifecycle events. The channel is
// buffered; only the most recent Watch channel receives events.
func (p *Player) Watch() <-chan Event { return p.tr.Watch() }

// Errors returns the channel callback failures are reported on.
func (p *Player) Errors() <-chan error { return p.tr.Errors() }

// SetMasterVolume sets the output gain from the next schedulable instant.
// 1.0 is default.
func (p *Player) SetMasterVolume(volume float64) {
	volume = min(max(volume, 0), 4)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
	_ = p.bus.Gain.SetValueAtTime(volume, p.ac.Now())
}

func (p *Player) MasterVolume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Render renders offline while the player keeps its realtime context. The
// player's context is reported as current again once Render returns.
func (p *Player) Render(ctx context.Context, build BuildFunc, seconds float64) (*Buffer, error) {
	return p.renderer.Render(ctx, build, seconds, p.ac.Channels(), p.cfg.sampleRate)
}

// Current returns the context scheduling code should target right now: the
// offline context during Render, the realtime one otherwise.
func (p *Player) Current() *Context { return p.renderer.Current() }

func (p *Player) Close() error {
	p.mu.Lock()
	out := p.out
	p.out = nil
	p.mu.Unlock()
	var err error
	if out != nil {
		err = out.Close()
	}
	return errors.Join(err, p.tr.Close(), p.ac.Close())
}
