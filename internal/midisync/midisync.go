// Package midisync sends MIDI clock that follows a transport: 24 timing
// pulses per quarter note, start/stop/continue on state changes and a song
// position pointer whenever the position jumps.
package midisync

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/tickwork/internal/audioctx"
	"github.com/cbegin/tickwork/internal/errs"
	"github.com/cbegin/tickwork/internal/timeexpr"
	"github.com/cbegin/tickwork/internal/transport"
)

// PulsesPerQuarter is the MIDI clock resolution.
const PulsesPerQuarter = 24

const queueSize = 512

// Sender delivers one message, e.g. the func returned by midi.SendTo.
type Sender func(midi.Message) error

type Option func(*Clock)

func WithLogger(l *slog.Logger) Option {
	return func(c *Clock) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLatency shifts realtime sends by d, positive to send later. Use it to
// line MIDI up with the audio output latency.
func WithLatency(d time.Duration) Option {
	return func(c *Clock) {
		c.latency = d
	}
}

type timed struct {
	at  float64
	msg midi.Message
}

// Clock turns transport activity into MIDI clock messages. Offline contexts
// send in pass order as the transport programs each message; realtime
// contexts queue messages and Run sends each one when the audio clock
// reaches it.
type Clock struct {
	tr      *transport.Transport
	ac      *audioctx.Context
	send    Sender
	logger  *slog.Logger
	latency time.Duration

	pulse    transport.ID
	unlisten func()
	queue    chan timed

	mu      sync.Mutex
	sent    int
	dropped int
}

// New attaches a MIDI clock to tr.
func New(tr *transport.Transport, send Sender, opts ...Option) (*Clock, error) {
	if tr == nil || send == nil {
		return nil, fmt.Errorf("%w: midi clock needs a transport and a sender", errs.ErrInvalidState)
	}
	c := &Clock{
		tr:     tr,
		ac:     tr.Context(),
		send:   send,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.ac.Offline() {
		c.queue = make(chan timed, queueSize)
	}
	interval := float64(tr.PPQ()) / PulsesPerQuarter
	id, err := tr.ScheduleRepeat(func(_ *audioctx.Context, at float64) error {
		return c.emit(at, midi.TimingClock())
	}, timeexpr.Ticks(interval), nil, nil)
	if err != nil {
		return nil, err
	}
	c.pulse = id
	c.unlisten = tr.Listen(c.lifecycle)
	return c, nil
}

// lifecycle runs inside the transport pass; it only emits.
func (c *Clock) lifecycle(ev transport.Event) {
	var msgs []midi.Message
	switch ev.Kind {
	case transport.EventStart:
		if ev.Ticks < 0.5 {
			msgs = []midi.Message{midi.Start()}
		} else {
			msgs = []midi.Message{midi.SPP(c.songPosition(ev.Ticks)), midi.Continue()}
		}
	case transport.EventPause, transport.EventStop:
		msgs = []midi.Message{midi.Stop()}
	case transport.EventLoop:
		msgs = []midi.Message{midi.SPP(c.songPosition(ev.Ticks))}
	}
	for _, m := range msgs {
		if err := c.emit(ev.Time, m); err != nil {
			c.logger.Error("midi clock send failed", "msg", m.String(), "err", err)
		}
	}
}

// songPosition converts ticks to MIDI beats (sixteenth notes).
func (c *Clock) songPosition(ticks float64) uint16 {
	sixteenths := math.Floor(ticks / (float64(c.tr.PPQ()) / 4))
	return uint16(min(max(sixteenths, 0), 0x3FFF))
}

func (c *Clock) emit(at float64, msg midi.Message) error {
	if c.queue == nil {
		return c.deliver(msg)
	}
	select {
	case c.queue <- timed{at: at, msg: msg}:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		c.logger.Warn("midi clock queue full; dropping message", "msg", msg.String(), "time", at)
	}
	return nil
}

func (c *Clock) deliver(msg midi.Message) error {
	if err := c.send(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg, err)
	}
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
	return nil
}

// Run sends queued realtime messages on time until ctx is done. Offline
// clocks send synchronously and have nothing to run.
func (c *Clock) Run(ctx context.Context) error {
	if c.queue == nil {
		return fmt.Errorf("%w: offline midi clocks send during the render", errs.ErrInvalidState)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-c.queue:
			wait := time.Duration((m.at-c.ac.CurrentTime())*float64(time.Second)) + c.latency
			if wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
			if err := c.deliver(m.msg); err != nil {
				c.logger.Error("midi clock send failed", "err", err)
			}
		}
	}
}

// Stats returns how many messages were sent and dropped.
func (c *Clock) Stats() (sent, dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent, c.dropped
}

// Close detaches the clock from the transport.
func (c *Clock) Close() error {
	c.unlisten()
	c.tr.Clear(c.pulse)
	return nil
}
