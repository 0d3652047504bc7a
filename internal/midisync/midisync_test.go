package midisync

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/tickwork/internal/audioctx"
	"github.com/cbegin/tickwork/internal/errs"
	"github.com/cbegin/tickwork/internal/timeexpr"
	"github.com/cbegin/tickwork/internal/transport"
)

type recordingPort struct {
	msgs []midi.Message
	fail error
}

func (p *recordingPort) send(m midi.Message) error {
	if p.fail != nil {
		return p.fail
	}
	p.msgs = append(p.msgs, append(midi.Message(nil), m...))
	return nil
}

func (p *recordingPort) count(want midi.Message) int {
	n := 0
	for _, m := range p.msgs {
		if bytes.Equal(m, want) {
			n++
		}
	}
	return n
}

func newOfflineTransport(t *testing.T) (*audioctx.Context, *transport.Transport) {
	t.Helper()
	ac, err := audioctx.NewOffline(48000, 2)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := transport.New(ac)
	if err != nil {
		t.Fatal(err)
	}
	return ac, tr
}

func render(t *testing.T, ac *audioctx.Context, seconds float64) {
	t.Helper()
	if _, err := ac.RenderFrames(context.Background(), int64(seconds*48000)); err != nil {
		t.Fatal(err)
	}
}

func TestClockPulsesAndTransportMessages(t *testing.T) {
	ac, tr := newOfflineTransport(t)
	port := &recordingPort{}
	c, err := New(tr, port.send)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_ = tr.Start(timeexpr.Seconds(0), nil)
	_ = tr.Pause(timeexpr.Seconds(0.49))
	render(t, ac, 0.6)

	if !bytes.Equal(port.msgs[0], midi.Start()) {
		t.Fatalf("first message = %v, want start", port.msgs[0])
	}
	// a quarter note lasts 0.5s at 120 bpm; pulses at 0..23/48 s precede the pause
	if n := port.count(midi.TimingClock()); n != 24 {
		t.Fatalf("pulses = %d, want 24", n)
	}
	if last := port.msgs[len(port.msgs)-1]; !bytes.Equal(last, midi.Stop()) {
		t.Fatalf("last message = %v, want stop", last)
	}

	port.msgs = nil
	_ = tr.Start(timeexpr.Seconds(1), nil)
	render(t, ac, 0.5)
	// paused at 0.49s, 188.16 ticks, inside the fourth sixteenth
	if len(port.msgs) < 3 || !bytes.Equal(port.msgs[0], midi.SPP(3)) || !bytes.Equal(port.msgs[1], midi.Continue()) {
		t.Fatalf("resume messages = %v", port.msgs)
	}
	if !bytes.Equal(port.msgs[2], midi.TimingClock()) {
		t.Fatalf("pulses did not resume: %v", port.msgs[2])
	}
	if sent, dropped := c.Stats(); sent == 0 || dropped != 0 {
		t.Fatalf("stats = %d sent, %d dropped", sent, dropped)
	}
}

func TestLoopSendsSongPosition(t *testing.T) {
	ac, tr := newOfflineTransport(t)
	port := &recordingPort{}
	_ = tr.SetLoopPoints(timeexpr.MustParse("4n"), timeexpr.MustParse("2n"))
	tr.SetLoop(true)
	if _, err := New(tr, port.send); err != nil {
		t.Fatal(err)
	}
	_ = tr.Start(timeexpr.Seconds(0), nil)
	render(t, ac, 1.1)
	if n := port.count(midi.SPP(4)); n != 1 {
		t.Fatalf("loop song positions = %d, want 1 (messages %d)", n, len(port.msgs))
	}
}

func TestSendFailuresReachTransportErrors(t *testing.T) {
	ac, tr := newOfflineTransport(t)
	errCh := tr.Errors()
	port := &recordingPort{fail: errors.New("port closed")}
	c, err := New(tr, port.send)
	if err != nil {
		t.Fatal(err)
	}
	_ = tr.Start(timeexpr.Seconds(0), nil)
	render(t, ac, 0.01)
	select {
	case err := <-errCh:
		if !errors.Is(err, port.fail) {
			t.Fatalf("error = %v", err)
		}
	default:
		t.Fatal("failed pulse was not reported")
	}
	if err := c.Run(context.Background()); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("offline Run error = %v", err)
	}
}

func TestRealtimeRunSendsQueuedMessages(t *testing.T) {
	ac, err := audioctx.New(audioctx.WithWallClock(true), audioctx.WithUpdateInterval(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	tr, err := transport.New(ac)
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan midi.Message, 64)
	c, err := New(tr, func(m midi.Message) error {
		select {
		case got <- m:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()
	if err := ac.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer ac.Close()
	if err := tr.Start(nil, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-got:
		if !bytes.Equal(m, midi.Start()) {
			t.Fatalf("first realtime message = %v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no realtime message sent")
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(nil, func(midi.Message) error { return nil }); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("nil transport error = %v", err)
	}
	_, tr := newOfflineTransport(t)
	if _, err := New(tr, nil); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("nil sender error = %v", err)
	}
}
