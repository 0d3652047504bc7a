package offline

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"github.com/cbegin/tickwork/internal/audioctx"
	"github.com/cbegin/tickwork/internal/errs"
	"github.com/cbegin/tickwork/internal/graph"
	"github.com/cbegin/tickwork/internal/timeexpr"
	"github.com/cbegin/tickwork/internal/transport"
)

// arpeggio schedules a short pattern of tones driven by transport callbacks.
func arpeggio(ac *audioctx.Context, tr *transport.Transport) error {
	bus := graph.NewBus(ac.SampleRate())
	ac.SetDestination(bus)
	freqs := []float64{220, 277.18, 329.63, 440}
	for i, f := range freqs {
		tone := graph.NewTone(graph.WaveTriangle, f)
		bus.Add(tone)
		at := timeexpr.Ticks(float64(i * tr.PPQ() / 2))
		_, err := tr.Schedule(func(_ *audioctx.Context, t float64) error {
			if err := tone.Start(t); err != nil {
				return err
			}
			return tone.Stop(t + 0.1)
		}, at)
		if err != nil {
			return err
		}
	}
	return tr.Start(timeexpr.Seconds(0), nil)
}

func TestRenderIsDeterministic(t *testing.T) {
	c := NewCoordinator(nil)
	a, err := c.Render(context.Background(), arpeggio, 1.5, 2, 22050)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Render(context.Background(), arpeggio, 1.5, 2, 22050)
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash() != b.Hash() {
		t.Fatal("identical programs rendered different audio")
	}
	if a.Frames() != 33075 || a.Duration() != 1.5 {
		t.Fatalf("frames = %d, duration = %v", a.Frames(), a.Duration())
	}
	var nonZero bool
	for _, s := range a.Channel(1) {
		if s != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Fatal("render produced silence")
	}
}

func TestRenderStartsToneOnScheduledFrame(t *testing.T) {
	const sr = 8000
	c := NewCoordinator(nil)
	buf, err := c.Render(context.Background(), func(ac *audioctx.Context, tr *transport.Transport) error {
		bus := graph.NewBus(sr)
		ac.SetDestination(bus)
		tone := graph.NewTone(graph.WaveSquare, 100)
		bus.Add(tone)
		if _, err := tr.Schedule(func(_ *audioctx.Context, at float64) error {
			return tone.Start(at)
		}, timeexpr.MustParse("4n")); err != nil {
			return err
		}
		return tr.Start(timeexpr.Seconds(0), nil)
	}, 1, 1, sr)
	if err != nil {
		t.Fatal(err)
	}
	// 4n at 120 bpm is 0.5s, frame 4000.
	if buf.Data[3999] != 0 || buf.Data[4000] != 1 {
		t.Fatalf("frames 3999/4000 = %v/%v, want 0/1", buf.Data[3999], buf.Data[4000])
	}
}

func TestRenderRestoresCurrentContext(t *testing.T) {
	realtime, err := audioctx.New()
	if err != nil {
		t.Fatal(err)
	}
	c := NewCoordinator(realtime)
	var inside *audioctx.Context
	var nestedErr error
	_, err = c.Render(context.Background(), func(ac *audioctx.Context, tr *transport.Transport) error {
		inside = c.Current()
		if inside != ac {
			t.Error("render context is not current during build")
		}
		_, nestedErr = c.Render(context.Background(), arpeggio, 0.1, 2, 8000)
		return nil
	}, 0.1, 2, 8000)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(nestedErr, errs.ErrConcurrentRender) {
		t.Fatalf("nested render error = %v", nestedErr)
	}
	if c.Current() != realtime {
		t.Fatal("realtime context not restored")
	}

	boom := errors.New("boom")
	if _, err := c.Render(context.Background(), func(*audioctx.Context, *transport.Transport) error { return boom }, 1, 2, 8000); !errors.Is(err, boom) {
		t.Fatalf("build error = %v", err)
	}
	if _, err := c.Render(context.Background(), func(*audioctx.Context, *transport.Transport) error { panic("bad build") }, 1, 2, 8000); err == nil {
		t.Fatal("panicking build should fail the render")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Render(ctx, arpeggio, 1, 2, 8000); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled render error = %v", err)
	}
	if c.Current() != realtime {
		t.Fatal("context leaked after failed renders")
	}
	if _, err := c.Render(context.Background(), arpeggio, 0.1, 2, 8000); err != nil {
		t.Fatalf("render after failures: %v", err)
	}
}

func TestRenderRejectsBadArguments(t *testing.T) {
	c := NewCoordinator(nil)
	cases := []struct {
		name     string
		build    BuildFunc
		duration float64
		channels int
		rate     int
		want     error
	}{
		{"nil build", nil, 1, 2, 8000, errs.ErrInvalidState},
		{"zero duration", arpeggio, 0, 2, 8000, errs.ErrInvalidRange},
		{"zero channels", arpeggio, 1, 0, 8000, errs.ErrInvalidRange},
		{"zero rate", arpeggio, 1, 2, 0, errs.ErrInvalidRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := c.Render(context.Background(), tc.build, tc.duration, tc.channels, tc.rate); !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestWriteWAVRoundTripsFormat(t *testing.T) {
	buf := &Buffer{Data: []float32{0, 0.5, -0.5, 1, 2, -2}, Channels: 2, SampleRate: 8000}
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := buf.WriteWAV(f, 16); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	dec := wav.NewDecoder(r)
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if dec.NumChans != 2 || dec.SampleRate != 8000 || dec.BitDepth != 16 {
		t.Fatalf("format = %d ch, %d Hz, %d bit", dec.NumChans, dec.SampleRate, dec.BitDepth)
	}
	want := []int{0, 16384, -16384, 32767, 32767, -32767}
	for i, v := range want {
		if pcm.Data[i] != v {
			t.Fatalf("sample %d = %d, want %d", i, pcm.Data[i], v)
		}
	}
	if err := buf.WriteWAV(f, 12); !errors.Is(err, errs.ErrInvalidRange) {
		t.Fatalf("bad bit depth error = %v", err)
	}
}

func TestBufferChannelAndFloatWAV(t *testing.T) {
	buf := &Buffer{Data: []float32{1, 2, 3, 4, -5, 6.25}, Channels: 3, SampleRate: 10}
	if got := buf.Channel(2); len(got) != 2 || got[0] != 3 || got[1] != 6.25 {
		t.Fatalf("Channel(2) = %v", got)
	}
	if buf.Channel(3) != nil {
		t.Fatal("out of range channel should be nil")
	}

	path := filepath.Join(t.TempDir(), "float.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := buf.WriteWAV(f, 32); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 44+6*4 {
		t.Fatalf("float wav size = %d", len(raw))
	}
	if format := binary.LittleEndian.Uint16(raw[20:]); format != 3 {
		t.Fatalf("audio format = %d, want 3 (IEEE float)", format)
	}
	if bits := binary.LittleEndian.Uint16(raw[34:]); bits != 32 {
		t.Fatalf("bits per sample = %d", bits)
	}
	for i, want := range buf.Data {
		got := math.Float32frombits(binary.LittleEndian.Uint32(raw[44+i*4:]))
		if got != want {
			t.Fatalf("sample %d = %v, want %v unclipped", i, got, want)
		}
	}
}

func TestHashTracksSamplesAndLayout(t *testing.T) {
	a := &Buffer{Data: []float32{0.25, -0.25}, Channels: 2, SampleRate: 48000}
	b := &Buffer{Data: []float32{0.25, -0.25}, Channels: 2, SampleRate: 48000}
	if a.Hash() != b.Hash() {
		t.Fatal("identical buffers hash differently")
	}
	mono := &Buffer{Data: a.Data, Channels: 1, SampleRate: 48000}
	nudged := &Buffer{Data: []float32{0.25, math.Nextafter32(-0.25, 0)}, Channels: 2, SampleRate: 48000}
	for _, other := range []*Buffer{mono, nudged} {
		if other.Hash() == a.Hash() {
			t.Fatalf("hash ignores difference: %+v", other)
		}
	}
}
