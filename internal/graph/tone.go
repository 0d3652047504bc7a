package graph

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/cbegin/tickwork/internal/errs"
	"github.com/cbegin/tickwork/internal/timeline"
)

// Source is anything the transport can start and stop at an absolute time.
type Source interface {
	Start(t float64) error
	Stop(t float64) error
}

// Waveform selects the shape a Tone produces.
type Waveform int

const (
	WaveSine Waveform = iota
	WaveSquare
	WaveTriangle
	WaveSaw
)

func (w Waveform) String() string {
	switch w {
	case WaveSquare:
		return "square"
	case WaveTriangle:
		return "triangle"
	case WaveSaw:
		return "saw"
	default:
		return "sine"
	}
}

// ParseWaveform accepts the names String returns.
func ParseWaveform(name string) (Waveform, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sine":
		return WaveSine, nil
	case "square":
		return WaveSquare, nil
	case "triangle":
		return WaveTriangle, nil
	case "saw", "sawtooth":
		return WaveSaw, nil
	default:
		return WaveSine, fmt.Errorf("invalid waveform %q (expected sine|square|triangle|saw)", name)
	}
}

// PlayState is what a Tone's state timeline records.
type PlayState int

const (
	Stopped PlayState = iota
	Started
)

func (s PlayState) String() string {
	if s == Started {
		return "started"
	}
	return "stopped"
}

// Tone is an oscillator whose start and stop are decided per sample from its
// state timeline, so a start scheduled ahead lands on the exact frame.
type Tone struct {
	Frequency *Param
	Gain      *Param

	mu       sync.Mutex
	waveform Waveform
	states   *timeline.States[PlayState]
	phase    float64
	sounding bool
}

func NewTone(waveform Waveform, frequency float64) *Tone {
	return &Tone{
		Frequency: NewParam(frequency, 0, 24000),
		Gain:      NewParam(1, 0, 4),
		waveform:  waveform,
		states:    timeline.NewStates(Stopped),
	}
}

func checkTime(t float64) error {
	if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("%w: source time %v", errs.ErrInvalidRange, t)
	}
	return nil
}

// Start schedules the tone to sound from t. Later state changes are dropped.
func (o *Tone) Start(t float64) error {
	if err := checkTime(t); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states.Cancel(t)
	o.states.Set(Started, t)
	return nil
}

// Stop schedules silence from t. Later state changes are dropped.
func (o *Tone) Stop(t float64) error {
	if err := checkTime(t); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states.Cancel(t)
	o.states.Set(Stopped, t)
	return nil
}

// StateAt reports whether the tone should be sounding at t.
func (o *Tone) StateAt(t float64) PlayState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states.StateAt(t)
}

// RenderMono writes frames starting at absolute frame start. The phase
// restarts at every start so repeated notes are identical.
func (o *Tone) RenderMono(dst []float32, start int64, sampleRate int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sr := float64(sampleRate)
	for i := range dst {
		t := float64(start+int64(i)) / sr
		if o.states.StateAt(t) != Started {
			dst[i] = 0
			o.sounding = false
			continue
		}
		if !o.sounding {
			o.phase = 0
			o.sounding = true
		}
		dst[i] = float32(o.wave(o.phase) * o.Gain.ValueAt(t))
		o.phase += o.Frequency.ValueAt(t) / sr
		for o.phase >= 1 {
			o.phase--
		}
	}
	if n := len(dst); n > 0 {
		end := float64(start+int64(n)) / sr
		o.states.Prune(end)
		o.Frequency.Prune(end)
		o.Gain.Prune(end)
	}
}

func (o *Tone) wave(phase float64) float64 {
	switch o.waveform {
	case WaveSaw:
		return 1.0 - 2.0*phase
	case WaveSquare:
		if phase < 0.5 {
			return 1.0
		}
		return -1.0
	case WaveTriangle:
		if phase < 0.5 {
			return 4.0*phase - 1.0
		}
		return 3.0 - 4.0*phase
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}
