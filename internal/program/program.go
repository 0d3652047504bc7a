// Package program loads YAML programs: tempo, loop and swing settings plus
// voices whose notes are scheduled on a transport and rendered by a bus.
//
//	bpm: 120
//	loop: {start: "0", end: "2m"}
//	voices:
//	  - name: bass
//	    waveform: saw
//	    gain: 0.4
//	    notes:
//	      - {at: "0:0:0", duration: 8n, key: 36, repeat: 4n, for: 2m}
package program

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cbegin/tickwork/internal/audioctx"
	"github.com/cbegin/tickwork/internal/errs"
	"github.com/cbegin/tickwork/internal/graph"
	"github.com/cbegin/tickwork/internal/timeexpr"
	"github.com/cbegin/tickwork/internal/transport"
)

type Program struct {
	BPM              float64       `yaml:"bpm"`
	TimeSignature    int           `yaml:"timeSignature,omitempty"`
	Swing            float64       `yaml:"swing,omitempty"`
	SwingSubdivision string        `yaml:"swingSubdivision,omitempty"`
	Loop             *Loop         `yaml:"loop,omitempty"`
	Tempo            []TempoChange `yaml:"tempo,omitempty"`
	Voices           []Voice       `yaml:"voices"`
}

type Loop struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// TempoChange steps the tempo at a position, or ramps to it over Ramp.
type TempoChange struct {
	At   string  `yaml:"at"`
	BPM  float64 `yaml:"bpm"`
	Ramp string  `yaml:"ramp,omitempty"`
}

type Voice struct {
	Name     string  `yaml:"name,omitempty"`
	Waveform string  `yaml:"waveform,omitempty"`
	Gain     float64 `yaml:"gain,omitempty"`
	Channel  uint8   `yaml:"channel,omitempty"`
	Notes    []Note  `yaml:"notes"`
}

// Note plays at a position for a duration. Pitch comes from Freq or, when
// Freq is zero, from the MIDI key. A Repeat interval replays the note every
// interval for For (forever when empty).
type Note struct {
	At       string  `yaml:"at"`
	Duration string  `yaml:"duration"`
	Key      *uint8  `yaml:"key,omitempty"`
	Freq     float64 `yaml:"freq,omitempty"`
	Velocity uint8   `yaml:"velocity,omitempty"`
	Repeat   string  `yaml:"repeat,omitempty"`
	For      string  `yaml:"for,omitempty"`
}

// Parse decodes and validates a program. Unknown fields are rejected.
func Parse(data []byte) (*Program, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var p Program
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode program: %w", err)
	}
	if err := p.normalize(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads and parses the program at path.
func Load(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func (p *Program) normalize() error {
	if p.BPM == 0 {
		p.BPM = 120
	}
	if p.TimeSignature == 0 {
		p.TimeSignature = 4
	}
	if !(p.BPM > 0) || math.IsInf(p.BPM, 0) {
		return fmt.Errorf("%w: bpm %v", errs.ErrInvalidRange, p.BPM)
	}
	if p.TimeSignature < 1 {
		return fmt.Errorf("%w: time signature %d", errs.ErrInvalidRange, p.TimeSignature)
	}
	if p.Swing < 0 || p.Swing > 1 {
		return fmt.Errorf("%w: swing %v", errs.ErrInvalidRange, p.Swing)
	}
	check := func(field, s string) error {
		if s == "" {
			return nil
		}
		if _, err := timeexpr.Parse(s); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		return nil
	}
	if err := check("swingSubdivision", p.SwingSubdivision); err != nil {
		return err
	}
	if p.Loop != nil {
		if p.Loop.Start == "" {
			p.Loop.Start = "0i"
		}
		if err := errors.Join(check("loop.start", p.Loop.Start), check("loop.end", p.Loop.End)); err != nil {
			return err
		}
		if p.Loop.End == "" {
			return fmt.Errorf("%w: loop needs an end", errs.ErrInvalidRange)
		}
	}
	for i, tc := range p.Tempo {
		if tc.At == "" {
			return fmt.Errorf("tempo[%d]: %w: missing at", i, errs.ErrInvalidTimeFormat)
		}
		if err := errors.Join(check(fmt.Sprintf("tempo[%d].at", i), tc.At), check(fmt.Sprintf("tempo[%d].ramp", i), tc.Ramp)); err != nil {
			return err
		}
	}
	for vi := range p.Voices {
		v := &p.Voices[vi]
		if v.Waveform == "" {
			v.Waveform = graph.WaveSine.String()
		}
		if _, err := graph.ParseWaveform(v.Waveform); err != nil {
			return fmt.Errorf("voice %d: %w", vi, err)
		}
		if v.Gain == 0 {
			v.Gain = 0.5
		}
		if v.Channel > 15 {
			return fmt.Errorf("voice %d: %w: midi channel %d", vi, errs.ErrInvalidRange, v.Channel)
		}
		for ni := range v.Notes {
			n := &v.Notes[ni]
			field := fmt.Sprintf("voice %d note %d", vi, ni)
			if n.At == "" || n.Duration == "" {
				return fmt.Errorf("%s: %w: at and duration are required", field, errs.ErrInvalidTimeFormat)
			}
			if n.Freq <= 0 && n.Key == nil {
				return fmt.Errorf("%s: %w: needs freq or key", field, errs.ErrInvalidRange)
			}
			if n.Key != nil && *n.Key > 127 {
				return fmt.Errorf("%s: %w: key %d", field, errs.ErrInvalidRange, *n.Key)
			}
			if n.Velocity == 0 {
				n.Velocity = 100
			}
			for _, s := range []string{n.At, n.Duration, n.Repeat, n.For} {
				if err := check(field, s); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Frequency returns the note pitch in Hz.
func (n Note) Frequency() float64 {
	if n.Freq > 0 {
		return n.Freq
	}
	return 440 * math.Pow(2, (float64(*n.Key)-69)/12)
}

// MIDIKey returns the note as a MIDI key, rounding Freq to the nearest
// equal-tempered key.
func (n Note) MIDIKey() uint8 {
	if n.Freq <= 0 {
		return *n.Key
	}
	k := math.Round(69 + 12*math.Log2(n.Freq/440))
	return uint8(min(max(k, 0), 127))
}

// TransportOptions returns the construction options the program needs.
func (p *Program) TransportOptions() []transport.Option {
	return []transport.Option{
		transport.WithBPM(p.BPM),
		transport.WithTimeSignature(p.TimeSignature),
	}
}

// Apply configures tr and schedules every voice onto tones mixed by bus. It
// does not start the transport.
func (p *Program) Apply(tr *transport.Transport, bus *graph.Bus) error {
	if err := tr.SetTimeSignature(p.TimeSignature); err != nil {
		return err
	}
	if err := tr.SetSwing(p.Swing); err != nil {
		return err
	}
	if p.SwingSubdivision != "" {
		if err := tr.SetSwingSubdivision(timeexpr.MustParse(p.SwingSubdivision)); err != nil {
			return err
		}
	}
	if p.Loop != nil {
		if err := tr.SetLoopPoints(timeexpr.MustParse(p.Loop.Start), timeexpr.MustParse(p.Loop.End)); err != nil {
			return err
		}
		tr.SetLoop(true)
	}
	for _, tc := range p.Tempo {
		if _, err := tr.SchedulePosition(tempoCallback(tr, tc), timeexpr.MustParse(tc.At)); err != nil {
			return fmt.Errorf("tempo at %s: %w", tc.At, err)
		}
	}
	for vi, v := range p.Voices {
		wave, _ := graph.ParseWaveform(v.Waveform)
		tone := graph.NewTone(wave, 440)
		if err := tone.Gain.SetValueAtTime(v.Gain, 0); err != nil {
			return err
		}
		bus.Add(tone)
		for ni, n := range v.Notes {
			if err := scheduleNote(tr, tone, n); err != nil {
				return fmt.Errorf("voice %d note %d: %w", vi, ni, err)
			}
		}
	}
	return nil
}

func tempoCallback(tr *transport.Transport, tc TempoChange) transport.Callback {
	return func(_ *audioctx.Context, at float64) error {
		if tc.Ramp == "" {
			return tr.SetBPMAt(tc.BPM, timeexpr.Seconds(at))
		}
		return tr.RampBPM(tc.BPM, timeexpr.MustParse(tc.Ramp), timeexpr.Seconds(at))
	}
}

func scheduleNote(tr *transport.Transport, tone *graph.Tone, n Note) error {
	freq := n.Frequency()
	duration := timeexpr.MustParse(n.Duration)
	play := func(_ *audioctx.Context, at float64) error {
		d, err := tr.DurationAt(duration, at)
		if err != nil {
			return err
		}
		if err := tone.Frequency.SetValueAtTime(freq, at); err != nil {
			return err
		}
		if err := tone.Start(at); err != nil {
			return err
		}
		return tone.Stop(at + d)
	}
	at := timeexpr.MustParse(n.At)
	if n.Repeat == "" {
		_, err := tr.SchedulePosition(play, at)
		return err
	}
	var span timeexpr.Value
	if n.For != "" {
		span = timeexpr.MustParse(n.For)
	}
	_, err := tr.ScheduleRepeat(play, timeexpr.MustParse(n.Repeat), at, span)
	return err
}

// Length returns the loop end, or four measures when the program does not
// loop, in seconds at the initial tempo.
func (p *Program) Length() float64 {
	env := staticEnv{bpm: p.BPM, numerator: p.TimeSignature, ppq: 192}
	if p.Loop != nil {
		if end, err := timeexpr.Duration(timeexpr.MustParse(p.Loop.End), env); err == nil {
			return end
		}
	}
	return float64(4*p.TimeSignature) * 60 / p.BPM
}
