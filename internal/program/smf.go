package program

import (
	"fmt"
	"io"
	"math"
	"slices"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/tickwork/internal/timeexpr"
)

// staticEnv resolves time values at the program's initial tempo.
type staticEnv struct {
	bpm       float64
	numerator int
	ppq       int
}

func (e staticEnv) BPM() float64       { return e.bpm }
func (e staticEnv) TimeSignature() int { return e.numerator }
func (e staticEnv) PPQ() int           { return e.ppq }
func (e staticEnv) Now() float64       { return 0 }
func (e staticEnv) SampleRate() int    { return 48000 }

type smfEvent struct {
	tick uint32
	off  bool
	msg  midi.Message
}

// WriteSMF exports the program as a type 1 standard MIDI file with one
// track per voice. Repeats without a span are unrolled for length ticks;
// length defaults to the loop end, or four measures.
func (p *Program) WriteSMF(w io.Writer, ppq int, length timeexpr.Value) error {
	env := staticEnv{bpm: p.BPM, numerator: p.TimeSignature, ppq: ppq}
	ticks := func(s string) (float64, error) {
		return timeexpr.ToTicks(timeexpr.MustParse(s), env, 0)
	}
	horizon := float64(4 * p.TimeSignature * ppq)
	if p.Loop != nil {
		end, err := ticks(p.Loop.End)
		if err != nil {
			return err
		}
		horizon = end
	}
	if length != nil {
		l, err := timeexpr.ToTicks(length, env, 0)
		if err != nil {
			return err
		}
		horizon = l
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(ppq)
	var meta smf.Track
	meta.Add(0, smf.MetaMeter(uint8(p.TimeSignature), 4))
	meta.Add(0, smf.MetaTempo(p.BPM))
	meta.Close(0)
	if err := s.Add(meta); err != nil {
		return fmt.Errorf("tempo track: %w", err)
	}

	for vi, v := range p.Voices {
		var events []smfEvent
		for _, n := range v.Notes {
			at, err := ticks(n.At)
			if err != nil {
				return err
			}
			dur, err := ticks(n.Duration)
			if err != nil {
				return err
			}
			starts := []float64{at}
			if n.Repeat != "" {
				step, err := ticks(n.Repeat)
				if err != nil {
					return err
				}
				end := horizon
				if n.For != "" {
					span, err := ticks(n.For)
					if err != nil {
						return err
					}
					end = at + span
				}
				starts = starts[:0]
				for pos := at; pos < end && step > 0; pos += step {
					starts = append(starts, pos)
				}
			}
			key := n.MIDIKey()
			for _, st := range starts {
				events = append(events,
					smfEvent{tick: uint32(math.Round(st)), msg: midi.NoteOn(v.Channel, key, n.Velocity)},
					smfEvent{tick: uint32(math.Round(st + dur)), off: true, msg: midi.NoteOff(v.Channel, key)})
			}
		}
		// note-offs sort before note-ons on the same tick so repeated keys retrigger
		slices.SortStableFunc(events, func(a, b smfEvent) int {
			if a.tick != b.tick {
				return int(a.tick) - int(b.tick)
			}
			if a.off != b.off {
				if a.off {
					return -1
				}
				return 1
			}
			return 0
		})
		var track smf.Track
		if v.Name != "" {
			track.Add(0, smf.MetaTrackSequenceName(v.Name))
		}
		var last uint32
		for _, ev := range events {
			track.Add(ev.tick-last, ev.msg)
			last = ev.tick
		}
		track.Close(0)
		if err := s.Add(track); err != nil {
			return fmt.Errorf("voice %d track: %w", vi, err)
		}
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("write smf: %w", err)
	}
	return nil
}
