package timeexpr

import (
	"fmt"
	"math"
	"strconv"

	"github.com/cbegin/tickwork/internal/errs"
)

// Tempo is the tempo snapshot a resolution reads. Implementations hand out
// their live values so tempo changes are seen by the next resolution.
type Tempo interface {
	BPM() float64
	TimeSignature() int
	PPQ() int
}

// Env adds the clock and sample rate that relative and sample values need.
type Env interface {
	Tempo
	Now() float64
	SampleRate() int
}

// Resolve converts v to seconds. Relative values are measured from env.Now().
func Resolve(v Value, env Env) (float64, error) {
	return ResolveAt(v, env, env.Now())
}

// ResolveAt converts v to seconds, measuring relative values from ref.
func ResolveAt(v Value, env Env, ref float64) (float64, error) {
	secs, err := seconds(v, env, ref)
	if err != nil {
		return 0, err
	}
	if secs < 0 {
		return 0, fmt.Errorf("%w: %s resolves to %v seconds", errs.ErrInvalidRange, v, secs)
	}
	return secs, nil
}

// Duration converts v to a strictly positive length in seconds. Relative
// values are taken as their offset alone.
func Duration(v Value, env Env) (float64, error) {
	if r, ok := v.(Relative); ok {
		v = r.Offset
	}
	secs, err := seconds(v, env, 0)
	if err != nil {
		return 0, err
	}
	if secs <= 0 {
		return 0, fmt.Errorf("%w: duration %s must be positive", errs.ErrInvalidRange, v)
	}
	return secs, nil
}

func seconds(v Value, env Env, ref float64) (float64, error) {
	switch v := v.(type) {
	case nil:
		return 0, fmt.Errorf("%w: nil time value", errs.ErrInvalidTimeFormat)
	case Seconds:
		return float64(v), nil
	case Notation:
		spb, err := secondsPerBeat(env)
		if err != nil {
			return 0, err
		}
		if v.Measures != 0 && env.TimeSignature() < 1 {
			return 0, fmt.Errorf("%w: time signature %d", errs.ErrInvalidRange, env.TimeSignature())
		}
		return v.Beats(env.TimeSignature()) * spb, nil
	case Ticks:
		spb, err := secondsPerBeat(env)
		if err != nil {
			return 0, err
		}
		ppq := env.PPQ()
		if ppq <= 0 {
			return 0, fmt.Errorf("%w: ppq %d", errs.ErrInvalidRange, ppq)
		}
		return float64(v) / float64(ppq) * spb, nil
	case Hertz:
		if v <= 0 {
			return 0, fmt.Errorf("%w: frequency %v has no period", errs.ErrInvalidRange, float64(v))
		}
		return 1 / float64(v), nil
	case Samples:
		sr := env.SampleRate()
		if sr <= 0 {
			return 0, fmt.Errorf("%w: sample rate %d", errs.ErrInvalidRange, sr)
		}
		return float64(v) / float64(sr), nil
	case Relative:
		off, err := seconds(v.Offset, env, ref)
		if err != nil {
			return 0, err
		}
		return ref + off, nil
	case Sum:
		var total float64
		for _, term := range v {
			s, err := seconds(term, env, ref)
			if err != nil {
				return 0, err
			}
			total += s
		}
		return total, nil
	default:
		return 0, fmt.Errorf("%w: unsupported value %T", errs.ErrInvalidTimeFormat, v)
	}
}

func secondsPerBeat(t Tempo) (float64, error) {
	bpm := t.BPM()
	if !(bpm > 0) || math.IsInf(bpm, 0) {
		return 0, fmt.Errorf("%w: bpm %v", errs.ErrInvalidRange, bpm)
	}
	return 60 / bpm, nil
}

// ToTicks converts v to transport ticks. Notation and ticks map exactly;
// everything else goes through seconds at the current tempo. Relative values
// are measured from refTicks.
func ToTicks(v Value, env Env, refTicks float64) (float64, error) {
	ticks, err := toTicks(v, env, refTicks)
	if err != nil {
		return 0, err
	}
	if ticks < 0 {
		return 0, fmt.Errorf("%w: %s resolves to %v ticks", errs.ErrInvalidRange, v, ticks)
	}
	return ticks, nil
}

func toTicks(v Value, env Env, refTicks float64) (float64, error) {
	ppq := float64(env.PPQ())
	if ppq <= 0 {
		return 0, fmt.Errorf("%w: ppq %d", errs.ErrInvalidRange, env.PPQ())
	}
	switch v := v.(type) {
	case Notation:
		if v.Measures != 0 && env.TimeSignature() < 1 {
			return 0, fmt.Errorf("%w: time signature %d", errs.ErrInvalidRange, env.TimeSignature())
		}
		return v.Beats(env.TimeSignature()) * ppq, nil
	case Ticks:
		return float64(v), nil
	case Relative:
		off, err := toTicks(v.Offset, env, refTicks)
		if err != nil {
			return 0, err
		}
		return refTicks + off, nil
	case Sum:
		var total float64
		for _, term := range v {
			n, err := toTicks(term, env, refTicks)
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	}
	secs, err := seconds(v, env, 0)
	if err != nil {
		return 0, err
	}
	spb, err := secondsPerBeat(env)
	if err != nil {
		return 0, err
	}
	return secs / spb * ppq, nil
}

// BarsBeatsSixteenths formats a tick position as "bars:beats:sixteenths",
// with sixteenths rounded to three decimals.
func BarsBeatsSixteenths(ticks float64, ppq, numerator int) string {
	if ppq <= 0 || numerator < 1 {
		return "0:0:0"
	}
	quarters := ticks / float64(ppq)
	measures := math.Floor(quarters / float64(numerator))
	sixteenths := math.Mod(quarters, 1) * 4
	beats := math.Mod(math.Floor(quarters), float64(numerator))
	sixteenths = math.Round(sixteenths*1000) / 1000
	return strconv.FormatFloat(measures, 'f', -1, 64) + ":" +
		strconv.FormatFloat(beats, 'f', -1, 64) + ":" +
		strconv.FormatFloat(sixteenths, 'f', -1, 64)
}
