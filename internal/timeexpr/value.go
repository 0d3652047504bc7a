// Package timeexpr parses and resolves time expressions.
//
// A Value is a closed sum type: Seconds, Notation, Ticks, Hertz, Samples,
// Relative and Sum. Parse turns the textual forms ("4n", "8t", "4n.", "1m",
// "2:0:0", "8hz", "128i", "512samples", "+1m", "1m + 4n", plain seconds) into a
// Value; Resolve turns a Value into seconds against a tempo snapshot and
// ToTicks turns it into transport ticks.
package timeexpr

import (
	"strconv"
	"strings"
)

// Kind tags the variant a Value holds.
type Kind int

const (
	KindSeconds Kind = iota + 1
	KindNotation
	KindTicks
	KindHertz
	KindSamples
	KindRelative
	KindSum
)

func (k Kind) String() string {
	switch k {
	case KindSeconds:
		return "seconds"
	case KindNotation:
		return "notation"
	case KindTicks:
		return "ticks"
	case KindHertz:
		return "hertz"
	case KindSamples:
		return "samples"
	case KindRelative:
		return "relative"
	case KindSum:
		return "sum"
	default:
		return "unknown"
	}
}

// Value is implemented only by the types in this package.
type Value interface {
	Kind() Kind
	String() string
	isValue()
}

// Seconds is an absolute duration or time. It resolves to itself at any tempo.
type Seconds float64

// Notation is musical time: whole measures, quarter notes and sixteenths.
// "4n." is Quarters 1.5, "8t" is Quarters 1/3, "2:1:2" is Measures 2,
// Quarters 1, Sixteenths 2.
type Notation struct {
	Measures   float64
	Quarters   float64
	Sixteenths float64
}

// Ticks counts transport ticks at the tempo's PPQ resolution.
type Ticks float64

// Hertz is a frequency whose period is the time value.
type Hertz float64

// Samples counts audio frames at the context sample rate.
type Samples float64

// Relative is an offset from a reference time (the current time by default).
type Relative struct {
	Offset Value
}

// Sum adds its terms.
type Sum []Value

func (Seconds) Kind() Kind  { return KindSeconds }
func (Notation) Kind() Kind { return KindNotation }
func (Ticks) Kind() Kind    { return KindTicks }
func (Hertz) Kind() Kind    { return KindHertz }
func (Samples) Kind() Kind  { return KindSamples }
func (Relative) Kind() Kind { return KindRelative }
func (Sum) Kind() Kind      { return KindSum }

func (Seconds) isValue()  {}
func (Notation) isValue() {}
func (Ticks) isValue()    {}
func (Hertz) isValue()    {}
func (Samples) isValue()  {}
func (Relative) isValue() {}
func (Sum) isValue()      {}

func (s Seconds) String() string { return formatFloat(float64(s)) }

func (n Notation) String() string {
	return formatFloat(n.Measures) + ":" + formatFloat(n.Quarters) + ":" + formatFloat(n.Sixteenths)
}

func (t Ticks) String() string   { return formatFloat(float64(t)) + "i" }
func (h Hertz) String() string   { return formatFloat(float64(h)) + "hz" }
func (s Samples) String() string { return formatFloat(float64(s)) + "samples" }

func (r Relative) String() string {
	if r.Offset == nil {
		return "+0"
	}
	return "+" + r.Offset.String()
}

func (s Sum) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = v.String()
	}
	return strings.Join(parts, " + ")
}

// Beats returns the length in quarter notes for the given time signature numerator.
func (n Notation) Beats(numerator int) float64 {
	return n.Measures*float64(numerator) + n.Quarters + n.Sixteenths/4
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
