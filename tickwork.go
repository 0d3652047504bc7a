// Package tickwork schedules callbacks against a sample-accurate audio
// clock. A Transport converts musical time into audio-clock seconds and
// dispatches callbacks with their exact times; the same code runs in
// realtime through a Player or faster than realtime through Render.
package tickwork

import (
	"github.com/cbegin/tickwork/internal/audioctx"
	"github.com/cbegin/tickwork/internal/errs"
	"github.com/cbegin/tickwork/internal/offline"
	"github.com/cbegin/tickwork/internal/program"
	"github.com/cbegin/tickwork/internal/timeexpr"
	"github.com/cbegin/tickwork/internal/transport"
)

type (
	Value     = timeexpr.Value
	Context   = audioctx.Context
	Transport = transport.Transport
	Callback  = transport.Callback
	ID        = transport.ID
	Event     = transport.Event
	EventKind = transport.EventKind
	State     = transport.State
	Buffer    = offline.Buffer
	Program   = program.Program
)

const (
	EventStart = transport.EventStart
	EventStop  = transport.EventStop
	EventPause = transport.EventPause
	EventLoop  = transport.EventLoop

	Stopped = transport.Stopped
	Started = transport.Started
	Paused  = transport.Paused
)

var (
	ErrInvalidTimeFormat  = errs.ErrInvalidTimeFormat
	ErrInvalidRange       = errs.ErrInvalidRange
	ErrInvalidState       = errs.ErrInvalidState
	ErrConcurrentRender   = errs.ErrConcurrentRender
	ErrSchedulingConflict = errs.ErrSchedulingConflict
)

// ParseTime parses a time expression such as "4n", "1:2:0", "+8t" or
// "1m + 4n".
func ParseTime(s string) (Value, error) {
	return timeexpr.Parse(s)
}

// MustParseTime is ParseTime for constants; it panics on malformed input.
func MustParseTime(s string) Value {
	return timeexpr.MustParse(s)
}

// Seconds is an absolute time value in seconds.
func Seconds(s float64) Value {
	return timeexpr.Seconds(s)
}

func LoadProgram(path string) (*Program, error) {
	return program.Load(path)
}

func ParseProgram(data []byte) (*Program, error) {
	return program.Parse(data)
}
