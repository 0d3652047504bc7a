// Package errs defines the error taxonomy shared by the scheduling packages.
// Callers match with errors.Is; call sites wrap these with fmt.Errorf("%w").
package errs

import "errors"

var (
	// ErrInvalidTimeFormat reports a time expression that cannot be parsed.
	ErrInvalidTimeFormat = errors.New("invalid time format")
	// ErrInvalidRange reports a non-positive tempo, interval or duration, or a
	// time expression that resolves to a negative value.
	ErrInvalidRange = errors.New("value out of range")
	// ErrInvalidState reports a start/stop/pause that the current state forbids.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrConcurrentRender reports an offline render requested while another
	// one is still in flight.
	ErrConcurrentRender = errors.New("offline render already in progress")
	// ErrSchedulingConflict is reserved. Events sharing a time are legal and
	// fire in insertion order, so nothing returns it today.
	ErrSchedulingConflict = errors.New("scheduling conflict")
)
