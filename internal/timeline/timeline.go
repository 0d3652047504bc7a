// Package timeline provides an ordered store of time-keyed events and a
// scheduled-state view on top of it.
//
// A Timeline is not safe for concurrent use. Every owner in this module
// (transport, clock, graph params) guards its timelines with its own lock.
package timeline

import (
	"slices"
	"sort"
)

// ID identifies an event for the lifetime of the timeline that issued it.
type ID uint64

// Event is a single entry. Time is usually seconds but any monotonic key works;
// the transport keys its events by ticks.
type Event[T any] struct {
	Time  float64
	ID    ID
	Value T
}

// Option configures a Timeline.
type Option func(*config)

type config struct {
	memory int
}

// WithMemory bounds the number of retained events. When the bound is exceeded
// the earliest events are dropped. Zero means unbounded.
func WithMemory(n int) Option {
	return func(cfg *config) {
		if n < 0 {
			n = 0
		}
		cfg.memory = n
	}
}

// Timeline keeps events sorted by time ascending. Events that share a time
// stay in insertion order.
type Timeline[T any] struct {
	events []Event[T]
	nextID ID
	memory int
}

func New[T any](opts ...Option) *Timeline[T] {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Timeline[T]{memory: cfg.memory}
}

// Add inserts value at time and returns its ID. The position is found by
// binary search; the shift that follows is O(n) in the worst case but
// append-mostly workloads insert at the tail.
func (tl *Timeline[T]) Add(time float64, value T) ID {
	tl.nextID++
	ev := Event[T]{Time: time, ID: tl.nextID, Value: value}
	idx := tl.searchAfter(time)
	if idx == len(tl.events) {
		tl.events = append(tl.events, ev)
	} else {
		tl.events = slices.Insert(tl.events, idx, ev)
	}
	if tl.memory > 0 && len(tl.events) > tl.memory {
		drop := len(tl.events) - tl.memory
		tl.events = slices.Delete(tl.events, 0, drop)
	}
	return ev.ID
}

// searchAfter returns the index of the first event with Time > t.
func (tl *Timeline[T]) searchAfter(t float64) int {
	return sort.Search(len(tl.events), func(i int) bool { return tl.events[i].Time > t })
}

// searchFrom returns the index of the first event with Time >= t.
func (tl *Timeline[T]) searchFrom(t float64) int {
	return sort.Search(len(tl.events), func(i int) bool { return tl.events[i].Time >= t })
}

// Len returns the number of stored events.
func (tl *Timeline[T]) Len() int { return len(tl.events) }

// At returns the latest event with Time <= t. When several events share that
// time the last inserted one wins.
func (tl *Timeline[T]) At(t float64) (Event[T], bool) {
	idx := tl.searchAfter(t) - 1
	if idx < 0 {
		return Event[T]{}, false
	}
	return tl.events[idx], true
}

// Before returns the latest event with Time < t.
func (tl *Timeline[T]) Before(t float64) (Event[T], bool) {
	idx := tl.searchFrom(t) - 1
	if idx < 0 {
		return Event[T]{}, false
	}
	return tl.events[idx], true
}

// After returns the earliest event with Time > t.
func (tl *Timeline[T]) After(t float64) (Event[T], bool) {
	idx := tl.searchAfter(t)
	if idx >= len(tl.events) {
		return Event[T]{}, false
	}
	return tl.events[idx], true
}

// First returns the earliest event.
func (tl *Timeline[T]) First() (Event[T], bool) {
	if len(tl.events) == 0 {
		return Event[T]{}, false
	}
	return tl.events[0], true
}

// Shift removes and returns the earliest event.
func (tl *Timeline[T]) Shift() (Event[T], bool) {
	if len(tl.events) == 0 {
		return Event[T]{}, false
	}
	ev := tl.events[0]
	tl.events = slices.Delete(tl.events, 0, 1)
	return ev, true
}

// Get looks an event up by ID.
func (tl *Timeline[T]) Get(id ID) (Event[T], bool) {
	if idx := tl.indexOf(id); idx >= 0 {
		return tl.events[idx], true
	}
	return Event[T]{}, false
}

// Between returns a copy of the events with t0 <= Time < t1.
func (tl *Timeline[T]) Between(t0, t1 float64) []Event[T] {
	if t1 <= t0 {
		return nil
	}
	lo := tl.searchFrom(t0)
	hi := tl.searchFrom(t1)
	if lo >= hi {
		return nil
	}
	return slices.Clone(tl.events[lo:hi])
}

// Events returns a copy of every stored event in order.
func (tl *Timeline[T]) Events() []Event[T] {
	return slices.Clone(tl.events)
}

// ForEachBetween calls fn for every event with t0 <= Time < t1. The set is
// snapshotted first, so fn may add or remove events freely.
func (tl *Timeline[T]) ForEachBetween(t0, t1 float64, fn func(Event[T])) {
	for _, ev := range tl.Between(t0, t1) {
		fn(ev)
	}
}

// ForEach calls fn for every event over a snapshot.
func (tl *Timeline[T]) ForEach(fn func(Event[T])) {
	for _, ev := range tl.Events() {
		fn(ev)
	}
}

// Cancel removes every event with Time >= t and returns how many were removed.
func (tl *Timeline[T]) Cancel(t float64) int {
	idx := tl.searchFrom(t)
	n := len(tl.events) - idx
	clear(tl.events[idx:])
	tl.events = tl.events[:idx]
	return n
}

// CancelBefore removes every event with Time < t.
func (tl *Timeline[T]) CancelBefore(t float64) int {
	idx := tl.searchFrom(t)
	tl.events = slices.Delete(tl.events, 0, idx)
	return idx
}

// Prune drops every event superseded before t, keeping the one in effect at
// t and everything after it. Long-running owners call it to bound memory
// without losing the answer At(t) gives.
func (tl *Timeline[T]) Prune(t float64) int {
	idx := tl.searchAfter(t) - 1
	if idx <= 0 {
		return 0
	}
	tl.events = slices.Delete(tl.events, 0, idx)
	return idx
}

// Remove deletes the event with the given ID wherever it sits.
func (tl *Timeline[T]) Remove(id ID) bool {
	idx := tl.indexOf(id)
	if idx < 0 {
		return false
	}
	tl.events = slices.Delete(tl.events, idx, idx+1)
	return true
}

// Clear drops every event.
func (tl *Timeline[T]) Clear() {
	clear(tl.events)
	tl.events = tl.events[:0]
}

func (tl *Timeline[T]) indexOf(id ID) int {
	for i := range tl.events {
		if tl.events[i].ID == id {
			return i
		}
	}
	return -1
}
