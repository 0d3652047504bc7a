// Package transport is the master sequencer. It owns a clock and a timeline
// of scheduled callbacks keyed by transport position in ticks, and on every
// look-ahead pass it invokes the callbacks that fall due with their exact
// audio-clock time.
//
// Positions are whole ticks: a time value is converted to ticks and rounded
// when it is scheduled. Because events are keyed by position rather than by
// elapsed time, events inside a loop region fire again on every lap.
//
// An event scheduled while the transport is not looping keeps the audio time
// it resolved to: a later tempo change moves its position so that it still
// fires on time. Events scheduled while looping, repeats and events added
// with SchedulePosition stay on their position and follow the tempo.
package transport

import (
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/cbegin/tickwork/internal/audioctx"
	"github.com/cbegin/tickwork/internal/clock"
	"github.com/cbegin/tickwork/internal/errs"
	"github.com/cbegin/tickwork/internal/timeexpr"
	"github.com/cbegin/tickwork/internal/timeline"
)

// Callback is invoked with the context it was scheduled against and the
// exact time it should take effect. Work is programmed at that time, not
// performed immediately.
type Callback func(ac *audioctx.Context, at float64) error

// ID identifies a scheduled callback.
type ID uint64

// CallbackError reports a failed or panicking callback.
type CallbackError struct {
	ID   ID
	Time float64
	Err  error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("transport callback %d at %.6fs: %v", e.ID, e.Time, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// EventKind tags lifecycle events sent on Watch channels.
type EventKind int

const (
	EventStart EventKind = iota
	EventStop
	EventPause
	EventLoop
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventPause:
		return "pause"
	case EventLoop:
		return "loop"
	default:
		return "unknown"
	}
}

// Event is a transport lifecycle change at an audio-clock time.
type Event struct {
	Kind  EventKind
	Time  float64
	Ticks float64
}

type entryKind int

const (
	kindOnce entryKind = iota
	kindPersistent
	kindRepeat
)

type entry struct {
	id   ID
	kind entryKind
	cb   Callback

	// next is the exact next position; the timeline key is next rounded.
	next     float64
	start    float64
	interval float64
	end      float64

	tlID   timeline.ID
	queued bool
	// fixed events are re-keyed on tempo changes until they first fire.
	fixed bool
}

type call struct {
	id ID
	cb Callback
	at float64
}

// Option configures a Transport.
type Option func(*config)

type config struct {
	ppq       int
	bpm       float64
	numerator int
	logger    *slog.Logger
	onError   func(error)
}

func WithPPQ(ppq int) Option {
	return func(cfg *config) {
		cfg.ppq = ppq
	}
}

func WithBPM(bpm float64) Option {
	return func(cfg *config) {
		cfg.bpm = bpm
	}
}

func WithTimeSignature(numerator int) Option {
	return func(cfg *config) {
		cfg.numerator = numerator
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = l
	}
}

// WithErrorHandler installs a handler for callback failures. It runs on the
// pass goroutine after the failing callback returns.
func WithErrorHandler(fn func(error)) Option {
	return func(cfg *config) {
		cfg.onError = fn
	}
}

type Transport struct {
	ac      *audioctx.Context
	logger  *slog.Logger
	onError func(error)

	passMu sync.Mutex

	mu        sync.Mutex
	clock     *clock.Clock
	events    *timeline.Timeline[*entry]
	entries   map[ID]*entry
	nextID    ID
	numerator int
	loop      bool
	loopStart float64
	loopEnd   float64
	swing     float64
	swingSub  float64

	removePass func()

	chMu      sync.Mutex
	watchCh   chan Event
	errCh     chan error
	listeners map[int]func(Event)
	nextLn    int
}

// New creates a transport bound to ac and registers it for look-ahead passes.
func New(ac *audioctx.Context, opts ...Option) (*Transport, error) {
	if ac == nil {
		return nil, fmt.Errorf("%w: nil audio context", errs.ErrInvalidState)
	}
	cfg := config{ppq: clock.DefaultPPQ, bpm: 120, numerator: 4}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ppq <= 0 {
		return nil, fmt.Errorf("%w: ppq %d", errs.ErrInvalidRange, cfg.ppq)
	}
	if !(cfg.bpm > 0) || math.IsInf(cfg.bpm, 0) {
		return nil, fmt.Errorf("%w: bpm %v", errs.ErrInvalidRange, cfg.bpm)
	}
	if cfg.numerator < 1 {
		return nil, fmt.Errorf("%w: time signature %d", errs.ErrInvalidRange, cfg.numerator)
	}
	if cfg.logger == nil {
		cfg.logger = ac.Logger()
	}
	t := &Transport{
		ac:        ac,
		logger:    cfg.logger,
		onError:   cfg.onError,
		events:    timeline.New[*entry](),
		entries:   make(map[ID]*entry),
		numerator: cfg.numerator,
		loopEnd:   float64(cfg.ppq * cfg.numerator),
		swingSub:  float64(cfg.ppq / 2),
	}
	t.clock = clock.New(t.processTick,
		clock.WithPPQ(cfg.ppq),
		clock.WithBPM(cfg.bpm),
		clock.WithStateFunc(t.stateChanged))
	t.removePass = ac.AddPass(t.Advance)
	return t, nil
}

// Context returns the audio context the transport schedules against.
func (t *Transport) Context() *audioctx.Context { return t.ac }

// Close detaches the transport from its context. Scheduled callbacks stay
// in place but no further passes run.
func (t *Transport) Close() error {
	t.removePass()
	return nil
}

// Advance runs one look-ahead pass up to now. The context calls it; tests and
// hosts without a running context may call it directly. It must not be called
// from inside a callback.
func (t *Transport) Advance(now float64) {
	t.passMu.Lock()
	defer t.passMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock.Advance(now)
}

// env resolves time values against the live tempo. Callers hold t.mu.
type env struct {
	t   *Transport
	now float64
}

func (e env) BPM() float64       { return e.t.clock.BPMAt(e.now) }
func (e env) TimeSignature() int { return e.t.numerator }
func (e env) PPQ() int           { return e.t.clock.PPQ() }
func (e env) Now() float64       { return e.now }
func (e env) SampleRate() int    { return e.t.ac.SampleRate() }

func (t *Transport) env() env { return env{t: t, now: t.ac.Now()} }

// resolveTime turns v into an audio-clock time; nil means now.
func (t *Transport) resolveTime(v timeexpr.Value) (float64, error) {
	e := t.env()
	if v == nil {
		return e.now, nil
	}
	return timeexpr.Resolve(v, e)
}

// position turns v into a transport position in whole ticks. Relative values
// count from the current position.
func (t *Transport) position(v timeexpr.Value) (float64, error) {
	e := t.env()
	ticks, err := timeexpr.ToTicks(v, e, t.clock.TicksAt(e.now))
	if err != nil {
		return 0, err
	}
	return math.Round(ticks), nil
}

func (t *Transport) length(v timeexpr.Value) (float64, error) {
	if r, ok := v.(timeexpr.Relative); ok {
		v = r.Offset
	}
	ticks, err := timeexpr.ToTicks(v, t.env(), 0)
	if err != nil {
		return 0, err
	}
	if ticks <= 0 {
		return 0, fmt.Errorf("%w: length %s must be positive", errs.ErrInvalidRange, v)
	}
	return ticks, nil
}

func (t *Transport) add(kind entryKind, cb Callback, at float64, fixed bool) ID {
	t.nextID++
	e := &entry{id: t.nextID, kind: kind, cb: cb, next: at, start: at, end: math.Inf(1), fixed: fixed}
	t.entries[e.id] = e
	t.enqueue(e)
	return e.id
}

func (t *Transport) enqueue(e *entry) {
	e.tlID = t.events.Add(math.Round(e.next), e)
	e.queued = true
}

func (t *Transport) dequeue(e *entry) {
	if e.queued {
		t.events.Remove(e.tlID)
		e.queued = false
	}
}

// Schedule invokes cb every time the transport passes position at.
func (t *Transport) Schedule(cb Callback, at timeexpr.Value) (ID, error) {
	return t.schedule(kindPersistent, cb, at, true)
}

// ScheduleOnce invokes cb the first time the transport passes position at and
// then forgets it.
func (t *Transport) ScheduleOnce(cb Callback, at timeexpr.Value) (ID, error) {
	return t.schedule(kindOnce, cb, at, true)
}

// SchedulePosition is Schedule for an event bound to its musical position:
// tempo changes made after scheduling move it along with the beat.
func (t *Transport) SchedulePosition(cb Callback, at timeexpr.Value) (ID, error) {
	return t.schedule(kindPersistent, cb, at, false)
}

func (t *Transport) schedule(kind entryKind, cb Callback, at timeexpr.Value, fixed bool) (ID, error) {
	if cb == nil {
		return 0, fmt.Errorf("%w: nil callback", errs.ErrInvalidState)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, err := t.position(at)
	if err != nil {
		return 0, err
	}
	return t.add(kind, cb, pos, fixed && !t.loop), nil
}

// ScheduleRepeat invokes cb every interval starting at position start (nil
// means the beginning) for duration (nil means forever). The interval must
// span at least one tick. Only the next due firing is ever queued.
func (t *Transport) ScheduleRepeat(cb Callback, interval, start, duration timeexpr.Value) (ID, error) {
	if cb == nil {
		return 0, fmt.Errorf("%w: nil callback", errs.ErrInvalidState)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	step, err := t.length(interval)
	if err != nil {
		return 0, err
	}
	if step < 1 {
		return 0, fmt.Errorf("%w: repeat interval %s is under one tick", errs.ErrInvalidRange, interval)
	}
	var from float64
	if start != nil {
		if from, err = t.position(start); err != nil {
			return 0, err
		}
	}
	end := math.Inf(1)
	if duration != nil {
		d, err := t.length(duration)
		if err != nil {
			return 0, err
		}
		end = from + d
	}
	t.nextID++
	e := &entry{id: t.nextID, kind: kindRepeat, cb: cb, start: from, interval: step, end: end}
	t.entries[e.id] = e
	now := t.ac.Now()
	if t.clock.StateAt(now) == clock.Started {
		t.sync(e, t.clock.TicksAt(now))
	} else {
		t.sync(e, 0)
	}
	return e.id, nil
}

// Clear cancels one scheduled callback. It reports false if the id is unknown
// or already gone.
func (t *Transport) Clear(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return false
	}
	t.dequeue(e)
	delete(t.entries, id)
	return true
}

// Cancel removes every callback positioned at or after from; repeats are
// removed when they start at or after from. A nil from clears everything.
func (t *Transport) Cancel(from timeexpr.Value) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var pos float64
	if from != nil {
		var err error
		if pos, err = t.position(from); err != nil {
			return 0, err
		}
	}
	n := 0
	for _, id := range slices.Sorted(maps.Keys(t.entries)) {
		e := t.entries[id]
		key := e.next
		if e.kind == kindRepeat {
			key = e.start
		}
		if math.Round(key) < pos {
			continue
		}
		t.dequeue(e)
		delete(t.entries, id)
		n++
	}
	return n, nil
}

// Len returns the number of live scheduled callbacks.
func (t *Transport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// sync moves a repeat to its first firing at or after pos. A repeat whose
// window has passed waits for a loop to bring the position back, or is
// dropped when the transport is not looping.
func (t *Transport) sync(e *entry, pos float64) {
	t.dequeue(e)
	next := e.start
	if pos > e.start {
		n := math.Ceil((pos-e.start)/e.interval - 1e-9)
		next = e.start + n*e.interval
	}
	e.next = next
	t.place(e)
}

func (t *Transport) place(e *entry) {
	if e.next >= e.end {
		if !t.loop {
			delete(t.entries, e.id)
		}
		return
	}
	t.enqueue(e)
}

func (t *Transport) syncRepeats(pos float64) {
	for _, id := range slices.Sorted(maps.Keys(t.entries)) {
		if e := t.entries[id]; e.kind == kindRepeat {
			t.sync(e, pos)
		}
	}
}

// retime applies change to the tempo map. Fixed events ahead of the position
// at time at are then moved so that they keep the audio time the old map gave
// them. Callers hold t.mu.
func (t *Transport) retime(at float64, change func() error) error {
	before := t.clock.Tempo().Clone()
	if err := change(); err != nil {
		return err
	}
	after := t.clock.Tempo()
	pos := t.clock.TicksAt(at)
	base := after.TicksAt(at)
	for _, id := range slices.Sorted(maps.Keys(t.entries)) {
		e := t.entries[id]
		if !e.fixed || e.next <= pos {
			continue
		}
		d := before.DurationOfTicks(e.next-pos, at)
		e.next = pos + after.TicksAt(at+d) - base
		t.dequeue(e)
		t.enqueue(e)
	}
	return nil
}

// stateChanged runs inside clock.Advance with t.mu held.
func (t *Transport) stateChanged(state clock.State, at, ticks float64) {
	switch state {
	case clock.Started:
		t.syncRepeats(ticks)
		t.emit(Event{Kind: EventStart, Time: at, Ticks: ticks})
	case clock.Paused:
		t.emit(Event{Kind: EventPause, Time: at, Ticks: ticks})
	case clock.Stopped:
		t.emit(Event{Kind: EventStop, Time: at, Ticks: 0})
	}
}

// processTick runs inside clock.Advance with t.mu held. It releases the lock
// while callbacks run so they may schedule, clear or change transport state.
func (t *Transport) processTick(tickTime float64, tick int64) {
	ticks := float64(tick)
	if t.loop && t.loopEnd > t.loopStart && ticks >= t.loopEnd {
		t.clock.SetTicksAt(t.loopStart, tickTime)
		ticks = t.loopStart
		t.syncRepeats(ticks)
		t.emit(Event{Kind: EventLoop, Time: tickTime, Ticks: ticks})
	}
	at := tickTime + t.swingOffset(tickTime, ticks)

	due := t.events.Between(ticks, ticks+1)
	if len(due) == 0 {
		return
	}
	calls := make([]call, 0, len(due))
	for _, ev := range due {
		e := ev.Value
		e.fixed = false
		switch e.kind {
		case kindOnce:
			t.dequeue(e)
			delete(t.entries, e.id)
		case kindRepeat:
			t.dequeue(e)
			e.next += e.interval
			t.place(e)
		}
		calls = append(calls, call{id: e.id, cb: e.cb, at: at})
	}

	t.mu.Unlock()
	defer t.mu.Lock()
	for _, c := range calls {
		t.invoke(c)
	}
}

func (t *Transport) swingOffset(tickTime, ticks float64) float64 {
	if t.swing <= 0 || t.swingSub <= 0 {
		return 0
	}
	ppq := float64(t.clock.PPQ())
	span := t.swingSub * 2
	if math.Mod(ticks, ppq) == 0 || math.Mod(ticks, span) == 0 {
		return 0
	}
	progress := math.Mod(ticks, span) / span
	amount := math.Sin(progress*math.Pi) * t.swing
	return t.clock.Tempo().DurationOfTicks(span/3, tickTime) * amount
}

func (t *Transport) invoke(c call) {
	defer func() {
		if r := recover(); r != nil {
			t.report(&CallbackError{ID: c.id, Time: c.at, Err: fmt.Errorf("panic: %v", r)})
		}
	}()
	if err := c.cb(t.ac, c.at); err != nil {
		t.report(&CallbackError{ID: c.id, Time: c.at, Err: err})
	}
}

func (t *Transport) report(err *CallbackError) {
	t.logger.Error("transport callback failed", "id", uint64(err.ID), "time", err.Time, "err", err.Err)
	if t.onError != nil {
		t.onError(err)
	}
	t.chMu.Lock()
	ch := t.errCh
	t.chMu.Unlock()
	if ch != nil {
		select {
		case ch <- err:
		default:
		}
	}
}

func (t *Transport) emit(ev Event) {
	t.logger.Debug("transport event", "kind", ev.Kind.String(), "time", ev.Time, "ticks", ev.Ticks)
	t.chMu.Lock()
	ch := t.watchCh
	fns := make([]func(Event), 0, len(t.listeners))
	for _, id := range slices.Sorted(maps.Keys(t.listeners)) {
		fns = append(fns, t.listeners[id])
	}
	t.chMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full; drop event
		}
	}
}

// Watch returns a channel that receives lifecycle events as passes cross
// them. The channel is buffered (cap 8) and events are dropped when it is
// full. Only the most recent Watch channel receives events.
func (t *Transport) Watch() <-chan Event {
	ch := make(chan Event, 8)
	t.chMu.Lock()
	t.watchCh = ch
	t.chMu.Unlock()
	return ch
}

// Listen registers fn for every lifecycle event, in registration order. fn
// runs inside the pass while the transport is locked, so it must not call
// back into the transport. The returned func removes the listener.
func (t *Transport) Listen(fn func(Event)) (remove func()) {
	t.chMu.Lock()
	defer t.chMu.Unlock()
	if t.listeners == nil {
		t.listeners = make(map[int]func(Event))
	}
	t.nextLn++
	id := t.nextLn
	t.listeners[id] = fn
	return func() {
		t.chMu.Lock()
		defer t.chMu.Unlock()
		delete(t.listeners, id)
	}
}

// Errors returns the channel that receives callback failures. It is created
// on first use, buffered (cap 8), and failures are dropped when it is full.
func (t *Transport) Errors() <-chan error {
	t.chMu.Lock()
	defer t.chMu.Unlock()
	if t.errCh == nil {
		t.errCh = make(chan error, 8)
	}
	return t.errCh
}
