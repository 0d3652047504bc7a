package timeline

// States tracks a labelled state over time. StateAt answers "what was the
// state at t" from the latest entry at or before t, which lets sources decide
// per sample whether they should be sounding.
type States[S comparable] struct {
	tl      *Timeline[S]
	initial S
}

// NewStates returns a state timeline that reports initial before its first entry.
func NewStates[S comparable](initial S, opts ...Option) *States[S] {
	return &States[S]{tl: New[S](opts...), initial: initial}
}

// Initial returns the state reported before any entry.
func (s *States[S]) Initial() S { return s.initial }

// Set records state as taking effect at t.
func (s *States[S]) Set(state S, t float64) ID {
	return s.tl.Add(t, state)
}

// StateAt returns the state in effect at t.
func (s *States[S]) StateAt(t float64) S {
	if ev, ok := s.tl.At(t); ok {
		return ev.Value
	}
	return s.initial
}

// EntryAt returns the entry in effect at t, if any.
func (s *States[S]) EntryAt(t float64) (Event[S], bool) {
	return s.tl.At(t)
}

// LastState returns the latest entry at or before t whose value is state.
func (s *States[S]) LastState(state S, t float64) (Event[S], bool) {
	idx := s.tl.searchAfter(t) - 1
	for ; idx >= 0; idx-- {
		if s.tl.events[idx].Value == state {
			return s.tl.events[idx], true
		}
	}
	return Event[S]{}, false
}

// NextState returns the earliest entry after t whose value is state.
func (s *States[S]) NextState(state S, t float64) (Event[S], bool) {
	for idx := s.tl.searchAfter(t); idx < len(s.tl.events); idx++ {
		if s.tl.events[idx].Value == state {
			return s.tl.events[idx], true
		}
	}
	return Event[S]{}, false
}

// After returns the first entry strictly after t.
func (s *States[S]) After(t float64) (Event[S], bool) {
	return s.tl.After(t)
}

// Between returns the entries with t0 <= Time < t1.
func (s *States[S]) Between(t0, t1 float64) []Event[S] {
	return s.tl.Between(t0, t1)
}

// Cancel drops every entry at or after t.
func (s *States[S]) Cancel(t float64) int {
	return s.tl.Cancel(t)
}

// Prune drops entries superseded before t.
func (s *States[S]) Prune(t float64) int { return s.tl.Prune(t) }

// Len returns the number of entries.
func (s *States[S]) Len() int { return s.tl.Len() }
