package timeline

import (
	"math/rand"
	"sort"
	"testing"
)

func times[T any](evs []Event[T]) []float64 {
	out := make([]float64, len(evs))
	for i, ev := range evs {
		out[i] = ev.Time
	}
	return out
}

func TestTimelineKeepsSortOrder(t *testing.T) {
	t.Parallel()

	tl := New[int]()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		tl.Add(rng.Float64()*10, i)
	}
	got := times(tl.Events())
	if !sort.Float64sAreSorted(got) {
		t.Fatalf("events not sorted")
	}
	if tl.Len() != 500 {
		t.Fatalf("Len() = %d, want 500", tl.Len())
	}
}

func TestTimelineTiesKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	tl := New[string]()
	tl.Add(1, "a")
	tl.Add(0.5, "early")
	tl.Add(1, "b")
	tl.Add(1, "c")
	var got []string
	tl.ForEachBetween(1, 2, func(ev Event[string]) { got = append(got, ev.Value) })
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if ev, _ := tl.At(1); ev.Value != "c" {
		t.Fatalf("At(1) = %q, want last inserted %q", ev.Value, "c")
	}
}

func TestTimelineLookups(t *testing.T) {
	t.Parallel()

	tl := New[int]()
	for _, tm := range []float64{0, 1, 2, 3} {
		tl.Add(tm, int(tm))
	}
	cases := []struct {
		name   string
		get    func() (Event[int], bool)
		want   int
		wantOK bool
	}{
		{"at before first", func() (Event[int], bool) { return tl.At(-1) }, 0, false},
		{"at exact", func() (Event[int], bool) { return tl.At(2) }, 2, true},
		{"at between", func() (Event[int], bool) { return tl.At(2.5) }, 2, true},
		{"after between", func() (Event[int], bool) { return tl.After(1.5) }, 2, true},
		{"after exact", func() (Event[int], bool) { return tl.After(1) }, 2, true},
		{"after last", func() (Event[int], bool) { return tl.After(3) }, 0, false},
		{"before exact", func() (Event[int], bool) { return tl.Before(2) }, 1, true},
	}
	for _, tc := range cases {
		ev, ok := tc.get()
		if ok != tc.wantOK {
			t.Errorf("%s: ok = %v, want %v", tc.name, ok, tc.wantOK)
			continue
		}
		if ok && ev.Value != tc.want {
			t.Errorf("%s: value = %d, want %d", tc.name, ev.Value, tc.want)
		}
	}
}

func TestTimelineBetweenIsHalfOpen(t *testing.T) {
	t.Parallel()

	tl := New[int]()
	for i := 0; i < 5; i++ {
		tl.Add(float64(i), i)
	}
	got := times(tl.Between(1, 3))
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Between(1, 3) = %v, want [1 2]", got)
	}
	if evs := tl.Between(3, 3); len(evs) != 0 {
		t.Fatalf("Between(3, 3) = %v, want empty", evs)
	}
}

func TestTimelineCancelAndRemove(t *testing.T) {
	t.Parallel()

	tl := New[int]()
	var ids []ID
	for i := 0; i < 5; i++ {
		ids = append(ids, tl.Add(float64(i), i))
	}
	if n := tl.Cancel(3); n != 2 {
		t.Fatalf("Cancel(3) removed %d, want 2", n)
	}
	if !tl.Remove(ids[1]) {
		t.Fatalf("Remove(%d) = false", ids[1])
	}
	if tl.Remove(ids[1]) {
		t.Fatalf("second Remove(%d) = true", ids[1])
	}
	got := times(tl.Events())
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("events = %v, want [0 2]", got)
	}
	if n := tl.CancelBefore(1); n != 1 {
		t.Fatalf("CancelBefore(1) removed %d, want 1", n)
	}
}

func TestTimelineMemoryDropsOldest(t *testing.T) {
	t.Parallel()

	tl := New[int](WithMemory(3))
	for i := 0; i < 10; i++ {
		tl.Add(float64(i), i)
	}
	got := times(tl.Events())
	if len(got) != 3 || got[0] != 7 {
		t.Fatalf("events = %v, want [7 8 9]", got)
	}
}

func TestTimelineForEachAllowsMutation(t *testing.T) {
	t.Parallel()

	tl := New[int]()
	for i := 0; i < 4; i++ {
		tl.Add(float64(i), i)
	}
	var seen []int
	tl.ForEachBetween(0, 10, func(ev Event[int]) {
		seen = append(seen, ev.Value)
		tl.Remove(ev.ID)
		tl.Add(ev.Time+0.5, ev.Value+100)
	})
	if len(seen) != 4 {
		t.Fatalf("visited %d events, want 4 (snapshot)", len(seen))
	}
	if tl.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", tl.Len())
	}
}

func TestStatesStateAt(t *testing.T) {
	t.Parallel()

	s := NewStates("stopped")
	s.Set("started", 1.0)
	s.Set("stopped", 2.0)
	cases := []struct {
		at   float64
		want string
	}{
		{0.5, "stopped"},
		{1.0, "started"},
		{1.5, "started"},
		{2.5, "stopped"},
	}
	for _, tc := range cases {
		if got := s.StateAt(tc.at); got != tc.want {
			t.Errorf("StateAt(%v) = %q, want %q", tc.at, got, tc.want)
		}
	}
}

func TestStatesInitialDefault(t *testing.T) {
	t.Parallel()

	s := NewStates("idle")
	s.Set("started", 1.0)
	s.Set("stopped", 2.0)
	if got := s.StateAt(0.5); got != "idle" {
		t.Fatalf("StateAt(0.5) = %q, want initial %q", got, "idle")
	}
}

func TestStatesLastAndNext(t *testing.T) {
	t.Parallel()

	s := NewStates(0)
	s.Set(1, 1)
	s.Set(2, 2)
	s.Set(1, 3)
	if ev, ok := s.LastState(1, 2.5); !ok || ev.Time != 1 {
		t.Fatalf("LastState(1, 2.5) = %+v, %v", ev, ok)
	}
	if ev, ok := s.NextState(1, 1); !ok || ev.Time != 3 {
		t.Fatalf("NextState(1, 1) = %+v, %v", ev, ok)
	}
	if _, ok := s.NextState(2, 2); ok {
		t.Fatalf("NextState(2, 2) found an entry, want none")
	}
	s.Cancel(2)
	if got := s.StateAt(10); got != 1 {
		t.Fatalf("StateAt(10) after Cancel(2) = %d, want 1", got)
	}
}

func BenchmarkTimelineAdd(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	vals := make([]float64, 4096)
	for i := range vals {
		vals[i] = rng.Float64() * 100
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tl := New[int]()
		for j, v := range vals {
			tl.Add(v, j)
		}
	}
}

func TestTimelinePruneKeepsEventInEffect(t *testing.T) {
	t.Parallel()

	tl := New[string]()
	tl.Add(1, "a")
	tl.Add(2, "b")
	tl.Add(3, "c")
	if n := tl.Prune(2.5); n != 1 {
		t.Fatalf("Prune(2.5) removed %d, want 1", n)
	}
	if ev, ok := tl.At(2.5); !ok || ev.Value != "b" {
		t.Fatalf("At(2.5) after prune = %v, %v", ev, ok)
	}
	if n := tl.Prune(0.5); n != 0 {
		t.Fatalf("Prune before first event removed %d", n)
	}
	if tl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tl.Len())
	}
}
