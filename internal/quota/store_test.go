package quota

import (
	"sync"
	"testing"

	"pgregory.net/rapid"
)

type window struct {
	Name    string
	Percent float64
}

type report struct {
	Windows []window
}

func newTestStore() *Store[report] {
	return NewStore[report](Families...)
}

func TestStore_ReadEmpty(t *testing.T) {
	s := newTestStore()
	for _, f := range Families {
		if got := s.Read(f); len(got) != 0 {
			t.Errorf("Read(%s) = %v, want empty", f, got)
		}
	}
	if got := s.Read("unknown"); got == nil || len(got) != 0 {
		t.Errorf("Read(unknown) = %v, want empty non-nil table", got)
	}
	if st := s.Get(FamilyCodex, "acc-1"); st.State != StateIdle {
		t.Errorf("absent key state = %v, want idle", st.State)
	}
}

func TestStore_ReplaceThenRead(t *testing.T) {
	s := newTestStore()
	want := Table[report]{
		"acc-1": Success(report{Windows: []window{{Name: "5h", Percent: 40}}}, 1, fixedNow),
	}

	s.Write(FamilyCodex, Replace(want))

	got := s.Read(FamilyCodex)
	if len(got) != 1 || got["acc-1"].State != StateSuccess {
		t.Fatalf("Read(codex) = %+v", got)
	}
	if got["acc-1"].Payload.Windows[0].Percent != 40 {
		t.Errorf("payload not preserved: %+v", got["acc-1"].Payload)
	}

	s.Write(FamilyGeminiCLI, Set("acc-9", Failure[report]("boom", 500, 1, fixedNow)))

	again := s.Read(FamilyCodex)
	if len(again) != 1 || again["acc-1"].State != StateSuccess {
		t.Errorf("codex changed after gemini-cli write: %+v", again)
	}
}

func TestStore_ReadIsSnapshot(t *testing.T) {
	s := newTestStore()
	s.Write(FamilyKiro, Set("a", Idle[report]()))

	snap := s.Read(FamilyKiro)
	snap["b"] = Idle[report]()
	delete(snap, "a")

	if got := s.Read(FamilyKiro); len(got) != 1 {
		t.Errorf("mutating a snapshot changed the store: %v", got)
	}
}

func TestStore_TransformSeesPrevious(t *testing.T) {
	s := newTestStore()
	s.Write(FamilyAntigravity, Replace(Table[report]{
		"a": Idle[report](),
		"b": Success(report{}, 3, fixedNow),
	}))

	s.Write(FamilyAntigravity, Transform(func(prev Table[report]) Table[report] {
		prev["a"] = Loading(prev.Get("a"), 1, fixedNow)
		return prev
	}))

	got := s.Read(FamilyAntigravity)
	if got["a"].State != StateLoading {
		t.Errorf("a = %v, want loading", got["a"].State)
	}
	if got["b"].State != StateSuccess || got["b"].Seq != 3 {
		t.Errorf("b should be untouched, got %+v", got["b"])
	}
}

func TestStore_TransformReturningNil(t *testing.T) {
	s := newTestStore()
	s.Write(FamilyCodex, Set("a", Idle[report]()))
	got := s.Write(FamilyCodex, Transform(func(Table[report]) Table[report] { return nil }))
	if got == nil || len(got) != 0 {
		t.Errorf("nil transform result should become an empty table, got %v", got)
	}
}

func TestStore_TransformResultIsCopied(t *testing.T) {
	s := newTestStore()
	held := Table[report]{"a": Success(report{}, 1, fixedNow)}
	s.Write(FamilyCodex, Transform(func(Table[report]) Table[report] { return held }))

	held["b"] = Failure[report]("late", 0, 2, fixedNow)
	delete(held, "a")

	got := s.Read(FamilyCodex)
	if len(got) != 1 || got.Get("a").State != StateSuccess {
		t.Errorf("Read() = %v, want only a=success", got)
	}
}

func TestStore_ClearAll(t *testing.T) {
	s := newTestStore()
	for _, f := range Families {
		s.Write(f, Set("acc", Success(report{}, 1, fixedNow)))
	}

	var cleared []Family
	s.OnChange(func(c Change[report]) {
		if c.Cleared {
			cleared = append(cleared, c.Family)
		}
	})

	s.ClearAll()

	for _, f := range Families {
		if got := s.Read(f); len(got) != 0 {
			t.Errorf("Read(%s) after ClearAll = %v", f, got)
		}
	}
	if len(cleared) != len(Families) {
		t.Errorf("cleared hooks = %v, want one per family", cleared)
	}
}

func TestStore_OnChange(t *testing.T) {
	s := newTestStore()
	var changes []Change[report]
	s.OnChange(func(c Change[report]) { changes = append(changes, c) })

	s.Write(FamilyCodex, Set("a", Loading(Idle[report](), 1, fixedNow)))
	s.Write(FamilyCodex, Set("a", Success(report{}, 1, fixedNow)))

	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(changes))
	}
	if keys := changes[1].ChangedKeys(); len(keys) != 1 || keys[0] != "a" {
		t.Errorf("ChangedKeys() = %v, want [a]", keys)
	}
	if changes[1].Prev.Get("a").State != StateLoading {
		t.Errorf("Prev should hold the loading record")
	}
}

func TestStore_ConcurrentTransformsDoNotLoseWrites(t *testing.T) {
	s := newTestStore()
	const writers = 50

	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Write(FamilyCodex, Transform(func(prev Table[report]) Table[report] {
				prev[string(rune('A'+n%26))+string(rune('a'+n/26))] = Idle[report]()
				return prev
			}))
		}(i)
	}
	wg.Wait()

	if got := len(s.Read(FamilyCodex)); got != writers {
		t.Errorf("table has %d keys, want %d", got, writers)
	}
}

func TestProperty_StoreIsolation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := newTestStore()
		a := rapid.SampledFrom(Families).Draw(rt, "a")
		b := rapid.SampledFrom(Families).Filter(func(f Family) bool { return f != a }).Draw(rt, "b")

		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`acc-[0-9]{1,3}`), 0, 8, rapid.ID[string]).Draw(rt, "bKeys")
		for i, k := range keys {
			s.Write(b, Set(k, Success(report{}, uint64(i+1), fixedNow)))
		}
		before := s.Read(b)

		n := rapid.IntRange(1, 10).Draw(rt, "writes")
		for i := range n {
			key := rapid.StringMatching(`acc-[0-9]{1,3}`).Draw(rt, "key")
			if rapid.Bool().Draw(rt, "replace") {
				s.Write(a, Replace(Table[report]{key: Idle[report]()}))
			} else {
				s.Write(a, Set(key, Failure[report]("x", 0, uint64(i), fixedNow)))
			}
		}

		after := s.Read(b)
		if len(after) != len(before) {
			rt.Fatalf("family %s changed size after writes to %s", b, a)
		}
		for k, st := range before {
			if after[k].Seq != st.Seq || after[k].State != st.State {
				rt.Fatalf("family %s key %s changed after writes to %s", b, k, a)
			}
		}
	})
}

func TestProperty_BulkClear(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := newTestStore()
		n := rapid.IntRange(0, 20).Draw(rt, "writes")
		for range n {
			f := rapid.SampledFrom(Families).Draw(rt, "family")
			key := rapid.StringMatching(`[a-z]{1,4}`).Draw(rt, "key")
			s.Write(f, Set(key, Idle[report]()))
		}

		s.ClearAll()

		for _, f := range Families {
			if got := s.Read(f); len(got) != 0 {
				rt.Fatalf("Read(%s) after ClearAll = %v", f, got)
			}
		}
	})
}
