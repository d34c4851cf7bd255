package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"pgregory.net/rapid"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type codedErr struct{ code int }

func (e *codedErr) Error() string   { return "upstream failed" }
func (e *codedErr) HTTPStatus() int { return e.code }

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	finished int
	dropped  int
}

func (o *recordingObserver) FetchStarted(Family) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) FetchFinished(_ Family, _ time.Duration, _ error, applied bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
	if !applied {
		o.dropped++
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator[report], *recordingObserver) {
	t.Helper()
	obs := &recordingObserver{}
	return NewCoordinator(newTestStore(), quartz.NewMock(t), obs), obs
}

func TestCoordinator_BeginDedupes(t *testing.T) {
	c, _ := newTestCoordinator(t)

	t1, ok := c.Begin(FamilyCodex, "acc-1", false)
	if !ok {
		t.Fatal("first Begin should issue a ticket")
	}
	if _, ok := c.Begin(FamilyCodex, "acc-1", false); ok {
		t.Fatal("second Begin for a loading key should be refused")
	}
	if _, ok := c.Begin(FamilyCodex, "acc-2", false); !ok {
		t.Fatal("another key should not be blocked")
	}
	if _, ok := c.Begin(FamilyGeminiCLI, "acc-1", false); !ok {
		t.Fatal("same key in another family should not be blocked")
	}

	if !c.Complete(t1, report{}, nil) {
		t.Fatal("Complete should apply for the current ticket")
	}
	if _, ok := c.Begin(FamilyCodex, "acc-1", false); !ok {
		t.Fatal("Begin after completion should issue a new ticket")
	}
}

func TestCoordinator_LoadingKeepsPayload(t *testing.T) {
	c, _ := newTestCoordinator(t)

	t1, _ := c.Begin(FamilyKiro, "acc", false)
	c.Complete(t1, report{Windows: []window{{Name: "credits"}}}, nil)

	c.Begin(FamilyKiro, "acc", false)
	st := c.Store().Get(FamilyKiro, "acc")
	if st.State != StateLoading {
		t.Fatalf("state = %v, want loading", st.State)
	}
	if st.Payload == nil || st.Payload.Windows[0].Name != "credits" {
		t.Errorf("loading record should retain the last payload, got %+v", st.Payload)
	}
}

func TestCoordinator_SupersededResponseDiscarded(t *testing.T) {
	c, _ := newTestCoordinator(t)

	first, _ := c.Begin(FamilyCodex, "K", false)
	second, ok := c.Begin(FamilyCodex, "K", true)
	if !ok || second.Seq <= first.Seq {
		t.Fatalf("forced Begin should issue a newer ticket: %+v vs %+v", second, first)
	}

	if !c.Complete(second, report{Windows: []window{{Name: "second"}}}, nil) {
		t.Fatal("newest response should apply")
	}
	if c.Complete(first, report{Windows: []window{{Name: "first"}}}, nil) {
		t.Fatal("older response should be discarded")
	}

	st := c.Store().Get(FamilyCodex, "K")
	if st.State != StateSuccess || st.Payload.Windows[0].Name != "second" {
		t.Errorf("final status = %+v, want second's result", st)
	}
}

func TestCoordinator_OlderResponseBeforeNewerIsAlsoDiscarded(t *testing.T) {
	c, _ := newTestCoordinator(t)

	first, _ := c.Begin(FamilyCodex, "K", false)
	second, _ := c.Begin(FamilyCodex, "K", true)

	if c.Complete(first, report{}, errors.New("late")) {
		t.Fatal("superseded response should not apply even if it arrives first")
	}
	if st := c.Store().Get(FamilyCodex, "K"); st.State != StateLoading {
		t.Fatalf("key should still be loading, got %v", st.State)
	}
	if !c.Complete(second, report{}, nil) {
		t.Fatal("current response should apply")
	}
}

func TestCoordinator_CompleteAfterClearAllDiscarded(t *testing.T) {
	c, _ := newTestCoordinator(t)

	tk, _ := c.Begin(FamilyAntigravity, "acc", false)
	c.Store().ClearAll()

	if c.Complete(tk, report{}, nil) {
		t.Fatal("response for a cleared key should be discarded")
	}
	if got := c.Store().Read(FamilyAntigravity); len(got) != 0 {
		t.Errorf("cleared table was repopulated: %v", got)
	}

	next, _ := c.Begin(FamilyAntigravity, "acc", false)
	if next.Seq <= tk.Seq {
		t.Errorf("sequence should keep increasing across ClearAll: %d <= %d", next.Seq, tk.Seq)
	}
}

func TestCoordinator_RunRecordsError(t *testing.T) {
	c, obs := newTestCoordinator(t)

	st, err := c.Run(context.Background(), FamilyGeminiCLI, "acc", false, func(context.Context) (report, error) {
		return report{}, &codedErr{code: 429}
	})
	if err == nil {
		t.Fatal("Run should return the fetch error")
	}
	if st.State != StateError || st.StatusCode != 429 || st.Error != "upstream failed" {
		t.Errorf("status = %+v, want error with code 429", st)
	}
	if obs.started != 1 || obs.finished != 1 || obs.dropped != 0 {
		t.Errorf("observer = %+v", obs)
	}
}

func TestCoordinator_RunRecoversPanic(t *testing.T) {
	c, _ := newTestCoordinator(t)

	st, err := c.Run(context.Background(), FamilyKiro, "acc", false, func(context.Context) (report, error) {
		panic("bad payload")
	})
	if err == nil || st.State != StateError {
		t.Fatalf("panic should become an error status, got %+v, %v", st, err)
	}
}

func TestCoordinator_RunInFlight(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.Begin(FamilyCodex, "acc", false)

	called := false
	_, err := c.Run(context.Background(), FamilyCodex, "acc", false, func(context.Context) (report, error) {
		called = true
		return report{}, nil
	})
	if !errors.Is(err, ErrInFlight) {
		t.Errorf("err = %v, want ErrInFlight", err)
	}
	if called {
		t.Error("fetch must not run while another is in flight")
	}
}

func TestCoordinator_ConcurrentRunsFetchOnce(t *testing.T) {
	c, _ := newTestCoordinator(t)
	const callers = 20

	release := make(chan struct{})
	var mu sync.Mutex
	calls, refused := 0, 0

	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Run(context.Background(), FamilyCodex, "acc", false, func(context.Context) (report, error) {
				mu.Lock()
				calls++
				mu.Unlock()
				<-release
				return report{}, nil
			})
			if errors.Is(err, ErrInFlight) {
				mu.Lock()
				refused++
				mu.Unlock()
			}
		}()
	}

	// Hold the winner inside fetch until every other caller was refused.
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		done := refused == callers-1
		mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if calls != 1 || refused != callers-1 {
		t.Errorf("calls = %d, refused = %d; want 1 and %d", calls, refused, callers-1)
	}
}

func TestProperty_SequenceGuardedRace(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := NewCoordinator(newTestStore(), quartz.NewMock(t), nil)

		n := rapid.IntRange(2, 6).Draw(rt, "fetches")
		tickets := make([]Ticket, n)
		for i := range n {
			tk, ok := c.Begin(FamilyCodex, "K", i > 0)
			if !ok {
				rt.Fatalf("forced Begin %d refused", i)
			}
			tickets[i] = tk
		}

		order := rapid.Permutation(tickets).Draw(rt, "completionOrder")
		for _, tk := range order {
			c.Complete(tk, report{Windows: []window{{Percent: float64(tk.Seq)}}}, nil)
		}

		st := c.Store().Get(FamilyCodex, "K")
		last := tickets[n-1]
		if st.State != StateSuccess || st.Seq != last.Seq || st.Payload.Windows[0].Percent != float64(last.Seq) {
			rt.Fatalf("final status %+v does not reflect the latest fetch %d", st, last.Seq)
		}
	})
}
