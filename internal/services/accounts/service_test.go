package accounts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/quota"
)

// MockLister implements Lister for testing
type MockLister struct {
	mu       sync.Mutex
	accounts []models.Account
	err      error
}

func (m *MockLister) ListAccounts(context.Context) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Account(nil), m.accounts...), m.err
}

func (m *MockLister) set(accs ...models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = accs
}

func newTestService(t *testing.T, cfg Config) (*Service, *MockLister) {
	t.Helper()
	lister := &MockLister{}
	svc := New(lister, cfg)
	t.Cleanup(func() {
		if err := svc.Close(); err != nil {
			t.Logf("Close() failed: %v", err)
		}
	})
	return svc, lister
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestReload_FirstLoad(t *testing.T) {
	svc, lister := newTestService(t, Config{})
	lister.set(
		models.Account{Name: "b.json", Provider: "codex", AuthIndex: "1"},
		models.Account{Name: "a.json", Provider: "gemini", AuthIndex: "0"},
		models.Account{Name: "c.json", Provider: "openai-compat", AuthIndex: "2"},
	)

	changed, err := svc.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if changed {
		t.Error("the first load is not a change")
	}

	ev := nextEvent(t, svc.Events())
	if ev.Type != EventAccountsLoaded {
		t.Errorf("event = %v, want EventAccountsLoaded", ev.Type)
	}

	accs := svc.Accounts()
	if len(accs) != 2 || accs[0].Name != "a.json" {
		t.Fatalf("Accounts() = %+v, want sorted quota-bearing accounts", accs)
	}
	if got := svc.ByFamily(quota.FamilyGeminiCLI); len(got) != 1 {
		t.Errorf("ByFamily(gemini-cli) = %+v", got)
	}
}

func TestReload_DetectsChange(t *testing.T) {
	svc, lister := newTestService(t, Config{})
	lister.set(
		models.Account{Name: "a.json", Provider: "kiro", AuthIndex: "0"},
		models.Account{Name: "b.json", Provider: "kiro", AuthIndex: "1"},
	)
	if _, err := svc.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, svc.Events())

	// Same set again: no event
	if changed, _ := svc.Reload(context.Background()); changed {
		t.Error("unchanged listing reported as change")
	}

	lister.set(models.Account{Name: "b.json", Provider: "kiro", AuthIndex: "1"})
	changed, err := svc.Reload(context.Background())
	if err != nil || !changed {
		t.Fatalf("Reload() = %v, %v; want change", changed, err)
	}

	ev := nextEvent(t, svc.Events())
	if ev.Type != EventAccountsChanged {
		t.Fatalf("event = %v, want EventAccountsChanged", ev.Type)
	}
	if len(ev.Removed) != 1 || ev.Removed[0] != "a.json" {
		t.Errorf("Removed = %v, want [a.json]", ev.Removed)
	}
}

func TestReload_Error(t *testing.T) {
	svc, lister := newTestService(t, Config{})
	lister.err = errors.New("gateway down")

	if _, err := svc.Reload(context.Background()); err == nil {
		t.Fatal("Reload() should fail")
	}
	if ev := nextEvent(t, svc.Events()); ev.Type != EventError {
		t.Errorf("event = %v, want EventError", ev.Type)
	}
}

func TestByFamily_SkipsDisabled(t *testing.T) {
	svc, lister := newTestService(t, Config{})
	lister.set(
		models.Account{Name: "a.json", Provider: "claude", AuthIndex: "0"},
		models.Account{Name: "b.json", Provider: "claude", AuthIndex: "1", Disabled: true},
	)
	_, _ = svc.Reload(context.Background())

	if got := svc.ByFamily(quota.FamilyClaude); len(got) != 1 || got[0].Name != "a.json" {
		t.Errorf("ByFamily(claude) = %+v", got)
	}
	if _, ok := svc.Get("b.json"); !ok {
		t.Error("disabled accounts are still listed")
	}
	if svc.Count() != 2 {
		t.Errorf("Count() = %d, want 2", svc.Count())
	}
}

func TestFamilyOf(t *testing.T) {
	tests := []struct {
		provider string
		want     quota.Family
		ok       bool
	}{
		{"antigravity", quota.FamilyAntigravity, true},
		{"Codex", quota.FamilyCodex, true},
		{"gemini", quota.FamilyGeminiCLI, true},
		{"gemini-cli", quota.FamilyGeminiCLI, true},
		{"kiro", quota.FamilyKiro, true},
		{"anthropic", quota.FamilyClaude, true},
		{"vertex", "", false},
	}
	for _, tt := range tests {
		got, ok := FamilyOf(models.Account{Provider: tt.provider})
		if ok != tt.ok || got != tt.want {
			t.Errorf("FamilyOf(%q) = %q, %v", tt.provider, got, ok)
		}
	}
}

func TestScheduleReload_Debounces(t *testing.T) {
	ctx := context.Background()
	clk := quartz.NewMock(t)
	svc, _ := newTestService(t, Config{Clock: clk, Debounce: 500 * time.Millisecond})

	svc.scheduleReload()
	clk.Advance(300 * time.Millisecond).MustWait(ctx)
	svc.scheduleReload()
	svc.scheduleReload()

	clk.Advance(499 * time.Millisecond).MustWait(ctx)
	select {
	case ev := <-svc.Events():
		t.Fatalf("event %v fired before the burst settled", ev.Type)
	default:
	}

	clk.Advance(time.Millisecond).MustWait(ctx)
	if ev := nextEvent(t, svc.Events()); ev.Type != EventAuthDirChanged {
		t.Errorf("event = %v, want EventAuthDirChanged", ev.Type)
	}
	select {
	case ev := <-svc.Events():
		t.Errorf("extra event %v", ev.Type)
	default:
	}
}

func TestWatcher_DetectsCredentialWrite(t *testing.T) {
	dir := t.TempDir()
	svc, _ := newTestService(t, Config{AuthDir: dir, Debounce: 20 * time.Millisecond})
	if err := svc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "codex-new.json"), []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}

	if ev := nextEvent(t, svc.Events()); ev.Type != EventAuthDirChanged {
		t.Errorf("event = %v, want EventAuthDirChanged", ev.Type)
	}
}

func TestStart_MissingDir(t *testing.T) {
	svc, _ := newTestService(t, Config{AuthDir: filepath.Join(t.TempDir(), "missing")})
	if err := svc.Start(); err == nil {
		t.Error("Start() should fail for a missing directory")
	}
}

func TestClose_Idempotent(t *testing.T) {
	svc := New(nil, Config{AuthDir: t.TempDir()})
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	if err := svc.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestIsCredentialFile(t *testing.T) {
	tests := map[string]bool{
		"/auth/codex-a.json": true,
		"/auth/A.JSON":       true,
		"/auth/.tmp.json":    false,
		"/auth/readme.md":    false,
	}
	for name, want := range tests {
		if got := isCredentialFile(name); got != want {
			t.Errorf("isCredentialFile(%q) = %v, want %v", name, got, want)
		}
	}
}
