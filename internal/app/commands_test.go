package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/coder/quartz"

	"github.com/j-veylop/cpamc/internal/config"
	"github.com/j-veylop/cpamc/internal/management"
	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/notify"
	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/services"
	"github.com/j-veylop/cpamc/internal/services/providers"
)

var testEndpoints = providers.Endpoints{
	Antigravity:    []string{"https://ag/models"},
	GeminiQuota:    "https://gemini/quota",
	LoadCodeAssist: "https://gemini/load",
	Codex:          "https://codex/usage",
	Kiro:           "https://kiro/limits",
	Claude:         "https://claude/usage",
}

// stubGateway serves one codex and one claude account
type stubGateway struct {
	mu   sync.Mutex
	fail bool
}

func (g *stubGateway) ListAccounts(context.Context) ([]models.Account, error) {
	return []models.Account{
		{Name: "codex-a.json", Provider: "codex", AuthIndex: "1", AccountID: "acct-a"},
		{Name: "claude-a.json", Provider: "claude", AuthIndex: "2"},
	}, nil
}

func (g *stubGateway) Call(_ context.Context, req management.Request) (*management.Response, error) {
	g.mu.Lock()
	fail := g.fail
	g.mu.Unlock()
	if fail {
		return &management.Response{StatusCode: http.StatusTooManyRequests}, nil
	}

	var body string
	switch req.URL {
	case testEndpoints.Codex:
		body = `{"plan_type":"plus","rate_limit":{"primary_window":{"used_percent":25,"limit_window_seconds":18000,"reset_after_seconds":3600}}}`
	case testEndpoints.Claude:
		body = `{"five_hour":{"utilization":40,"resets_at":"2025-06-01T14:00:00Z"}}`
	default:
		return &management.Response{StatusCode: http.StatusNotFound}, nil
	}
	return &management.Response{StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func newTestManager(t *testing.T, gw *stubGateway) *services.Manager {
	t.Helper()
	clk := quartz.NewMock(t)
	clk.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	cfg := &config.Config{
		ManagementURL:        "http://127.0.0.1:8317",
		QuotaRefreshInterval: 5 * time.Minute,
		ProjectIDTTL:         time.Hour,
		NotificationDuration: 5 * time.Second,
		RequestTimeout:       time.Second,
		MaxConcurrent:        2,
	}
	mgr, err := services.NewManager(cfg,
		services.WithClock(clk),
		services.WithLister(gw),
		services.WithCaller(gw),
		services.WithEndpoints(testEndpoints),
		services.WithBreaker(providers.BreakerConfig{FailureThreshold: 100, Timeout: time.Minute, MaxRequests: 1}),
	)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })

	if _, err := mgr.ReloadAccounts(context.Background()); err != nil {
		t.Fatalf("ReloadAccounts() error = %v", err)
	}
	return mgr
}

func TestTickCmd(t *testing.T) {
	if tickCmd(time.Millisecond) == nil || defaultTickCmd() == nil {
		t.Error("tick commands should not be nil")
	}
}

func TestRefreshCmd_SingleAccount(t *testing.T) {
	mgr := newTestManager(t, &stubGateway{})

	done, ok := refreshCmd(mgr, RefreshMsg{Family: quota.FamilyCodex, Key: "codex-a.json", Force: true})().(RefreshDoneMsg)
	if !ok {
		t.Fatal("refreshCmd should produce RefreshDoneMsg")
	}
	if done.Error != nil || done.Family != quota.FamilyCodex || done.Key != "codex-a.json" {
		t.Fatalf("done = %+v", done)
	}
	st := mgr.QuotaStatus(quota.FamilyCodex, "codex-a.json")
	if st.State != quota.StateSuccess {
		t.Errorf("record = %+v, want success", st)
	}
}

func TestRefreshCmd_Claude(t *testing.T) {
	mgr := newTestManager(t, &stubGateway{})

	done := refreshCmd(mgr, RefreshMsg{Family: quota.FamilyClaude, Key: "claude-a.json"})().(RefreshDoneMsg)
	if done.Error != nil {
		t.Fatalf("Claude refresh error = %v", done.Error)
	}
	if st := mgr.Claude().Status("claude-a.json"); st.State != quota.StateSuccess || st.Payload.Peak() != 40 {
		t.Errorf("claude record = %+v", st)
	}
}

func TestRefreshCmd_All(t *testing.T) {
	mgr := newTestManager(t, &stubGateway{})

	done := refreshCmd(mgr, RefreshMsg{Force: true})().(RefreshDoneMsg)
	if done.Error != nil {
		t.Fatalf("RefreshAll error = %v", done.Error)
	}
	if st := mgr.GetStats(); st.Loaded != 2 {
		t.Errorf("stats = %+v, want two loaded records", st)
	}
}

func TestRefreshCmd_FailureStaysOnRecord(t *testing.T) {
	mgr := newTestManager(t, &stubGateway{fail: true})
	m := NewModel(mgr)

	done := refreshCmd(mgr, RefreshMsg{Family: quota.FamilyCodex})().(RefreshDoneMsg)
	if done.Error == nil {
		t.Fatal("a failed family refresh should report an error")
	}
	m.Update(done)

	if st := mgr.QuotaStatus(quota.FamilyCodex, "codex-a.json"); st.State != quota.StateError || st.StatusCode != http.StatusTooManyRequests {
		t.Errorf("record = %+v", st)
	}
	if n := mgr.Notifications().Len(); n != 0 {
		t.Errorf("fetch failures should not toast, got %d notifications", n)
	}
}

func TestRefreshDone_UnknownAccountToasts(t *testing.T) {
	mgr := newTestManager(t, &stubGateway{})
	m := NewModel(mgr)

	done := refreshCmd(mgr, RefreshMsg{Family: quota.FamilyCodex, Key: "gone.json"})().(RefreshDoneMsg)
	if !errors.Is(done.Error, services.ErrUnknownAccount) {
		t.Fatalf("error = %v, want ErrUnknownAccount", done.Error)
	}
	m.Update(done)

	list := mgr.Notifications().List()
	if len(list) != 1 || list[0].Kind != notify.KindError {
		t.Errorf("notifications = %+v", list)
	}
}

func TestLoadStatsCmd(t *testing.T) {
	mgr := newTestManager(t, &stubGateway{})
	msg, ok := loadStatsCmd(mgr)().(StatsLoadedMsg)
	if !ok || msg.Stats.AccountCount != 2 {
		t.Errorf("loadStatsCmd() = %+v", msg)
	}
}

func TestWaitForServiceEventCmd(t *testing.T) {
	ch := make(chan services.ServiceEvent, 1)
	ch <- services.QuotaClearedEvent{}
	msg, ok := waitForServiceEventCmd(ch)().(ServiceEventMsg)
	if !ok {
		t.Fatal("expected ServiceEventMsg")
	}
	if _, ok := msg.Event.(services.QuotaClearedEvent); !ok {
		t.Errorf("event = %#v", msg.Event)
	}

	close(ch)
	if got := waitForServiceEventCmd(ch)(); got != nil {
		t.Errorf("closed channel should yield nil, got %#v", got)
	}
}

func TestOpenURLCmd(t *testing.T) {
	var opened string
	orig := openURL
	openURL = func(url string) error {
		opened = url
		if url == "bad" {
			return fmt.Errorf("no browser")
		}
		return nil
	}
	t.Cleanup(func() { openURL = orig })

	res := openURLCmd("http://127.0.0.1:8317/management.html")().(OpenURLResultMsg)
	if res.Error != nil || opened != "http://127.0.0.1:8317/management.html" {
		t.Errorf("result = %+v, opened %q", res, opened)
	}

	m := NewModel(nil)
	var cmd tea.Cmd
	_, cmd = m.Update(OpenURLMsg{URL: "bad"})
	if cmd == nil {
		t.Fatal("OpenURLMsg should return a command")
	}
}
