package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/j-veylop/cpamc/internal/app"
	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/quota"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeSource implements Source for testing
type fakeSource struct {
	accounts []models.Account
	table    quota.Table[models.QuotaReport]
	project  func(bucket models.QuotaBucket) (*models.BucketProjection, error)
}

func (f *fakeSource) FamilyAccounts(quota.Family) []models.Account { return f.accounts }

func (f *fakeSource) QuotaTable(quota.Family) quota.Table[models.QuotaReport] { return f.table }

func (f *fakeSource) Project(_ context.Context, _, _ string, b models.QuotaBucket) (*models.BucketProjection, error) {
	if f.project == nil {
		return nil, errors.New("no history")
	}
	return f.project(b)
}

func report(remaining float64) *models.QuotaReport {
	return &models.QuotaReport{
		Plan: "plus",
		Buckets: []models.QuotaBucket{{
			ID:        "primary_window",
			Label:     "5h window",
			Remaining: remaining,
			ResetAt:   now.Add(2 * time.Hour),
		}},
	}
}

func newSource() *fakeSource {
	return &fakeSource{
		accounts: []models.Account{
			{Name: "codex-a.json", Provider: "codex", Email: "a@example.com"},
			{Name: "codex-b.json", Provider: "codex"},
			{Name: "codex-c.json", Provider: "codex"},
		},
		table: quota.Table[models.QuotaReport]{
			"codex-a.json": {State: quota.StateSuccess, Payload: report(42), UpdatedAt: now.Add(-3 * time.Minute)},
			"codex-b.json": {State: quota.StateError, Error: "rate limited", StatusCode: 429, UpdatedAt: now},
		},
	}
}

func newModel(src Source) *Model {
	m := New(quota.FamilyCodex, src)
	m.now = func() time.Time { return now }
	m.SetSize(120, 60)
	m.Init()
	return m
}

// messages runs cmd and flattens batches
func messages(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, messages(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestView(t *testing.T) {
	m := newModel(newSource())
	view := ansi.Strip(m.View())

	for _, want := range []string{
		"CODEX",
		"3 accounts · 1 ok · 0 loading · 1 failed",
		"codex-a.json <a@example.com>",
		"◆ plus",
		"5h window",
		"42%",
		"3m ago",
		"HTTP 429 · rate limited",
		"error 429",
		"not fetched yet",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestView_Empty(t *testing.T) {
	m := newModel(&fakeSource{})
	if view := ansi.Strip(m.View()); !strings.Contains(view, "No codex accounts") {
		t.Errorf("empty view = %q", view)
	}
}

func TestView_LoadingKeepsPayload(t *testing.T) {
	src := newSource()
	src.table = src.table.With("codex-a.json", quota.Loading(src.table.Get("codex-a.json"), 2, now))
	m := newModel(src)

	view := ansi.Strip(m.View())
	if !strings.Contains(view, "loading") || !strings.Contains(view, "42%") {
		t.Errorf("loading record should keep showing its buckets:\n%s", view)
	}
}

func TestKeys_SelectionAndRefresh(t *testing.T) {
	m := newModel(newSource())

	_, cmd := m.Update(keyPress('j'))
	msgs := messages(cmd)
	if len(msgs) != 1 {
		t.Fatalf("j produced %v", msgs)
	}
	sel, ok := msgs[0].(app.SelectedAccountChangedMsg)
	if !ok || sel.Key != "codex-b.json" || sel.Family != quota.FamilyCodex {
		t.Errorf("selection = %#v", msgs[0])
	}

	_, cmd = m.Update(keyPress('k'))
	_, cmd = m.Update(keyPress('k'))
	if sel := messages(cmd)[0].(app.SelectedAccountChangedMsg); sel.Key != "codex-c.json" {
		t.Errorf("k should wrap to the last account, got %s", sel.Key)
	}

	_, cmd = m.Update(keyPress('r'))
	refresh, ok := messages(cmd)[0].(app.RefreshMsg)
	if !ok || refresh.Key != "codex-c.json" || !refresh.Force || refresh.Family != quota.FamilyCodex {
		t.Errorf("r produced %#v", refresh)
	}

	_, cmd = m.Update(keyPress('f'))
	refresh, ok = messages(cmd)[0].(app.RefreshMsg)
	if !ok || refresh.Key != "" || refresh.Family != quota.FamilyCodex {
		t.Errorf("f produced %#v", refresh)
	}
}

func TestKeys_NoAccounts(t *testing.T) {
	m := newModel(&fakeSource{})
	for _, r := range []rune{'j', 'k', 'r'} {
		_, cmd := m.Update(keyPress(r))
		for _, msg := range messages(cmd) {
			switch msg.(type) {
			case app.SelectedAccountChangedMsg, app.RefreshMsg:
				t.Errorf("%q produced %#v without accounts", r, msg)
			}
		}
	}
}

func TestSelectionClampedOnReload(t *testing.T) {
	src := newSource()
	m := newModel(src)
	m.Update(keyPress('G'))
	if m.selected != 2 {
		t.Fatalf("selected = %d", m.selected)
	}

	src.accounts = src.accounts[:1]
	m.Update(app.AccountsChangedMsg{})
	if m.selected != 0 {
		t.Errorf("selected = %d after accounts shrank", m.selected)
	}
}

func TestQuotaChanged_LoadsProjections(t *testing.T) {
	src := newSource()
	src.project = func(b models.QuotaBucket) (*models.BucketProjection, error) {
		return &models.BucketProjection{
			Status:            models.ProjectionCritical,
			Rate:              12.5,
			HoursLeft:         0.5,
			WillDepleteBefore: true,
			Confidence:        "medium",
			ResetAt:           b.ResetAt,
		}, nil
	}
	m := newModel(src)

	_, cmd := m.Update(app.QuotaChangedMsg{Update: models.QuotaUpdate{Family: "kiro", Account: "x", Report: report(10)}})
	for _, msg := range messages(cmd) {
		if _, ok := msg.(projectionsLoadedMsg); ok {
			t.Error("updates of other families should be ignored")
		}
	}

	msg := m.projectCmd("codex-a.json", *report(42))()
	loaded, ok := msg.(projectionsLoadedMsg)
	if !ok || loaded.projections["primary_window"] == nil {
		t.Fatalf("projectCmd() = %#v", msg)
	}
	m.Update(loaded)

	view := ansi.Strip(m.View())
	if !strings.Contains(view, "CRITICAL · 12.5%/h · runs out in 30m") {
		t.Errorf("projection not rendered:\n%s", view)
	}
}

func TestProjectionsDroppedWithAccount(t *testing.T) {
	src := newSource()
	m := newModel(src)
	m.Update(projectionsLoadedMsg{family: quota.FamilyCodex, account: "codex-c.json", projections: map[string]*models.BucketProjection{}})

	src.accounts = src.accounts[:2]
	m.Update(app.QuotaClearedMsg{})
	if _, ok := m.projections["codex-c.json"]; ok {
		t.Error("projections of removed accounts should be dropped")
	}
}

func TestAnimation(t *testing.T) {
	src := newSource()
	m := newModel(src)
	b := src.table.Get("codex-a.json").Payload.Buckets[0]
	if got := m.barPercent("codex-a.json", b); got != 42 {
		t.Fatalf("first sight should not animate, bar = %v", got)
	}

	src.table = src.table.With("codex-a.json", quota.Status[models.QuotaReport]{State: quota.StateSuccess, Payload: report(82), UpdatedAt: now})
	m.Update(app.RefreshDoneMsg{})

	m.Update(animationTickMsg(now.Add(750 * time.Millisecond)))
	mid := m.barPercent("codex-a.json", b)
	if mid <= 42 || mid >= 82 {
		t.Errorf("mid-animation bar = %v, want between 42 and 82", mid)
	}

	_, cmd := m.Update(animationTickMsg(now.Add(2 * time.Second)))
	if got := m.barPercent("codex-a.json", b); got != 82 {
		t.Errorf("finished bar = %v, want 82", got)
	}
	_, cmd = m.Update(animationTickMsg(now.Add(3 * time.Second)))
	if cmd != nil {
		t.Error("ticking should stop once every bar settled")
	}
}

func TestHelp(t *testing.T) {
	m := New(quota.FamilyKiro, nil)
	if len(m.ShortHelp()) != 4 || len(m.FullHelp()) != 3 {
		t.Error("unexpected help bindings")
	}
}
