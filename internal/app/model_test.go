package app

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/notify"
	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/services"
)

// fakeTab records what the model sends it
type fakeTab struct {
	name          string
	msgs          []tea.Msg
	width, height int
}

func (f *fakeTab) Init() tea.Cmd { return nil }

func (f *fakeTab) Update(msg tea.Msg) (Tab, tea.Cmd) {
	f.msgs = append(f.msgs, msg)
	return f, nil
}

func (f *fakeTab) View() string { return "content of " + f.name }

func (f *fakeTab) SetSize(w, h int) { f.width, f.height = w, h }

func (f *fakeTab) ShortHelp() []key.Binding {
	return []key.Binding{key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh "+f.name))}
}

func (f *fakeTab) FullHelp() [][]key.Binding { return [][]key.Binding{f.ShortHelp()} }

func (f *fakeTab) count(match func(tea.Msg) bool) int {
	n := 0
	for _, m := range f.msgs {
		if match(m) {
			n++
		}
	}
	return n
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func newTabbedModel(names ...string) (*Model, []*fakeTab) {
	m := NewModel(nil)
	tabs := make([]*fakeTab, len(names))
	for i, name := range names {
		tabs[i] = &fakeTab{name: name}
		m.AddTab(name, tabs[i])
	}
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return m, tabs
}

func TestNewModel(t *testing.T) {
	m := NewModel(nil)
	if m.State() == nil {
		t.Fatal("state should be initialized")
	}
	if m.ActiveTab() != 0 || len(m.tabs) != 0 {
		t.Errorf("new model has tab %d of %d", m.ActiveTab(), len(m.tabs))
	}
}

func TestModel_InitWithoutServices(t *testing.T) {
	m := NewModel(nil)
	if m.Init() == nil {
		t.Error("Init should start the spinner and tick")
	}
	if m.State().AnyLoading() {
		t.Errorf("nothing should be loading without services: %v", m.State().LoadingResources())
	}
}

func TestModel_WindowSize(t *testing.T) {
	m, tabs := newTabbedModel("codex")
	if !m.ready {
		t.Error("model should be ready after WindowSizeMsg")
	}
	if tabs[0].width != 100 || tabs[0].height != 35 {
		t.Errorf("tab size = %dx%d, want 100x35", tabs[0].width, tabs[0].height)
	}
}

func TestModel_TabNavigation(t *testing.T) {
	m, _ := newTabbedModel("codex", "kiro", "claude")

	m.Update(runeKey('2'))
	if m.ActiveTab() != 1 {
		t.Errorf("after '2' active = %d, want 1", m.ActiveTab())
	}
	m.Update(runeKey('9'))
	if m.ActiveTab() != 1 {
		t.Errorf("'9' should be ignored with three tabs, active = %d", m.ActiveTab())
	}

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if m.ActiveTab() != 0 {
		t.Errorf("tab should wrap around, active = %d", m.ActiveTab())
	}
	m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.ActiveTab() != 2 {
		t.Errorf("shift+tab should wrap backwards, active = %d", m.ActiveTab())
	}

	m.Update(TabSwitchMsg{Tab: 1})
	if m.ActiveTab() != 1 {
		t.Errorf("TabSwitchMsg active = %d", m.ActiveTab())
	}
}

func TestModel_KeysGoToActiveTabOnly(t *testing.T) {
	m, tabs := newTabbedModel("codex", "kiro")

	m.Update(runeKey('r'))
	isKey := func(msg tea.Msg) bool { _, ok := msg.(tea.KeyMsg); return ok }
	if tabs[0].count(isKey) != 1 || tabs[1].count(isKey) != 0 {
		t.Errorf("key delivery = %d/%d, want 1/0", tabs[0].count(isKey), tabs[1].count(isKey))
	}

	m.Update(runeKey('2'))
	if tabs[1].count(isKey) != 0 {
		t.Error("global keys should not reach the tabs")
	}
}

func TestModel_DataMessagesReachEveryTab(t *testing.T) {
	m, tabs := newTabbedModel("codex", "kiro")

	m.Update(QuotaChangedMsg{Update: models.QuotaUpdate{Family: "codex", Account: "a.json"}})
	m.Update(QuotaClearedMsg{})
	m.Update(AccountsChangedMsg{Accounts: []models.Account{{Name: "a.json"}}})

	for _, tab := range tabs {
		got := tab.count(func(msg tea.Msg) bool {
			switch msg.(type) {
			case QuotaChangedMsg, QuotaClearedMsg, AccountsChangedMsg:
				return true
			}
			return false
		})
		if got != 3 {
			t.Errorf("%s received %d data messages, want 3", tab.name, got)
		}
	}
	if accs := m.State().Accounts(); len(accs) != 1 {
		t.Errorf("state accounts = %+v", accs)
	}
}

func TestModel_ServiceEvents(t *testing.T) {
	m, _ := newTabbedModel("codex")

	_, cmd := m.Update(ServiceEventMsg{Event: services.QuotaUpdatedEvent{
		Update: models.QuotaUpdate{Family: "codex", Account: "a.json", State: "success"},
	}})
	if cmd == nil {
		t.Fatal("a quota event should produce a command")
	}

	translated := m.handleServiceEvent(services.QuotaUpdatedEvent{Update: models.QuotaUpdate{Account: "a.json"}})
	msg, ok := translated().(QuotaChangedMsg)
	if !ok || msg.Update.Account != "a.json" {
		t.Errorf("translated = %#v", msg)
	}

	if _, ok := m.handleServiceEvent(services.QuotaClearedEvent{})().(QuotaClearedMsg); !ok {
		t.Error("cleared event should become QuotaClearedMsg")
	}

	list := []notify.Notification{{ID: "1", Message: "Quota low", Kind: notify.KindWarning}}
	if cmd := m.handleServiceEvent(services.NotificationsChangedEvent{Notifications: list}); cmd != nil {
		t.Error("notification events update state without a command")
	}
	if got := m.State().Notifications(); len(got) != 1 || got[0].Message != "Quota low" {
		t.Errorf("notifications = %+v", got)
	}
}

func TestModel_Help(t *testing.T) {
	m, tabs := newTabbedModel("codex", "kiro")

	m.Update(runeKey('?'))
	if !m.showHelp {
		t.Fatal("? should open help")
	}
	view := ansi.Strip(m.View())
	if !strings.Contains(view, "Keyboard Shortcuts") || !strings.Contains(view, "refresh codex") {
		t.Error("help should list global and tab keys")
	}

	m.Update(runeKey('2'))
	if m.ActiveTab() != 0 {
		t.Error("keys should be swallowed while help is open")
	}
	if tabs[0].count(func(msg tea.Msg) bool { _, ok := msg.(tea.KeyMsg); return ok }) != 0 {
		t.Error("tabs should not see keys while help is open")
	}

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if m.showHelp {
		t.Error("esc should close help")
	}
	m.Update(ToggleHelpMsg{})
	if !m.showHelp {
		t.Error("ToggleHelpMsg should open help")
	}
}

func TestModel_QuitAndRefreshKeys(t *testing.T) {
	m, _ := newTabbedModel("codex")

	_, cmd := m.Update(runeKey('q'))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}

	_, cmd = m.Update(runeKey('R'))
	if cmd == nil {
		t.Fatal("R should return a command")
	}
	msg, ok := cmd().(RefreshMsg)
	if !ok || msg.Family != "" || !msg.Force {
		t.Errorf("R produced %#v, want a forced refresh of everything", msg)
	}
}

func TestModel_View(t *testing.T) {
	m := NewModel(nil)
	if !strings.Contains(m.View(), "Loading...") {
		t.Error("View should show Loading before the first resize")
	}

	m, _ = newTabbedModel("codex", "kiro")
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	m.Update(StatsLoadedMsg{Stats: services.Stats{AccountCount: 3, Loaded: 2, Errors: 1}})

	view := ansi.Strip(m.View())
	for _, want := range []string{"[1] codex", "2  kiro", "content of codex", "3 accounts", "1 errors", "updated 12:30:00"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_Toasts(t *testing.T) {
	m, _ := newTabbedModel("codex")
	m.State().SetNotifications([]notify.Notification{
		{ID: "1", Message: "Refreshed", Kind: notify.KindSuccess},
		{ID: "2", Message: "codex-a.json: 5h window at 4%", Kind: notify.KindWarning},
	})

	view := ansi.Strip(m.View())
	if !strings.Contains(view, "[OK] Refreshed") || !strings.Contains(view, "[WARN] codex-a.json") {
		t.Errorf("toasts not rendered:\n%s", view)
	}
}

func TestModel_RefreshWithoutServices(t *testing.T) {
	m, _ := newTabbedModel("codex")
	m.Init()
	m.Update(RefreshMsg{Family: quota.FamilyCodex, Key: "a.json", Force: true})
	if m.State().AnyLoading() {
		t.Error("refresh without services should not mark anything loading")
	}
}

func TestRefreshResource(t *testing.T) {
	tests := []struct {
		family quota.Family
		key    string
		want   string
	}{
		{"", "", "all"},
		{quota.FamilyKiro, "", "kiro"},
		{quota.FamilyClaude, "c.json", "claude/c.json"},
	}
	for _, tt := range tests {
		if got := refreshResource(tt.family, tt.key); got != tt.want {
			t.Errorf("refreshResource(%q, %q) = %q, want %q", tt.family, tt.key, got, tt.want)
		}
	}
}
