// Package claude implements the Claude usage tab.
package claude

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/cpamc/internal/app"
	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/ui/components"
	"github.com/j-veylop/cpamc/internal/ui/styles"
)

// Source provides the Claude accounts and their usage records.
type Source interface {
	Accounts() []models.Account
	Table() quota.Table[models.ClaudeUsage]
}

var windowLabels = map[string]string{
	"five_hour":        "5-hour",
	"seven_day":        "7-day",
	"seven_day_opus":   "7-day Opus",
	"seven_day_sonnet": "7-day Sonnet",
}

type keyMap struct {
	Next    key.Binding
	Prev    key.Binding
	Refresh key.Binding
}

// Model is the Claude tab.
type Model struct {
	source   Source
	accounts []models.Account
	table    quota.Table[models.ClaudeUsage]
	now      func() time.Time
	keys     keyMap
	viewport viewport.Model
	width    int
	selected int
}

// New creates the tab.
func New(source Source) *Model {
	return &Model{
		source: source,
		now:    time.Now,
		keys: keyMap{
			Next:    key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "next account")),
			Prev:    key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "prev account")),
			Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh account")),
		},
		viewport: viewport.New(0, 0),
	}
}

// Init initializes the model.
func (m *Model) Init() tea.Cmd {
	m.reload()
	return nil
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (app.Tab, tea.Cmd) {
	switch msg := msg.(type) {
	case app.QuotaChangedMsg:
		if quota.Family(msg.Update.Family) == quota.FamilyClaude {
			m.reload()
		}
	case app.AccountsChangedMsg, app.QuotaClearedMsg, app.RefreshDoneMsg, app.TickMsg:
		m.reload()
	case tea.KeyMsg:
		return m, m.handleKeyMsg(msg)
	}
	return m, nil
}

func (m *Model) reload() {
	if m.source == nil {
		return
	}
	m.accounts = m.source.Accounts()
	m.table = m.source.Table()
	m.selected = min(m.selected, max(len(m.accounts)-1, 0))
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) tea.Cmd {
	n := len(m.accounts)
	switch {
	case key.Matches(msg, m.keys.Next) && n > 0:
		m.selected = (m.selected + 1) % n
	case key.Matches(msg, m.keys.Prev) && n > 0:
		m.selected = (m.selected - 1 + n) % n
	case key.Matches(msg, m.keys.Refresh) && n > 0:
		refresh := app.RefreshMsg{Family: quota.FamilyClaude, Key: m.accounts[m.selected].Key(), Force: true}
		return func() tea.Msg { return refresh }
	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd
	}
	selected := app.SelectedAccountChangedMsg{Family: quota.FamilyClaude, Key: m.accounts[m.selected].Key()}
	return func() tea.Msg { return selected }
}

// View renders the tab.
func (m *Model) View() string {
	title := lipgloss.NewStyle().Foreground(styles.Claude).Bold(true).Render("CLAUDE")
	subtitle := styles.HelpStyle.Render(fmt.Sprintf("%d accounts · OAuth usage windows", len(m.accounts)))

	rows := []string{title, subtitle, ""}
	if len(m.accounts) == 0 {
		rows = append(rows, styles.HelpStyle.Render("No Claude accounts registered with the gateway"))
	}
	cardWidth := max(m.viewport.Width-2, 40)
	for i, acc := range m.accounts {
		rows = append(rows, styles.CardStyle.Width(cardWidth).Render(m.renderAccount(acc, i == m.selected, cardWidth-4)))
	}

	m.viewport.SetContent(lipgloss.JoinVertical(lipgloss.Left, rows...))
	return styles.DocStyle.Render(m.viewport.View())
}

func (m *Model) renderAccount(acc models.Account, selected bool, width int) string {
	st := m.table.Get(acc.Key())

	prefix := "  "
	if selected {
		prefix = styles.FocusedStyle.Render("▸ ")
	}
	header := []string{prefix + lipgloss.NewStyle().Bold(true).Render(acc.Key())}
	if st.Payload != nil {
		header = append(header, statusBadge(st.Payload.Status))
	}
	header = append(header, components.StateBadge(st.State, st.StatusCode))
	lines := []string{strings.Join(header, " ")}

	switch {
	case st.State == quota.StateError:
		lines = append(lines, "    "+styles.ErrorTextStyle.Render(st.Error))
	case st.Payload != nil:
		now := m.now()
		for _, b := range st.Payload.AsReport().Buckets {
			if label, ok := windowLabels[b.ID]; ok {
				b.Label = label
			}
			lines = append(lines, "    "+components.QuotaLine(b, now, width-4))
		}
	case st.State == quota.StateLoading:
		lines = append(lines, "    "+components.LoadingBar(width-8, 0, styles.Claude))
	default:
		lines = append(lines, "    "+styles.HelpStyle.Render("not fetched yet"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func statusBadge(s models.UnifiedStatus) string {
	switch s {
	case models.StatusRejected:
		return styles.ErrorTextStyle.Bold(true).Render("● rejected")
	case models.StatusAllowedWarning:
		return styles.WarningTextStyle.Render("● allowed, near limit")
	default:
		return styles.SuccessTextStyle.Render("● allowed")
	}
}

// SetSize sets the available size for the tab.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.viewport.Width = max(width-styles.DocStyle.GetHorizontalFrameSize(), 0)
	m.viewport.Height = max(height-styles.DocStyle.GetVerticalFrameSize(), 0)
}

// ShortHelp returns the key bindings for the short help view.
func (m *Model) ShortHelp() []key.Binding {
	return []key.Binding{m.keys.Next, m.keys.Prev, m.keys.Refresh}
}

// FullHelp returns the key bindings for the full help view.
func (m *Model) FullHelp() [][]key.Binding {
	return [][]key.Binding{{m.keys.Next, m.keys.Prev}, {m.keys.Refresh}}
}
