// Package app implements the main Bubble Tea application with tab-based navigation.
package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/j-veylop/cpamc/internal/logger"
	"github.com/j-veylop/cpamc/internal/notify"
	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/services"
	"github.com/j-veylop/cpamc/internal/ui/styles"
)

// maxTabs is the number of tabs reachable with the number keys.
const maxTabs = 9

// Tab defines the interface that all tabs must implement.
type Tab interface {
	// Init initializes the tab and returns any initial commands.
	Init() tea.Cmd

	// Update handles messages and returns the updated tab and any commands.
	Update(msg tea.Msg) (Tab, tea.Cmd)

	// View renders the tab content.
	View() string

	// SetSize sets the available size for the tab.
	SetSize(width, height int)

	// ShortHelp returns key bindings for the short help view.
	ShortHelp() []key.Binding

	// FullHelp returns key bindings for the full help view.
	FullHelp() [][]key.Binding
}

// KeyMap defines the global keybindings.
type KeyMap struct {
	GoToTab    key.Binding
	NextTab    key.Binding
	PrevTab    key.Binding
	RefreshAll key.Binding
	Help       key.Binding
	Quit       key.Binding
	Escape     key.Binding
}

// DefaultKeyMap returns the default keybindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		GoToTab:    key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"), key.WithHelp("1-9", "go to tab")),
		NextTab:    key.NewBinding(key.WithKeys("tab", "right"), key.WithHelp("tab/→", "next tab")),
		PrevTab:    key.NewBinding(key.WithKeys("shift+tab", "left"), key.WithHelp("shift+tab/←", "prev tab")),
		RefreshAll: key.NewBinding(key.WithKeys("R", "ctrl+r"), key.WithHelp("R", "refresh all")),
		Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Escape:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close")),
	}
}

// ShortHelp returns key bindings for the short help view.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.RefreshAll, k.Quit}
}

// FullHelp returns key bindings for the full help view.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.GoToTab, k.NextTab, k.PrevTab},
		{k.RefreshAll, k.Help, k.Quit},
	}
}

// Styles defines the application styles.
type Styles struct {
	TabBar      lipgloss.Style
	ActiveTab   lipgloss.Style
	InactiveTab lipgloss.Style

	NotificationSuccess lipgloss.Style
	NotificationError   lipgloss.Style
	NotificationWarning lipgloss.Style
	NotificationInfo    lipgloss.Style

	Content   lipgloss.Style
	Footer    lipgloss.Style
	Toast     lipgloss.Style
	Title     lipgloss.Style
	Subtle    lipgloss.Style
	Highlight lipgloss.Style
}

// DefaultStyles returns the default application styles.
func DefaultStyles() Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	success := lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}
	warning := lipgloss.AdaptiveColor{Light: "#FF8C00", Dark: "#FF8C00"}
	errorColor := lipgloss.AdaptiveColor{Light: "#FF5F87", Dark: "#FF5F87"}
	info := lipgloss.AdaptiveColor{Light: "#0087D7", Dark: "#5FAFFF"}

	s := Styles{}
	s.TabBar = lipgloss.NewStyle().Padding(0, 1).BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).BorderForeground(subtle)
	s.ActiveTab = lipgloss.NewStyle().Bold(true).Foreground(highlight).Padding(0, 2)
	s.InactiveTab = lipgloss.NewStyle().Foreground(subtle).Padding(0, 2)

	s.NotificationSuccess = lipgloss.NewStyle().Foreground(success).Padding(0, 1)
	s.NotificationError = lipgloss.NewStyle().Foreground(errorColor).Bold(true).Padding(0, 1)
	s.NotificationWarning = lipgloss.NewStyle().Foreground(warning).Padding(0, 1)
	s.NotificationInfo = lipgloss.NewStyle().Foreground(info).Padding(0, 1)

	s.Content = lipgloss.NewStyle().Padding(1, 2)
	s.Footer = lipgloss.NewStyle().Foreground(subtle).Padding(0, 1)
	s.Toast = styles.ToastStyle
	s.Title = lipgloss.NewStyle().Bold(true).Foreground(highlight)
	s.Subtle = lipgloss.NewStyle().Foreground(subtle)
	s.Highlight = lipgloss.NewStyle().Foreground(highlight)
	return s
}

// Model is the main application model.
type Model struct {
	state        *State
	services     *services.Manager
	eventChannel chan services.ServiceEvent
	now          func() time.Time

	tabs     []Tab
	tabNames []string
	styles   Styles
	keymap   KeyMap
	spinner  spinner.Model

	activeTab int
	width     int
	height    int
	showHelp  bool
	ready     bool
}

// NewModel initializes a new application model. mgr may be nil.
func NewModel(mgr *services.Manager) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(styles.Primary)

	return &Model{
		state:    NewState(),
		services: mgr,
		now:      time.Now,
		keymap:   DefaultKeyMap(),
		styles:   DefaultStyles(),
		spinner:  s,
	}
}

// AddTab appends a tab. Only the first nine are reachable by number.
func (m *Model) AddTab(name string, tab Tab) {
	m.tabNames = append(m.tabNames, name)
	m.tabs = append(m.tabs, tab)
	if m.width > 0 && m.height > 0 {
		m.updateTabSizes()
	}
}

// State returns the application state.
func (m *Model) State() *State {
	return m.state
}

// ActiveTab returns the index of the active tab.
func (m *Model) ActiveTab() int {
	return m.activeTab
}

// Init initializes the model.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, defaultTickCmd()}

	if m.services != nil {
		cmds = append(cmds,
			subscribeToServicesCmd(m.services),
			loadStatsCmd(m.services),
			loadAllCmd(m.services),
		)
	} else {
		m.state.SetLoading("initial", false)
	}

	for _, tab := range m.tabs {
		cmds = append(cmds, tab.Init())
	}
	return tea.Batch(cmds...)
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.handleWindowSize(msg)
	case tea.KeyMsg:
		cmd, handled := m.handleKeyMsg(msg)
		if handled {
			return m, cmd
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	default:
		cmds = append(cmds, m.handleAppMsg(msg)...)
	}

	if isDataMsg(msg) {
		cmds = append(cmds, m.updateAllTabs(msg)...)
	} else if cmd := m.updateActiveTab(msg); cmd != nil {
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// isDataMsg reports whether msg carries data every tab needs, visible or not.
func isDataMsg(msg tea.Msg) bool {
	switch msg.(type) {
	case TickMsg, StatsLoadedMsg, RefreshDoneMsg, QuotaChangedMsg, QuotaClearedMsg, AccountsChangedMsg,
		SelectedAccountChangedMsg:
		return true
	}
	return false
}

func (m *Model) handleAppMsg(msg tea.Msg) []tea.Cmd {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case TickMsg:
		cmds = append(cmds, defaultTickCmd())
		if m.services != nil {
			cmds = append(cmds, loadStatsCmd(m.services))
		}
	case SubscriptionEventMsg:
		m.eventChannel = msg.Channel
		cmds = append(cmds, waitForServiceEventCmd(m.eventChannel))
	case ServiceEventMsg:
		if cmd := m.handleServiceEvent(msg.Event); cmd != nil {
			cmds = append(cmds, cmd)
		}
		if m.eventChannel != nil {
			cmds = append(cmds, waitForServiceEventCmd(m.eventChannel))
		}
	case StatsLoadedMsg:
		m.state.SetStats(msg.Stats, m.now())
	case AccountsChangedMsg:
		m.state.SetAccounts(msg.Accounts)
	case RefreshMsg:
		if m.services != nil {
			m.state.SetLoading(refreshResource(msg.Family, msg.Key), true)
			cmds = append(cmds, refreshCmd(m.services, msg))
		}
	case RefreshDoneMsg:
		cmds = append(cmds, m.handleRefreshDone(msg)...)
	case ErrorMsg:
		m.notifyError(fmt.Sprintf("%s: %v", msg.Context, msg.Error))
	case SelectedAccountChangedMsg:
		m.state.Select(msg.Family, msg.Key)
	case OpenURLMsg:
		cmds = append(cmds, openURLCmd(msg.URL))
	case OpenURLResultMsg:
		if msg.Error != nil {
			m.notifyError(fmt.Sprintf("failed to open %s: %v", msg.URL, msg.Error))
		}
	case TabSwitchMsg:
		m.switchTab(msg.Tab)
	case ToggleHelpMsg:
		m.showHelp = !m.showHelp
	}
	return cmds
}

func (m *Model) handleRefreshDone(msg RefreshDoneMsg) []tea.Cmd {
	m.state.SetLoading(refreshResource(msg.Family, msg.Key), false)
	if msg.Family == "" {
		m.state.SetLoading("initial", false)
	}

	// Fetch failures are stored on the records and rendered by the tabs.
	switch {
	case errors.Is(msg.Error, services.ErrUnknownAccount):
		m.notifyError(msg.Error.Error())
	case msg.Error != nil:
		logger.Debug("refresh finished with errors", "family", msg.Family, "account", msg.Key, "error", msg.Error)
	}

	if m.services != nil {
		return []tea.Cmd{loadStatsCmd(m.services)}
	}
	return nil
}

func refreshResource(family quota.Family, key string) string {
	switch {
	case family == "":
		return "all"
	case key == "":
		return string(family)
	default:
		return string(family) + "/" + key
	}
}

// notifyError shows an error toast through the notification channel.
func (m *Model) notifyError(text string) {
	if m.services == nil {
		logger.Error(text)
		return
	}
	m.services.Notifications().Error(text)
}

func (m *Model) handleServiceEvent(event services.ServiceEvent) tea.Cmd {
	switch e := event.(type) {
	case services.QuotaUpdatedEvent:
		return emit(QuotaChangedMsg{Update: e.Update})
	case services.QuotaClearedEvent:
		return emit(QuotaClearedMsg{})
	case services.AccountsChangedEvent:
		return emit(AccountsChangedMsg{Accounts: e.Accounts})
	case services.NotificationsChangedEvent:
		m.state.SetNotifications(e.Notifications)
	case services.ErrorEvent:
		m.notifyError(fmt.Sprintf("[%s] %v", e.Service, e.Error))
	}
	return nil
}

func emit(msg tea.Msg) tea.Cmd {
	return func() tea.Msg { return msg }
}

func (m *Model) handleWindowSize(msg tea.WindowSizeMsg) {
	m.width = msg.Width
	m.height = msg.Height
	m.ready = true
	m.updateTabSizes()
}

func (m *Model) updateActiveTab(msg tea.Msg) tea.Cmd {
	if m.activeTab >= len(m.tabs) {
		return nil
	}
	var cmd tea.Cmd
	m.tabs[m.activeTab], cmd = m.tabs[m.activeTab].Update(msg)
	return cmd
}

func (m *Model) updateAllTabs(msg tea.Msg) []tea.Cmd {
	var cmds []tea.Cmd
	for i, tab := range m.tabs {
		var cmd tea.Cmd
		m.tabs[i], cmd = tab.Update(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

func (m *Model) updateTabSizes() {
	contentHeight := max(0, m.height-5)
	for _, tab := range m.tabs {
		tab.SetSize(m.width, contentHeight)
	}
}

func (m *Model) switchTab(i int) {
	if i < 0 || i >= len(m.tabs) {
		return
	}
	m.activeTab = i
	m.updateTabSizes()
}

// handleKeyMsg handles global keys. Unhandled keys go to the active tab.
func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keymap.Quit):
		return tea.Quit, true

	case key.Matches(msg, m.keymap.Help):
		m.showHelp = !m.showHelp
		return nil, true

	case key.Matches(msg, m.keymap.Escape) && m.showHelp:
		m.showHelp = false
		return nil, true

	case m.showHelp:
		return nil, true

	case key.Matches(msg, m.keymap.GoToTab):
		m.switchTab(int(msg.Runes[0]-'1'))
		return nil, true

	case key.Matches(msg, m.keymap.NextTab):
		if len(m.tabs) > 0 {
			m.switchTab((m.activeTab + 1) % len(m.tabs))
		}
		return nil, true

	case key.Matches(msg, m.keymap.PrevTab):
		if len(m.tabs) > 0 {
			m.switchTab((m.activeTab - 1 + len(m.tabs)) % len(m.tabs))
		}
		return nil, true

	case key.Matches(msg, m.keymap.RefreshAll):
		return emit(RefreshMsg{Force: true}), true
	}
	return nil, false
}

// View renders the application UI.
func (m *Model) View() string {
	var b strings.Builder

	if m.width > 0 {
		b.WriteString(m.renderNavbar())
		b.WriteString("\n")
	}

	if !m.ready {
		b.WriteString(m.styles.Content.Render(fmt.Sprintf("%s Loading...", m.spinner.View())))
		return b.String()
	}

	body := m.styles.Content.Render(m.styles.Subtle.Render("No tabs configured."))
	if m.activeTab < len(m.tabs) {
		body = m.tabs[m.activeTab].View()
	}
	b.WriteString(lipgloss.NewStyle().Height(max(m.height-5, 0)).Render(body))
	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	mainView := b.String()

	if m.showHelp {
		mainView = m.overlayCentered(mainView, m.renderHelp())
	}

	if toasts := m.renderNotifications(); len(toasts) > 0 {
		return m.overlayToasts(mainView, toasts)
	}
	return mainView
}

func (m *Model) renderNavbar() string {
	tabs := make([]string, 0, len(m.tabNames))
	for i, name := range m.tabNames {
		if i == m.activeTab {
			tabs = append(tabs, m.styles.ActiveTab.Render(fmt.Sprintf("[%d] %s", i+1, name)))
		} else {
			tabs = append(tabs, m.styles.InactiveTab.Render(fmt.Sprintf(" %d  %s", i+1, name)))
		}
	}
	return m.styles.TabBar.Width(m.width).Render(lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
}

func (m *Model) renderFooter() string {
	var parts []string
	if m.state.AnyLoading() {
		parts = append(parts, m.spinner.View()+" "+strings.Join(m.state.LoadingResources(), ", "))
	}
	if st := m.state.GetStats(); st != nil {
		parts = append(parts, fmt.Sprintf("%d accounts · %d ok · %d loading · %d errors",
			st.AccountCount, st.Loaded, st.Loading, st.Errors))
		parts = append(parts, "updated "+m.state.LastUpdated.Format("15:04:05"))
	}
	parts = append(parts, "? help")
	return m.styles.Footer.Render(strings.Join(parts, "  │  "))
}

func (m *Model) renderNotifications() []string {
	list := m.state.Notifications()
	if len(list) == 0 {
		return nil
	}

	toasts := make([]string, 0, len(list))
	for _, n := range list {
		var style lipgloss.Style
		var prefix string
		switch n.Kind {
		case notify.KindSuccess:
			style, prefix = m.styles.NotificationSuccess, "[OK]"
		case notify.KindError:
			style, prefix = m.styles.NotificationError, "[ERR]"
		case notify.KindWarning:
			style, prefix = m.styles.NotificationWarning, "[WARN]"
		default:
			style, prefix = m.styles.NotificationInfo, "[INFO]"
		}
		toasts = append(toasts, m.styles.Toast.Render(style.Render(prefix+" "+n.Message)))
	}
	return toasts
}

func (m *Model) overlayCentered(mainView, overlay string) string {
	mainLines := strings.Split(mainView, "\n")
	overlayLines := strings.Split(overlay, "\n")

	overlayWidth := lipgloss.Width(overlay)
	y := max((m.height-len(overlayLines))/2, 0)
	x := max((m.width-overlayWidth)/2, 0)

	for i, line := range overlayLines {
		row := y + i
		if row >= len(mainLines) {
			break
		}
		left := ansi.Truncate(mainLines[row], x, "")
		right := ansi.TruncateLeft(mainLines[row], x+overlayWidth, "")
		if w := lipgloss.Width(left); w < x {
			left += strings.Repeat(" ", x-w)
		}
		mainLines[row] = left + line + right
	}
	return strings.Join(mainLines, "\n")
}

func (m *Model) overlayToasts(mainView string, toasts []string) string {
	stack := lipgloss.JoinVertical(lipgloss.Right, toasts...)
	toastLines := strings.Split(stack, "\n")
	mainLines := strings.Split(mainView, "\n")

	startX := max(m.width-lipgloss.Width(stack)-2, 0)
	const startY = 2

	for i, line := range toastLines {
		row := startY + i
		if row >= len(mainLines) {
			break
		}
		current := mainLines[row]
		if w := lipgloss.Width(current); w < startX {
			mainLines[row] = current + strings.Repeat(" ", startX-w) + line
		} else {
			mainLines[row] = ansi.Truncate(current, startX, "") + line
		}
	}
	return strings.Join(mainLines, "\n")
}

func (m *Model) renderHelp() string {
	lines := []string{
		m.styles.Title.Render("Keyboard Shortcuts"),
		"",
		m.styles.Highlight.Render("Navigation"),
		fmt.Sprintf("  1-%-8d Switch tabs", min(len(m.tabs), maxTabs)),
		"  Tab        Next tab",
		"  Shift+Tab  Previous tab",
		"",
		m.styles.Highlight.Render("Actions"),
		"  R          Refresh every account",
		"  ?          Toggle help",
		"  q/Ctrl+C   Quit",
	}

	if m.activeTab < len(m.tabs) {
		if tabHelp := m.tabs[m.activeTab].ShortHelp(); len(tabHelp) > 0 {
			lines = append(lines, "", m.styles.Highlight.Render(m.tabNames[m.activeTab]))
			for _, binding := range tabHelp {
				lines = append(lines, fmt.Sprintf("  %-10s %s", binding.Help().Key, binding.Help().Desc))
			}
		}
	}

	lines = append(lines, "", m.styles.Subtle.Render("Press ? or Esc to close"))
	return styles.HelpPanelStyle.Render(strings.Join(lines, "\n"))
}
