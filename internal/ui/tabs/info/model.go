// Package info provides the info tab: configuration, cache statistics and build metadata.
package info

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/cpamc/internal/app"
	"github.com/j-veylop/cpamc/internal/config"
	"github.com/j-veylop/cpamc/internal/services"
	"github.com/j-veylop/cpamc/internal/ui/styles"
)

// managementPage is the gateway's web console, relative to the management URL.
const managementPage = "/management.html"

// keyMap defines the key bindings specific to the info tab.
type keyMap struct {
	Open key.Binding
	Up   key.Binding
	Down key.Binding
}

// defaultKeyMap returns the default key bindings for the info tab.
func defaultKeyMap() keyMap {
	return keyMap{
		Open: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "open web console"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
	}
}

// Model represents the info tab state.
type Model struct {
	config   *config.Config
	stats    *services.Stats
	keys     keyMap
	viewport viewport.Model
	width    int
	height   int
}

// New creates a new info model.
func New(cfg *config.Config) *Model {
	return &Model{
		config:   cfg,
		keys:     defaultKeyMap(),
		viewport: viewport.New(0, 0),
	}
}

// Init initializes the info tab.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the info tab.
func (m *Model) Update(msg tea.Msg) (app.Tab, tea.Cmd) {
	switch msg := msg.(type) {
	case app.StatsLoadedMsg:
		stats := msg.Stats
		m.stats = &stats
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Open) {
			if url := m.consoleURL(); url != "" {
				return m, func() tea.Msg { return app.OpenURLMsg{URL: url} }
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) consoleURL() string {
	if m.config == nil || m.config.ManagementURL == "" {
		return ""
	}
	return strings.TrimRight(m.config.ManagementURL, "/") + managementPage
}

// SetSize sets the available size for the info tab.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = max(width-styles.DocStyle.GetHorizontalFrameSize(), 0)
	m.viewport.Height = max(height-styles.DocStyle.GetVerticalFrameSize(), 0)
}

// ShortHelp returns the key bindings for the short help view.
func (m *Model) ShortHelp() []key.Binding {
	return []key.Binding{
		m.keys.Open,
	}
}

// FullHelp returns the key bindings for the full help view.
func (m *Model) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{m.keys.Open},
		{m.keys.Up, m.keys.Down},
	}
}
