// Package history provides the history tab for browsing recorded quota snapshots.
package history

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/cpamc/internal/app"
	"github.com/j-veylop/cpamc/internal/db"
	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/ui/styles"
)

const loadTimeout = 10 * time.Second

// Source reads the snapshot history.
type Source interface {
	HistorySeries(ctx context.Context) ([]db.SeriesKey, error)
	History(ctx context.Context, family, account, bucket string, r models.TimeRange) (*models.BucketHistory, error)
}

// keyMap defines the key bindings specific to the history tab.
type keyMap struct {
	ToggleRange key.Binding
	NextSeries  key.Binding
	PrevSeries  key.Binding
	Refresh     key.Binding
	Up          key.Binding
	Down        key.Binding
}

// defaultKeyMap returns the default key bindings for the history tab.
func defaultKeyMap() keyMap {
	return keyMap{
		ToggleRange: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "toggle time range"),
		),
		NextSeries: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "next bucket"),
		),
		PrevSeries: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "prev bucket"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reload"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "scroll down"),
		),
	}
}

// seriesLoadedMsg carries the list of recorded buckets.
type seriesLoadedMsg struct {
	err    error
	series []db.SeriesKey
}

// historyLoadedMsg carries the points of one bucket.
type historyLoadedMsg struct {
	err     error
	history *models.BucketHistory
	key     db.SeriesKey
	r       models.TimeRange
}

// Model represents the history tab state.
type Model struct {
	source   Source
	history  *models.BucketHistory
	keys     keyMap
	viewport viewport.Model
	errorMsg string
	series   []db.SeriesKey
	width    int
	height   int
	selected int

	timeRange models.TimeRange
	loading   bool
}

// New creates a new history model. A nil source renders the disabled state.
func New(source Source) *Model {
	return &Model{
		source:    source,
		keys:      defaultKeyMap(),
		viewport:  viewport.New(0, 0),
		timeRange: models.TimeRange24Hours,
	}
}

// Init loads the series list.
func (m *Model) Init() tea.Cmd {
	return m.loadSeriesCmd()
}

func (m *Model) loadSeriesCmd() tea.Cmd {
	if m.source == nil {
		return nil
	}
	src := m.source
	m.loading = true
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		series, err := src.HistorySeries(ctx)
		return seriesLoadedMsg{series: series, err: err}
	}
}

func (m *Model) loadHistoryCmd() tea.Cmd {
	k, ok := m.current()
	if !ok || m.source == nil {
		return nil
	}
	src, r := m.source, m.timeRange
	m.loading = true
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		h, err := src.History(ctx, k.Family, k.Account, k.Bucket, r)
		return historyLoadedMsg{key: k, r: r, history: h, err: err}
	}
}

func (m *Model) current() (db.SeriesKey, bool) {
	if m.selected < 0 || m.selected >= len(m.series) {
		return db.SeriesKey{}, false
	}
	return m.series[m.selected], true
}

// Update handles messages for the history tab.
func (m *Model) Update(msg tea.Msg) (app.Tab, tea.Cmd) {
	switch msg := msg.(type) {
	case seriesLoadedMsg:
		return m, m.handleSeriesLoaded(msg)

	case historyLoadedMsg:
		// A reply for a series or range the user has since left is stale.
		if k, ok := m.current(); !ok || k != msg.key || msg.r != m.timeRange {
			return m, nil
		}
		m.loading = false
		if msg.err != nil {
			m.errorMsg = msg.err.Error()
			return m, nil
		}
		m.errorMsg = ""
		m.history = msg.history

	case app.SelectedAccountChangedMsg:
		for i, k := range m.series {
			if k.Family == string(msg.Family) && k.Account == msg.Key {
				if i != m.selected {
					m.selected = i
					return m, m.loadHistoryCmd()
				}
				break
			}
		}

	case app.QuotaChangedMsg:
		// New snapshots were recorded; refresh the chart of the series on screen.
		if k, ok := m.current(); ok && k.Family == msg.Update.Family && k.Account == msg.Update.Account && !m.loading {
			return m, m.loadHistoryCmd()
		}
		if len(m.series) == 0 && !m.loading {
			return m, m.loadSeriesCmd()
		}

	case tea.KeyMsg:
		return m, m.handleKeyMsg(msg)
	}
	return m, nil
}

func (m *Model) handleSeriesLoaded(msg seriesLoadedMsg) tea.Cmd {
	m.loading = false
	if msg.err != nil {
		m.errorMsg = msg.err.Error()
		return nil
	}
	m.errorMsg = ""

	prev, hadPrev := m.current()
	m.series = msg.series
	m.selected = 0
	if hadPrev {
		for i, k := range m.series {
			if k == prev {
				m.selected = i
				break
			}
		}
	}
	if len(m.series) == 0 {
		m.history = nil
		return nil
	}
	return m.loadHistoryCmd()
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) tea.Cmd {
	n := len(m.series)
	switch {
	case key.Matches(msg, m.keys.ToggleRange):
		m.timeRange = m.timeRange.Next()
		return m.loadHistoryCmd()

	case key.Matches(msg, m.keys.NextSeries) && n > 0:
		m.selected = (m.selected + 1) % n
		return m.loadHistoryCmd()

	case key.Matches(msg, m.keys.PrevSeries) && n > 0:
		m.selected = (m.selected - 1 + n) % n
		return m.loadHistoryCmd()

	case key.Matches(msg, m.keys.Refresh):
		return m.loadSeriesCmd()

	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd
	}
}

// SetSize sets the available size for the history tab.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = max(width-styles.DocStyle.GetHorizontalFrameSize(), 0)
	m.viewport.Height = max(height-styles.DocStyle.GetVerticalFrameSize(), 0)
}

// ShortHelp returns the key bindings for the short help view.
func (m *Model) ShortHelp() []key.Binding {
	return []key.Binding{
		m.keys.ToggleRange,
		m.keys.NextSeries,
		m.keys.PrevSeries,
	}
}

// FullHelp returns the key bindings for the full help view.
func (m *Model) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{m.keys.ToggleRange, m.keys.Refresh},
		{m.keys.NextSeries, m.keys.PrevSeries},
		{m.keys.Up, m.keys.Down},
	}
}
