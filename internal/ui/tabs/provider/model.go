// Package provider implements the quota tab of one provider family.
package provider

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/cpamc/internal/app"
	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/ui/components"
	"github.com/j-veylop/cpamc/internal/ui/styles"
)

const (
	animationDuration = 1500 * time.Millisecond
	projectionTimeout = 5 * time.Second
)

// Source provides the accounts, records and projections of a family.
type Source interface {
	FamilyAccounts(family quota.Family) []models.Account
	QuotaTable(family quota.Family) quota.Table[models.QuotaReport]
	Project(ctx context.Context, family, account string, bucket models.QuotaBucket) (*models.BucketProjection, error)
}

type animationTickMsg time.Time

func animationTickCmd() tea.Cmd {
	return tea.Tick(40*time.Millisecond, func(t time.Time) tea.Msg {
		return animationTickMsg(t)
	})
}

// projectionsLoadedMsg carries the projections of one account's buckets.
type projectionsLoadedMsg struct {
	family      quota.Family
	account     string
	projections map[string]*models.BucketProjection
}

type keyMap struct {
	NextAccount   key.Binding
	PrevAccount   key.Binding
	FirstAccount  key.Binding
	LastAccount   key.Binding
	Refresh       key.Binding
	RefreshFamily key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		NextAccount:   key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "next account")),
		PrevAccount:   key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "prev account")),
		FirstAccount:  key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g", "first account")),
		LastAccount:   key.NewBinding(key.WithKeys("G", "end"), key.WithHelp("G", "last account")),
		Refresh:       key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh account")),
		RefreshFamily: key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "refresh all accounts")),
	}
}

// AnimationState eases a bar from its previous value to a new one.
type AnimationState struct {
	StartTime      time.Time
	CurrentPercent float64
	TargetPercent  float64
	StartPercent   float64
}

// Model is the quota tab of one family.
type Model struct {
	source      Source
	family      quota.Family
	accounts    []models.Account
	table       quota.Table[models.QuotaReport]
	projections map[string]map[string]*models.BucketProjection
	animations  map[string]*AnimationState
	now         func() time.Time

	spinner  components.LoadingSpinner
	keys     keyMap
	viewport viewport.Model

	width    int
	height   int
	selected int
	frame    int
}

// New creates the tab of family.
func New(family quota.Family, source Source) *Model {
	return &Model{
		source:      source,
		family:      family,
		projections: make(map[string]map[string]*models.BucketProjection),
		animations:  make(map[string]*AnimationState),
		now:         time.Now,
		spinner:     components.NewSpinner("Loading " + string(family) + " accounts..."),
		keys:        defaultKeyMap(),
		viewport:    viewport.New(0, 0),
	}
}

// Init initializes the model.
func (m *Model) Init() tea.Cmd {
	m.reload()
	return tea.Batch(m.spinner.Tick(), animationTickCmd())
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (app.Tab, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case app.AccountsChangedMsg, app.QuotaClearedMsg, app.RefreshDoneMsg, app.TickMsg:
		m.reload()
		cmds = append(cmds, animationTickCmd())

	case app.QuotaChangedMsg:
		if quota.Family(msg.Update.Family) != m.family {
			break
		}
		m.reload()
		cmds = append(cmds, animationTickCmd())
		if msg.Update.Report != nil {
			cmds = append(cmds, m.projectCmd(msg.Update.Account, *msg.Update.Report))
		}

	case projectionsLoadedMsg:
		if msg.family == m.family {
			m.projections[msg.account] = msg.projections
		}

	case animationTickMsg:
		cmds = append(cmds, m.handleAnimationTick(time.Time(msg)))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		cmds = append(cmds, m.handleKeyMsg(msg))
	}

	return m, tea.Batch(cmds...)
}

// reload copies the current accounts and records from the source.
func (m *Model) reload() {
	if m.source == nil {
		return
	}
	m.accounts = m.source.FamilyAccounts(m.family)
	m.table = m.source.QuotaTable(m.family)
	m.selected = min(m.selected, max(len(m.accounts)-1, 0))

	live := make(map[string]bool, len(m.accounts))
	for _, acc := range m.accounts {
		live[acc.Key()] = true
	}
	for k := range m.projections {
		if !live[k] {
			delete(m.projections, k)
		}
	}
	m.syncAnimationTargets(m.now())
}

func (m *Model) projectCmd(account string, report models.QuotaReport) tea.Cmd {
	source, family := m.source, m.family
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), projectionTimeout)
		defer cancel()

		out := make(map[string]*models.BucketProjection, len(report.Buckets))
		for _, b := range report.Buckets {
			if p, err := source.Project(ctx, string(family), account, b); err == nil && p != nil {
				out[b.ID] = p
			}
		}
		return projectionsLoadedMsg{family: family, account: account, projections: out}
	}
}

func (m *Model) handleAnimationTick(now time.Time) tea.Cmd {
	m.frame++
	animating := m.syncAnimationTargets(now)
	m.stepAnimations(now)
	if animating || m.anyLoading() {
		return animationTickCmd()
	}
	return nil
}

func (m *Model) anyLoading() bool {
	for _, st := range m.table {
		if st.IsLoading() {
			return true
		}
	}
	return false
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) tea.Cmd {
	n := len(m.accounts)
	switch {
	case key.Matches(msg, m.keys.NextAccount) && n > 0:
		m.selected = (m.selected + 1) % n
		return m.selectionChanged()
	case key.Matches(msg, m.keys.PrevAccount) && n > 0:
		m.selected = (m.selected - 1 + n) % n
		return m.selectionChanged()
	case key.Matches(msg, m.keys.FirstAccount) && n > 0:
		m.selected = 0
		return m.selectionChanged()
	case key.Matches(msg, m.keys.LastAccount) && n > 0:
		m.selected = n - 1
		return m.selectionChanged()
	case key.Matches(msg, m.keys.Refresh) && n > 0:
		return emit(app.RefreshMsg{Family: m.family, Key: m.accounts[m.selected].Key(), Force: true})
	case key.Matches(msg, m.keys.RefreshFamily):
		return emit(app.RefreshMsg{Family: m.family, Force: true})
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return cmd
}

func (m *Model) selectionChanged() tea.Cmd {
	return emit(app.SelectedAccountChangedMsg{Family: m.family, Key: m.accounts[m.selected].Key()})
}

func emit(msg tea.Msg) tea.Cmd {
	return func() tea.Msg { return msg }
}

// syncAnimationTargets points each bar at its bucket's remaining percent.
// Bars seen for the first time start at their target.
func (m *Model) syncAnimationTargets(now time.Time) (animating bool) {
	for acct, st := range m.table {
		if st.Payload == nil {
			continue
		}
		for _, b := range st.Payload.Buckets {
			id := acct + "/" + b.ID
			state, ok := m.animations[id]
			if !ok {
				m.animations[id] = &AnimationState{
					StartTime:      now,
					StartPercent:   b.Remaining,
					CurrentPercent: b.Remaining,
					TargetPercent:  b.Remaining,
				}
				continue
			}
			if b.Remaining != state.TargetPercent {
				state.StartPercent = state.CurrentPercent
				state.TargetPercent = b.Remaining
				state.StartTime = now
			}
			if state.CurrentPercent != state.TargetPercent {
				animating = true
			}
		}
	}
	return animating
}

func (m *Model) stepAnimations(now time.Time) {
	for _, state := range m.animations {
		if state.CurrentPercent == state.TargetPercent {
			continue
		}
		elapsed := now.Sub(state.StartTime)
		if elapsed >= animationDuration {
			state.CurrentPercent = state.TargetPercent
			continue
		}
		progress := elapsed.Seconds() / animationDuration.Seconds()
		ease := 1.0 - (1.0-progress)*(1.0-progress)
		state.CurrentPercent = state.StartPercent + (state.TargetPercent-state.StartPercent)*ease
	}
}

// barPercent returns the animated fill of a bucket bar.
func (m *Model) barPercent(account string, b models.QuotaBucket) float64 {
	if state, ok := m.animations[account+"/"+b.ID]; ok {
		return state.CurrentPercent
	}
	return b.Remaining
}

// SetSize sets the available size for the tab.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = max(width-styles.DocStyle.GetHorizontalFrameSize(), 0)
	m.viewport.Height = max(height-styles.DocStyle.GetVerticalFrameSize(), 0)
}

// ShortHelp returns the key bindings for the short help view.
func (m *Model) ShortHelp() []key.Binding {
	return []key.Binding{m.keys.NextAccount, m.keys.PrevAccount, m.keys.Refresh, m.keys.RefreshFamily}
}

// FullHelp returns the key bindings for the full help view.
func (m *Model) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{m.keys.NextAccount, m.keys.PrevAccount},
		{m.keys.FirstAccount, m.keys.LastAccount},
		{m.keys.Refresh, m.keys.RefreshFamily},
	}
}
