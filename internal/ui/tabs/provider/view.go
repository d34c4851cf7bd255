package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/ui/components"
	"github.com/j-veylop/cpamc/internal/ui/styles"
)

// View renders the tab.
func (m *Model) View() string {
	content := lipgloss.JoinVertical(lipgloss.Left, m.renderTitle(), m.renderAccounts())
	m.viewport.SetContent(content)

	return styles.DocStyle.Render(m.viewport.View())
}

func (m *Model) renderTitle() string {
	accent := lipgloss.NewStyle().Foreground(styles.FamilyColor(string(m.family))).Bold(true)
	title := accent.Render(strings.ToUpper(string(m.family)))

	var ok, failed, loading int
	for _, st := range m.table {
		switch st.State {
		case quota.StateSuccess:
			ok++
		case quota.StateError:
			failed++
		case quota.StateLoading:
			loading++
		}
	}
	subtitle := styles.HelpStyle.Render(fmt.Sprintf("%d accounts · %d ok · %d loading · %d failed",
		len(m.accounts), ok, loading, failed))

	return lipgloss.JoinVertical(lipgloss.Left, title, subtitle, "")
}

func (m *Model) renderAccounts() string {
	cardWidth := max(m.viewport.Width-2, 40)

	if len(m.accounts) == 0 {
		empty := lipgloss.NewStyle().Foreground(styles.Subtle).Render("○")
		return styles.CardStyle.Width(cardWidth).Render(fmt.Sprintf("%s %s", empty,
			styles.HelpStyle.Render("No "+string(m.family)+" accounts registered with the gateway")))
	}

	divider := lipgloss.NewStyle().Foreground(styles.Subtle).Render(
		"  ├" + strings.Repeat("─", max(cardWidth-8, 20)) + "┤")

	var rows []string
	for i, acc := range m.accounts {
		if i > 0 {
			rows = append(rows, "", divider, "")
		}
		rows = append(rows, m.renderAccount(acc, i == m.selected, cardWidth-4))
	}
	return styles.CardStyle.Width(cardWidth).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m *Model) renderAccount(acc models.Account, selected bool, width int) string {
	st := m.table.Get(acc.Key())
	lines := []string{m.renderHeader(acc, st, selected)}

	contentWidth := max(width-4, 20)
	switch {
	case st.State == quota.StateError:
		msg := st.Error
		if st.StatusCode > 0 {
			msg = fmt.Sprintf("HTTP %d · %s", st.StatusCode, st.Error)
		}
		lines = append(lines, "    "+styles.ErrorTextStyle.Render(ansi.Truncate(msg, contentWidth, "…")))
	case st.Payload != nil:
		lines = append(lines, m.renderBuckets(acc.Key(), *st.Payload, contentWidth)...)
	case st.State == quota.StateLoading:
		accent := styles.FamilyColor(string(m.family))
		lines = append(lines, "    "+components.LoadingBar(contentWidth-4, m.frame, accent))
	default:
		lines = append(lines, "    "+styles.HelpStyle.Render("not fetched yet"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m *Model) renderHeader(acc models.Account, st quota.Status[models.QuotaReport], selected bool) string {
	prefix := "  "
	if selected {
		prefix = styles.FocusedStyle.Render("▸ ")
	}

	name := acc.Key()
	if acc.Email != "" {
		name += " " + styles.HelpStyle.Render("<"+acc.Email+">")
	}
	parts := []string{prefix + lipgloss.NewStyle().Bold(true).Render(name)}

	if st.Payload != nil && st.Payload.Plan != "" {
		parts = append(parts, styles.PlanStyle.Render("◆ "+st.Payload.Plan))
	}
	parts = append(parts, components.StateBadge(st.State, st.StatusCode))
	if st.State == quota.StateLoading {
		parts = append(parts, m.spinner.View())
	}
	if !st.UpdatedAt.IsZero() {
		parts = append(parts, styles.HelpStyle.Render(components.FormatDuration(m.now().Sub(st.UpdatedAt))+" ago"))
	}
	return strings.Join(parts, " ")
}

func (m *Model) renderBuckets(account string, report models.QuotaReport, width int) []string {
	now := m.now()
	projections := m.projections[account]

	lines := make([]string, 0, len(report.Buckets)*2)
	for _, b := range report.Buckets {
		lines = append(lines, "    "+components.QuotaLineAt(b, m.barPercent(account, b), now, width))
		if p := projections[b.ID]; p != nil {
			lines = append(lines, "      "+renderProjection(p))
		}
	}
	return lines
}

func renderProjection(p *models.BucketProjection) string {
	var style lipgloss.Style
	switch p.Status {
	case models.ProjectionSafe:
		style = styles.ProjectionSafeStyle
	case models.ProjectionWarning:
		style = styles.ProjectionWarningStyle
	case models.ProjectionCritical:
		style = styles.ProjectionCriticalStyle
	default:
		return styles.ProjectionUnknownStyle.Render("projection: not enough history")
	}

	text := fmt.Sprintf("%s · %.1f%%/h", p.Status, p.Rate)
	switch {
	case p.WillDepleteBefore:
		text += " · runs out in " + components.FormatDuration(time.Duration(p.HoursLeft*float64(time.Hour)))
	case !p.ResetAt.IsZero():
		text += " · lasts until reset"
	}
	return style.Render(text) + styles.HelpStyle.Render(" ("+p.Confidence+")")
}
