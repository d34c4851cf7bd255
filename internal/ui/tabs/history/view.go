package history

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/cpamc/internal/ui/components"
	"github.com/j-veylop/cpamc/internal/ui/styles"
)

// View renders the history tab.
func (m *Model) View() string {
	var content string
	switch {
	case m.source == nil:
		content = m.renderMessage("History is disabled.", "Set a database path to record quota snapshots.")
	case m.errorMsg != "":
		content = fmt.Sprintf("%s %s", styles.ErrorTextStyle.Render("Error:"), m.errorMsg)
	case len(m.series) == 0 && m.loading:
		content = styles.HelpStyle.Render("Loading history data...")
	case len(m.series) == 0:
		content = m.renderMessage("No historical data available yet.", "Data will appear as quota snapshots are recorded.")
	default:
		content = lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), m.renderChart())
	}

	m.viewport.SetContent(content)
	return styles.DocStyle.Render(m.viewport.View())
}

func (m *Model) renderMessage(lines ...string) string {
	rows := []string{styles.TitleStyle.Render("History"), ""}
	for _, l := range lines {
		rows = append(rows, styles.HelpStyle.Render(l))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m *Model) renderHeader() string {
	k, _ := m.current()

	title := styles.TitleStyle.Render("History: " + k.Account)

	rangeStyle := lipgloss.NewStyle().
		Foreground(styles.Primary).
		Bold(true).
		Padding(0, 1).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.Primary)
	rangeIndicator := rangeStyle.Render(fmt.Sprintf("[t] %s", m.timeRange.String()))

	header := lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", rangeIndicator)

	family := lipgloss.NewStyle().Foreground(styles.FamilyColor(k.Family)).Bold(true).Render(k.Family)
	subtitle := fmt.Sprintf("%s · %s · series %d/%d [n/p]",
		family, k.Bucket, m.selected+1, len(m.series))

	return lipgloss.JoinVertical(lipgloss.Left, header, styles.HelpStyle.Render(subtitle), "")
}

func (m *Model) renderChart() string {
	cardWidth := max(m.viewport.Width-2, 40)

	rows := []string{styles.CardTitleStyle.Render("Remaining quota"), ""}

	h := m.history
	switch {
	case h == nil && m.loading:
		rows = append(rows, "  "+components.LoadingBar(cardWidth-8, 0, styles.Primary))
	case h == nil || !h.HasData():
		rows = append(rows, styles.HelpStyle.Render(fmt.Sprintf("  No snapshots in the last %s", strings.ToLower(m.timeRange.String()))))
	default:
		values := h.Values()
		chartWidth := max(cardWidth-18, 30)
		first, last := h.Points[0].CapturedAt, h.Points[len(h.Points)-1].CapturedAt
		caption := fmt.Sprintf("%d snapshots · %s → %s",
			len(h.Points), first.Local().Format("Jan 2 15:04"), last.Local().Format("Jan 2 15:04"))

		for line := range strings.SplitSeq(components.RenderLineChart(values, chartWidth, 8, caption), "\n") {
			rows = append(rows, "  "+line)
		}

		low, high := h.Range()
		current := values[len(values)-1]
		rows = append(rows,
			"",
			fmt.Sprintf("  Trend  %s", components.RenderSparkline(values, chartWidth)),
			fmt.Sprintf("  Now %s  Low %.0f%%  High %.0f%%",
				styles.GetQuotaStyle(current, current <= 0).Render(fmt.Sprintf("%.0f%%", current)), low, high),
		)
		if reset := h.Points[len(h.Points)-1].ResetAt; !reset.IsZero() {
			rows = append(rows, styles.HelpStyle.Render("  Resets "+reset.Local().Format("Jan 2 15:04")))
		}
	}
	rows = append(rows, "")

	return styles.CardStyle.Width(cardWidth).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
