package info

import (
	"fmt"
	"runtime"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/cpamc/internal/ui/styles"
	"github.com/j-veylop/cpamc/internal/version"
)

// View renders the info tab.
func (m *Model) View() string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		m.renderTitle(),
		m.renderConfigCard(),
		m.renderCacheCard(),
		m.renderAboutCard(),
	)

	m.viewport.SetContent(content)
	return styles.DocStyle.Render(m.viewport.View())
}

// renderTitle renders the info tab title.
func (m *Model) renderTitle() string {
	title := styles.TitleStyle.Render("Info")
	subtitle := styles.HelpStyle.Render("Configuration and application information")

	return lipgloss.JoinVertical(lipgloss.Left, title, subtitle, "")
}

func (m *Model) cardWidth() int {
	return min(max(m.viewport.Width-2, 50), 80)
}

// renderConfigCard renders the configuration card.
func (m *Model) renderConfigCard() string {
	rows := []string{styles.CardTitleStyle.Render("Configuration"), ""}

	if cfg := m.config; cfg != nil {
		rows = append(rows,
			renderRow("Management URL", cfg.ManagementURL),
			renderRow("Management Key", maskSecret(cfg.ManagementKey)),
			renderRow("Auth Directory", orNone(cfg.AuthDir)),
			renderRow("Database", orNone(cfg.DatabasePath)),
			renderRow("Status Server", orNone(cfg.StatusAddr)),
			renderRow("Quota Refresh", durationOrNever(cfg.QuotaRefreshInterval)),
			renderRow("Project ID TTL", cfg.ProjectIDTTL.String()),
			renderRow("Request Timeout", cfg.RequestTimeout.String()),
			renderRow("Max Concurrent", fmt.Sprintf("%d", cfg.MaxConcurrent)),
		)
		if url := m.consoleURL(); url != "" {
			rows = append(rows, "", styles.HelpStyle.Render("Press 'o' to open "+url))
		}
	} else {
		rows = append(rows, styles.HelpStyle.Render("Configuration not loaded"))
	}

	return styles.CardStyle.Width(m.cardWidth()).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// renderCacheCard renders the quota cache counters.
func (m *Model) renderCacheCard() string {
	rows := []string{styles.CardTitleStyle.Render("Quota Cache"), ""}

	if s := m.stats; s != nil {
		rows = append(rows,
			renderRow("Accounts", styles.InfoTextStyle.Render(fmt.Sprintf("%d", s.AccountCount))),
			renderRow("Loaded", styles.SuccessTextStyle.Render(fmt.Sprintf("%d", s.Loaded))),
			renderRow("Loading", fmt.Sprintf("%d", s.Loading)),
			renderRow("Errors", styles.ErrorTextStyle.Render(fmt.Sprintf("%d", s.Errors))),
			renderRow("Cached Project IDs", fmt.Sprintf("%d", s.CachedIDs)),
		)
	} else {
		rows = append(rows, styles.HelpStyle.Render("Waiting for statistics..."))
	}

	return styles.CardStyle.Width(m.cardWidth()).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// renderAboutCard renders the about/version information card.
func (m *Model) renderAboutCard() string {
	rows := []string{
		styles.CardTitleStyle.Render("About cpamc"),
		"",
		renderRow("Version", version.GetVersion()),
		renderRow("Commit", version.GetCommit()),
		renderRow("Build Date", version.GetDate()),
		renderRow("Go Version", runtime.Version()),
		renderRow("Platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)),
	}

	return styles.CardStyle.Width(m.cardWidth()).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// renderRow renders a key-value row.
func renderRow(label, value string) string {
	labelStyle := lipgloss.NewStyle().
		Width(20).
		Foreground(styles.TextMuted)

	valueStyle := lipgloss.NewStyle().
		Foreground(styles.TextPrimary)

	return labelStyle.Render(label+":") + " " + valueStyle.Render(value)
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return "(none)"
	case len(s) <= 4:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}

func orNone(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

func durationOrNever(d time.Duration) string {
	if d <= 0 {
		return "manual only"
	}
	return "every " + d.String()
}
