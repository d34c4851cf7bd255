package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/j-veylop/cpamc/internal/logger"
	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/ui/styles"
)

const (
	labelWidth   = 22
	percentWidth = 6
	resetWidth   = 12
)

// RenderGradientBar renders a red-to-green bar filled to percent.
func RenderGradientBar(percent float64, width int) string {
	return renderBar(percent/100, width, "#ff6b6b", "#51cf66")
}

// RenderTimeBar renders how much of a reset window has elapsed, fraction in [0, 1].
func RenderTimeBar(fraction float64, width int) string {
	return renderBar(fraction, width, "#ffd93d", "#6c5ce7")
}

func renderBar(fraction float64, width int, from, to string) string {
	if width < 1 {
		return ""
	}
	filled := min(max(int(float64(width)*fraction), 0), width)

	var b strings.Builder
	for i := range width {
		if i < filled {
			t := float64(i) / float64(max(1, width-1))
			color := interpolateColor(from, to, t)
			b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render("█"))
			continue
		}
		b.WriteString(lipgloss.NewStyle().Foreground(styles.Subtle).Render("░"))
	}
	return b.String()
}

// QuotaLine renders one bucket: label, bar, remaining percent and time to reset.
func QuotaLine(b models.QuotaBucket, now time.Time, width int) string {
	return QuotaLineAt(b, b.Remaining, now, width)
}

// QuotaLineAt is QuotaLine with the bar filled to fill instead of the
// remaining percent, for bars animating towards a new value.
func QuotaLineAt(b models.QuotaBucket, fill float64, now time.Time, width int) string {
	barWidth := max(width-labelWidth-percentWidth-resetWidth-4, 10)

	label := b.Label
	if label == "" {
		label = b.ID
	}
	labelStr := lipgloss.NewStyle().
		Foreground(styles.TextSecondary).
		Width(labelWidth).
		Render(ansi.Truncate(label, labelWidth-1, "…"))

	percentStr := styles.GetQuotaStyle(b.Remaining, b.IsExhausted()).
		Width(percentWidth).
		Align(lipgloss.Right).
		Render(fmt.Sprintf("%.0f%%", b.Remaining))

	reset := ""
	if !b.ResetAt.IsZero() {
		reset = "↻ " + FormatDuration(b.ResetAt.Sub(now))
	}
	resetStr := styles.HelpStyle.Width(resetWidth).Align(lipgloss.Right).Render(reset)

	return labelStr + " " + RenderGradientBar(fill, barWidth) + " " + percentStr + " " + resetStr
}

// LoadingBar renders a shimmer sweeping across an empty bar.
func LoadingBar(width, frame int, accent lipgloss.Color) string {
	if width < 1 {
		return ""
	}
	const cycle = 120

	t := float64(frame%cycle) / float64(cycle)
	p := t * 2
	if t >= 0.5 {
		p = (1 - t) * 2
	}
	eased := p * p * (3 - 2*p)
	pos := int(eased * float64(width))

	var b strings.Builder
	for i := range width {
		dist := pos - i
		if dist < 0 {
			dist = -dist
		}
		switch {
		case dist < 3:
			b.WriteString(lipgloss.NewStyle().Foreground(accent).Render("▓"))
		case dist < 5:
			b.WriteString(lipgloss.NewStyle().Foreground(styles.TextSecondary).Render("▒"))
		default:
			b.WriteString(lipgloss.NewStyle().Foreground(styles.BgLight).Render("░"))
		}
	}
	return b.String()
}

// FormatDuration renders d as "2d 3h", "4h 05m" or "12m". Negative durations are "now".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	d = d.Round(time.Minute)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %02dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

func interpolateColor(fromHex, toHex string, t float64) string {
	from := hexToRGB(fromHex)
	to := hexToRGB(toHex)

	r := int(float64(from[0]) + t*(float64(to[0])-float64(from[0])))
	g := int(float64(from[1]) + t*(float64(to[1])-float64(from[1])))
	b := int(float64(from[2]) + t*(float64(to[2])-float64(from[2])))

	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

func hexToRGB(hex string) [3]int {
	hex = strings.TrimPrefix(hex, "#")
	var r, g, b int
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		logger.Error("failed to parse hex color", "hex", hex, "error", err)
		return [3]int{0, 0, 0}
	}
	return [3]int{r, g, b}
}
