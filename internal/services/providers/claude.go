package providers

import (
	"context"
	"net/http"

	"github.com/j-veylop/cpamc/internal/management"
	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/quota"
)

// claudeWindows are the usage windows in display order.
var claudeWindows = []string{"five_hour", "seven_day", "seven_day_opus", "seven_day_sonnet"}

// FetchClaude retrieves the Claude OAuth usage windows of acc.
func (p *Providers) FetchClaude(ctx context.Context, acc models.Account) (models.ClaudeUsage, error) {
	header := bearer()
	header["anthropic-beta"] = "oauth-2025-04-20"

	raw, err := p.tr.do(ctx, quota.FamilyClaude, management.Request{
		AuthIndex: acc.AuthIndex,
		Method:    http.MethodGet,
		URL:       p.endpoints.Claude,
		Header:    header,
	})
	if err != nil {
		return models.ClaudeUsage{}, err
	}
	return parseClaude(raw)
}

func parseClaude(raw []byte) (models.ClaudeUsage, error) {
	root, err := parseJSON(raw)
	if err != nil {
		return models.ClaudeUsage{}, err
	}

	var usage models.ClaudeUsage
	for _, name := range claudeWindows {
		w := root.Get(name)
		if !w.IsObject() {
			continue
		}
		util, ok := number(w.Get("utilization"))
		if !ok {
			continue
		}
		usage.Windows = append(usage.Windows, models.ClaudeWindow{
			Name:        name,
			Utilization: util,
			ResetAt:     models.ParseTimestamp(w.Get("resets_at").String()),
		})
	}
	if len(usage.Windows) == 0 {
		return models.ClaudeUsage{}, &ValidationError{Message: "no usage windows"}
	}
	usage.Status = models.UnifiedStatusFor(usage.Peak())
	return usage, nil
}
