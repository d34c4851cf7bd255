package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/j-veylop/cpamc/internal/management"
	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/quota"
)

const codexUserAgent = "codex_cli_rs/0.76.0 (Debian 13.0.0; x86_64) WindowsTerminal"

func (p *Providers) fetchCodex(ctx context.Context, acc models.Account) (models.QuotaReport, error) {
	if acc.AccountID == "" {
		return models.QuotaReport{}, &ValidationError{Message: "codex account id is unknown"}
	}

	header := bearer()
	header["Chatgpt-Account-Id"] = acc.AccountID
	header["User-Agent"] = codexUserAgent

	raw, err := p.tr.do(ctx, quota.FamilyCodex, management.Request{
		AuthIndex: acc.AuthIndex,
		Method:    http.MethodGet,
		URL:       p.endpoints.Codex,
		Header:    header,
	})
	if err != nil {
		return models.QuotaReport{}, err
	}
	return parseCodex(raw, p.clock.Now())
}

func parseCodex(raw []byte, now time.Time) (models.QuotaReport, error) {
	root, err := parseJSON(raw)
	if err != nil {
		return models.QuotaReport{}, err
	}

	report := models.QuotaReport{Plan: root.Get("plan_type").String()}
	windows := []struct {
		limit, window, id, fallback string
	}{
		{"rate_limit", "primary_window", "primary", "Primary"},
		{"rate_limit", "secondary_window", "secondary", "Secondary"},
		{"code_review_rate_limit", "primary_window", "code_review", "Code review"},
	}
	for _, w := range windows {
		limit := root.Get(w.limit)
		b, ok := codexWindow(limit, limit.Get(w.window), now)
		if !ok {
			continue
		}
		b.ID = w.id
		b.Label = windowLabel(limit.Get(w.window+".limit_window_seconds").Int(), w.fallback)
		if w.id == "code_review" {
			b.Label = "Review " + b.Label
		}
		report.Buckets = append(report.Buckets, b)
	}

	if len(report.Buckets) == 0 {
		return models.QuotaReport{}, &ValidationError{Message: "no rate limit windows"}
	}
	return report, nil
}

func codexWindow(limit, window gjson.Result, now time.Time) (models.QuotaBucket, bool) {
	if !window.IsObject() {
		return models.QuotaBucket{}, false
	}

	var b models.QuotaBucket
	switch {
	case window.Get("reset_at").Exists():
		b.ResetAt = models.ParseTimestamp(window.Get("reset_at").String())
	case window.Get("reset_after_seconds").Exists():
		b.ResetAt = now.Add(time.Duration(window.Get("reset_after_seconds").Int()) * time.Second)
	}

	allowed := limit.Get("allowed")
	if limit.Get("limit_reached").Bool() || (allowed.Exists() && !allowed.Bool()) {
		return b, true
	}
	used, ok := number(window.Get("used_percent"))
	if !ok {
		return models.QuotaBucket{}, false
	}
	b.Used = used
	b.Limit = 100
	b.Remaining = models.ClampPercent(100 - used)
	return b, true
}
