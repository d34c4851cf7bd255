package providers

import (
	"context"
	"net/http"
	"strings"

	"github.com/j-veylop/cpamc/internal/management"
	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/quota"
)

func (p *Providers) fetchKiro(ctx context.Context, acc models.Account) (models.QuotaReport, error) {
	raw, err := p.tr.do(ctx, quota.FamilyKiro, management.Request{
		AuthIndex: acc.AuthIndex,
		Method:    http.MethodGet,
		URL:       p.endpoints.Kiro,
		Header:    bearer(),
	})
	if err != nil {
		return models.QuotaReport{}, err
	}
	return parseKiro(raw)
}

func parseKiro(raw []byte) (models.QuotaReport, error) {
	root, err := parseJSON(raw)
	if err != nil {
		return models.QuotaReport{}, err
	}
	list := root.Get("usageBreakdownList")
	if !list.IsArray() {
		return models.QuotaReport{}, &ValidationError{Message: "missing usageBreakdownList"}
	}

	resetAt := models.ParseTimestamp(root.Get("nextDateReset").String())
	report := models.QuotaReport{Plan: root.Get("subscriptionInfo.subscriptionTitle").String()}
	for _, item := range list.Array() {
		id := strings.TrimSpace(item.Get("resourceType").String())
		if id == "" {
			continue
		}
		used, okUsed := number(item.Get("currentUsageWithPrecision"))
		if !okUsed {
			used, okUsed = number(item.Get("currentUsage"))
		}
		limit, okLimit := number(item.Get("usageLimitWithPrecision"))
		if !okLimit {
			limit, okLimit = number(item.Get("usageLimit"))
		}
		if !okUsed || !okLimit {
			continue
		}

		remaining := 0.0
		if limit > 0 {
			remaining = (limit - used) / limit * 100
		}
		label := strings.TrimSpace(item.Get("displayName").String())
		if label == "" {
			label = id
		}
		b := models.QuotaBucket{
			ID:        id,
			Label:     label,
			Used:      used,
			Limit:     limit,
			Remaining: models.ClampPercent(remaining),
			ResetAt:   resetAt,
		}
		if r := models.ParseTimestamp(item.Get("nextDateReset").String()); !r.IsZero() {
			b.ResetAt = r
		}
		report.Buckets = append(report.Buckets, b)
	}

	if len(report.Buckets) == 0 {
		return models.QuotaReport{}, &ValidationError{Message: "no usage limits"}
	}
	return report, nil
}
