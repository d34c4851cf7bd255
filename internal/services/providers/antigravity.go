package providers

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/j-veylop/cpamc/internal/logger"
	"github.com/j-veylop/cpamc/internal/management"
	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/quota"
)

var antigravityHeaders = map[string]string{
	"User-Agent":        "antigravity/1.11.5 windows/amd64",
	"X-Goog-Api-Client": "google-cloud-sdk vscode_cloudshelleditor/0.1",
	"Client-Metadata":   `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`,
	"Content-Type":      "application/json",
}

func (p *Providers) fetchAntigravity(ctx context.Context, acc models.Account) (models.QuotaReport, error) {
	body := []byte(`{}`)
	if project := p.cachedProjectID(acc); project != "" {
		body, _ = sjson.SetBytes(body, "project", project)
	}

	header := bearer()
	for k, v := range antigravityHeaders {
		header[k] = v
	}

	var lastErr error
	for _, url := range p.endpoints.Antigravity {
		raw, err := p.tr.do(ctx, quota.FamilyAntigravity, management.Request{
			AuthIndex: acc.AuthIndex,
			Method:    http.MethodPost,
			URL:       url,
			Header:    header,
			Body:      string(body),
		})
		if err != nil {
			if ctx.Err() != nil {
				return models.QuotaReport{}, err
			}
			// Credential problems are the same on every endpoint
			var ne *NetworkError
			if errors.As(err, &ne) && (ne.StatusCode == http.StatusUnauthorized || ne.StatusCode == http.StatusForbidden) {
				return models.QuotaReport{}, err
			}
			logger.Warn("antigravity quota endpoint failed", "account", acc.Key(), "url", url, "error", err)
			lastErr = err
			continue
		}

		report, err := p.parseAntigravity(raw)
		if err != nil {
			lastErr = err
			continue
		}
		return report, nil
	}
	if lastErr == nil {
		lastErr = &NetworkError{Message: "no antigravity endpoint configured"}
	}
	return models.QuotaReport{}, lastErr
}

func (p *Providers) parseAntigravity(raw []byte) (models.QuotaReport, error) {
	root, err := parseJSON(raw)
	if err != nil {
		return models.QuotaReport{}, err
	}
	modelsField := root.Get("models")
	if !modelsField.IsObject() {
		return models.QuotaReport{}, &ValidationError{Message: "missing models"}
	}

	var buckets []models.QuotaBucket
	modelsField.ForEach(func(key, rec gjson.Result) bool {
		info := rec.Get("quotaInfo")
		frac, ok := number(info.Get("remainingFraction"))
		if !ok {
			return true
		}
		id := strings.TrimSpace(rec.Get("model").String())
		if id == "" {
			id = strings.TrimSpace(key.String())
		}
		label := strings.TrimSpace(rec.Get("displayName").String())
		if label == "" {
			label = id
		}
		buckets = append(buckets, models.QuotaBucket{
			ID:        id,
			Label:     label,
			Remaining: models.ClampPercent(frac * 100),
			ResetAt:   models.ParseTimestamp(info.Get("resetTime").String()),
		})
		return true
	})
	if len(buckets) == 0 {
		return models.QuotaReport{}, &ValidationError{Message: "no model quotas"}
	}

	slices.SortFunc(buckets, func(a, b models.QuotaBucket) int { return strings.Compare(a.ID, b.ID) })
	return models.QuotaReport{
		Plan:    detectTier(buckets, p.clock.Now()),
		Buckets: buckets,
	}, nil
}
