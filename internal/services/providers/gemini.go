package providers

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/j-veylop/cpamc/internal/management"
	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/quota"
)

const loadCodeAssistBody = `{"metadata":{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}}`

func projectCacheKey(acc models.Account) string {
	return "project:" + acc.Key()
}

// cachedProjectID returns a known project id without any network call.
func (p *Providers) cachedProjectID(acc models.Account) string {
	if acc.ProjectID != "" {
		return acc.ProjectID
	}
	v, _ := p.projects.Get(projectCacheKey(acc))
	return v
}

// ProjectID returns the Cloud project of acc: from the account record, then
// the cache, then loadCodeAssist. Concurrent resolutions for one account share
// a single upstream call.
func (p *Providers) ProjectID(ctx context.Context, acc models.Account) (string, error) {
	if id := p.cachedProjectID(acc); id != "" {
		return id, nil
	}

	key := projectCacheKey(acc)
	v, err, _ := p.group.Do(key, func() (any, error) {
		if id, ok := p.projects.Get(key); ok {
			return id, nil
		}
		raw, err := p.tr.do(ctx, quota.FamilyGeminiCLI, management.Request{
			AuthIndex: acc.AuthIndex,
			Method:    http.MethodPost,
			URL:       p.endpoints.LoadCodeAssist,
			Header:    withJSON(bearer()),
			Body:      loadCodeAssistBody,
		})
		if err != nil {
			return "", err
		}
		root, err := parseJSON(raw)
		if err != nil {
			return "", err
		}
		project := root.Get("cloudaicompanionProject")
		id := strings.TrimSpace(project.String())
		if project.IsObject() {
			id = strings.TrimSpace(project.Get("id").String())
		}
		if id == "" {
			return "", &ValidationError{Message: "no project id for account"}
		}
		p.projects.SetOwned(key, id, acc.Key())
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Providers) fetchGeminiCLI(ctx context.Context, acc models.Account) (models.QuotaReport, error) {
	project, err := p.ProjectID(ctx, acc)
	if err != nil {
		return models.QuotaReport{}, err
	}

	body, _ := sjson.Set(`{}`, "project", project)
	raw, err := p.tr.do(ctx, quota.FamilyGeminiCLI, management.Request{
		AuthIndex: acc.AuthIndex,
		Method:    http.MethodPost,
		URL:       p.endpoints.GeminiQuota,
		Header:    withJSON(bearer()),
		Body:      body,
	})
	if err != nil {
		return models.QuotaReport{}, err
	}
	return parseGeminiCLI(raw)
}

func parseGeminiCLI(raw []byte) (models.QuotaReport, error) {
	root, err := parseJSON(raw)
	if err != nil {
		return models.QuotaReport{}, err
	}
	list := root.Get("buckets")
	if !list.IsArray() {
		return models.QuotaReport{}, &ValidationError{Message: "missing buckets"}
	}

	// Several buckets may exist per model (per token type); keep the most generous one.
	byModel := make(map[string]models.QuotaBucket)
	for _, b := range list.Array() {
		id := strings.TrimSpace(b.Get("modelId").String())
		frac, ok := number(b.Get("remainingFraction"))
		if id == "" || !ok {
			continue
		}
		next := models.QuotaBucket{
			ID:        id,
			Label:     id,
			Remaining: models.ClampPercent(frac * 100),
			ResetAt:   models.ParseTimestamp(b.Get("resetTime").String()),
		}
		if prev, seen := byModel[id]; seen && prev.Remaining >= next.Remaining {
			continue
		}
		byModel[id] = next
	}

	buckets := make([]models.QuotaBucket, 0, len(byModel))
	for _, b := range byModel {
		buckets = append(buckets, b)
	}
	slices.SortFunc(buckets, func(a, b models.QuotaBucket) int { return strings.Compare(a.ID, b.ID) })
	return models.QuotaReport{Buckets: buckets}, nil
}

func withJSON(h map[string]string) map[string]string {
	h["Content-Type"] = "application/json"
	return h
}
