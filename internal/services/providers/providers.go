// Package providers fetches and normalizes quota information for every
// supported provider family through the gateway management API.
package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/coder/quartz"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/j-veylop/cpamc/internal/management"
	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/ttlcache"
)

// Endpoints lists the upstream URLs per family.
type Endpoints struct {
	Antigravity    []string
	GeminiQuota    string
	LoadCodeAssist string
	Codex          string
	Kiro           string
	Claude         string
}

// DefaultEndpoints returns the production endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Antigravity: []string{
			"https://daily-cloudcode-pa.googleapis.com/v1internal:fetchAvailableModels",
			"https://daily-cloudcode-pa.sandbox.googleapis.com/v1internal:fetchAvailableModels",
			"https://cloudcode-pa.googleapis.com/v1internal:fetchAvailableModels",
		},
		GeminiQuota:    "https://cloudcode-pa.googleapis.com/v1internal:retrieveUserQuota",
		LoadCodeAssist: "https://cloudcode-pa.googleapis.com/v1internal:loadCodeAssist",
		Codex:          "https://chatgpt.com/backend-api/wham/usage",
		Kiro:           "https://codewhisperer.us-east-1.amazonaws.com/getUsageLimits?origin=AI_EDITOR&resourceType=AGENTIC_REQUEST",
		Claude:         "https://api.anthropic.com/api/oauth/usage",
	}
}

// Options configures the provider set.
type Options struct {
	Clock           quartz.Clock
	ProjectCache    *ttlcache.Cache
	OnBreakerChange func(family string, state int)
	Endpoints       Endpoints
	Breaker         BreakerConfig
}

// Providers fetches quota for all families.
type Providers struct {
	tr        *transport
	clock     quartz.Clock
	projects  *ttlcache.Cache
	endpoints Endpoints
	group     singleflight.Group
}

// New creates the provider set. Zero-valued options fall back to defaults.
func New(caller Caller, opts Options) *Providers {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.ProjectCache == nil {
		opts.ProjectCache = ttlcache.New(ttlcache.DefaultTTL, opts.Clock)
	}
	if len(opts.Endpoints.Antigravity) == 0 && opts.Endpoints.Codex == "" {
		opts.Endpoints = DefaultEndpoints()
	}
	if opts.Breaker.FailureThreshold == 0 {
		opts.Breaker = DefaultBreakerConfig()
	}
	return &Providers{
		tr:        newTransport(caller, opts.Breaker, opts.OnBreakerChange),
		clock:     opts.Clock,
		projects:  opts.ProjectCache,
		endpoints: opts.Endpoints,
	}
}

// Supports reports whether family has a quota fetcher.
func Supports(family quota.Family) bool {
	switch family {
	case quota.FamilyAntigravity, quota.FamilyCodex, quota.FamilyGeminiCLI, quota.FamilyKiro:
		return true
	}
	return false
}

// Fetch retrieves and normalizes the quota of acc for one of the four quota families.
func (p *Providers) Fetch(ctx context.Context, family quota.Family, acc models.Account) (models.QuotaReport, error) {
	switch family {
	case quota.FamilyAntigravity:
		return p.fetchAntigravity(ctx, acc)
	case quota.FamilyCodex:
		return p.fetchCodex(ctx, acc)
	case quota.FamilyGeminiCLI:
		return p.fetchGeminiCLI(ctx, acc)
	case quota.FamilyKiro:
		return p.fetchKiro(ctx, acc)
	default:
		return models.QuotaReport{}, fmt.Errorf("no quota fetcher for %q", family)
	}
}

// BreakerOpen reports whether the breaker of family currently rejects calls.
func (p *Providers) BreakerOpen(family quota.Family) bool {
	return p.tr.state(family) == gobreaker.StateOpen
}

func bearer() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + management.TokenPlaceholder,
		"Accept":        "application/json",
	}
}

func gjsonString(body []byte, path string) string {
	v := gjson.GetBytes(body, path)
	if v.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(v.Str)
}

// parseJSON validates body before extraction.
func parseJSON(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &ValidationError{Message: "body is not valid JSON"}
	}
	return gjson.ParseBytes(body), nil
}

// number reads a numeric field that may be encoded as a string.
func number(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Num, true
	case gjson.String:
		if f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// windowLabel names a rate-limit window by its length.
func windowLabel(seconds int64, fallback string) string {
	switch {
	case seconds <= 0:
		return fallback
	case seconds%(7*24*3600) == 0:
		weeks := seconds / (7 * 24 * 3600)
		if weeks == 1 {
			return "Weekly"
		}
		return fmt.Sprintf("%dw", weeks)
	case seconds%(24*3600) == 0:
		return fmt.Sprintf("%dd", seconds/(24*3600))
	case seconds%3600 == 0:
		return fmt.Sprintf("%dh", seconds/3600)
	default:
		return fmt.Sprintf("%dm", seconds/60)
	}
}
