// Package management talks to the gateway management API. Every provider
// request is proxied through it so credentials never leave the gateway.
package management

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"

	"github.com/j-veylop/cpamc/internal/models"
)

const (
	apiCallPath   = "/v0/management/api-call"
	authFilesPath = "/v0/management/auth-files"

	// TokenPlaceholder is replaced by the gateway with the account's access token.
	TokenPlaceholder = "$TOKEN$"

	maxResponseBytes = 4 << 20
)

// ErrNotConfigured is returned when no management URL is set.
var ErrNotConfigured = errors.New("management API is not configured")

// APIError is a non-2xx answer from the management API itself.
type APIError struct {
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("management API returned %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus returns the status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Request describes one upstream call issued with an account's credential.
type Request struct {
	Header    map[string]string
	AuthIndex string
	Method    string
	URL       string
	Body      string
}

// Response is the upstream answer relayed by the gateway.
type Response struct {
	Header     http.Header
	Body       []byte
	StatusCode int
}

// OK reports whether the upstream status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client is a management API client authenticated with the management key.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client. ctx may carry an oauth2.HTTPClient to override the
// base transport.
func New(ctx context.Context, baseURL, key string, timeout time.Duration) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: key, TokenType: "Bearer"})
	hc := oauth2.NewClient(ctx, src)
	if timeout > 0 {
		hc.Timeout = timeout
	}
	return &Client{
		httpClient: hc,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// BaseURL returns the management base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Call proxies req through the gateway.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	payload, err := sjson.SetBytes([]byte(`{}`), "auth_index", req.AuthIndex)
	if err == nil {
		payload, err = sjson.SetBytes(payload, "method", method)
	}
	if err == nil {
		payload, err = sjson.SetBytes(payload, "url", req.URL)
	}
	if err == nil && len(req.Header) > 0 {
		payload, err = sjson.SetBytes(payload, "header", req.Header)
	}
	if err == nil && req.Body != "" {
		payload, err = sjson.SetBytes(payload, "data", req.Body)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build api-call body: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, apiCallPath, payload)
	if err != nil {
		return nil, err
	}
	return parseAPICall(raw)
}

// ListAccounts returns the credentials known to the gateway.
func (c *Client) ListAccounts(ctx context.Context) ([]models.Account, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	raw, err := c.do(ctx, http.MethodGet, authFilesPath, nil)
	if err != nil {
		return nil, err
	}
	return ParseAuthFiles(raw)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("management request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read management response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(raw, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return raw, nil
}

func parseAPICall(raw []byte) (*Response, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("management API returned invalid JSON")
	}
	res := gjson.ParseBytes(raw)

	out := &Response{
		StatusCode: int(res.Get("status_code").Int()),
		Header:     http.Header{},
	}
	res.Get("header").ForEach(func(k, v gjson.Result) bool {
		if v.IsArray() {
			for _, item := range v.Array() {
				out.Header.Add(k.String(), item.String())
			}
		} else {
			out.Header.Set(k.String(), v.String())
		}
		return true
	})

	body := res.Get("body")
	switch body.Type {
	case gjson.String:
		out.Body = []byte(body.Str)
	case gjson.Null:
	default:
		out.Body = []byte(body.Raw)
	}
	return out, nil
}

// ParseAuthFiles decodes the auth-files listing.
func ParseAuthFiles(raw []byte) ([]models.Account, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("auth-files response is not valid JSON")
	}
	files := gjson.GetBytes(raw, "files")
	if !files.Exists() {
		files = gjson.ParseBytes(raw)
	}
	if !files.IsArray() {
		return nil, errors.New("auth-files response has no file list")
	}

	var out []models.Account
	for _, f := range files.Array() {
		acc := models.Account{
			Name:      f.Get("name").String(),
			Provider:  strings.ToLower(firstString(f, "provider", "type")),
			AuthIndex: firstString(f, "auth_index", "authIndex", "index"),
			Email:     f.Get("email").String(),
			AccountID: firstString(f, "account_id", "id_token.chatgpt_account_id", "metadata.account_id"),
			ProjectID: firstString(f, "project_id", "metadata.project_id"),
			Label:     f.Get("label").String(),
			Disabled:  f.Get("disabled").Bool(),
			UpdatedAt: models.ParseTimestamp(firstString(f, "updated_at", "modtime")),
		}
		if acc.Key() == "" {
			continue
		}
		out = append(out, acc)
	}
	return out, nil
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
