// Package models defines data structures and domain types.
package models

import (
	"strconv"
	"strings"
	"time"
)

// Account is one credential registered with the gateway.
type Account struct {
	UpdatedAt time.Time `json:"updatedAt"`
	Name      string    `json:"name"`
	Provider  string    `json:"provider"`
	AuthIndex string    `json:"authIndex"`
	Email     string    `json:"email,omitempty"`
	AccountID string    `json:"accountId,omitempty"`
	ProjectID string    `json:"projectId,omitempty"`
	Label     string    `json:"label,omitempty"`
	Disabled  bool      `json:"disabled,omitempty"`
}

// Key returns the account key used by the quota stores.
func (a Account) Key() string {
	if a.Name != "" {
		return a.Name
	}
	return a.AuthIndex
}

// DisplayName returns the most human-friendly identifier available.
func (a Account) DisplayName() string {
	switch {
	case a.Email != "":
		return a.Email
	case a.Label != "":
		return a.Label
	default:
		return a.Key()
	}
}

// SameSet reports whether a and b contain the same account keys with the same
// auth indexes, ignoring order.
func SameSet(a, b []Account) bool {
	if len(a) != len(b) {
		return false
	}
	idx := make(map[string]string, len(a))
	for _, acc := range a {
		idx[acc.Key()] = acc.AuthIndex
	}
	for _, acc := range b {
		ai, ok := idx[acc.Key()]
		if !ok || ai != acc.AuthIndex {
			return false
		}
	}
	return true
}

// Removed returns the keys present in prev but not in next.
func Removed(prev, next []Account) []string {
	keep := make(map[string]struct{}, len(next))
	for _, acc := range next {
		keep[acc.Key()] = struct{}{}
	}
	var out []string
	for _, acc := range prev {
		if _, ok := keep[acc.Key()]; !ok {
			out = append(out, acc.Key())
		}
	}
	return out
}

// ParseTimestamp accepts RFC 3339 strings and unix timestamps in seconds or
// milliseconds. Unparseable input yields the zero time.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	num, err := strconv.ParseFloat(s, 64)
	if err != nil || num <= 0 {
		return time.Time{}
	}
	if num > 1e12 {
		// Milliseconds
		return time.UnixMilli(int64(num)).UTC()
	}
	return time.Unix(int64(num), 0).UTC()
}
