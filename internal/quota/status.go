// Package quota holds the process-wide quota tables and the fetch coordination
// that keeps them consistent across views.
package quota

import (
	"maps"
	"time"
)

// State is the tag of a Status record.
type State int

const (
	// StateIdle means no fetch has been attempted for the key.
	StateIdle State = iota
	// StateLoading means a fetch is in flight.
	StateLoading
	// StateSuccess means the last fetch produced a payload.
	StateSuccess
	// StateError means the last fetch failed.
	StateError
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Family identifies one provider family tracked by a Store.
type Family string

// Provider families with a quota endpoint.
const (
	FamilyAntigravity Family = "antigravity"
	FamilyCodex       Family = "codex"
	FamilyGeminiCLI   Family = "gemini-cli"
	FamilyKiro        Family = "kiro"
	FamilyClaude      Family = "claude"
)

// Families lists the families multiplexed by the shared store, in display order.
var Families = []Family{FamilyAntigravity, FamilyCodex, FamilyGeminiCLI, FamilyKiro}

// ParseFamily returns the family named s.
func ParseFamily(s string) (Family, bool) {
	switch f := Family(s); f {
	case FamilyAntigravity, FamilyCodex, FamilyGeminiCLI, FamilyKiro, FamilyClaude:
		return f, true
	}
	return "", false
}

// Status is the quota knowledge for one account.
type Status[P any] struct {
	UpdatedAt  time.Time `json:"updatedAt"`
	Payload    *P        `json:"payload,omitempty"`
	Error      string    `json:"error,omitempty"`
	State      State     `json:"state"`
	StatusCode int       `json:"statusCode,omitempty"`
	Seq        uint64    `json:"seq,omitempty"`
}

// Idle returns the zero status.
func Idle[P any]() Status[P] {
	return Status[P]{State: StateIdle}
}

// Loading marks a fetch in flight, keeping the payload of prev.
func Loading[P any](prev Status[P], seq uint64, now time.Time) Status[P] {
	return Status[P]{
		State:     StateLoading,
		Payload:   prev.Payload,
		Seq:       seq,
		UpdatedAt: now,
	}
}

// Success records a successful fetch.
func Success[P any](payload P, seq uint64, now time.Time) Status[P] {
	return Status[P]{
		State:     StateSuccess,
		Payload:   &payload,
		Seq:       seq,
		UpdatedAt: now,
	}
}

// Failure records a failed fetch. The previous payload is not kept.
func Failure[P any](msg string, code int, seq uint64, now time.Time) Status[P] {
	return Status[P]{
		State:      StateError,
		Error:      msg,
		StatusCode: code,
		Seq:        seq,
		UpdatedAt:  now,
	}
}

// IsLoading reports whether a fetch is in flight.
func (s Status[P]) IsLoading() bool { return s.State == StateLoading }

// Table maps account keys to their status. A missing key is idle.
type Table[P any] map[string]Status[P]

// Get returns the status for key, idle if absent.
func (t Table[P]) Get(key string) Status[P] {
	if s, ok := t[key]; ok {
		return s
	}
	return Idle[P]()
}

// Clone returns a shallow copy of t; never nil.
func (t Table[P]) Clone() Table[P] {
	out := make(Table[P], len(t))
	maps.Copy(out, t)
	return out
}

// With returns a copy of t with key set to s.
func (t Table[P]) With(key string, s Status[P]) Table[P] {
	out := t.Clone()
	out[key] = s
	return out
}

// Without returns a copy of t with key removed.
func (t Table[P]) Without(key string) Table[P] {
	out := t.Clone()
	delete(out, key)
	return out
}
