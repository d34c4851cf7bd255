package models

import (
	"math"
	"time"
)

// QuotaBucket is one quota window or model allowance of an account.
// Remaining is a percentage in [0, 100].
type QuotaBucket struct {
	ResetAt   time.Time `json:"resetAt"`
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Remaining float64   `json:"remaining"`
	Used      float64   `json:"used,omitempty"`
	Limit     float64   `json:"limit,omitempty"`
}

// IsExhausted returns true if nothing is left in the bucket.
func (b QuotaBucket) IsExhausted() bool {
	return b.Remaining <= 0
}

// QuotaReport is the normalized quota payload of the four quota families.
type QuotaReport struct {
	Plan    string        `json:"plan,omitempty"`
	Buckets []QuotaBucket `json:"buckets"`
}

// Bucket finds a bucket by id.
func (r QuotaReport) Bucket(id string) (QuotaBucket, bool) {
	for _, b := range r.Buckets {
		if b.ID == id {
			return b, true
		}
	}
	return QuotaBucket{}, false
}

// Lowest returns the bucket with the least remaining quota.
func (r QuotaReport) Lowest() (QuotaBucket, bool) {
	if len(r.Buckets) == 0 {
		return QuotaBucket{}, false
	}
	low := r.Buckets[0]
	for _, b := range r.Buckets[1:] {
		if b.Remaining < low.Remaining {
			low = b
		}
	}
	return low, true
}

// ClampPercent bounds p to [0, 100]. NaN becomes 0.
func ClampPercent(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(100, p))
}

// UnifiedStatus summarizes the Claude rate-limit state.
type UnifiedStatus string

const (
	StatusAllowed        UnifiedStatus = "allowed"
	StatusAllowedWarning UnifiedStatus = "allowed_warning"
	StatusRejected       UnifiedStatus = "rejected"
)

// Claude utilization thresholds, in percent.
const (
	ClaudeWarnThreshold   = 80
	ClaudeRejectThreshold = 100
)

// UnifiedStatusFor maps a utilization percentage to a status.
func UnifiedStatusFor(utilization float64) UnifiedStatus {
	switch {
	case utilization >= ClaudeRejectThreshold:
		return StatusRejected
	case utilization >= ClaudeWarnThreshold:
		return StatusAllowedWarning
	default:
		return StatusAllowed
	}
}

// ClaudeWindow is one rolling usage window, utilization in percent.
type ClaudeWindow struct {
	ResetAt     time.Time `json:"resetAt"`
	Name        string    `json:"name"`
	Utilization float64   `json:"utilization"`
}

// ClaudeUsage is the normalized payload of the Claude family.
type ClaudeUsage struct {
	Status  UnifiedStatus  `json:"status"`
	Windows []ClaudeWindow `json:"windows"`
}

// Peak returns the highest utilization over all windows.
func (u ClaudeUsage) Peak() float64 {
	peak := 0.0
	for _, w := range u.Windows {
		peak = math.Max(peak, w.Utilization)
	}
	return peak
}

// AsReport converts the Claude windows to buckets so they can share
// history recording and rendering with the other families.
func (u ClaudeUsage) AsReport() QuotaReport {
	r := QuotaReport{Buckets: make([]QuotaBucket, 0, len(u.Windows))}
	for _, w := range u.Windows {
		r.Buckets = append(r.Buckets, QuotaBucket{
			ID:        w.Name,
			Label:     w.Name,
			Remaining: ClampPercent(100 - w.Utilization),
			ResetAt:   w.ResetAt,
		})
	}
	return r
}

// QuotaUpdate is the event payload published when an account's quota record changes.
// Report is set only for successful records.
type QuotaUpdate struct {
	UpdatedAt  time.Time    `json:"updatedAt"`
	Report     *QuotaReport `json:"report,omitempty"`
	Family     string       `json:"family"`
	Account    string       `json:"account"`
	State      string       `json:"state"`
	Error      string       `json:"error,omitempty"`
	StatusCode int          `json:"statusCode,omitempty"`
	Seq        uint64       `json:"seq"`
}

// Snapshots flattens a successful update into one snapshot per bucket.
func (u QuotaUpdate) Snapshots() []QuotaSnapshot {
	if u.Report == nil {
		return nil
	}
	out := make([]QuotaSnapshot, 0, len(u.Report.Buckets))
	for _, b := range u.Report.Buckets {
		out = append(out, QuotaSnapshot{
			Family:     u.Family,
			Account:    u.Account,
			Bucket:     b.ID,
			Remaining:  b.Remaining,
			ResetAt:    b.ResetAt,
			CapturedAt: u.UpdatedAt,
		})
	}
	return out
}
