package providers

import (
	"time"

	"github.com/j-veylop/cpamc/internal/models"
)

// Antigravity subscription tiers.
const (
	TierFree    = "FREE"
	TierPro     = "PRO"
	TierUnknown = "UNKNOWN"
)

// TierThreshold is the reset time threshold for tier detection.
// PRO quotas reset within a few hours, FREE quotas reset daily.
const TierThreshold = 6 * time.Hour

// detectTier guesses the Antigravity tier from the nearest reset time.
func detectTier(buckets []models.QuotaBucket, now time.Time) string {
	var nearest time.Time
	for _, b := range buckets {
		if b.ResetAt.IsZero() {
			continue
		}
		if nearest.IsZero() || b.ResetAt.Before(nearest) {
			nearest = b.ResetAt
		}
	}
	if nearest.IsZero() {
		return TierUnknown
	}

	d := nearest.Sub(now)
	if d < 0 {
		// A reset within the last hour still points at the hourly cadence
		if d > -time.Hour {
			return TierPro
		}
		return TierUnknown
	}
	if d <= TierThreshold {
		return TierPro
	}
	return TierFree
}
