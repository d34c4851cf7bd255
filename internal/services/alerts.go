package services

import (
	"fmt"
	"sync"

	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/notify"
)

// Alert thresholds, in remaining percent.
const (
	criticalThreshold = 5.0
	resetJump         = 20.0
)

type bucketKey struct {
	family, account, bucket string
}

// alerts raises notifications when a bucket crosses below the critical
// threshold or jumps back up after a reset.
type alerts struct {
	channel  *notify.Channel
	previous map[bucketKey]float64
	mu       sync.Mutex
}

func newAlerts(ch *notify.Channel) *alerts {
	return &alerts{channel: ch, previous: make(map[bucketKey]float64)}
}

func (a *alerts) check(u models.QuotaUpdate) {
	if u.Report == nil {
		return
	}

	a.mu.Lock()
	var critical, reset []models.QuotaBucket
	for _, b := range u.Report.Buckets {
		k := bucketKey{u.Family, u.Account, b.ID}
		old, seen := a.previous[k]
		a.previous[k] = b.Remaining
		if !seen {
			continue
		}
		// Only notify if we crossed the threshold downwards
		if b.Remaining < criticalThreshold && old >= criticalThreshold {
			critical = append(critical, b)
		}
		if b.Remaining-old > resetJump {
			reset = append(reset, b)
		}
	}
	a.mu.Unlock()

	for _, b := range critical {
		a.channel.Warning(fmt.Sprintf("Critical quota: %s %s is below 5%% (%.1f%%)", u.Account, bucketName(b), b.Remaining))
	}
	for _, b := range reset {
		a.channel.Success(fmt.Sprintf("Quota reset: %s %s is back to %.0f%%", u.Account, bucketName(b), b.Remaining))
	}
}

func (a *alerts) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.previous)
}

func bucketName(b models.QuotaBucket) string {
	if b.Label != "" {
		return b.Label
	}
	return b.ID
}
