// Package projection records quota history and estimates when buckets run out.
package projection

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/j-veylop/cpamc/internal/logger"
	"github.com/j-veylop/cpamc/internal/models"
)

const (
	lowConfThreshold = 6
	medConfThreshold = 24

	// sessionJump is the rise in remaining percent treated as a quota reset.
	sessionJump = 5.0
	// minRecordInterval suppresses duplicate readings of an unchanged bucket.
	minRecordInterval = time.Minute
)

// Store persists and reads snapshots.
type Store interface {
	InsertSnapshots(ctx context.Context, snaps []models.QuotaSnapshot) error
	History(ctx context.Context, family, account, bucket string, since time.Time) (*models.BucketHistory, error)
}

type seriesKey struct {
	family, account, bucket string
}

type lastReading struct {
	at        time.Time
	remaining float64
}

// Service records successful quota readings and projects depletion.
type Service struct {
	store Store
	clock quartz.Clock

	last  map[seriesKey]lastReading
	cache map[seriesKey]*models.BucketProjection
	mu    sync.RWMutex
}

// New creates the service. A nil clock uses the real clock.
func New(store Store, clock quartz.Clock) *Service {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Service{
		store: store,
		clock: clock,
		last:  make(map[seriesKey]lastReading),
		cache: make(map[seriesKey]*models.BucketProjection),
	}
}

// HandleUpdate is the quota.changed subscriber. Non-update payloads and
// unsuccessful records are ignored.
func (s *Service) HandleUpdate(payload any) {
	u, ok := payload.(models.QuotaUpdate)
	if !ok || u.Report == nil {
		return
	}
	if _, err := s.Record(context.Background(), u); err != nil {
		logger.Warn("failed to record quota history", "family", u.Family, "account", u.Account, "error", err)
	}
}

// Record stores the buckets of u that changed or were last recorded over a
// minute ago. It returns the number of stored snapshots.
func (s *Service) Record(ctx context.Context, u models.QuotaUpdate) (int, error) {
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = s.clock.Now()
	}

	s.mu.Lock()
	var fresh []models.QuotaSnapshot
	for _, snap := range u.Snapshots() {
		k := seriesKey{snap.Family, snap.Account, snap.Bucket}
		prev, seen := s.last[k]
		if seen && prev.remaining == snap.Remaining && snap.CapturedAt.Sub(prev.at) < minRecordInterval {
			continue
		}
		s.last[k] = lastReading{at: snap.CapturedAt, remaining: snap.Remaining}
		delete(s.cache, k)
		fresh = append(fresh, snap)
	}
	s.mu.Unlock()

	if len(fresh) == 0 || s.store == nil {
		return 0, nil
	}
	if err := s.store.InsertSnapshots(ctx, fresh); err != nil {
		return 0, fmt.Errorf("failed to store snapshots: %w", err)
	}
	return len(fresh), nil
}

// Forget drops the in-memory state of an account, e.g. after it was removed.
func (s *Service) Forget(family, account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.last {
		if k.family == family && k.account == account {
			delete(s.last, k)
		}
	}
	for k := range s.cache {
		if k.family == family && k.account == account {
			delete(s.cache, k)
		}
	}
}

// Project estimates depletion of one bucket from its history over window.
func (s *Service) Project(ctx context.Context, family, account string, bucket models.QuotaBucket, window time.Duration) (*models.BucketProjection, error) {
	k := seriesKey{family, account, bucket.ID}
	s.mu.RLock()
	cached := s.cache[k]
	s.mu.RUnlock()
	if cached != nil && cached.Current == bucket.Remaining {
		return cached, nil
	}

	now := s.clock.Now()
	var points []models.QuotaSnapshot
	if s.store != nil {
		h, err := s.store.History(ctx, family, account, bucket.ID, now.Add(-window))
		if err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
		points = h.Points
	}

	proj := Calculate(points, bucket.Remaining, bucket.ResetAt, now)

	s.mu.Lock()
	s.cache[k] = proj
	s.mu.Unlock()
	return proj, nil
}

// CurrentSession returns the points after the last detected reset.
func CurrentSession(points []models.QuotaSnapshot) []models.QuotaSnapshot {
	start := 0
	for i := 1; i < len(points); i++ {
		if DetectSessionBoundary(points[i].Remaining, points[i-1].Remaining) {
			start = i
		}
	}
	return points[start:]
}

// DetectSessionBoundary reports whether the remaining quota jumped up enough
// to mean the bucket was reset.
func DetectSessionBoundary(newPercent, oldPercent float64) bool {
	return newPercent > oldPercent+sessionJump
}

// ConsumptionRate returns the %/hour drop across points; zero when there is
// not enough data or the bucket did not drop.
func ConsumptionRate(points []models.QuotaSnapshot) float64 {
	if len(points) < 2 {
		return 0
	}
	first, last := points[0], points[len(points)-1]
	hours := last.CapturedAt.Sub(first.CapturedAt).Hours()
	if hours <= 0 {
		return 0
	}
	rate := (first.Remaining - last.Remaining) / hours
	if rate < 0 {
		return 0
	}
	return rate
}

// Calculate projects a bucket from its recorded points.
func Calculate(points []models.QuotaSnapshot, current float64, resetAt, now time.Time) *models.BucketProjection {
	session := CurrentSession(points)
	rate := ConsumptionRate(session)

	proj := &models.BucketProjection{
		Current:    current,
		Rate:       rate,
		ResetAt:    resetAt,
		DataPoints: len(session),
		Status:     models.ProjectionUnknown,
	}
	if !resetAt.IsZero() {
		proj.TimeUntilReset = max(resetAt.Sub(now), 0)
	}

	switch {
	case len(session) < lowConfThreshold:
		proj.Confidence = "low"
	case len(session) < medConfThreshold:
		proj.Confidence = "medium"
	default:
		proj.Confidence = "high"
	}

	if rate <= 0 {
		proj.HoursLeft = math.Inf(1)
		if len(session) >= 2 {
			proj.Status = models.ProjectionSafe
		}
		return proj
	}

	proj.HoursLeft = current / rate
	proj.DepleteAt = now.Add(time.Duration(proj.HoursLeft * float64(time.Hour)))

	if resetAt.IsZero() {
		return proj
	}
	proj.WillDepleteBefore = current < rate*proj.TimeUntilReset.Hours()
	switch {
	case !proj.WillDepleteBefore:
		proj.Status = models.ProjectionSafe
	case proj.HoursLeft < 1:
		proj.Status = models.ProjectionCritical
	default:
		proj.Status = models.ProjectionWarning
	}
	return proj
}
