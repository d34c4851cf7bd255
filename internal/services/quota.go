package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/j-veylop/cpamc/internal/logger"
	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/services/accounts"
	"github.com/j-veylop/cpamc/internal/services/providers"
)

// fetchAccount performs the provider call for one account.
type fetchAccount[P any] func(ctx context.Context, acc models.Account) (P, error)

// needsFetch decides whether a non-forced load fetches key: idle and failed
// records always do, successful ones once older than staleAfter.
// A zero staleAfter means a success never goes stale on its own.
//
// UpdatedAt is stamped when a fetch completes, after the poll tick that
// started it, so the last tenth of the interval already counts as stale.
// Otherwise every other tick would skip the record.
func needsFetch[P any](st quota.Status[P], now time.Time, staleAfter time.Duration) bool {
	switch st.State {
	case quota.StateIdle, quota.StateError:
		return true
	case quota.StateLoading:
		return false
	default:
		return staleAfter > 0 && now.Sub(st.UpdatedAt) >= staleAfter-staleAfter/10
	}
}

// runAll fetches accs with at most limit concurrent calls. Failures are stored
// as error records by the coordinator; the joined errors are returned after
// every account was attempted.
func runAll[P any](
	ctx context.Context,
	coord *quota.Coordinator[P],
	family quota.Family,
	accs []models.Account,
	force bool,
	limit int,
	staleAfter time.Duration,
	now time.Time,
	fetch fetchAccount[P],
) error {
	var g errgroup.Group
	g.SetLimit(max(limit, 1))

	errs := make([]error, len(accs))
	for i, acc := range accs {
		key := acc.Key()
		if !force && !needsFetch(coord.Store().Get(family, key), now, staleAfter) {
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			_, err := coord.Run(ctx, family, key, force, func(ctx context.Context) (P, error) {
				return fetch(ctx, acc)
			})
			if err != nil && !errors.Is(err, quota.ErrInFlight) {
				logger.Debug("quota fetch failed", "family", family, "account", key, "error", err)
				errs[i] = fmt.Errorf("%s/%s: %w", family, key, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// QuotaTable returns the current records of one of the four quota families.
func (m *Manager) QuotaTable(family quota.Family) quota.Table[models.QuotaReport] {
	return m.quota.Store().Read(family)
}

// QuotaStatus returns the record of one account.
func (m *Manager) QuotaStatus(family quota.Family, key string) quota.Status[models.QuotaReport] {
	return m.quota.Store().Get(family, key)
}

// FamilyAccounts returns the enabled accounts of family.
func (m *Manager) FamilyAccounts(family quota.Family) []models.Account {
	return m.accounts.ByFamily(family)
}

// LoadQuota fetches the family's accounts that have no fresh record.
// Accounts already loading are skipped.
func (m *Manager) LoadQuota(ctx context.Context, family quota.Family) error {
	return m.RefreshFamily(ctx, family, false)
}

// RefreshFamily fetches every enabled account of family. With force, records
// are refetched even when fresh, and running fetches are superseded.
func (m *Manager) RefreshFamily(ctx context.Context, family quota.Family, force bool) error {
	if family == quota.FamilyClaude {
		return m.claude.refreshAll(ctx, force)
	}
	if !providers.Supports(family) {
		return fmt.Errorf("unsupported quota family %q", family)
	}
	return runAll(ctx, m.quota, family, m.accounts.ByFamily(family), force,
		m.cfg.MaxConcurrent, m.cfg.QuotaRefreshInterval, m.clock.Now(),
		func(ctx context.Context, acc models.Account) (models.QuotaReport, error) {
			return m.providers.Fetch(ctx, family, acc)
		})
}

// RefreshQuota refetches one account, superseding any fetch in flight for it.
func (m *Manager) RefreshQuota(ctx context.Context, family quota.Family, key string) (quota.Status[models.QuotaReport], error) {
	if family == quota.FamilyClaude {
		return quota.Status[models.QuotaReport]{}, fmt.Errorf("use the Claude service to refresh %q", key)
	}
	acc, ok := m.accounts.Get(key)
	if !ok {
		return quota.Status[models.QuotaReport]{}, fmt.Errorf("%w: %s", ErrUnknownAccount, key)
	}
	if f, _ := accounts.FamilyOf(acc); f != family {
		return quota.Status[models.QuotaReport]{}, fmt.Errorf("%w: %s is not a %s account", ErrUnknownAccount, key, family)
	}
	return m.quota.Run(ctx, family, key, true, func(ctx context.Context) (models.QuotaReport, error) {
		return m.providers.Fetch(ctx, family, acc)
	})
}

// RefreshAll refreshes every family. Families run one after another; accounts
// within a family run concurrently up to MaxConcurrent.
func (m *Manager) RefreshAll(ctx context.Context, force bool) error {
	var errs []error
	for _, f := range quota.Families {
		if err := m.RefreshFamily(ctx, f, force); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.claude.refreshAll(ctx, force); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LoadAll loads every family without forcing.
func (m *Manager) LoadAll(ctx context.Context) error {
	return m.RefreshAll(ctx, false)
}
