package services

import (
	"context"
	"fmt"

	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/services/accounts"
)

// ClaudeService tracks Claude usage windows in their own store.
type ClaudeService struct {
	m     *Manager
	coord *quota.Coordinator[models.ClaudeUsage]
	fetch fetchAccount[models.ClaudeUsage]
}

func newClaudeService(m *Manager) *ClaudeService {
	return &ClaudeService{
		m:     m,
		coord: quota.NewCoordinator(quota.NewStore[models.ClaudeUsage](quota.FamilyClaude), m.clock, m.metrics),
		fetch: m.providers.FetchClaude,
	}
}

// Table returns the current Claude records.
func (c *ClaudeService) Table() quota.Table[models.ClaudeUsage] {
	return c.coord.Store().Read(quota.FamilyClaude)
}

// Status returns the record of one account.
func (c *ClaudeService) Status(key string) quota.Status[models.ClaudeUsage] {
	return c.coord.Store().Get(quota.FamilyClaude, key)
}

// Accounts returns the enabled Claude accounts.
func (c *ClaudeService) Accounts() []models.Account {
	return c.m.accounts.ByFamily(quota.FamilyClaude)
}

// Load fetches Claude accounts without a fresh record.
func (c *ClaudeService) Load(ctx context.Context) error {
	return c.refreshAll(ctx, false)
}

// Refresh refetches one account. Other accounts' records are untouched and a
// fetch already running for key is superseded.
func (c *ClaudeService) Refresh(ctx context.Context, key string) (quota.Status[models.ClaudeUsage], error) {
	acc, ok := c.m.accounts.Get(key)
	if !ok {
		return c.Status(key), fmt.Errorf("%w: %s", ErrUnknownAccount, key)
	}
	if f, _ := accounts.FamilyOf(acc); f != quota.FamilyClaude {
		return c.Status(key), fmt.Errorf("%w: %s is not a claude account", ErrUnknownAccount, key)
	}
	return c.coord.Run(ctx, quota.FamilyClaude, key, true, func(ctx context.Context) (models.ClaudeUsage, error) {
		return c.fetch(ctx, acc)
	})
}

func (c *ClaudeService) refreshAll(ctx context.Context, force bool) error {
	return runAll(ctx, c.coord, quota.FamilyClaude, c.m.accounts.ByFamily(quota.FamilyClaude), force,
		c.m.cfg.MaxConcurrent, c.m.cfg.QuotaRefreshInterval, c.m.clock.Now(), c.fetch)
}
