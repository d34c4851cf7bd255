// Package app provides the main Bubble Tea application model and state management.
package app

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/notify"
	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/services"
)

// State is the UI state shared by the model and its renderers.
type State struct {
	LastUpdated time.Time
	Stats       *services.Stats

	loading       map[string]bool
	selected      map[quota.Family]string
	accounts      []models.Account
	notifications []notify.Notification
	mu            sync.RWMutex
}

// NewState creates an empty state with the initial load pending.
func NewState() *State {
	return &State{
		loading:  map[string]bool{"initial": true},
		selected: make(map[quota.Family]string),
	}
}

// SetLoading marks a resource as loading or done.
func (s *State) SetLoading(resource string, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loading {
		s.loading[resource] = true
		return
	}
	delete(s.loading, resource)
}

// AnyLoading returns true if any resource is currently loading.
func (s *State) AnyLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.loading) > 0
}

// LoadingResources returns the loading resources in sorted order.
func (s *State) LoadingResources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.loading))
	for r := range s.loading {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// SetStats updates the statistics.
func (s *State) SetStats(stats services.Stats, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stats = &stats
	s.LastUpdated = now
}

// GetStats returns the current statistics, nil before the first load.
func (s *State) GetStats() *services.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Stats
}

// SetAccounts replaces the account list and drops selections of removed accounts.
func (s *State) SetAccounts(accs []models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = slices.Clone(accs)
	for family, key := range s.selected {
		if !slices.ContainsFunc(accs, func(a models.Account) bool { return a.Key() == key }) {
			delete(s.selected, family)
		}
	}
}

// Accounts returns a copy of the account list.
func (s *State) Accounts() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.accounts)
}

// Select records the selected account of a family.
func (s *State) Select(family quota.Family, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		delete(s.selected, family)
		return
	}
	s.selected[family] = key
}

// Selected returns the selected account of a family.
func (s *State) Selected(family quota.Family) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.selected[family]
	return key, ok
}

// SetNotifications replaces the toast list with the channel's current one.
func (s *State) SetNotifications(list []notify.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = slices.Clone(list)
}

// Notifications returns a copy of the visible toasts.
func (s *State) Notifications() []notify.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.notifications)
}
