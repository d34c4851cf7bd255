// Package accounts tracks the gateway's credentials and watches the local
// auth directory for credential reloads.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/fsnotify/fsnotify"

	"github.com/j-veylop/cpamc/internal/logger"
	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/quota"
)

// DefaultDebounce is how long the watcher waits for auth file writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Lister returns the credentials registered with the gateway.
type Lister interface {
	ListAccounts(ctx context.Context) ([]models.Account, error)
}

// Event represents an account service event.
type Event struct {
	Error    error
	Accounts []models.Account
	Removed  []string
	Type     EventType
}

// EventType defines the type of account event.
type EventType int

const (
	// EventAccountsLoaded is sent after the first successful listing.
	EventAccountsLoaded EventType = iota
	// EventAccountsChanged means the account set differs from the previous listing.
	EventAccountsChanged
	// EventAuthDirChanged means credential files changed on disk.
	EventAuthDirChanged
	// EventError reports a failed listing or watcher error.
	EventError
)

// Config holds configuration for the accounts service.
type Config struct {
	Clock    quartz.Clock
	AuthDir  string
	Debounce time.Duration
}

// Service keeps the current account list.
type Service struct {
	lister        Lister
	clock         quartz.Clock
	watcher       *fsnotify.Watcher
	debounceTimer *quartz.Timer
	eventChan     chan Event
	stopChan      chan struct{}
	authDir       string
	accounts      []models.Account
	debounce      time.Duration
	loaded        bool
	closeOnce     sync.Once
	mu            sync.RWMutex
}

// New creates the service. The auth directory watcher starts with Start.
func New(lister Lister, cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Service{
		lister:    lister,
		clock:     cfg.Clock,
		authDir:   cfg.AuthDir,
		debounce:  cfg.Debounce,
		eventChan: make(chan Event, 100),
		stopChan:  make(chan struct{}),
	}
}

// Events returns the event channel for subscribing to account changes.
func (s *Service) Events() <-chan Event {
	return s.eventChan
}

// FamilyOf maps an account's provider to its quota family.
func FamilyOf(acc models.Account) (quota.Family, bool) {
	p := strings.ToLower(strings.TrimSpace(acc.Provider))
	switch p {
	case "gemini", "gemini_cli", "geminicli":
		return quota.FamilyGeminiCLI, true
	case "anthropic":
		return quota.FamilyClaude, true
	}
	return quota.ParseFamily(p)
}

// Reload lists the accounts again. It reports whether the account set changed.
func (s *Service) Reload(ctx context.Context) (bool, error) {
	if s.lister == nil {
		return false, errors.New("no account source configured")
	}
	listed, err := s.lister.ListAccounts(ctx)
	if err != nil {
		s.sendEvent(Event{Type: EventError, Error: err})
		return false, fmt.Errorf("failed to list accounts: %w", err)
	}

	next := make([]models.Account, 0, len(listed))
	for _, acc := range listed {
		if _, ok := FamilyOf(acc); ok {
			next = append(next, acc)
		}
	}
	slices.SortFunc(next, func(a, b models.Account) int { return strings.Compare(a.Key(), b.Key()) })

	s.mu.Lock()
	prev := s.accounts
	first := !s.loaded
	changed := !models.SameSet(prev, next)
	s.accounts = next
	s.loaded = true
	s.mu.Unlock()

	switch {
	case first:
		s.sendEvent(Event{Type: EventAccountsLoaded, Accounts: slices.Clone(next)})
	case changed:
		s.sendEvent(Event{
			Type:     EventAccountsChanged,
			Accounts: slices.Clone(next),
			Removed:  models.Removed(prev, next),
		})
	}
	return changed && !first, nil
}

// Accounts returns a copy of all accounts.
func (s *Service) Accounts() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.accounts)
}

// ByFamily returns the enabled accounts of family.
func (s *Service) ByFamily(family quota.Family) []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Account
	for _, acc := range s.accounts {
		if f, ok := FamilyOf(acc); ok && f == family && !acc.Disabled {
			out = append(out, acc)
		}
	}
	return out
}

// Get finds an account by key.
func (s *Service) Get(key string) (models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, acc := range s.accounts {
		if acc.Key() == key {
			return acc, true
		}
	}
	return models.Account{}, false
}

// Count returns the number of known accounts.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// Start watches the auth directory when one is configured.
func (s *Service) Start() error {
	if s.authDir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.authDir); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error("failed to close watcher", "error", closeErr)
		}
		return fmt.Errorf("failed to watch %s: %w", s.authDir, err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go s.watchLoop(watcher)
	logger.Info("watching auth directory", "dir", s.authDir)
	return nil
}

// watchLoop handles file system events with debouncing.
func (s *Service) watchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !isCredentialFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.scheduleReload()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.sendEvent(Event{Type: EventError, Error: err})

		case <-s.stopChan:
			return
		}
	}
}

// scheduleReload coalesces bursts of file events into one EventAuthDirChanged.
func (s *Service) scheduleReload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = s.clock.AfterFunc(s.debounce, func() {
		select {
		case <-s.stopChan:
			return
		default:
		}
		s.sendEvent(Event{Type: EventAuthDirChanged})
	}, "accounts", "debounce")
}

func isCredentialFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(strings.ToLower(base), ".json") && !strings.HasPrefix(base, ".")
}

// sendEvent sends an event to the event channel non-blocking.
func (s *Service) sendEvent(event Event) {
	select {
	case s.eventChan <- event:
	default:
		// Channel full, drop oldest event
		select {
		case <-s.eventChan:
		default:
		}
		select {
		case s.eventChan <- event:
		default:
		}
	}
}

// Close stops the file watcher and cleans up resources.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopChan)

		s.mu.Lock()
		if s.debounceTimer != nil {
			s.debounceTimer.Stop()
		}
		w := s.watcher
		s.mu.Unlock()

		if w != nil {
			err = w.Close()
		}
	})
	return err
}
