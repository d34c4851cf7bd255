// Package services provides service orchestration for the TUI and the status server.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/coder/quartz"

	"github.com/j-veylop/cpamc/internal/config"
	"github.com/j-veylop/cpamc/internal/db"
	"github.com/j-veylop/cpamc/internal/eventbus"
	"github.com/j-veylop/cpamc/internal/logger"
	"github.com/j-veylop/cpamc/internal/management"
	"github.com/j-veylop/cpamc/internal/metrics"
	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/notify"
	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/services/accounts"
	"github.com/j-veylop/cpamc/internal/services/projection"
	"github.com/j-veylop/cpamc/internal/services/providers"
	"github.com/j-veylop/cpamc/internal/ttlcache"
)

type (
	// AccountsChangedEvent is emitted when the accounts list changes.
	AccountsChangedEvent struct {
		Accounts []models.Account
	}

	// QuotaUpdatedEvent is emitted when the quota record of an account changes.
	QuotaUpdatedEvent struct {
		Update models.QuotaUpdate
	}

	// QuotaClearedEvent is emitted when the quota tables were cleared.
	QuotaClearedEvent struct{}

	// NotificationsChangedEvent carries the current toast list.
	NotificationsChangedEvent struct {
		Notifications []notify.Notification
	}

	// ErrorEvent is emitted when an error occurs in any service.
	ErrorEvent struct {
		Error   error
		Service string
	}
)

// ServiceEvent is the interface implemented by all service events.
type ServiceEvent interface {
	isServiceEvent()
}

func (AccountsChangedEvent) isServiceEvent()      {}
func (QuotaUpdatedEvent) isServiceEvent()         {}
func (QuotaClearedEvent) isServiceEvent()         {}
func (NotificationsChangedEvent) isServiceEvent() {}
func (ErrorEvent) isServiceEvent()                {}

// ErrUnknownAccount is returned for account keys the gateway does not list.
var ErrUnknownAccount = errors.New("unknown account")

// historyPruneInterval is how often the poll loop prunes old history.
const historyPruneInterval = time.Hour

type options struct {
	clock     quartz.Clock
	lister    accounts.Lister
	caller    providers.Caller
	sink      notify.Sink
	endpoints *providers.Endpoints
	breaker   providers.BreakerConfig
}

// Option customizes the manager's collaborators.
type Option func(*options)

// WithClock sets the clock for every time-dependent component.
func WithClock(c quartz.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLister replaces the management API as the account source.
func WithLister(l accounts.Lister) Option {
	return func(o *options) { o.lister = l }
}

// WithCaller replaces the management API as the proxy for provider calls.
func WithCaller(c providers.Caller) Option {
	return func(o *options) { o.caller = c }
}

// WithSink sets the desktop sink for warning and error notifications.
func WithSink(s notify.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithEndpoints overrides the provider endpoints.
func WithEndpoints(e providers.Endpoints) Option {
	return func(o *options) { o.endpoints = &e }
}

// WithBreaker overrides the per-family circuit breaker settings.
func WithBreaker(b providers.BreakerConfig) Option {
	return func(o *options) { o.breaker = b }
}

// Manager owns every component and routes events between them.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config
	clock  quartz.Clock

	bus           *eventbus.Bus
	notifications *notify.Channel
	metrics       *metrics.Metrics
	projects      *ttlcache.Cache
	client        *management.Client
	accounts      *accounts.Service
	providers     *providers.Providers
	projection    *projection.Service
	database      *db.DB

	quota  *quota.Coordinator[models.QuotaReport]
	claude *ClaudeService

	alerts      *alerts
	dispatch    *dispatcher
	subscribers []chan ServiceEvent
	lastPrune   time.Time

	closeOnce sync.Once
	mu        sync.RWMutex
	wg        sync.WaitGroup
}

// NewManager creates a new service manager.
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = quartz.NewReal()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		clock:    o.clock,
		bus:      eventbus.New(),
		metrics:  metrics.New(),
		dispatch: newDispatcher(),
	}

	notifyOpts := []notify.Option{
		notify.WithDefaultDuration(cfg.NotificationDuration),
		notify.WithEmitter(m.bus),
	}
	if o.sink != nil {
		notifyOpts = append(notifyOpts, notify.WithSink(o.sink))
	} else if cfg.DesktopNotifications {
		notifyOpts = append(notifyOpts, notify.WithSink(notify.DesktopSink{}))
	}
	m.notifications = notify.New(m.clock, notifyOpts...)
	m.alerts = newAlerts(m.notifications)

	m.projects = ttlcache.New(cfg.ProjectIDTTL, m.clock)
	m.metrics.RegisterCache("project_id", m.projects)

	if o.lister == nil || o.caller == nil {
		m.client = management.New(ctx, cfg.ManagementURL, cfg.ManagementKey, cfg.RequestTimeout)
		if o.lister == nil {
			o.lister = m.client
		}
		if o.caller == nil {
			o.caller = m.client
		}
	}

	m.accounts = accounts.New(o.lister, accounts.Config{Clock: m.clock, AuthDir: cfg.AuthDir})

	provOpts := providers.Options{
		Clock:           m.clock,
		ProjectCache:    m.projects,
		OnBreakerChange: m.metrics.SetBreakerState,
		Breaker:         o.breaker,
	}
	if o.endpoints != nil {
		provOpts.Endpoints = *o.endpoints
	}
	m.providers = providers.New(o.caller, provOpts)

	if cfg.DatabasePath != "" {
		database, err := db.New(cfg.DatabasePath)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		m.database = database
		m.projection = projection.New(database, m.clock)
	} else {
		m.projection = projection.New(nil, m.clock)
	}

	m.quota = quota.NewCoordinator(quota.NewStore[models.QuotaReport](quota.Families...), m.clock, m.metrics)
	m.claude = newClaudeService(m)

	m.quota.Store().OnChange(func(c quota.Change[models.QuotaReport]) {
		m.publishChange(c.Family, c.Cleared, updatesFrom(c, func(r models.QuotaReport) models.QuotaReport { return r }))
	})
	m.claude.coord.Store().OnChange(func(c quota.Change[models.ClaudeUsage]) {
		m.publishChange(c.Family, c.Cleared, updatesFrom(c, models.ClaudeUsage.AsReport))
	})

	m.wireBus()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.dispatch.run(func(ev busEvent) { m.bus.Emit(ev.name, ev.payload) })
	}()

	return m, nil
}

// wireBus subscribes the manager's consumers to the event bus.
func (m *Manager) wireBus() {
	m.bus.Subscribe(eventbus.QuotaChanged, m.projection.HandleUpdate)
	m.bus.Subscribe(eventbus.QuotaChanged, func(payload any) {
		u, ok := payload.(models.QuotaUpdate)
		if !ok {
			return
		}
		if u.Report != nil {
			for _, b := range u.Report.Buckets {
				m.metrics.SetRemaining(u.Family, u.Account, b.ID, b.Remaining)
			}
		}
		m.alerts.check(u)
		m.broadcast(QuotaUpdatedEvent{Update: u})
	})
	m.bus.Subscribe(eventbus.QuotaCleared, func(any) {
		m.alerts.reset()
		m.broadcast(QuotaClearedEvent{})
	})
	notificationsChanged := func(any) {
		m.broadcast(NotificationsChangedEvent{Notifications: m.notifications.List()})
	}
	m.bus.Subscribe(eventbus.NotificationShown, notificationsChanged)
	m.bus.Subscribe(eventbus.NotificationRemoved, notificationsChanged)
	m.bus.Subscribe(eventbus.AccountsChanged, func(payload any) {
		accs, _ := payload.([]models.Account)
		m.broadcast(AccountsChangedEvent{Accounts: accs})
	})
}

// publishChange runs inside the store's change hook; delivery happens on the dispatcher.
func (m *Manager) publishChange(family quota.Family, cleared bool, updates []models.QuotaUpdate) {
	if cleared {
		m.dispatch.push(eventbus.QuotaCleared, family)
		return
	}
	for _, u := range updates {
		m.dispatch.push(eventbus.QuotaChanged, u)
	}
}

// updatesFrom converts the changed keys of c into event payloads.
func updatesFrom[P any](c quota.Change[P], report func(P) models.QuotaReport) []models.QuotaUpdate {
	keys := c.ChangedKeys()
	out := make([]models.QuotaUpdate, 0, len(keys))
	for _, k := range keys {
		st := c.Next.Get(k)
		u := models.QuotaUpdate{
			Family:     string(c.Family),
			Account:    k,
			State:      st.State.String(),
			Error:      st.Error,
			StatusCode: st.StatusCode,
			Seq:        st.Seq,
			UpdatedAt:  st.UpdatedAt,
		}
		if st.State == quota.StateSuccess && st.Payload != nil {
			r := report(*st.Payload)
			u.Report = &r
		}
		out = append(out, u)
	}
	return out
}

// Start begins watching the auth directory, loads the accounts and starts polling.
func (m *Manager) Start() error {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.routeEvents()
	}()

	if err := m.accounts.Start(); err != nil {
		logger.Warn("auth directory watch disabled", "error", err)
	}

	if _, err := m.ReloadAccounts(m.ctx); err != nil {
		logger.Error("initial account listing failed", "error", err)
	}

	if m.cfg.QuotaRefreshInterval > 0 {
		m.clock.TickerFunc(m.ctx, m.cfg.QuotaRefreshInterval, func() error {
			m.poll(m.ctx)
			return nil
		}, "manager", "poll")
	}
	return nil
}

// poll refreshes stale records of every family and prunes old history.
func (m *Manager) poll(ctx context.Context) {
	if err := m.RefreshAll(ctx, false); err != nil {
		logger.Debug("poll finished with errors", "error", err)
	}

	now := m.clock.Now()
	if m.database == nil || m.cfg.HistoryRetention <= 0 || now.Sub(m.lastPrune) < historyPruneInterval {
		return
	}
	m.lastPrune = now
	if n, err := m.database.Prune(ctx, now.Add(-m.cfg.HistoryRetention)); err != nil {
		logger.Warn("failed to prune history", "error", err)
	} else if n > 0 {
		logger.Info("pruned quota history", "rows", n)
		if err := m.database.Compact(ctx); err != nil {
			logger.Warn("failed to compact history", "error", err)
		}
	}
}

// routeEvents reacts to account service events.
func (m *Manager) routeEvents() {
	for {
		select {
		case event := <-m.accounts.Events():
			m.handleAccountEvent(event)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) handleAccountEvent(event accounts.Event) {
	switch event.Type {
	case accounts.EventAccountsLoaded:
		m.bus.Emit(eventbus.AccountsChanged, event.Accounts)
		m.loadInBackground()

	case accounts.EventAccountsChanged:
		m.invalidate(event.Removed, false)
		m.bus.Emit(eventbus.AccountsChanged, event.Accounts)
		m.loadInBackground()

	case accounts.EventAuthDirChanged:
		logger.Info("credential files changed, reloading accounts")
		changed, err := m.ReloadAccounts(m.ctx)
		if err != nil {
			logger.Error("account reload failed", "error", err)
			return
		}
		m.projects.Clear()
		// A changed set queues EventAccountsChanged, which clears and loads.
		if !changed {
			m.invalidate(nil, true)
			m.loadInBackground()
		}

	case accounts.EventError:
		logger.Error("accounts service error", "error", event.Error)
		m.broadcast(ErrorEvent{Service: "accounts", Error: event.Error})
	}
}

// invalidate drops every quota record and the project ids of removed
// accounts. With all set, the whole project id cache is cleared.
func (m *Manager) invalidate(removed []string, all bool) {
	m.quota.Store().ClearAll()
	m.claude.coord.Store().ClearAll()
	m.metrics.ResetRemaining()

	if all {
		m.projects.Clear()
	}
	for _, key := range removed {
		m.projects.DeleteOwner(key)
		for _, f := range append([]quota.Family{quota.FamilyClaude}, quota.Families...) {
			m.projection.Forget(string(f), key)
		}
	}
}

func (m *Manager) loadInBackground() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.LoadAll(m.ctx); err != nil {
			logger.Debug("quota load finished with errors", "error", err)
		}
	}()
}

// ReloadAccounts lists the gateway accounts again.
func (m *Manager) ReloadAccounts(ctx context.Context) (bool, error) {
	return m.accounts.Reload(ctx)
}

// broadcast sends an event to all subscribers.
func (m *Manager) broadcast(event ServiceEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber channel full, skip
		}
	}
}

// Subscribe creates a channel for receiving service events.
// Returns a tea.Cmd that can be used in Bubble Tea's Init or Update.
func (m *Manager) Subscribe() (chan ServiceEvent, tea.Cmd) {
	ch := make(chan ServiceEvent, 100)

	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()

	return ch, WaitForEvent(ch)
}

// WaitForEvent returns a tea.Cmd for the next event on a channel.
func WaitForEvent(ch <-chan ServiceEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return ev
	}
}

// Unsubscribe removes a subscriber channel.
func (m *Manager) Unsubscribe(ch chan ServiceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Stats summarizes the quota tables.
type Stats struct {
	AccountCount int
	Loaded       int
	Loading      int
	Errors       int
	CachedIDs    int
}

// GetStats returns aggregated statistics.
func (m *Manager) GetStats() Stats {
	s := Stats{
		AccountCount: m.accounts.Count(),
		CachedIDs:    m.projects.Len(),
	}
	count := func(state quota.State) {
		switch state {
		case quota.StateSuccess:
			s.Loaded++
		case quota.StateLoading:
			s.Loading++
		case quota.StateError:
			s.Errors++
		}
	}
	for _, f := range quota.Families {
		for _, st := range m.quota.Store().Read(f) {
			count(st.State)
		}
	}
	for _, st := range m.claude.Table() {
		count(st.State)
	}
	return s
}

// History returns the recorded series of one bucket over r.
func (m *Manager) History(ctx context.Context, family, account, bucket string, r models.TimeRange) (*models.BucketHistory, error) {
	if m.database == nil {
		return nil, errors.New("history database not configured")
	}
	since := r.Since(m.clock.Now())
	if r.Days() == 1 {
		return m.database.History(ctx, family, account, bucket, since)
	}
	return m.database.HourlyHistory(ctx, family, account, bucket, since)
}

// HistorySeries lists every recorded bucket series.
func (m *Manager) HistorySeries(ctx context.Context) ([]db.SeriesKey, error) {
	if m.database == nil {
		return nil, nil
	}
	return m.database.Series(ctx, "")
}

// Project estimates when a bucket runs out, from the last day of history.
func (m *Manager) Project(ctx context.Context, family, account string, bucket models.QuotaBucket) (*models.BucketProjection, error) {
	return m.projection.Project(ctx, family, account, bucket, 24*time.Hour)
}

// Config returns the active configuration.
func (m *Manager) Config() *config.Config { return m.cfg }

// Accounts returns the accounts service.
func (m *Manager) Accounts() *accounts.Service { return m.accounts }

// Bus returns the event bus.
func (m *Manager) Bus() *eventbus.Bus { return m.bus }

// Notifications returns the notification channel.
func (m *Manager) Notifications() *notify.Channel { return m.notifications }

// Metrics returns the metrics registry.
func (m *Manager) Metrics() *metrics.Metrics { return m.metrics }

// ProjectCache returns the project id cache.
func (m *Manager) ProjectCache() *ttlcache.Cache { return m.projects }

// Claude returns the Claude usage service.
func (m *Manager) Claude() *ClaudeService { return m.claude }

// Projection returns the projection service.
func (m *Manager) Projection() *projection.Service { return m.projection }

// Database returns the database instance for direct access.
func (m *Manager) Database() *db.DB { return m.database }

// Close closes the manager and all its services.
func (m *Manager) Close() error {
	var errs []error
	m.closeOnce.Do(func() {
		m.cancel()
		m.dispatch.close()
		m.wg.Wait()
		m.notifications.ClearAll()

		m.mu.Lock()
		for _, sub := range m.subscribers {
			close(sub)
		}
		m.subscribers = nil
		m.mu.Unlock()

		if err := m.accounts.Close(); err != nil {
			errs = append(errs, err)
		}
		if m.database != nil {
			if err := m.database.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
