package app

import (
	"time"

	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/services"
)

// TickMsg is sent periodically to refresh relative times and stats.
type TickMsg struct {
	Time time.Time
}

// SubscriptionEventMsg is the callback wrapper for service subscription.
type SubscriptionEventMsg struct {
	Channel chan services.ServiceEvent
}

// ServiceEventMsg wraps a service event from the service manager.
type ServiceEventMsg struct {
	Event services.ServiceEvent
}

// StatsLoadedMsg contains loaded statistics.
type StatsLoadedMsg struct {
	Stats services.Stats
}

// RefreshMsg requests a quota refresh. An empty Family refreshes every family;
// an empty Key refreshes the whole family.
type RefreshMsg struct {
	Family quota.Family
	Key    string
	Force  bool
}

// RefreshDoneMsg reports the end of a refresh started by RefreshMsg.
type RefreshDoneMsg struct {
	Error  error
	Family quota.Family
	Key    string
}

// QuotaChangedMsg carries one changed quota record to every tab.
type QuotaChangedMsg struct {
	Update models.QuotaUpdate
}

// QuotaClearedMsg tells the tabs that all records were dropped.
type QuotaClearedMsg struct{}

// AccountsChangedMsg carries the current account list to every tab.
type AccountsChangedMsg struct {
	Accounts []models.Account
}

// ErrorMsg represents a general error.
type ErrorMsg struct {
	Error   error
	Context string
}

// TabSwitchMsg requests switching to a specific tab.
type TabSwitchMsg struct {
	Tab int
}

// ToggleHelpMsg toggles the help display.
type ToggleHelpMsg struct{}

// SelectedAccountChangedMsg signals that a tab selected another account.
type SelectedAccountChangedMsg struct {
	Family quota.Family
	Key    string
}

// OpenURLMsg requests opening a URL in the browser.
type OpenURLMsg struct {
	URL string
}

// OpenURLResultMsg contains the result of opening a URL.
type OpenURLResultMsg struct {
	Error error
	URL   string
}
