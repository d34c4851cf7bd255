package app

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/skratchdot/open-golang/open"

	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/services"
)

const (
	// DefaultTickInterval is the default interval between ticks.
	DefaultTickInterval = 2 * time.Second

	// refreshTimeout bounds a refresh started from the UI.
	refreshTimeout = 2 * time.Minute
)

// openURL is replaced in tests.
var openURL = open.Run

// tickCmd returns a command that sends a TickMsg after the specified interval.
func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}

func defaultTickCmd() tea.Cmd {
	return tickCmd(DefaultTickInterval)
}

// subscribeToServicesCmd returns a command that subscribes to service events.
func subscribeToServicesCmd(mgr *services.Manager) tea.Cmd {
	ch, _ := mgr.Subscribe()
	return func() tea.Msg {
		return SubscriptionEventMsg{Channel: ch}
	}
}

// waitForServiceEventCmd returns a command that waits for the next service event.
func waitForServiceEventCmd(ch <-chan services.ServiceEvent) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-ch
		if !ok {
			return nil
		}
		return ServiceEventMsg{Event: event}
	}
}

// loadStatsCmd returns a command that loads statistics.
func loadStatsCmd(mgr *services.Manager) tea.Cmd {
	return func() tea.Msg {
		return StatsLoadedMsg{Stats: mgr.GetStats()}
	}
}

// loadAllCmd loads every family without forcing fresh records.
func loadAllCmd(mgr *services.Manager) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		return RefreshDoneMsg{Error: mgr.LoadAll(ctx)}
	}
}

// refreshCmd runs the refresh described by msg.
func refreshCmd(mgr *services.Manager, msg RefreshMsg) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		done := RefreshDoneMsg{Family: msg.Family, Key: msg.Key}
		switch {
		case msg.Family == "":
			done.Error = mgr.RefreshAll(ctx, msg.Force)
		case msg.Key == "":
			done.Error = mgr.RefreshFamily(ctx, msg.Family, msg.Force)
		case msg.Family == quota.FamilyClaude:
			_, done.Error = mgr.Claude().Refresh(ctx, msg.Key)
		default:
			_, done.Error = mgr.RefreshQuota(ctx, msg.Family, msg.Key)
		}
		return done
	}
}

// openURLCmd opens url in the default browser.
func openURLCmd(url string) tea.Cmd {
	return func() tea.Msg {
		return OpenURLResultMsg{URL: url, Error: openURL(url)}
	}
}
