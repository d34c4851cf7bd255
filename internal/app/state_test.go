package app

import (
	"slices"
	"testing"
	"time"

	"github.com/j-veylop/cpamc/internal/models"
	"github.com/j-veylop/cpamc/internal/notify"
	"github.com/j-veylop/cpamc/internal/quota"
	"github.com/j-veylop/cpamc/internal/services"
)

func TestNewState(t *testing.T) {
	s := NewState()
	if !s.AnyLoading() {
		t.Error("the initial load should be pending")
	}
	if s.GetStats() != nil {
		t.Error("stats should be nil before the first load")
	}
}

func TestState_Loading(t *testing.T) {
	s := NewState()
	s.SetLoading("initial", false)
	if s.AnyLoading() {
		t.Fatal("AnyLoading should be false")
	}

	s.SetLoading("kiro", true)
	s.SetLoading("codex/a.json", true)
	if got := s.LoadingResources(); !slices.Equal(got, []string{"codex/a.json", "kiro"}) {
		t.Errorf("LoadingResources() = %v", got)
	}

	s.SetLoading("kiro", false)
	s.SetLoading("codex/a.json", false)
	if s.AnyLoading() {
		t.Error("everything finished")
	}
}

func TestState_Stats(t *testing.T) {
	s := NewState()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetStats(services.Stats{AccountCount: 4, Loaded: 3}, now)

	st := s.GetStats()
	if st == nil || st.AccountCount != 4 || st.Loaded != 3 {
		t.Errorf("GetStats() = %+v", st)
	}
	if !s.LastUpdated.Equal(now) {
		t.Errorf("LastUpdated = %v", s.LastUpdated)
	}
}

func TestState_SelectionSurvivesOnlyForListedAccounts(t *testing.T) {
	s := NewState()
	s.SetAccounts([]models.Account{{Name: "a.json"}, {Name: "b.json"}})
	s.Select(quota.FamilyCodex, "a.json")
	s.Select(quota.FamilyKiro, "b.json")

	s.SetAccounts([]models.Account{{Name: "b.json"}})

	if _, ok := s.Selected(quota.FamilyCodex); ok {
		t.Error("selection of a removed account should be dropped")
	}
	if key, ok := s.Selected(quota.FamilyKiro); !ok || key != "b.json" {
		t.Errorf("Selected(kiro) = %q, %v", key, ok)
	}

	s.Select(quota.FamilyKiro, "")
	if _, ok := s.Selected(quota.FamilyKiro); ok {
		t.Error("empty key should clear the selection")
	}
	if got := s.Accounts(); len(got) != 1 || got[0].Name != "b.json" {
		t.Errorf("Accounts() = %+v", got)
	}
}

func TestState_NotificationsAreCopied(t *testing.T) {
	s := NewState()
	list := []notify.Notification{{ID: "1", Message: "hello"}}
	s.SetNotifications(list)
	list[0].Message = "changed"

	got := s.Notifications()
	if len(got) != 1 || got[0].Message != "hello" {
		t.Errorf("Notifications() = %+v", got)
	}
	got[0].Message = "mutated"
	if s.Notifications()[0].Message != "hello" {
		t.Error("Notifications() should return a copy")
	}
}
