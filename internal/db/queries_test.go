package db

import (
	"context"
	"testing"
	"time"

	"github.com/j-veylop/cpamc/internal/models"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func snap(family, account, bucket string, remaining float64, at time.Time) models.QuotaSnapshot {
	return models.QuotaSnapshot{
		Family:     family,
		Account:    account,
		Bucket:     bucket,
		Remaining:  remaining,
		CapturedAt: at,
		ResetAt:    base.Add(5 * time.Hour),
	}
}

func TestInsertAndHistory(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()
	ctx := context.Background()

	err := db.InsertSnapshots(ctx, []models.QuotaSnapshot{
		snap("codex", "a.json", "primary", 90, base.Add(2*time.Minute)),
		snap("codex", "a.json", "primary", 100, base),
		snap("codex", "a.json", "secondary", 50, base),
		snap("codex", "b.json", "primary", 10, base),
	})
	if err != nil {
		t.Fatalf("InsertSnapshots() error = %v", err)
	}

	h, err := db.History(ctx, "codex", "a.json", "primary", time.Time{})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(h.Points) != 2 {
		t.Fatalf("got %d points, want 2", len(h.Points))
	}
	if h.Points[0].Remaining != 100 || h.Points[1].Remaining != 90 {
		t.Errorf("points not ordered by capture time: %+v", h.Values())
	}
	if !h.Points[0].CapturedAt.Equal(base) {
		t.Errorf("CapturedAt = %v, want %v", h.Points[0].CapturedAt, base)
	}
	if !h.Points[0].ResetAt.Equal(base.Add(5 * time.Hour)) {
		t.Errorf("ResetAt = %v", h.Points[0].ResetAt)
	}
	if h.Points[0].ID == 0 {
		t.Error("ID not scanned")
	}
}

func TestHistory_Since(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()
	ctx := context.Background()

	_ = db.InsertSnapshots(ctx, []models.QuotaSnapshot{
		snap("kiro", "k", "CREDIT", 80, base.Add(-48*time.Hour)),
		snap("kiro", "k", "CREDIT", 70, base),
	})

	h, err := db.History(ctx, "kiro", "k", "CREDIT", base.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Points) != 1 || h.Points[0].Remaining != 70 {
		t.Errorf("History(since) = %+v", h.Points)
	}
}

func TestHistory_Empty(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	h, err := db.History(context.Background(), "codex", "none", "primary", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if h.HasData() {
		t.Error("expected no data")
	}
}

func TestInsertSnapshots_NilResetAt(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()
	ctx := context.Background()

	s := snap("codex", "a", "primary", 42, base)
	s.ResetAt = time.Time{}
	if err := db.InsertSnapshots(ctx, []models.QuotaSnapshot{s}); err != nil {
		t.Fatal(err)
	}
	got, ok, err := db.Latest(ctx, "codex", "a", "primary")
	if err != nil || !ok {
		t.Fatalf("Latest() = %v, %v", ok, err)
	}
	if !got.ResetAt.IsZero() {
		t.Errorf("ResetAt = %v, want zero", got.ResetAt)
	}
}

func TestHourlyHistory(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()
	ctx := context.Background()

	_ = db.InsertSnapshots(ctx, []models.QuotaSnapshot{
		snap("antigravity", "a", "gemini-pro", 100, base),
		snap("antigravity", "a", "gemini-pro", 80, base.Add(20*time.Minute)),
		snap("antigravity", "a", "gemini-pro", 60, base.Add(70*time.Minute)),
	})

	h, err := db.HourlyHistory(ctx, "antigravity", "a", "gemini-pro", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Points) != 2 {
		t.Fatalf("got %d hourly points, want 2", len(h.Points))
	}
	if h.Points[0].Remaining != 90 {
		t.Errorf("first hour average = %v, want 90", h.Points[0].Remaining)
	}
	if !h.Points[1].CapturedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("second hour = %v", h.Points[1].CapturedAt)
	}
}

func TestLatest_Missing(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	_, ok, err := db.Latest(context.Background(), "codex", "x", "y")
	if err != nil || ok {
		t.Errorf("Latest() = %v, %v; want miss", ok, err)
	}
}

func TestSeries(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()
	ctx := context.Background()

	_ = db.InsertSnapshots(ctx, []models.QuotaSnapshot{
		snap("codex", "b", "primary", 1, base),
		snap("codex", "a", "primary", 1, base),
		snap("codex", "a", "primary", 2, base.Add(time.Minute)),
		snap("kiro", "k", "CREDIT", 1, base),
	})

	all, err := db.Series(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("Series(\"\") = %+v", all)
	}
	if all[0] != (SeriesKey{"codex", "a", "primary"}) {
		t.Errorf("first series = %+v", all[0])
	}

	codex, _ := db.Series(ctx, "codex")
	if len(codex) != 2 {
		t.Errorf("Series(codex) = %+v", codex)
	}
}

func TestPrune(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()
	ctx := context.Background()

	_ = db.InsertSnapshots(ctx, []models.QuotaSnapshot{
		snap("codex", "a", "primary", 1, base.Add(-72*time.Hour)),
		snap("codex", "a", "primary", 2, base.Add(-25*time.Hour)),
		snap("codex", "a", "primary", 3, base),
	})

	n, err := db.Prune(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Prune() removed %d, want 2", n)
	}
	if c, _ := db.CountSnapshots(ctx); c != 1 {
		t.Errorf("CountSnapshots() = %d, want 1", c)
	}
}

func TestInsertSnapshots_Empty(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	if err := db.InsertSnapshots(context.Background(), nil); err != nil {
		t.Errorf("InsertSnapshots(nil) error = %v", err)
	}
}
