package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/j-veylop/cpamc/internal/models"
)

var timeFormats = []string{
	sqliteTimeLayout,
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

func parseTimeString(s string) (time.Time, bool) {
	for _, format := range timeFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

// InsertSnapshots stores snapshots in one transaction.
func (db *DB) InsertSnapshots(ctx context.Context, snaps []models.QuotaSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO quota_snapshots (family, account, bucket, remaining, reset_at, captured_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, s := range snaps {
		captured := s.CapturedAt
		if captured.IsZero() {
			captured = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			s.Family, s.Account, s.Bucket, s.Remaining,
			nullTime(s.ResetAt), formatTime(captured),
		); err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshots: %w", err)
	}
	return nil
}

// History returns the snapshots of one bucket captured at or after since,
// oldest first. A zero since returns everything.
func (db *DB) History(ctx context.Context, family, account, bucket string, since time.Time) (*models.BucketHistory, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM quota_snapshots
		WHERE family = ? AND account = ? AND bucket = ? AND captured_at >= ?
		ORDER BY captured_at ASC, id ASC
	`, family, account, bucket, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	h := &models.BucketHistory{Family: family, Account: account, Bucket: bucket}
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		h.Points = append(h.Points, s)
	}
	return h, rows.Err()
}

// HourlyHistory averages a bucket's snapshots per hour, for long ranges.
func (db *DB) HourlyHistory(ctx context.Context, family, account, bucket string, since time.Time) (*models.BucketHistory, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			strftime('%Y-%m-%d %H:00:00', captured_at) AS hour,
			AVG(remaining),
			MAX(reset_at)
		FROM quota_snapshots
		WHERE family = ? AND account = ? AND bucket = ? AND captured_at >= ?
		GROUP BY hour
		ORDER BY hour ASC
	`, family, account, bucket, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	h := &models.BucketHistory{Family: family, Account: account, Bucket: bucket}
	for rows.Next() {
		var hour string
		var resetAt sql.NullString
		s := models.QuotaSnapshot{Family: family, Account: account, Bucket: bucket}
		if err := rows.Scan(&hour, &s.Remaining, &resetAt); err != nil {
			return nil, fmt.Errorf("failed to scan hourly history: %w", err)
		}
		if t, ok := parseTimeString(hour); ok {
			s.CapturedAt = t
		}
		if resetAt.Valid {
			if t, ok := parseTimeString(resetAt.String); ok {
				s.ResetAt = t
			}
		}
		h.Points = append(h.Points, s)
	}
	return h, rows.Err()
}

// Latest returns the most recent snapshot of a bucket.
func (db *DB) Latest(ctx context.Context, family, account, bucket string) (models.QuotaSnapshot, bool, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+historyColumns+`
		FROM quota_snapshots
		WHERE family = ? AND account = ? AND bucket = ?
		ORDER BY captured_at DESC, id DESC
		LIMIT 1
	`, family, account, bucket)
	s, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return models.QuotaSnapshot{}, false, nil
	}
	if err != nil {
		return models.QuotaSnapshot{}, false, err
	}
	return s, true, nil
}

// SeriesKey identifies one recorded bucket.
type SeriesKey struct {
	Family  string
	Account string
	Bucket  string
}

// Series lists the recorded (family, account, bucket) triples, sorted.
// An empty family lists every family.
func (db *DB) Series(ctx context.Context, family string) ([]SeriesKey, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT family, account, bucket
		FROM quota_snapshots
		WHERE ? = '' OR family = ?
		ORDER BY family, account, bucket
	`, family, family)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []SeriesKey
	for rows.Next() {
		var k SeriesKey
		if err := rows.Scan(&k.Family, &k.Account, &k.Bucket); err != nil {
			return nil, fmt.Errorf("failed to scan series: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Prune deletes snapshots captured before the cutoff and returns the count.
func (db *DB) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM quota_snapshots WHERE captured_at < ?", formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// CountSnapshots returns the number of stored snapshots.
func (db *DB) CountSnapshots(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM quota_snapshots").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (models.QuotaSnapshot, error) {
	var s models.QuotaSnapshot
	var resetAt sql.NullString
	var captured string
	if err := row.Scan(&s.ID, &s.Family, &s.Account, &s.Bucket, &s.Remaining, &resetAt, &captured); err != nil {
		if err == sql.ErrNoRows {
			return s, err
		}
		return s, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	if t, ok := parseTimeString(captured); ok {
		s.CapturedAt = t
	}
	if resetAt.Valid {
		if t, ok := parseTimeString(resetAt.String); ok {
			s.ResetAt = t
		}
	}
	return s, nil
}
