package db

// sqliteTimeLayout matches SQLite's datetime() output so range filters and
// strftime grouping work on stored values. Times are always stored in UTC.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// historyColumns is the column list shared by the snapshot readers.
const historyColumns = "id, family, account, bucket, remaining, reset_at, captured_at"
