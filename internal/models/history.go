package models

import "time"

// TimeRange represents the selected history time range.
type TimeRange int

const (
	// TimeRange24Hours shows data from the last 24 hours.
	TimeRange24Hours TimeRange = iota
	// TimeRange7Days shows data from the last 7 days.
	TimeRange7Days
	// TimeRange30Days shows data from the last 30 days.
	TimeRange30Days
	// TimeRangeAllTime shows all available historical data.
	TimeRangeAllTime
)

// String returns the display name for a time range.
func (t TimeRange) String() string {
	switch t {
	case TimeRange24Hours:
		return "24 Hours"
	case TimeRange7Days:
		return "7 Days"
	case TimeRange30Days:
		return "30 Days"
	case TimeRangeAllTime:
		return "All Time"
	default:
		return "Unknown"
	}
}

// Days returns the number of days for the time range (0 = unlimited).
func (t TimeRange) Days() int {
	switch t {
	case TimeRange24Hours:
		return 1
	case TimeRange7Days:
		return 7
	case TimeRange30Days:
		return 30
	case TimeRangeAllTime:
		return 0
	default:
		return 30
	}
}

// Since returns the start of the range relative to now; zero for all time.
func (t TimeRange) Since(now time.Time) time.Time {
	days := t.Days()
	if days == 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -days)
}

// Next cycles to the next time range.
func (t TimeRange) Next() TimeRange {
	return (t + 1) % 4
}

// QuotaSnapshot is one recorded reading of a bucket (DB model).
type QuotaSnapshot struct {
	CapturedAt time.Time
	ResetAt    time.Time
	Family     string
	Account    string
	Bucket     string
	ID         int64
	Remaining  float64
}

// BucketHistory is the ordered series of snapshots for one bucket.
type BucketHistory struct {
	Family  string
	Account string
	Bucket  string
	Points  []QuotaSnapshot
}

// HasData returns true if the history has any points.
func (h *BucketHistory) HasData() bool {
	return len(h.Points) > 0
}

// Values returns the remaining percentages in order.
func (h *BucketHistory) Values() []float64 {
	out := make([]float64, len(h.Points))
	for i, p := range h.Points {
		out[i] = p.Remaining
	}
	return out
}

// Range returns the lowest and highest remaining percentage.
func (h *BucketHistory) Range() (low, high float64) {
	if len(h.Points) == 0 {
		return 0, 0
	}
	low, high = h.Points[0].Remaining, h.Points[0].Remaining
	for _, p := range h.Points[1:] {
		low = min(low, p.Remaining)
		high = max(high, p.Remaining)
	}
	return low, high
}

// ProjectionStatus indicates urgency level for quota depletion.
type ProjectionStatus string

const (
	ProjectionSafe     ProjectionStatus = "SAFE"
	ProjectionWarning  ProjectionStatus = "WARNING"
	ProjectionCritical ProjectionStatus = "CRITICAL"
	ProjectionUnknown  ProjectionStatus = "UNKNOWN"
)

// BucketProjection estimates when a bucket runs out at its recent rate.
type BucketProjection struct {
	DepleteAt         time.Time
	ResetAt           time.Time
	Status            ProjectionStatus
	Confidence        string
	Current           float64
	Rate              float64 // %/hour
	HoursLeft         float64
	TimeUntilReset    time.Duration
	DataPoints        int
	WillDepleteBefore bool
}
