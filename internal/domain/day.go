// Package domain defines the data model shared by the ingestion and query paths.
package domain

import (
	"time"

	"example.com/daystats/internal/stats"
)

// DayKey returns the UTC midnight identifying the calendar day that contains t.
func DayKey(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKeyFromMillis normalises an epoch-millisecond timestamp to its day key.
func DayKeyFromMillis(ms int64) time.Time {
	return DayKey(time.UnixMilli(ms))
}

// StepRecord is the insert-once ledger row for a (user, day).
type StepRecord struct {
	UserID      string
	Day         time.Time
	Steps       int64
	StartMillis int64
	EndMillis   int64
	CreatedAt   time.Time
}

// ActivityRecord maps activity names to durations in milliseconds for a (user, day).
// Unlike StepRecord it is replaced on every ingestion.
type ActivityRecord struct {
	UserID    string
	Day       time.Time
	Durations map[string]int64
	UpdatedAt time.Time
}

// PopulationStat holds the running statistic of all users' step counts for one day.
type PopulationStat struct {
	Day time.Time
	stats.Running
	UpdatedAt time.Time
}

// UserProfile is the display information written by the identity collaborator.
type UserProfile struct {
	UserID    string
	Name      string
	Email     string
	Picture   string
	UpdatedAt time.Time
}

// DaySample is one normalised bucket of provider data.
type DaySample struct {
	Day         time.Time
	Steps       *int64
	Activities  map[string]int64
	StartMillis int64
	EndMillis   int64
}

// DayRecord is one row of a range query: the caller's own data joined with the
// population statistic for the same day.
type DayRecord struct {
	Day            time.Time
	Steps          int64
	Activities     map[string]int64
	PopulationMean *float64
	PopulationSEM  *float64
}
