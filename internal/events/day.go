// Package events defines the payloads emitted for ledger writes.
package events

import "time"

// Event types recorded in the outbox.
const (
	TypeDayContributed     = "day.contributed"
	TypeActivitiesReplaced = "activities.replaced"
)

// DayContributed is emitted when a user's day is accepted into the population statistic.
type DayContributed struct {
	UserID         string    `json:"user_id"`
	Day            time.Time `json:"day"`
	Steps          int64     `json:"steps"`
	PopulationSize int64     `json:"population_size"`
	Mean           float64   `json:"mean"`
	SEM            float64   `json:"std_error_of_mean"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// ActivitiesReplaced is emitted whenever a user's activity record for a day is rewritten.
type ActivitiesReplaced struct {
	UserID     string           `json:"user_id"`
	Day        time.Time        `json:"day"`
	Durations  map[string]int64 `json:"durations"`
	OccurredAt time.Time        `json:"occurred_at"`
}
