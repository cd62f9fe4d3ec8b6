package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMalformedPayload marks a provider payload that cannot be normalised.
	ErrMalformedPayload = errors.New("malformed sample payload")
	// ErrStoreUnavailable wraps transient store failures; callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStepsUnknown is returned for a day without step data when placeholders are disabled.
	ErrStepsUnknown = errors.New("step count unknown")
	// ErrInvalidUser is returned for a blank user identifier.
	ErrInvalidUser = errors.New("user id is required")
	// ErrInvalidSteps is returned for negative step counts.
	ErrInvalidSteps = errors.New("step count must be >= 0")
	// ErrInvalidRange is returned when a query window ends before it starts.
	ErrInvalidRange = errors.New("start day must not be after end day")
	// ErrUserNotFound is returned when no profile exists for a user.
	ErrUserNotFound = errors.New("user not found")
)

// Event is an outbox entry recorded in the same transaction as a ledger write.
type Event struct {
	Type    string
	UserID  string
	Day     time.Time
	Payload any
}

// LedgerTx groups the writes performed for a single (user, day) ingestion.
// All calls made through one LedgerTx commit or roll back together.
type LedgerTx interface {
	// InsertStepRecord stores rec unless a record for (rec.UserID, rec.Day)
	// already exists. It reports whether the row was created.
	InsertStepRecord(ctx context.Context, rec StepRecord) (bool, error)
	ReplaceActivityRecord(ctx context.Context, rec ActivityRecord) error
	// Contribute atomically folds value into the day's population statistic
	// and returns the updated statistic.
	Contribute(ctx context.Context, day time.Time, value float64) (PopulationStat, error)
	AppendEvent(ctx context.Context, event Event) error
}

// LedgerStore runs fn inside a store transaction.
type LedgerStore interface {
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// ReadStore serves the range query path. Bounds are inclusive day keys.
type ReadStore interface {
	StepRecords(ctx context.Context, userID string, from, to time.Time) ([]StepRecord, error)
	ActivityRecords(ctx context.Context, userID string, from, to time.Time) ([]ActivityRecord, error)
	PopulationStats(ctx context.Context, days []time.Time) ([]PopulationStat, error)
	// Profile returns nil when the user is unknown.
	Profile(ctx context.Context, userID string) (*UserProfile, error)
}

// ProfileWriter stores profiles on behalf of the identity collaborator.
type ProfileWriter interface {
	UpsertProfile(ctx context.Context, profile UserProfile) error
}
