// Package ledger implements idempotent per-(user, day) ingestion.
//
// A user's day contributes to the population statistic exactly once: the step
// record is insert-once and its creation is the only path that calls
// Contribute. The activity record is replaced on every ingestion so late
// provider data still reaches the user's own view.
package ledger

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"example.com/daystats/internal/domain"
	"example.com/daystats/internal/events"
	"example.com/daystats/internal/logging"
	"example.com/daystats/internal/observability"
)

// Outcome reports what an ingestion did to the population statistic.
type Outcome string

const (
	// OutcomeInserted means the day was new for the user and was contributed.
	OutcomeInserted Outcome = "inserted"
	// OutcomeSkipped means the day was already ledgered; only activities were refreshed.
	OutcomeSkipped Outcome = "skipped"
)

// Input is a single (user, day) ingestion.
type Input struct {
	UserID      string
	Day         time.Time
	Steps       int64
	Activities  map[string]int64
	StartMillis int64
	EndMillis   int64
}

// Result is returned by Ingest. Stat is set only for OutcomeInserted.
type Result struct {
	Outcome Outcome
	Stat    *domain.PopulationStat
}

// WriteListener is notified after every committed ledger write.
type WriteListener func(userID string, day time.Time, outcome Outcome)

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger overrides the logger used to report per-day failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithListener registers a callback run after each committed write.
func WithListener(fn WriteListener) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.listeners = append(l.listeners, fn)
		}
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Ledger gates population contributions on the existence of a step record.
type Ledger struct {
	store     domain.LedgerStore
	logger    zerolog.Logger
	listeners []WriteListener
	now       func() time.Time
}

// New constructs a Ledger.
func New(store domain.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: logging.Component("ledger"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ingest records one day for a user. The step-record insert, activity replace,
// population update and outbox events commit atomically; a concurrent
// ingestion of the same (user, day) observes the inserted row and is Skipped.
func (l *Ledger) Ingest(ctx context.Context, in Input) (Result, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return Result{}, domain.ErrInvalidUser
	}
	if in.Steps < 0 {
		return Result{}, domain.ErrInvalidSteps
	}

	day := domain.DayKey(in.Day)
	now := l.now().UTC()
	durations := make(map[string]int64, len(in.Activities))
	maps.Copy(durations, in.Activities)

	var res Result
	err := l.store.WithinTx(ctx, func(tx domain.LedgerTx) error {
		res = Result{}

		created, err := tx.InsertStepRecord(ctx, domain.StepRecord{
			UserID:      in.UserID,
			Day:         day,
			Steps:       in.Steps,
			StartMillis: in.StartMillis,
			EndMillis:   in.EndMillis,
			CreatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("insert step record: %w", err)
		}

		if err := tx.ReplaceActivityRecord(ctx, domain.ActivityRecord{
			UserID:    in.UserID,
			Day:       day,
			Durations: durations,
			UpdatedAt: now,
		}); err != nil {
			return fmt.Errorf("replace activity record: %w", err)
		}

		if err := tx.AppendEvent(ctx, domain.Event{
			Type:   events.TypeActivitiesReplaced,
			UserID: in.UserID,
			Day:    day,
			Payload: events.ActivitiesReplaced{
				UserID:     in.UserID,
				Day:        day,
				Durations:  durations,
				OccurredAt: now,
			},
		}); err != nil {
			return fmt.Errorf("append activities event: %w", err)
		}

		if !created {
			res.Outcome = OutcomeSkipped
			return nil
		}

		stat, err := tx.Contribute(ctx, day, float64(in.Steps))
		if err != nil {
			return fmt.Errorf("contribute: %w", err)
		}

		if err := tx.AppendEvent(ctx, domain.Event{
			Type:   events.TypeDayContributed,
			UserID: in.UserID,
			Day:    day,
			Payload: events.DayContributed{
				UserID:         in.UserID,
				Day:            day,
				Steps:          in.Steps,
				PopulationSize: stat.Count,
				Mean:           stat.Mean,
				SEM:            stat.SEM(),
				OccurredAt:     now,
			},
		}); err != nil {
			return fmt.Errorf("append contribution event: %w", err)
		}

		res = Result{Outcome: OutcomeInserted, Stat: &stat}
		return nil
	})
	if err != nil {
		observability.RecordLedgerFailure()
		return Result{}, err
	}

	observability.RecordLedgerOutcome(string(res.Outcome), now)
	for _, fn := range l.listeners {
		fn(in.UserID, day, res.Outcome)
	}
	return res, nil
}

// IngestSample ingests a normalised sample. A sample without steps fails with
// domain.ErrStepsUnknown and is not recorded.
func (l *Ledger) IngestSample(ctx context.Context, userID string, sample domain.DaySample) (Result, error) {
	if sample.Steps == nil {
		return Result{}, domain.ErrStepsUnknown
	}
	return l.Ingest(ctx, Input{
		UserID:      userID,
		Day:         sample.Day,
		Steps:       *sample.Steps,
		Activities:  sample.Activities,
		StartMillis: sample.StartMillis,
		EndMillis:   sample.EndMillis,
	})
}
