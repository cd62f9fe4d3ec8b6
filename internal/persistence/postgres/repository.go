// Package postgres implements the document store on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/daystats/internal/domain"
	"example.com/daystats/internal/events"
)

// Repository provides Postgres-backed persistence for ledger records, population
// statistics, profiles and outbox events.
type Repository struct {
	pool        *pgxpool.Pool
	eventsTopic string
}

// Option configures a Repository.
type Option func(*Repository)

// WithEventsTopic overrides the Kafka topic recorded for outbox events.
func WithEventsTopic(topic string) Option {
	return func(r *Repository) {
		if topic != "" {
			r.eventsTopic = topic
		}
	}
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool, eventsTopic: DefaultEventsTopic}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	_ domain.LedgerStore   = (*Repository)(nil)
	_ domain.ReadStore     = (*Repository)(nil)
	_ domain.ProfileWriter = (*Repository)(nil)
)

// Ping verifies connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return classify(r.pool.Ping(ctx))
}

// WithinTx implements domain.LedgerStore.
func (r *Repository) WithinTx(ctx context.Context, fn func(tx domain.LedgerTx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = fn(&ledgerTx{tx: tx, topic: r.eventsTopic}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

type ledgerTx struct {
	tx    pgx.Tx
	topic string
}

func (t *ledgerTx) InsertStepRecord(ctx context.Context, rec domain.StepRecord) (bool, error) {
	const stmt = `INSERT INTO steps (user_id, day, steps, start_ms, end_ms, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (user_id, day) DO NOTHING`

	tag, err := t.tx.Exec(ctx, stmt, rec.UserID, rec.Day, rec.Steps, rec.StartMillis, rec.EndMillis, rec.CreatedAt)
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *ledgerTx) ReplaceActivityRecord(ctx context.Context, rec domain.ActivityRecord) error {
	durations := rec.Durations
	if durations == nil {
		durations = map[string]int64{}
	}
	body, err := json.Marshal(durations)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO activities (user_id, day, durations, updated_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (user_id, day) DO UPDATE SET durations = EXCLUDED.durations, updated_at = EXCLUDED.updated_at`

	if _, err := t.tx.Exec(ctx, stmt, rec.UserID, rec.Day, body, rec.UpdatedAt); err != nil {
		return classify(err)
	}
	return nil
}

// contributeStmt folds one value into a day's statistic. Parameters are cast
// explicitly because the prepared statement carries no parameter types.
const contributeStmt = `INSERT INTO days AS d (day, sample_count, sum, sum_squares, mean, m2, updated_at)
        VALUES ($1::date, 1, $2::double precision, $3::double precision, $2::double precision, 0, NOW())
        ON CONFLICT (day) DO UPDATE SET
            sample_count = d.sample_count + 1,
            sum = d.sum + EXCLUDED.sum,
            sum_squares = d.sum_squares + EXCLUDED.sum_squares,
            mean = d.mean + (EXCLUDED.mean - d.mean) / (d.sample_count + 1),
            m2 = d.m2 + (EXCLUDED.mean - d.mean) * (EXCLUDED.mean - (d.mean + (EXCLUDED.mean - d.mean) / (d.sample_count + 1))),
            updated_at = EXCLUDED.updated_at
        RETURNING day, sample_count, sum, sum_squares, mean, m2, updated_at`

// Contribute folds value into the day's statistic with a single upsert; the
// row lock taken by ON CONFLICT serialises concurrent contributors.
func (t *ledgerTx) Contribute(ctx context.Context, day time.Time, value float64) (domain.PopulationStat, error) {
	stat, err := scanStat(t.tx.QueryRow(ctx, contributeStmt, domain.DayKey(day), value, value*value))
	if err != nil {
		return domain.PopulationStat{}, classify(err)
	}
	return stat, nil
}

func (t *ledgerTx) AppendEvent(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type: %s", event.Type)
	}

	aggregateID := fmt.Sprintf("%s:%s", event.UserID, event.Day.Format(time.DateOnly))
	dedupeKey := fmt.Sprintf("%s:%s", aggregateID, event.Type)

	const stmt = `INSERT INTO outbox (user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = t.tx.Exec(ctx, stmt,
		event.UserID,
		meta.AggregateType,
		aggregateID,
		event.Type,
		t.topic,
		SchemaSubject(t.topic, event.Type),
		meta.PartitionKeyFn(event),
		body,
		dedupeKey,
	)
	return classify(err)
}

// StepRecords implements domain.ReadStore.
func (r *Repository) StepRecords(ctx context.Context, userID string, from, to time.Time) ([]domain.StepRecord, error) {
	const query = `SELECT user_id, day, steps, start_ms, end_ms, created_at
        FROM steps WHERE user_id=$1 AND day BETWEEN $2 AND $3
        ORDER BY day`

	rows, err := r.pool.Query(ctx, query, userID, domain.DayKey(from), domain.DayKey(to))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	results := make([]domain.StepRecord, 0)
	for rows.Next() {
		var rec domain.StepRecord
		if err := rows.Scan(&rec.UserID, &rec.Day, &rec.Steps, &rec.StartMillis, &rec.EndMillis, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Day = domain.DayKey(rec.Day)
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return results, nil
}

// ActivityRecords implements domain.ReadStore.
func (r *Repository) ActivityRecords(ctx context.Context, userID string, from, to time.Time) ([]domain.ActivityRecord, error) {
	const query = `SELECT user_id, day, durations, updated_at
        FROM activities WHERE user_id=$1 AND day BETWEEN $2 AND $3
        ORDER BY day`

	rows, err := r.pool.Query(ctx, query, userID, domain.DayKey(from), domain.DayKey(to))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	results := make([]domain.ActivityRecord, 0)
	for rows.Next() {
		var (
			rec  domain.ActivityRecord
			body []byte
		)
		if err := rows.Scan(&rec.UserID, &rec.Day, &body, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Durations = map[string]int64{}
		if err := json.Unmarshal(body, &rec.Durations); err != nil {
			return nil, fmt.Errorf("decode durations for %s/%s: %w", rec.UserID, rec.Day.Format(time.DateOnly), err)
		}
		rec.Day = domain.DayKey(rec.Day)
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return results, nil
}

// PopulationStats implements domain.ReadStore.
func (r *Repository) PopulationStats(ctx context.Context, days []time.Time) ([]domain.PopulationStat, error) {
	if len(days) == 0 {
		return []domain.PopulationStat{}, nil
	}
	keys := make([]time.Time, 0, len(days))
	for _, day := range days {
		keys = append(keys, domain.DayKey(day))
	}

	const query = `SELECT day, sample_count, sum, sum_squares, mean, m2, updated_at
        FROM days WHERE day = ANY($1::date[])
        ORDER BY day`

	rows, err := r.pool.Query(ctx, query, keys)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	results := make([]domain.PopulationStat, 0, len(keys))
	for rows.Next() {
		stat, err := scanStat(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return results, nil
}

// Profile implements domain.ReadStore.
func (r *Repository) Profile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	const query = `SELECT user_id, name, email, picture, updated_at FROM users WHERE user_id=$1`

	var p domain.UserProfile
	err := r.pool.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.Name, &p.Email, &p.Picture, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &p, nil
}

// UpsertProfile implements domain.ProfileWriter.
func (r *Repository) UpsertProfile(ctx context.Context, profile domain.UserProfile) error {
	if strings.TrimSpace(profile.UserID) == "" {
		return domain.ErrInvalidUser
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now().UTC()
	}

	const stmt = `INSERT INTO users (user_id, name, email, picture, updated_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (user_id) DO UPDATE SET
            name = EXCLUDED.name,
            email = EXCLUDED.email,
            picture = EXCLUDED.picture,
            updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, stmt, profile.UserID, profile.Name, profile.Email, profile.Picture, profile.UpdatedAt)
	return classify(err)
}

func scanStat(row pgx.Row) (domain.PopulationStat, error) {
	var stat domain.PopulationStat
	if err := row.Scan(&stat.Day, &stat.Count, &stat.Sum, &stat.SumSquares, &stat.Mean, &stat.M2, &stat.UpdatedAt); err != nil {
		return domain.PopulationStat{}, err
	}
	stat.Day = domain.DayKey(stat.Day)
	return stat, nil
}

// Codes worth retrying: serialization_failure, deadlock_detected,
// too_many_connections, admin_shutdown, cannot_connect_now.
var transientCodes = map[string]struct{}{
	"40001": {},
	"40P01": {},
	"53300": {},
	"57P01": {},
	"57P03": {},
}

// classify marks connectivity and transient server errors with
// domain.ErrStoreUnavailable. Constraint violations and context errors pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := transientCodes[pgErr.Code]; ok {
			return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

// DefaultEventsTopic receives ledger events unless overridden.
const DefaultEventsTopic = "day_population_events"

// SchemaSubject names the registry subject for an event type on topic.
func SchemaSubject(topic, eventType string) string {
	return fmt.Sprintf("%s-%s", topic, eventType)
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	AggregateType  string
	PartitionKeyFn func(domain.Event) string
}

var eventCatalog = map[string]EventMetadata{
	events.TypeDayContributed: {
		AggregateType: "day",
		PartitionKeyFn: func(e domain.Event) string {
			return e.Day.Format(time.DateOnly)
		},
	},
	events.TypeActivitiesReplaced: {
		AggregateType: "activity",
		PartitionKeyFn: func(e domain.Event) string {
			return e.UserID
		},
	},
}
