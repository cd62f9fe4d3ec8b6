// Package memory provides an in-process document store for tests and local development.
package memory

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/daystats/internal/domain"
)

type userDay struct {
	userID string
	day    int64
}

// Store keeps every record family in maps guarded by a single RWMutex.
// Ledger transactions hold the write lock for their whole duration, which
// makes the insert-if-absent check and the statistic update atomic.
type Store struct {
	mu         sync.RWMutex
	steps      map[userDay]domain.StepRecord
	activities map[userDay]domain.ActivityRecord
	days       map[int64]domain.PopulationStat
	users      map[string]domain.UserProfile
	events     []domain.Event
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		steps:      make(map[userDay]domain.StepRecord),
		activities: make(map[userDay]domain.ActivityRecord),
		days:       make(map[int64]domain.PopulationStat),
		users:      make(map[string]domain.UserProfile),
	}
}

var (
	_ domain.LedgerStore   = (*Store)(nil)
	_ domain.ReadStore     = (*Store)(nil)
	_ domain.ProfileWriter = (*Store)(nil)
)

// WithinTx implements domain.LedgerStore. Writes are staged and applied only
// when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &tx{
		store:      s,
		steps:      make(map[userDay]domain.StepRecord),
		activities: make(map[userDay]domain.ActivityRecord),
		days:       make(map[int64]domain.PopulationStat),
	}
	if err := fn(tx); err != nil {
		return err
	}

	maps.Copy(s.steps, tx.steps)
	maps.Copy(s.activities, tx.activities)
	maps.Copy(s.days, tx.days)
	s.events = append(s.events, tx.events...)
	return nil
}

type tx struct {
	store      *Store
	steps      map[userDay]domain.StepRecord
	activities map[userDay]domain.ActivityRecord
	days       map[int64]domain.PopulationStat
	events     []domain.Event
}

func (t *tx) InsertStepRecord(_ context.Context, rec domain.StepRecord) (bool, error) {
	key := userDay{rec.UserID, rec.Day.Unix()}
	if _, ok := t.steps[key]; ok {
		return false, nil
	}
	if _, ok := t.store.steps[key]; ok {
		return false, nil
	}
	t.steps[key] = rec
	return true, nil
}

func (t *tx) ReplaceActivityRecord(_ context.Context, rec domain.ActivityRecord) error {
	rec.Durations = maps.Clone(rec.Durations)
	t.activities[userDay{rec.UserID, rec.Day.Unix()}] = rec
	return nil
}

func (t *tx) Contribute(_ context.Context, day time.Time, value float64) (domain.PopulationStat, error) {
	key := day.Unix()
	stat, ok := t.days[key]
	if !ok {
		stat, ok = t.store.days[key]
	}
	if !ok {
		stat = domain.PopulationStat{Day: day}
	}
	stat.Add(value)
	stat.UpdatedAt = time.Now().UTC()
	t.days[key] = stat
	return stat, nil
}

func (t *tx) AppendEvent(_ context.Context, event domain.Event) error {
	t.events = append(t.events, event)
	return nil
}

// StepRecords implements domain.ReadStore.
func (s *Store) StepRecords(_ context.Context, userID string, from, to time.Time) ([]domain.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StepRecord, 0)
	for key, rec := range s.steps {
		if key.userID == userID && inRange(rec.Day, from, to) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// ActivityRecords implements domain.ReadStore.
func (s *Store) ActivityRecords(_ context.Context, userID string, from, to time.Time) ([]domain.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ActivityRecord, 0)
	for key, rec := range s.activities {
		if key.userID == userID && inRange(rec.Day, from, to) {
			rec.Durations = maps.Clone(rec.Durations)
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// PopulationStats implements domain.ReadStore.
func (s *Store) PopulationStats(_ context.Context, days []time.Time) ([]domain.PopulationStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PopulationStat, 0, len(days))
	for _, day := range days {
		if stat, ok := s.days[day.Unix()]; ok {
			out = append(out, stat)
		}
	}
	return out, nil
}

// Profile implements domain.ReadStore.
func (s *Store) Profile(_ context.Context, userID string) (*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

// UpsertProfile implements domain.ProfileWriter.
func (s *Store) UpsertProfile(_ context.Context, profile domain.UserProfile) error {
	if strings.TrimSpace(profile.UserID) == "" {
		return domain.ErrInvalidUser
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[profile.UserID] = profile
	return nil
}

// Events returns a copy of every committed outbox event.
func (s *Store) Events() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Event(nil), s.events...)
}

// DayStat returns the population statistic for a day, if any.
func (s *Store) DayStat(day time.Time) (domain.PopulationStat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stat, ok := s.days[domain.DayKey(day).Unix()]
	return stat, ok
}

func inRange(day, from, to time.Time) bool {
	return !day.Before(from) && !day.After(to)
}
