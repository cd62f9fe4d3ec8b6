// Package query serves a user's per-day records joined with the population
// statistic for each day.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"example.com/daystats/internal/domain"
	"example.com/daystats/internal/logging"
	"example.com/daystats/internal/observability"
)

// Cache is the optional result cache consulted by Query.
type Cache interface {
	Lookup(userID string, from, to time.Time) ([]domain.DayRecord, uint64, bool)
	Store(gen uint64, userID string, from, to time.Time, records []domain.DayRecord)
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables result caching.
func WithCache(c Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithLogger overrides the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service answers range queries against a ReadStore.
type Service struct {
	store  domain.ReadStore
	cache  Cache
	logger zerolog.Logger
}

// NewService constructs a Service.
func NewService(store domain.ReadStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logging.Component("query"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query returns one record per day in [start, end] on which the user has a
// step record, ordered by day. Both bounds are normalised to day keys and are
// inclusive. Days whose population statistic is missing carry nil mean and SEM.
func (s *Service) Query(ctx context.Context, userID string, start, end time.Time) ([]domain.DayRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	from, to := domain.DayKey(start), domain.DayKey(end)
	if from.After(to) {
		return nil, domain.ErrInvalidRange
	}

	began := time.Now()
	defer func() { observability.ObserveQuery(time.Since(began)) }()

	var gen uint64
	if s.cache != nil {
		cached, g, ok := s.cache.Lookup(userID, from, to)
		observability.RecordCacheLookup(ok)
		if ok {
			return cached, nil
		}
		gen = g
	}

	records, err := s.load(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Store(gen, userID, from, to, records)
	}
	return records, nil
}

func (s *Service) load(ctx context.Context, userID string, from, to time.Time) ([]domain.DayRecord, error) {
	steps, err := s.store.StepRecords(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load step records: %w", err)
	}
	if len(steps) == 0 {
		return []domain.DayRecord{}, nil
	}

	activities, err := s.store.ActivityRecords(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load activity records: %w", err)
	}
	activityByDay := make(map[int64]map[string]int64, len(activities))
	for _, rec := range activities {
		activityByDay[rec.Day.Unix()] = rec.Durations
	}

	days := make([]time.Time, 0, len(steps))
	for _, rec := range steps {
		days = append(days, rec.Day)
	}
	stats, err := s.store.PopulationStats(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("load population stats: %w", err)
	}
	statByDay := make(map[int64]domain.PopulationStat, len(stats))
	for _, stat := range stats {
		statByDay[stat.Day.Unix()] = stat
	}

	records := make([]domain.DayRecord, 0, len(steps))
	for _, rec := range steps {
		out := domain.DayRecord{
			Day:        rec.Day,
			Steps:      rec.Steps,
			Activities: activityByDay[rec.Day.Unix()],
		}
		if out.Activities == nil {
			out.Activities = map[string]int64{}
		}

		stat, ok := statByDay[rec.Day.Unix()]
		if ok && stat.Count > 0 {
			mean, sem := stat.Mean, stat.SEM()
			out.PopulationMean = &mean
			out.PopulationSEM = &sem
		} else {
			// every step record implies a contribution, so this is a store defect
			observability.RecordInvariantViolation()
			s.logger.Warn().
				Str("user_id", userID).
				Time("day", rec.Day).
				Msg("population statistic missing for ledgered day")
		}
		records = append(records, out)
	}
	return records, nil
}

// Profile returns the stored profile for userID.
func (s *Service) Profile(ctx context.Context, userID string) (domain.UserProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserProfile{}, domain.ErrInvalidUser
	}
	profile, err := s.store.Profile(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		return domain.UserProfile{}, domain.ErrUserNotFound
	}
	return *profile, nil
}
