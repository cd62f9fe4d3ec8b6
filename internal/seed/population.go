package seed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"example.com/daystats/internal/domain"
	"example.com/daystats/internal/ledger"
)

const defaultPicture = "https://lh3.googleusercontent.com/-XdUIqdMkCWA/AAAAAAAAAAI/AAAAAAAAAAA/4252rscbv5M/photo.jpg"

// BatchIngester is the ledger surface used by Populate.
type BatchIngester interface {
	IngestBatch(ctx context.Context, userID string, samples []domain.DaySample) ledger.BatchResult
}

// Config controls a Populate run.
type Config struct {
	Users       int
	Days        int
	Start       time.Time
	Seed        uint64
	Concurrency int
}

// Summary reports what Populate wrote.
type Summary struct {
	Users    int
	Inserted int
	Skipped  int
	Failed   int
}

// Populate creates cfg.Users profiles and ingests cfg.Days consecutive days of
// steps for each of them starting at cfg.Start. Series are generated up front
// from a single seeded source so a given seed always yields the same data.
func Populate(ctx context.Context, l BatchIngester, profiles domain.ProfileWriter, cfg Config, logger zerolog.Logger) (Summary, error) {
	if cfg.Users <= 0 || cfg.Days <= 0 {
		return Summary{}, fmt.Errorf("users and days must be positive (got %d, %d)", cfg.Users, cfg.Days)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	start := domain.DayKey(cfg.Start)

	gen := NewGenerator(cfg.Seed)
	type user struct {
		id    string
		index int
		steps []int64
	}
	users := make([]user, cfg.Users)
	for i := range users {
		steps, err := gen.Steps(gen.Band(), cfg.Days)
		if err != nil {
			return Summary{}, err
		}
		users[i] = user{id: uuid.NewString(), index: i, steps: steps}
	}

	results := make([]ledger.BatchResult, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for i, u := range users {
		g.Go(func() error {
			name := strconv.Itoa(u.index)
			if err := profiles.UpsertProfile(gctx, domain.UserProfile{
				UserID:  u.id,
				Name:    name,
				Email:   name + "@example.com",
				Picture: defaultPicture,
			}); err != nil {
				return fmt.Errorf("upsert profile %s: %w", u.id, err)
			}

			samples := make([]domain.DaySample, len(u.steps))
			for d, steps := range u.steps {
				day := start.AddDate(0, 0, d)
				samples[d] = domain.DaySample{
					Day:         day,
					Steps:       &steps,
					StartMillis: day.UnixMilli(),
					EndMillis:   day.AddDate(0, 0, 1).UnixMilli(),
				}
			}
			results[i] = l.IngestBatch(gctx, u.id, samples)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	summary := Summary{Users: len(users)}
	for _, res := range results {
		summary.Inserted += res.Inserted
		summary.Skipped += res.Skipped
		summary.Failed += len(res.Failures)
	}
	logger.Info().
		Int("users", summary.Users).
		Int("inserted", summary.Inserted).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("population seeded")
	return summary, nil
}
