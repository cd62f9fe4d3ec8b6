package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"example.com/daystats/internal/config"
	"example.com/daystats/internal/ledger"
	"example.com/daystats/internal/logging"
	persistence "example.com/daystats/internal/persistence/postgres"
	"example.com/daystats/internal/seed"
)

func main() {
	var (
		users       = flag.Int("users", 1000, "number of synthetic users to create")
		days        = flag.Int("days", 365, "number of consecutive days of steps per user")
		startDate   = flag.String("start", "2016-12-12", "first day to generate (YYYY-MM-DD, UTC)")
		seedValue   = flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
		concurrency = flag.Int("concurrency", 8, "users ingested in parallel")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	start, err := time.Parse(time.DateOnly, *startDate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -start: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool, persistence.WithEventsTopic(cfg.EventsTopic))
	l := ledger.New(repo, ledger.WithLogger(logging.Component("ledger")))

	if _, err := seed.Populate(ctx, l, repo, seed.Config{
		Users:       *users,
		Days:        *days,
		Start:       start,
		Seed:        *seedValue,
		Concurrency: *concurrency,
	}, logging.Component("seed")); err != nil {
		logger.Error().Err(err).Msg("seeding failed")
		os.Exit(1)
	}
}
