package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"example.com/daystats/internal/api"
	"example.com/daystats/internal/auth"
	"example.com/daystats/internal/cache"
	"example.com/daystats/internal/config"
	"example.com/daystats/internal/consumer"
	"example.com/daystats/internal/ledger"
	"example.com/daystats/internal/logging"
	"example.com/daystats/internal/normalize"
	"example.com/daystats/internal/outbox"
	persistence "example.com/daystats/internal/persistence/postgres"
	"example.com/daystats/internal/query"
	httptransport "example.com/daystats/internal/transport/http"
)

func main() {
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

	ledgerOpts := []ledger.Option{}
	queryOpts := []query.Option{}
	var queryCache *cache.QueryCache
	if cfg.CacheEnabled {
		queryCache, err = cache.NewQueryCache(cache.Config{MaxEntries: cfg.CacheMaxEntries, TTL: cfg.CacheTTL})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create query cache")
		}
		defer queryCache.Close()
		ledgerOpts = append(ledgerOpts, ledger.WithListener(func(string, time.Time, ledger.Outcome) {
			queryCache.Invalidate()
		}))
		queryOpts = append(queryOpts, query.WithCache(queryCache))
	}

	l := ledger.New(repo, ledgerOpts...)
	queries := query.NewService(repo, queryOpts...)
	normalizer := normalize.New(cfg.ActivityCatalog, normalize.WithPlaceholders(cfg.PlaceholderDataEnabled))

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()
	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	handler := api.NewHandler(api.Dependencies{
		Normalizer: normalizer,
		Ingester:   l,
		Querier:    queries,
		Profiles:   repo,
		Health:     repo.Ping,
	})

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Auth:        auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, auth.SkipPublic),
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   cfg.RateLimit,
		Logger:      logging.Component("http"),
	}, handler.RegisterRoutes)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dispatcher.Start(gctx)
		return nil
	})

	if queryCache != nil {
		// per-replica group: every replica sees every ledger event
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.KafkaBrokers,
			GroupID:        "daystats-api-cache-" + uuid.NewString(),
			Topic:          cfg.EventsTopic,
			StartOffset:    kafka.LastOffset,
			MinBytes:       1,
			MaxBytes:       1e6,
			CommitInterval: time.Second,
		})
		proc := consumer.NewProcessor(reader, consumer.NewInvalidationHandler(queryCache), consumer.WithLogger(logging.Component("cache_invalidation")))
		g.Go(func() error {
			defer reader.Close()
			if err := proc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info().Str("address", cfg.HTTPAddress).Msg("daystats api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("graceful shutdown failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("daystats api stopped with error")
	}
	dispatcher.Wait()
}
