// Package cache holds range query results between ledger writes.
package cache

import (
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"

	"example.com/daystats/internal/domain"
	"example.com/daystats/internal/logging"
)

// Config sizes the cache.
type Config struct {
	MaxEntries int64
	TTL        time.Duration
}

// QueryCache stores range query results keyed by (generation, user, window).
// Any ledger write bumps the generation, so entries computed before the write
// are never served again; they age out through TTL and admission pressure.
type QueryCache struct {
	client     *ristretto.Cache[string, []domain.DayRecord]
	ttl        time.Duration
	generation atomic.Uint64
	logger     zerolog.Logger
}

// NewQueryCache constructs a QueryCache.
func NewQueryCache(cfg Config) (*QueryCache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}

	client, err := ristretto.NewCache(&ristretto.Config[string, []domain.DayRecord]{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	logger := logging.Component("query_cache")
	logger.Info().
		Int64("max_entries", cfg.MaxEntries).
		Dur("ttl", cfg.TTL).
		Msg("query cache initialized")

	return &QueryCache{client: client, ttl: cfg.TTL, logger: logger}, nil
}

// Lookup returns cached records and the generation observed. Callers pass
// that generation back to Store after reading from the store.
func (c *QueryCache) Lookup(userID string, from, to time.Time) ([]domain.DayRecord, uint64, bool) {
	gen := c.generation.Load()
	records, ok := c.client.Get(key(gen, userID, from, to))
	if !ok {
		return nil, gen, false
	}
	return cloneRecords(records), gen, true
}

// Store caches records computed while generation gen was current.
// A result computed before a concurrent write is keyed under the old
// generation and is therefore unreachable.
func (c *QueryCache) Store(gen uint64, userID string, from, to time.Time, records []domain.DayRecord) {
	if gen != c.generation.Load() {
		return
	}
	c.client.SetWithTTL(key(gen, userID, from, to), cloneRecords(records), 1, c.ttl)
}

// Invalidate drops every cached result.
func (c *QueryCache) Invalidate() {
	gen := c.generation.Add(1)
	c.logger.Debug().Uint64("generation", gen).Msg("query cache invalidated")
}

// Wait blocks until buffered writes are applied.
func (c *QueryCache) Wait() {
	c.client.Wait()
}

// Close releases cache resources.
func (c *QueryCache) Close() {
	c.client.Close()
}

// cloneRecords copies records deeply enough that callers never share
// activity maps or stat pointers with a cached entry.
func cloneRecords(records []domain.DayRecord) []domain.DayRecord {
	if records == nil {
		return nil
	}
	out := make([]domain.DayRecord, len(records))
	for i, rec := range records {
		rec.Activities = maps.Clone(rec.Activities)
		if rec.PopulationMean != nil {
			mean := *rec.PopulationMean
			rec.PopulationMean = &mean
		}
		if rec.PopulationSEM != nil {
			sem := *rec.PopulationSEM
			rec.PopulationSEM = &sem
		}
		out[i] = rec
	}
	return out
}

func key(gen uint64, userID string, from, to time.Time) string {
	return fmt.Sprintf("%d|%s|%d|%d", gen, userID, from.Unix(), to.Unix())
}
