package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"example.com/daystats/internal/domain"
	"example.com/daystats/internal/ledger"
	"example.com/daystats/internal/logging"
)

// Normalizer converts a raw provider payload into day samples.
type Normalizer interface {
	Normalize(raw []byte) ([]domain.DaySample, error)
}

// BatchIngester records day samples for a user.
type BatchIngester interface {
	IngestBatch(ctx context.Context, userID string, samples []domain.DaySample) ledger.BatchResult
}

// IngestHandler feeds provider payloads from the ingest topic into the ledger.
// Malformed payloads and permanently failing days are logged and dropped;
// days failing with domain.ErrStoreUnavailable are retried with exponential
// backoff and, once retries are exhausted, surface as a handler error so the
// offset is not committed.
type IngestHandler struct {
	normalizer Normalizer
	ledger     BatchIngester
	maxElapsed time.Duration
	logger     zerolog.Logger
}

// IngestOption configures an IngestHandler.
type IngestOption func(*IngestHandler)

// WithRetryMaxElapsed bounds the time spent retrying transient store failures.
func WithRetryMaxElapsed(d time.Duration) IngestOption {
	return func(h *IngestHandler) {
		h.maxElapsed = d
	}
}

// WithIngestLogger overrides the handler logger.
func WithIngestLogger(logger zerolog.Logger) IngestOption {
	return func(h *IngestHandler) {
		h.logger = logger
	}
}

// NewIngestHandler constructs an IngestHandler.
func NewIngestHandler(normalizer Normalizer, l BatchIngester, opts ...IngestOption) *IngestHandler {
	h := &IngestHandler{
		normalizer: normalizer,
		ledger:     l,
		maxElapsed: 30 * time.Second,
		logger:     logging.Component("ingest_handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle implements Handler.
func (h *IngestHandler) Handle(ctx context.Context, msg Message) error {
	userID := strings.TrimSpace(msg.UserID)
	if userID == "" {
		recordRejectedPayload("missing_user")
		h.logger.Warn().Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("payload without user id dropped")
		return nil
	}

	samples, err := h.normalizer.Normalize(msg.Payload)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedPayload) {
			recordRejectedPayload("malformed")
			h.logger.Warn().Err(err).Str("user_id", userID).Int64("offset", msg.Offset).Msg("malformed payload dropped")
			return nil
		}
		return err
	}

	result := h.ledger.IngestBatch(ctx, userID, samples)
	h.record(userID, result)

	pending := h.transient(userID, result.Failures)
	if len(pending) == 0 {
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = h.maxElapsed

	op := func() error {
		res := h.ledger.IngestBatch(ctx, userID, pending)
		h.record(userID, res)
		pending = h.transient(userID, res.Failures)
		if len(pending) > 0 {
			return fmt.Errorf("%d days pending: %w", len(pending), domain.ErrStoreUnavailable)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		h.logger.Warn().Err(err).Str("user_id", userID).Dur("retry_in", wait).Msg("retrying transient ledger failures")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		return fmt.Errorf("ingest for user %s: %w", userID, err)
	}
	return nil
}

func (h *IngestHandler) record(userID string, result ledger.BatchResult) {
	recordIngestedDays(string(ledger.OutcomeInserted), result.Inserted)
	recordIngestedDays(string(ledger.OutcomeSkipped), result.Skipped)
	recordIngestedDays("failed", len(result.Failures))
	if len(result.Failures) > 0 {
		h.logger.Info().
			Str("user_id", userID).
			Int("inserted", result.Inserted).
			Int("skipped", result.Skipped).
			Int("failed", len(result.Failures)).
			Msg("payload ingested with failures")
	}
}

// transient returns the samples worth retrying. Context errors are not retried.
func (h *IngestHandler) transient(userID string, failures []ledger.DayFailure) []domain.DaySample {
	var out []domain.DaySample
	for _, f := range failures {
		if errors.Is(f.Err, domain.ErrStoreUnavailable) {
			out = append(out, f.Sample)
			continue
		}
		h.logger.Debug().Err(f.Err).Str("user_id", userID).Time("day", f.Day).Msg("day dropped")
	}
	return out
}
