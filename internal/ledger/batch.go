package ledger

import (
	"context"
	"time"

	"example.com/daystats/internal/domain"
)

// DayFailure records a day that could not be ingested.
type DayFailure struct {
	Day    time.Time
	Sample domain.DaySample
	Err    error
}

// BatchResult summarises an IngestBatch call.
type BatchResult struct {
	Inserted int
	Skipped  int
	Failures []DayFailure
}

// IngestBatch ingests samples in order. Each day is independent: a failure is
// recorded and the remaining days are still processed. Only a cancelled
// context stops the batch early, in which case the unprocessed days are
// reported as failures with the context error.
func (l *Ledger) IngestBatch(ctx context.Context, userID string, samples []domain.DaySample) BatchResult {
	var out BatchResult
	for i, sample := range samples {
		if err := ctx.Err(); err != nil {
			for _, rest := range samples[i:] {
				out.Failures = append(out.Failures, DayFailure{Day: rest.Day, Sample: rest, Err: err})
			}
			return out
		}

		res, err := l.IngestSample(ctx, userID, sample)
		if err != nil {
			l.logger.Warn().Err(err).Str("user_id", userID).Time("day", sample.Day).Msg("day ingestion failed")
			out.Failures = append(out.Failures, DayFailure{Day: sample.Day, Sample: sample, Err: err})
			continue
		}

		switch res.Outcome {
		case OutcomeInserted:
			out.Inserted++
		case OutcomeSkipped:
			out.Skipped++
		}
	}
	return out
}
