// Package normalize turns bucketed provider payloads into per-day samples.
package normalize

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"example.com/daystats/internal/domain"
)

const hourMillis = int64(60 * 60 * 1000)

// Placeholder ranges, inclusive.
const (
	PlaceholderStepsMin = 250
	PlaceholderStepsMax = 5000
)

type placeholderRange struct {
	activity string
	min, max int64
}

var placeholderActivities = []placeholderRange{
	{domain.ActivitySleeping, 6 * hourMillis, 8 * hourMillis},
	{domain.ActivityWalking, hourMillis / 6, 2 * hourMillis},
	{domain.ActivityStill, 2 * hourMillis, 8 * hourMillis},
	{domain.ActivityInVehicle, hourMillis / 6, 2 * hourMillis},
}

// ParseError reports a bucket that does not have the expected shape.
type ParseError struct {
	Bucket int // -1 for the envelope
	Field  string
	Detail string
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("malformed payload: bucket %d: %s", e.Bucket, e.Field)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap lets callers match ParseError with errors.Is(err, domain.ErrMalformedPayload).
func (e *ParseError) Unwrap() error { return domain.ErrMalformedPayload }

// RandomFunc returns a value in the inclusive range [min, max].
type RandomFunc func(min, max int64) int64

func defaultRandom(min, max int64) int64 {
	return min + rand.Int64N(max-min+1)
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithPlaceholders enables synthetic data for days without steps or activities.
func WithPlaceholders(enabled bool) Option {
	return func(n *Normalizer) {
		n.placeholders = enabled
	}
}

// WithRandom overrides the generator used for placeholder values.
func WithRandom(fn RandomFunc) Option {
	return func(n *Normalizer) {
		if fn != nil {
			n.random = fn
		}
	}
}

// Normalizer converts raw payloads using an injected activity catalog. It is
// stateless and safe for concurrent use.
type Normalizer struct {
	catalog      domain.ActivityCatalog
	placeholders bool
	random       RandomFunc
}

// New constructs a Normalizer.
func New(catalog domain.ActivityCatalog, opts ...Option) *Normalizer {
	if catalog == nil {
		catalog = domain.DefaultActivityCatalog()
	}
	n := &Normalizer{catalog: catalog, random: defaultRandom}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// PlaceholdersEnabled reports whether missing data is synthesised.
func (n *Normalizer) PlaceholdersEnabled() bool { return n.placeholders }

// Normalize parses a bucketed payload into one sample per bucket, in payload order.
// Any malformed bucket fails the whole payload with a *ParseError.
func (n *Normalizer) Normalize(raw []byte) ([]domain.DaySample, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &ParseError{Bucket: -1, Field: "payload", Detail: err.Error()}
	}
	if p.Buckets == nil {
		return nil, &ParseError{Bucket: -1, Field: "bucket", Detail: "missing"}
	}

	samples := make([]domain.DaySample, 0, len(*p.Buckets))
	for i, b := range *p.Buckets {
		sample, err := n.normalizeBucket(i, b)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (n *Normalizer) normalizeBucket(idx int, b bucket) (domain.DaySample, error) {
	if b.StartTimeMillis == nil {
		return domain.DaySample{}, &ParseError{Bucket: idx, Field: "startTimeMillis", Detail: "missing"}
	}
	if b.EndTimeMillis == nil {
		return domain.DaySample{}, &ParseError{Bucket: idx, Field: "endTimeMillis", Detail: "missing"}
	}
	if b.Dataset == nil {
		return domain.DaySample{}, &ParseError{Bucket: idx, Field: "dataset", Detail: "missing"}
	}

	var steps *int64
	activities := make(map[string]int64)

	for di, ds := range b.Dataset {
		if ds.Point == nil {
			return domain.DaySample{}, &ParseError{Bucket: idx, Field: fmt.Sprintf("dataset[%d].point", di), Detail: "missing"}
		}
		for pi, pt := range *ds.Point {
			field := fmt.Sprintf("dataset[%d].point[%d]", di, pi)
			switch pt.DataTypeName {
			case "":
				return domain.DaySample{}, &ParseError{Bucket: idx, Field: field + ".dataTypeName", Detail: "missing"}
			case StepCountDataType:
				if len(pt.Value) < 1 || pt.Value[0].IntVal == nil {
					return domain.DaySample{}, &ParseError{Bucket: idx, Field: field + ".value[0].intVal", Detail: "missing"}
				}
				total := *pt.Value[0].IntVal
				if steps != nil {
					total += *steps
				}
				steps = &total
			default:
				if len(pt.Value) < 1 || pt.Value[0].IntVal == nil {
					return domain.DaySample{}, &ParseError{Bucket: idx, Field: field + ".value[0].intVal", Detail: "missing activity code"}
				}
				name, ok := n.catalog.Name(int(*pt.Value[0].IntVal))
				if !ok {
					continue
				}
				if len(pt.Value) < 2 || pt.Value[1].IntVal == nil {
					return domain.DaySample{}, &ParseError{Bucket: idx, Field: field + ".value[1].intVal", Detail: "missing duration"}
				}
				duration := *pt.Value[1].IntVal
				if duration < 0 {
					return domain.DaySample{}, &ParseError{Bucket: idx, Field: field + ".value[1].intVal", Detail: "negative duration"}
				}
				activities[name] += duration
			}
		}
	}

	if n.placeholders {
		if steps == nil {
			v := n.random(PlaceholderStepsMin, PlaceholderStepsMax)
			steps = &v
		}
		if len(activities) == 0 {
			for _, r := range placeholderActivities {
				activities[r.activity] = n.random(r.min, r.max)
			}
		}
	}

	start := int64(*b.StartTimeMillis)
	return domain.DaySample{
		Day:         domain.DayKeyFromMillis(start),
		Steps:       steps,
		Activities:  activities,
		StartMillis: start,
		EndMillis:   int64(*b.EndTimeMillis),
	}, nil
}
