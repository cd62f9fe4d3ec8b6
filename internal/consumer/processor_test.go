package consumer

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/daystats/internal/events"
	"example.com/daystats/internal/outbox"
)

func TestProcessorCommitsFramedEventOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload := []byte(`{"user_id":"u1","steps":1000}`)
	msg := kafka.Message{
		Topic:     "day_population_events",
		Partition: 0,
		Offset:    10,
		Time:      time.Now().UTC(),
		Value:     outbox.EncodeWireFormat(42, payload),
		Headers: []kafka.Header{
			{Key: outbox.HeaderEventType, Value: []byte(events.TypeDayContributed)},
			{Key: outbox.HeaderUserID, Value: []byte("u1")},
			{Key: outbox.HeaderSchemaSubject, Value: []byte("day_population_events-day.contributed")},
		},
	}

	reader := &stubReader{messages: []kafka.Message{msg}, after: contextCanceled}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(zerolog.Nop())).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, events.TypeDayContributed, handler.last.EventType)
	require.Equal(t, "u1", handler.last.UserID)
	require.Equal(t, 42, handler.last.SchemaID)
	require.JSONEq(t, string(payload), string(handler.last.Payload))
}

func TestProcessorAcceptsPlainJSONKeyedByUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := kafka.Message{
		Topic: "raw_activity_buckets",
		Key:   []byte("user-7"),
		Value: []byte(`{"bucket":[]}`),
	}
	reader := &stubReader{messages: []kafka.Message{msg}, after: contextCanceled}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(zerolog.Nop())).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, "user-7", handler.last.UserID)
	require.Zero(t, handler.last.SchemaID)
	require.Empty(t, handler.last.EventType)
	require.JSONEq(t, `{"bucket":[]}`, string(handler.last.Payload))
}

func TestProcessorSkipsCommitOnHandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := kafka.Message{
		Topic:  "day_population_events",
		Offset: 20,
		Value:  outbox.EncodeWireFormat(99, []byte(`{}`)),
		Headers: []kafka.Header{
			{Key: outbox.HeaderEventType, Value: []byte(events.TypeActivitiesReplaced)},
		},
	}

	reader := &stubReader{messages: []kafka.Message{msg}, after: contextCanceled}
	handler := &stubHandler{err: errors.New("boom")}

	err := NewProcessor(reader, handler, WithLogger(zerolog.Nop())).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 0, reader.commitCalls)
}

func TestProcessorCommitsUndecodableMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{{Topic: "raw_activity_buckets"}, {Topic: "raw_activity_buckets", Value: outbox.EncodeWireFormat(1, nil)}},
		after:    contextCanceled,
	}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(zerolog.Nop())).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 0, handler.calls)
	require.Equal(t, 2, reader.commitCalls)
}

func TestProcessorStopsWhenReaderIsClosed(t *testing.T) {
	reader := &stubReader{after: func() error { return io.EOF }}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(zerolog.Nop())).Run(context.Background())
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 1, reader.fetchCalls)
	require.Zero(t, handler.calls)
}

func TestProcessorStopsOnDeadline(t *testing.T) {
	reader := &stubReader{after: func() error { return context.DeadlineExceeded }}

	err := NewProcessor(reader, &stubHandler{}, WithLogger(zerolog.Nop())).Run(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, reader.fetchCalls)
}

func TestProcessorBacksOffOnFetchErrors(t *testing.T) {
	reader := &stubReader{
		fetchErrs: []error{errors.New("broker unavailable"), errors.New("broker unavailable")},
		messages:  []kafka.Message{{Topic: "raw_activity_buckets", Key: []byte("u"), Value: []byte(`{"bucket":[]}`)}},
		after:     contextCanceled,
	}
	handler := &stubHandler{}
	policy := &countingBackOff{delay: time.Millisecond}

	err := NewProcessor(reader, handler, WithLogger(zerolog.Nop()), WithFetchBackoff(policy)).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 2, policy.next)
	require.Equal(t, 1, policy.resets)
	require.Equal(t, 1, handler.calls)
	require.Equal(t, 4, reader.fetchCalls)
}

func TestProcessorGivesUpWhenBackoffStops(t *testing.T) {
	fetchErr := errors.New("broker unavailable")
	reader := &stubReader{fetchErrs: []error{fetchErr}}

	err := NewProcessor(reader, &stubHandler{}, WithLogger(zerolog.Nop()), WithFetchBackoff(&backoff.StopBackOff{})).Run(context.Background())
	require.ErrorIs(t, err, fetchErr)
}

type countingBackOff struct {
	delay  time.Duration
	next   int
	resets int
}

func (b *countingBackOff) NextBackOff() time.Duration {
	b.next++
	return b.delay
}

func (b *countingBackOff) Reset() { b.resets++ }

func TestInvalidationHandlerReactsToLedgerEvents(t *testing.T) {
	target := &countingInvalidator{}
	h := NewInvalidationHandler(target)

	for _, eventType := range []string{events.TypeDayContributed, events.TypeActivitiesReplaced, "other", ""} {
		require.NoError(t, h.Handle(context.Background(), Message{EventType: eventType}))
	}
	require.Equal(t, 2, target.calls)
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate() { c.calls++ }

type stubReader struct {
	fetchErrs   []error
	messages    []kafka.Message
	index       int
	fetchCalls  int
	commitCalls int
	after       func() error
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	r.fetchCalls++
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		return kafka.Message{}, err
	}
	if r.index >= len(r.messages) {
		if r.after != nil {
			return kafka.Message{}, r.after()
		}
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCalls++
	return nil
}

func (r *stubReader) Close() error { return nil }

func contextCanceled() error { return context.Canceled }

type stubHandler struct {
	calls int
	err   error
	last  Message
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	return h.err
}
