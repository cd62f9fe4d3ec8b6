package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/daystats/internal/events"
)

type recordingWriter struct {
	topics   []string
	messages map[string][]kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	if w.messages == nil {
		w.messages = make(map[string][]kafka.Message)
	}
	w.topics = append(w.topics, topic)
	w.messages[topic] = append(w.messages[topic], msgs...)
	return nil
}

type stubRegistry struct {
	calls int
	id    int
}

func (r *stubRegistry) EnsureSchema(context.Context, string, string) (int, error) {
	r.calls++
	return r.id, nil
}

func newTestDispatcher(writer messageWriter, registry schemaRegistrar) *Dispatcher {
	return &Dispatcher{producer: writer, registry: registry, logger: zerolog.Nop()}
}

func TestDeliverFramesPayloadAndSetsHeaders(t *testing.T) {
	writer := &recordingWriter{}
	registry := &stubRegistry{id: 42}
	d := newTestDispatcher(writer, registry)

	payload, err := json.Marshal(events.DayContributed{UserID: "u1", Steps: 1000, PopulationSize: 1, Mean: 1000})
	require.NoError(t, err)

	messages := []Message{
		{EventID: 1, UserID: "u1", EventType: events.TypeDayContributed, Topic: "day_population_events", SchemaSubject: "day_population_events-day.contributed", PartitionKey: "2024-01-01", Payload: payload},
		{EventID: 2, UserID: "u2", EventType: events.TypeDayContributed, Topic: "day_population_events", SchemaSubject: "day_population_events-day.contributed", PartitionKey: "2024-01-01", Payload: payload},
	}
	require.NoError(t, d.deliver(context.Background(), messages))

	require.Equal(t, 1, registry.calls, "schema id is cached per subject")
	delivered := writer.messages["day_population_events"]
	require.Len(t, delivered, 2)

	first := delivered[0]
	require.Equal(t, []byte("2024-01-01"), first.Key)
	schemaID, body := DecodeWireFormat(first.Value)
	require.Equal(t, 42, schemaID)
	require.JSONEq(t, string(payload), string(body))

	headers := make(map[string]string)
	for _, h := range first.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, events.TypeDayContributed, headers[HeaderEventType])
	require.Equal(t, "u1", headers[HeaderUserID])
	require.Equal(t, "day_population_events-day.contributed", headers[HeaderSchemaSubject])
}

func TestDeliverRejectsUnknownEventType(t *testing.T) {
	d := newTestDispatcher(&recordingWriter{}, &stubRegistry{})
	err := d.deliver(context.Background(), []Message{{EventType: "mystery", Topic: "t"}})
	require.Error(t, err)
}

func TestDeliverPropagatesWriterFailure(t *testing.T) {
	d := newTestDispatcher(&recordingWriter{err: errors.New("broker down")}, &stubRegistry{id: 1})
	err := d.deliver(context.Background(), []Message{{EventType: events.TypeActivitiesReplaced, Topic: "t", Payload: []byte(`{}`)}})
	require.EqualError(t, err, "broker down")
}

func TestDecodeWireFormatPassesPlainJSONThrough(t *testing.T) {
	id, body := DecodeWireFormat([]byte(`{"bucket":[]}`))
	require.Zero(t, id)
	require.Equal(t, `{"bucket":[]}`, string(body))
}

func TestSchemaRegistryRegistersMissingSubjectAfterTransientFailure(t *testing.T) {
	var gets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if gets.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPost:
			if r.URL.Path != "/subjects/events-day.contributed/versions" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"id":7}`))
		}
	}))
	t.Cleanup(server.Close)

	client := NewSchemaRegistryClient(server.URL)
	client.maxElapsed = 5 * time.Second

	id, err := client.EnsureSchema(context.Background(), "events-day.contributed", dayContributedSchema)
	require.NoError(t, err)
	require.Equal(t, 7, id)
	require.EqualValues(t, 2, gets.Load())
}

func TestSchemaRegistryDoesNotRetryClientErrors(t *testing.T) {
	var posts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		posts.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	t.Cleanup(server.Close)

	_, err := NewSchemaRegistryClient(server.URL).EnsureSchema(context.Background(), "s", "{}")
	require.Error(t, err)
	require.EqualValues(t, 1, posts.Load())
}

func TestDLQBackoffDelayIsCapped(t *testing.T) {
	m := &DLQManager{baseDelay: time.Minute}
	require.Equal(t, time.Minute, m.backoffDelay(1))
	require.Equal(t, 4*time.Minute, m.backoffDelay(3))
	require.Equal(t, time.Hour, m.backoffDelay(10))
	require.Equal(t, time.Hour, m.backoffDelay(64))
}
