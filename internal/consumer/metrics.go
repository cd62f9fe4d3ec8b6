package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daystats",
		Subsystem: "consumer",
		Name:      "messages_processed_total",
		Help:      "Number of Kafka messages successfully handled.",
	}, []string{"topic", "event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daystats",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Number of handler errors grouped by topic and event type.",
	}, []string{"topic", "event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daystats",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Number of decode failures per topic.",
	}, []string{"topic"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "daystats",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed message per topic.",
	}, []string{"topic"})

	ingestDayCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daystats",
		Subsystem: "consumer",
		Name:      "ingested_days_total",
		Help:      "Days seen in provider payloads, by result.",
	}, []string{"result"})

	rejectedPayloadCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daystats",
		Subsystem: "consumer",
		Name:      "rejected_payloads_total",
		Help:      "Provider payloads dropped without reaching the ledger, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, decodeErrorCounter, lastMessageGauge, ingestDayCounter, rejectedPayloadCounter)
}

func recordProcessed(msg Message) {
	processedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
	if !msg.Timestamp.IsZero() {
		lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}

func recordIngestedDays(result string, n int) {
	if n > 0 {
		ingestDayCounter.WithLabelValues(result).Add(float64(n))
	}
}

func recordRejectedPayload(reason string) {
	rejectedPayloadCounter.WithLabelValues(reason).Inc()
}
