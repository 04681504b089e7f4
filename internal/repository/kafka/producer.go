package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EventFlipRecorded is the event type of flip notifications.
const EventFlipRecorded = "flip.recorded"

var published = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kafka_messages_published_total",
	Help: "Messages written to Kafka, by event type and result.",
}, []string{"event", "result"})

type Producer struct {
	w     *kafka.Writer
	topic string
	log   *zap.Logger
}

// NewProducer writes to topic with acks from all replicas. Messages are
// partitioned by key hash.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		topic: topic,
		log:   zap.NewNop(),
	}
}

func (p *Producer) WithLogger(l *zap.Logger) *Producer {
	if l == nil {
		return p
	}
	cp := *p
	cp.log = l.With(zap.String("component", "kafka.producer"), zap.String("topic", p.topic))
	return &cp
}

// Publish writes v as JSON, tagged with event. Messages with the same key land
// on the same partition, so events of one check stay ordered.
func (p *Producer) Publish(ctx context.Context, key []byte, event string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		published.WithLabelValues(event, "marshal_error").Inc()
		return fmt.Errorf("marshal %s: %w", event, err)
	}

	ctx, span := otel.Tracer("kafka.producer").Start(ctx, "kafka.produce "+event,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingOperationPublish,
			attribute.String("messaging.event", event),
		),
	)
	defer span.End()

	msg := kafka.Message{Key: key, Value: value, Headers: outgoingHeaders(ctx, event)}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		published.WithLabelValues(event, "error").Inc()
		p.log.Warn("kafka write failed", zap.String("event", event), zap.ByteString("key", key), zap.Error(err))
		return fmt.Errorf("write %s: %w", event, err)
	}
	published.WithLabelValues(event, "ok").Inc()
	p.log.Debug("event published", zap.String("event", event), zap.ByteString("key", key))
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }

func keyFromID(id int64) []byte { return []byte(strconv.FormatInt(id, 10)) }
