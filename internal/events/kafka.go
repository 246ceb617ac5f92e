package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type Topics struct {
	Created   string
	Cancelled string
}

func (t Topics) For(eventType string) string {
	switch eventType {
	case TypeBookingCreated:
		if t.Created != "" {
			return t.Created
		}
	case TypeBookingCancelled:
		if t.Cancelled != "" {
			return t.Cancelled
		}
	}
	return eventType
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	w      messageWriter
	topics Topics
	log    *slog.Logger
}

// NewKafkaPublisher writes asynchronously; delivery failures are logged by the
// writer's completion callback.
func NewKafkaPublisher(brokers []string, topics Topics, log *slog.Logger) *KafkaPublisher {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "events.kafka"))

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error("kafka delivery failed", slog.Any("err", err), slog.Int("messages", len(messages)))
			}
		},
	}
	return newKafkaPublisher(w, topics, log)
}

func newKafkaPublisher(w messageWriter, topics Topics, log *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{w: w, topics: topics, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e BookingEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: p.topics.For(e.EventType),
		Key:   []byte(e.BookingID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.EventID)},
			{Key: "event_type", Value: []byte(e.EventType)},
		},
	}
	msg.Headers = injectTraceHeaders(ctx, msg.Headers)
	return p.w.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func injectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)
