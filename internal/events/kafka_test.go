package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"marketplace/backend/internal/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func sampleBooking() domain.Booking {
	start := time.Date(2026, 1, 5, 13, 0, 0, 0, time.UTC)
	return domain.Booking{
		ID:                 uuid.MustParse("00000000-0000-0000-0000-0000000000b1"),
		ClientID:           "c1",
		ProviderID:         "p1",
		ServiceVariationID: uuid.MustParse("00000000-0000-0000-0000-0000000000a1"),
		StartTime:          start,
		EndTime:            start.Add(time.Hour),
		Status:             domain.BookingStatusConfirmed,
		FinalPrice:         decimal.RequireFromString("90"),
	}
}

func TestKafkaPublisher_WritesKeyedMessageWithHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	w := &fakeWriter{}
	p := newKafkaPublisher(w, Topics{Cancelled: "bookings.cancelled"}, slog.Default())

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	e := NewBookingCancelled(sampleBooking(), domain.RoleProvider, time.Now())
	if err := p.Publish(ctx, e); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]

	if msg.Topic != "bookings.cancelled" {
		t.Fatalf("topic = %q, want %q", msg.Topic, "bookings.cancelled")
	}
	if string(msg.Key) != e.BookingID {
		t.Fatalf("key = %q, want %q", msg.Key, e.BookingID)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event_id"] != e.EventID || headers["event_type"] != TypeBookingCancelled {
		t.Fatalf("headers = %v", headers)
	}
	if headers["traceparent"] == "" {
		t.Fatalf("traceparent header missing: %v", headers)
	}

	var decoded BookingEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if decoded.CancelledBy != domain.RoleProvider || decoded.FinalPrice != "90.00" {
		t.Fatalf("payload = %+v", decoded)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("Close = %v closed=%v", err, w.closed)
	}
}

func TestTopicsFallBackToEventType(t *testing.T) {
	var topics Topics
	if got := topics.For(TypeBookingCreated); got != TypeBookingCreated {
		t.Fatalf("topic = %q, want %q", got, TypeBookingCreated)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka:9092, ,kafka2:9092 ")
	if len(got) != 2 || got[0] != "kafka:9092" || got[1] != "kafka2:9092" {
		t.Fatalf("SplitBrokers = %v", got)
	}
	if SplitBrokers("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestNewBookingCreatedHasNoCancellingParty(t *testing.T) {
	e := NewBookingCreated(sampleBooking(), time.Now())
	if e.EventType != TypeBookingCreated || e.CancelledBy != "" {
		t.Fatalf("event = %+v", e)
	}
	if e.EventID == "" {
		t.Fatalf("expected event id")
	}
}
