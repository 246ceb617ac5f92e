package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"marketplace/backend/internal/domain"
)

const (
	TypeBookingCreated   = "booking.created.v1"
	TypeBookingCancelled = "booking.cancelled.v1"
)

// BookingEvent is consumed by notification collaborators. CancelledBy is set
// on cancellations so the other party can be notified.
type BookingEvent struct {
	EventID            string      `json:"event_id"`
	EventType          string      `json:"event_type"`
	OccurredAt         time.Time   `json:"occurred_at"`
	BookingID          string      `json:"booking_id"`
	ProviderID         string      `json:"provider_id"`
	ClientID           string      `json:"client_id"`
	ServiceVariationID string      `json:"service_variation_id"`
	StartTime          time.Time   `json:"start_time"`
	EndTime            time.Time   `json:"end_time"`
	FinalPrice         string      `json:"final_price"`
	CancelledBy        domain.Role `json:"cancelled_by,omitempty"`
}

func NewBookingCreated(b domain.Booking, now time.Time) BookingEvent {
	return newBookingEvent(TypeBookingCreated, b, now)
}

func NewBookingCancelled(b domain.Booking, by domain.Role, now time.Time) BookingEvent {
	e := newBookingEvent(TypeBookingCancelled, b, now)
	e.CancelledBy = by
	return e
}

func newBookingEvent(eventType string, b domain.Booking, now time.Time) BookingEvent {
	return BookingEvent{
		EventID:            uuid.NewString(),
		EventType:          eventType,
		OccurredAt:         now.UTC(),
		BookingID:          b.ID.String(),
		ProviderID:         b.ProviderID,
		ClientID:           b.ClientID,
		ServiceVariationID: b.ServiceVariationID.String(),
		StartTime:          b.StartTime.UTC(),
		EndTime:            b.EndTime.UTC(),
		FinalPrice:         b.FinalPrice.StringFixed(2),
	}
}

type Sink interface {
	Publish(ctx context.Context, e BookingEvent) error
}

// LogSink writes events to the log. Used when no broker is configured.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log.With(slog.String("component", "events.log"))}
}

func (s *LogSink) Publish(ctx context.Context, e BookingEvent) error {
	s.log.InfoContext(ctx, "booking event",
		slog.String("event_id", e.EventID),
		slog.String("event_type", e.EventType),
		slog.String("booking_id", e.BookingID),
		slog.String("provider_id", e.ProviderID),
		slog.String("client_id", e.ClientID),
		slog.String("cancelled_by", string(e.CancelledBy)),
	)
	return nil
}
