package bookings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"marketplace/backend/internal/cache"
	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/events"
	"marketplace/backend/internal/store"
)

const (
	msgSlotBooked          = "slot already booked"
	msgProviderUnavailable = "provider not available"
	dateLayout             = "2006-01-02"
)

var tracer = otel.Tracer("marketplace/backend/internal/service/bookings")

// ErrSlotBooked is the cause of the ConflictError returned when the requested
// slot already holds a CONFIRMED booking for the same variation.
var ErrSlotBooked = errors.New(msgSlotBooked)

type Scheduler struct {
	bookings store.BookingRepository
	catalog  store.CatalogRepository
	cache    cache.SlotCache
	sink     events.Sink
	loc      *time.Location
	now      func() time.Time
	log      *slog.Logger
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(bookings store.BookingRepository, catalog store.CatalogRepository, slotCache cache.SlotCache, sink events.Sink, loc *time.Location, log *slog.Logger, opts ...Option) *Scheduler {
	if slotCache == nil {
		slotCache = cache.Noop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		bookings: bookings,
		catalog:  catalog,
		cache:    slotCache,
		sink:     sink,
		loc:      loc,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With(slog.String("component", "service.bookings")),
	}
	if s.sink == nil {
		s.sink = events.NewLogSink(log)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateInput struct {
	ClientID           string
	ServiceVariationID uuid.UUID
	StartTime          time.Time
}

// CreateBooking reserves [start, start+duration) for the client. The overlap
// check, the availability check and the insert run under the provider's
// schedule lock; cache invalidation and the event follow the commit.
func (s *Scheduler) CreateBooking(ctx context.Context, in CreateInput) (domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "bookings.CreateBooking")
	defer span.End()

	clientID := strings.TrimSpace(in.ClientID)
	if clientID == "" {
		return domain.Booking{}, domain.NewValidationError("client_id is required")
	}
	if in.ServiceVariationID == uuid.Nil {
		return domain.Booking{}, domain.NewValidationError("service_variation_id is required")
	}
	if in.StartTime.IsZero() {
		return domain.Booking{}, domain.NewValidationError("start_time is required")
	}

	variation, service, err := s.resolve(ctx, in.ServiceVariationID)
	if err != nil {
		return domain.Booking{}, err
	}

	start := in.StartTime.In(s.loc)
	end := start.Add(variation.Duration())
	slot := domain.Slot{Start: start, End: end}
	span.SetAttributes(
		attribute.String("provider_id", service.ProviderID),
		attribute.String("service_variation_id", variation.ID.String()),
	)

	var out domain.Booking
	err = s.bookings.InProviderTransaction(ctx, service.ProviderID, func(ctx context.Context, tx store.ProviderTx) error {
		taken, err := tx.HasConfirmedOverlap(ctx, variation.ID, start, end, uuid.Nil)
		if err != nil {
			return err
		}
		if taken {
			return domain.NewConflictError(msgSlotBooked, fmt.Errorf("%w: %w", ErrSlotBooked, store.ErrConflict))
		}

		windows, err := tx.ListWindowsByDay(ctx, service.ProviderID, int16(start.Weekday()))
		if err != nil {
			return err
		}
		booked, err := tx.ListConfirmedByProvider(ctx, service.ProviderID, start, end)
		if err != nil {
			return err
		}
		busy := make([]domain.Interval, 0, len(booked))
		for _, b := range booked {
			busy = append(busy, b.Interval())
		}
		if !domain.SlotAvailable(slot, s.loc, windows, busy) {
			return domain.NewConflictError(msgProviderUnavailable, store.ErrConflict)
		}

		created, err := tx.InsertBooking(ctx, domain.Booking{
			ClientID:           clientID,
			ServiceVariationID: variation.ID,
			ProviderID:         service.ProviderID,
			StartTime:          start.UTC(),
			EndTime:            end.UTC(),
			Status:             domain.BookingStatusConfirmed,
			FinalPrice:         domain.ComputeFinalPrice(variation, start.Weekday()),
		})
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return domain.NewConflictError(msgSlotBooked, fmt.Errorf("%w: %w", ErrSlotBooked, err))
			}
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		var cErr *domain.ConflictError
		if !errors.As(err, &cErr) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "create booking failed")
		}
		return domain.Booking{}, err
	}

	s.afterCommit(ctx, out, events.NewBookingCreated(out, s.now()))
	return out, nil
}

// CancelBooking moves a CONFIRMED booking to CANCELLED on behalf of its client
// or the provider owning the booked service.
func (s *Scheduler) CancelBooking(ctx context.Context, bookingID uuid.UUID, actor domain.Actor) (domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "bookings.CancelBooking")
	defer span.End()

	if bookingID == uuid.Nil {
		return domain.Booking{}, domain.NewValidationError("booking_id is required")
	}
	b, err := s.findBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if err := s.authorize(ctx, b, actor); err != nil {
		return domain.Booking{}, err
	}

	switch b.Status {
	case domain.BookingStatusCancelled:
		return domain.Booking{}, domain.NewConflictError("booking already cancelled", store.ErrConflict)
	case domain.BookingStatusCompleted:
		return domain.Booking{}, domain.NewConflictError("booking already completed", store.ErrConflict)
	}

	updated, err := s.bookings.UpdateStatus(ctx, b.ID, domain.BookingStatusConfirmed, domain.BookingStatusCancelled, actor.Role)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return domain.Booking{}, domain.NewNotFoundError("booking", err)
		case errors.Is(err, store.ErrConflict):
			return domain.Booking{}, domain.NewConflictError("booking is no longer confirmed", err)
		}
		return domain.Booking{}, err
	}

	s.afterCommit(ctx, updated, events.NewBookingCancelled(updated, actor.Role, s.now()))
	return updated, nil
}

// GetBooking returns a booking visible to the actor.
func (s *Scheduler) GetBooking(ctx context.Context, bookingID uuid.UUID, actor domain.Actor) (domain.Booking, error) {
	if bookingID == uuid.Nil {
		return domain.Booking{}, domain.NewValidationError("booking_id is required")
	}
	b, err := s.findBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if err := s.authorize(ctx, b, actor); err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

func (s *Scheduler) ListClientBookings(ctx context.Context, clientID string, page store.PageRequest) (store.Page[domain.Booking], error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return store.Page[domain.Booking]{}, domain.NewValidationError("client_id is required")
	}
	return s.bookings.ListByClient(ctx, clientID, page.Normalize())
}

func (s *Scheduler) ListProviderBookings(ctx context.Context, providerID string, page store.PageRequest) (store.Page[domain.Booking], error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return store.Page[domain.Booking]{}, domain.NewValidationError("provider_id is required")
	}
	return s.bookings.ListByProvider(ctx, providerID, page.Normalize())
}

// CompleteEnded ages every CONFIRMED booking whose end time has passed into COMPLETED.
func (s *Scheduler) CompleteEnded(ctx context.Context) (int64, error) {
	return s.bookings.CompleteEnded(ctx, s.now())
}

func (s *Scheduler) afterCommit(ctx context.Context, b domain.Booking, e events.BookingEvent) {
	date := b.StartTime.In(s.loc).Format(dateLayout)
	if err := s.cache.InvalidateSlots(ctx, b.ProviderID, date); err != nil {
		s.log.Warn("slot cache invalidation failed",
			slog.Any("err", err),
			slog.String("provider_id", b.ProviderID),
			slog.String("date", date),
		)
	}
	if err := s.sink.Publish(ctx, e); err != nil {
		s.log.Warn("booking event publish failed",
			slog.Any("err", err),
			slog.String("event_type", e.EventType),
			slog.String("booking_id", b.ID.String()),
		)
	}
}

func (s *Scheduler) authorize(ctx context.Context, b domain.Booking, actor domain.Actor) error {
	switch actor.Role {
	case domain.RoleClient:
		if actor.UserID != "" && actor.UserID == b.ClientID {
			return nil
		}
	case domain.RoleProvider:
		owner, err := s.serviceOwner(ctx, b)
		if err != nil {
			return err
		}
		if actor.UserID != "" && actor.UserID == owner {
			return nil
		}
	}
	return domain.NewAuthorizationError("not authorized to access this booking")
}

// serviceOwner resolves the provider behind the booked variation, falling
// back to the provider recorded on the booking when the catalog row is gone.
func (s *Scheduler) serviceOwner(ctx context.Context, b domain.Booking) (string, error) {
	_, service, err := s.resolve(ctx, b.ServiceVariationID)
	if err != nil {
		var nfErr *domain.NotFoundError
		if errors.As(err, &nfErr) {
			return b.ProviderID, nil
		}
		return "", err
	}
	return service.ProviderID, nil
}

func (s *Scheduler) findBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	b, err := s.bookings.FindBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Booking{}, domain.NewNotFoundError("booking", err)
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func (s *Scheduler) resolve(ctx context.Context, variationID uuid.UUID) (domain.ServiceVariation, domain.Service, error) {
	v, err := s.catalog.FindVariation(ctx, variationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ServiceVariation{}, domain.Service{}, domain.NewNotFoundError("service variation", err)
		}
		return domain.ServiceVariation{}, domain.Service{}, err
	}
	svc, err := s.catalog.FindService(ctx, v.ServiceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ServiceVariation{}, domain.Service{}, domain.NewNotFoundError("service", err)
		}
		return domain.ServiceVariation{}, domain.Service{}, err
	}
	return v, svc, nil
}
