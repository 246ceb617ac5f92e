package grpc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/service/availability"
	"marketplace/backend/internal/service/bookings"
	"marketplace/backend/internal/service/slots"
	"marketplace/backend/internal/store"
)

type slotService interface {
	GenerateSlots(ctx context.Context, req slots.Request) ([]domain.Slot, error)
}

type bookingService interface {
	CreateBooking(ctx context.Context, in bookings.CreateInput) (domain.Booking, error)
	CancelBooking(ctx context.Context, bookingID uuid.UUID, actor domain.Actor) (domain.Booking, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID, actor domain.Actor) (domain.Booking, error)
	ListClientBookings(ctx context.Context, clientID string, page store.PageRequest) (store.Page[domain.Booking], error)
	ListProviderBookings(ctx context.Context, providerID string, page store.PageRequest) (store.Page[domain.Booking], error)
}

type availabilityService interface {
	Create(ctx context.Context, actor domain.Actor, in availability.CreateInput) (domain.AvailabilityWindow, error)
	Update(ctx context.Context, actor domain.Actor, windowID uuid.UUID, in availability.UpdateInput) (domain.AvailabilityWindow, error)
	Delete(ctx context.Context, actor domain.Actor, windowID uuid.UUID) error
	List(ctx context.Context, providerID string) ([]domain.AvailabilityWindow, error)
}

type SchedulingServer struct {
	slots        slotService
	bookings     bookingService
	availability availabilityService
	log          *slog.Logger
}

var _ SchedulingServiceServer = (*SchedulingServer)(nil)

func NewSchedulingServer(slots slotService, bookings bookingService, availability availabilityService, log *slog.Logger) *SchedulingServer {
	if log == nil {
		log = slog.Default()
	}
	return &SchedulingServer{
		slots:        slots,
		bookings:     bookings,
		availability: availability,
		log:          log.With(slog.String("component", "grpc.scheduling")),
	}
}

func (s *SchedulingServer) GenerateSlots(ctx context.Context, req *GenerateSlotsRequest) (*GenerateSlotsResponse, error) {
	log := s.log.With(slog.String("rpc", "GenerateSlots"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	variationID, err := uuid.Parse(req.ServiceVariationID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "service_variation_id must be a UUID")
	}

	out, err := s.slots.GenerateSlots(ctx, slots.Request{
		ProviderID:  req.ProviderID,
		Date:        req.Date,
		VariationID: variationID,
	})
	if err != nil {
		return nil, toStatus(log, err, "slot generation failed",
			slog.String("service_variation_id", variationID.String()),
			slog.String("date", req.Date),
		)
	}

	log.Debug("slots generated",
		slog.String("service_variation_id", variationID.String()),
		slog.String("date", req.Date),
		slog.Int("count", len(out)),
	)
	return &GenerateSlotsResponse{Slots: toSlots(out)}, nil
}

func (s *SchedulingServer) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*BookingResponse, error) {
	log := s.log.With(slog.String("rpc", "CreateBooking"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if req.StartTime.IsZero() {
		log.Warn("invalid request", slog.String("reason", "missing_start_time"), slog.String("client_id", actor.UserID))
		return nil, status.Error(codes.InvalidArgument, "start_time is required")
	}
	variationID, err := uuid.Parse(req.ServiceVariationID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("client_id", actor.UserID))
		return nil, status.Error(codes.InvalidArgument, "service_variation_id must be a UUID")
	}

	b, err := s.bookings.CreateBooking(ctx, bookings.CreateInput{
		ClientID:           actor.UserID,
		ServiceVariationID: variationID,
		StartTime:          req.StartTime,
	})
	if err != nil {
		return nil, toStatus(log, err, "booking create failed",
			slog.String("client_id", actor.UserID),
			slog.String("service_variation_id", variationID.String()),
			slog.Time("start_time", req.StartTime),
		)
	}

	log.Info("booking created",
		slog.String("booking_id", b.ID.String()),
		slog.String("client_id", b.ClientID),
		slog.String("provider_id", b.ProviderID),
		slog.Time("start_time", b.StartTime),
		slog.String("final_price", b.FinalPrice.StringFixed(2)),
	)
	return &BookingResponse{Booking: toBooking(b)}, nil
}

func (s *SchedulingServer) CancelBooking(ctx context.Context, req *CancelBookingRequest) (*BookingResponse, error) {
	log := s.log.With(slog.String("rpc", "CancelBooking"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID(log, req, func(r *CancelBookingRequest) string { return r.BookingID }, "booking_id")
	if err != nil {
		return nil, err
	}

	b, err := s.bookings.CancelBooking(ctx, id, actor)
	if err != nil {
		return nil, toStatus(log, err, "booking cancel failed",
			slog.String("booking_id", id.String()),
			slog.String("user_id", actor.UserID),
			slog.String("role", string(actor.Role)),
		)
	}

	log.Info("booking cancelled",
		slog.String("booking_id", b.ID.String()),
		slog.String("cancelled_by", string(b.CancelledBy)),
	)
	return &BookingResponse{Booking: toBooking(b)}, nil
}

func (s *SchedulingServer) GetBooking(ctx context.Context, req *GetBookingRequest) (*BookingResponse, error) {
	log := s.log.With(slog.String("rpc", "GetBooking"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID(log, req, func(r *GetBookingRequest) string { return r.BookingID }, "booking_id")
	if err != nil {
		return nil, err
	}

	b, err := s.bookings.GetBooking(ctx, id, actor)
	if err != nil {
		return nil, toStatus(log, err, "booking get failed", slog.String("booking_id", id.String()))
	}
	return &BookingResponse{Booking: toBooking(b)}, nil
}

func (s *SchedulingServer) ListClientBookings(ctx context.Context, req *ListBookingsRequest) (*ListBookingsResponse, error) {
	log := s.log.With(slog.String("rpc", "ListClientBookings"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	page, err := s.bookings.ListClientBookings(ctx, actor.UserID, pageRequest(req))
	if err != nil {
		return nil, toStatus(log, err, "client bookings list failed", slog.String("client_id", actor.UserID))
	}

	log.Debug("client bookings listed", slog.String("client_id", actor.UserID), slog.Int("count", len(page.Items)))
	return toBookingPage(page), nil
}

func (s *SchedulingServer) ListProviderBookings(ctx context.Context, req *ListBookingsRequest) (*ListBookingsResponse, error) {
	log := s.log.With(slog.String("rpc", "ListProviderBookings"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleProvider {
		log.Info("permission denied", slog.String("user_id", actor.UserID), slog.String("role", string(actor.Role)))
		return nil, status.Error(codes.PermissionDenied, "only providers can list provider bookings")
	}

	page, err := s.bookings.ListProviderBookings(ctx, actor.UserID, pageRequest(req))
	if err != nil {
		return nil, toStatus(log, err, "provider bookings list failed", slog.String("provider_id", actor.UserID))
	}

	log.Debug("provider bookings listed", slog.String("provider_id", actor.UserID), slog.Int("count", len(page.Items)))
	return toBookingPage(page), nil
}

func (s *SchedulingServer) CreateAvailability(ctx context.Context, req *CreateAvailabilityRequest) (*AvailabilityResponse, error) {
	log := s.log.With(slog.String("rpc", "CreateAvailability"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	w, err := s.availability.Create(ctx, actor, availability.CreateInput{
		DayOfWeek: req.DayOfWeek,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		return nil, toStatus(log, err, "availability create failed",
			slog.String("provider_id", actor.UserID),
			slog.Int("day_of_week", int(req.DayOfWeek)),
		)
	}

	log.Info("availability created",
		slog.String("window_id", w.ID.String()),
		slog.String("provider_id", w.ProviderID),
		slog.Int("day_of_week", int(w.DayOfWeek)),
		slog.String("start_time", w.StartTime.String()),
		slog.String("end_time", w.EndTime.String()),
	)
	return &AvailabilityResponse{Window: toWindow(w)}, nil
}

func (s *SchedulingServer) UpdateAvailability(ctx context.Context, req *UpdateAvailabilityRequest) (*AvailabilityResponse, error) {
	log := s.log.With(slog.String("rpc", "UpdateAvailability"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID(log, req, func(r *UpdateAvailabilityRequest) string { return r.ID }, "id")
	if err != nil {
		return nil, err
	}

	w, err := s.availability.Update(ctx, actor, id, availability.UpdateInput{
		DayOfWeek: req.DayOfWeek,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		return nil, toStatus(log, err, "availability update failed",
			slog.String("window_id", id.String()),
			slog.String("provider_id", actor.UserID),
		)
	}

	log.Info("availability updated", slog.String("window_id", w.ID.String()), slog.String("provider_id", w.ProviderID))
	return &AvailabilityResponse{Window: toWindow(w)}, nil
}

func (s *SchedulingServer) DeleteAvailability(ctx context.Context, req *DeleteAvailabilityRequest) (*DeleteAvailabilityResponse, error) {
	log := s.log.With(slog.String("rpc", "DeleteAvailability"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID(log, req, func(r *DeleteAvailabilityRequest) string { return r.ID }, "id")
	if err != nil {
		return nil, err
	}

	if err := s.availability.Delete(ctx, actor, id); err != nil {
		return nil, toStatus(log, err, "availability delete failed",
			slog.String("window_id", id.String()),
			slog.String("provider_id", actor.UserID),
		)
	}

	log.Info("availability deleted", slog.String("window_id", id.String()), slog.String("provider_id", actor.UserID))
	return &DeleteAvailabilityResponse{}, nil
}

func (s *SchedulingServer) ListAvailability(ctx context.Context, req *ListAvailabilityRequest) (*ListAvailabilityResponse, error) {
	log := s.log.With(slog.String("rpc", "ListAvailability"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	providerID := actor.UserID
	if req != nil && req.ProviderID != "" {
		providerID = req.ProviderID
	} else if actor.Role != domain.RoleProvider {
		log.Info("permission denied", slog.String("user_id", actor.UserID), slog.String("role", string(actor.Role)))
		return nil, status.Error(codes.PermissionDenied, "only providers have availability")
	}

	windows, err := s.availability.List(ctx, providerID)
	if err != nil {
		return nil, toStatus(log, err, "availability list failed", slog.String("provider_id", providerID))
	}

	out := make([]AvailabilityWindow, 0, len(windows))
	for _, w := range windows {
		out = append(out, toWindow(w))
	}
	log.Debug("availability listed", slog.String("provider_id", providerID), slog.Int("count", len(out)))
	return &ListAvailabilityResponse{Windows: out}, nil
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "authentication required")
	}
	return actor, nil
}

func parseID[Req any](log *slog.Logger, req *Req, field func(*Req) string, name string) (uuid.UUID, error) {
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return uuid.Nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := uuid.Parse(field(req))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("field", name))
		return uuid.Nil, status.Error(codes.InvalidArgument, name+" must be a UUID")
	}
	return id, nil
}

func pageRequest(req *ListBookingsRequest) store.PageRequest {
	if req == nil {
		return store.PageRequest{}.Normalize()
	}
	return store.PageRequest{Page: req.Page, Limit: req.Limit}.Normalize()
}

// toStatus maps service errors to gRPC status codes and logs them at a level
// matching their class. Unclassified errors surface as Internal without detail.
func toStatus(log *slog.Logger, err error, msg string, attrs ...any) error {
	args := append([]any{slog.Any("err", err)}, attrs...)

	var (
		vErr  *domain.ValidationError
		nfErr *domain.NotFoundError
		aErr  *domain.AuthorizationError
		cErr  *domain.ConflictError
	)
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", args...)
		return status.Error(codes.InvalidArgument, vErr.Error())
	case errors.As(err, &nfErr):
		log.Info(msg, args...)
		return status.Error(codes.NotFound, nfErr.Error())
	case errors.As(err, &aErr):
		log.Info(msg, args...)
		return status.Error(codes.PermissionDenied, aErr.Error())
	case errors.As(err, &cErr):
		log.Info(msg, args...)
		if errors.Is(err, bookings.ErrSlotBooked) {
			return status.Error(codes.AlreadyExists, cErr.Error())
		}
		return status.Error(codes.FailedPrecondition, cErr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn(msg, args...)
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		log.Info(msg, args...)
		return status.Error(codes.Canceled, "request cancelled")
	}
	log.Error(msg, args...)
	return status.Error(codes.Internal, "internal error")
}
