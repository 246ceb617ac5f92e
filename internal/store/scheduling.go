package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"marketplace/backend/internal/domain"
)

// ProviderTx is the set of operations that run while a provider's schedule is
// locked. Availability edits and booking inserts for the same provider are
// serialized against each other.
type ProviderTx interface {
	ListWindowsByDay(ctx context.Context, providerID string, day int16) ([]domain.AvailabilityWindow, error)
	InsertWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error)
	UpdateWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error)
	DeleteWindow(ctx context.Context, providerID string, windowID uuid.UUID) error

	HasConfirmedOverlap(ctx context.Context, variationID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error)
	ListConfirmedByProvider(ctx context.Context, providerID string, start, end time.Time) ([]domain.Booking, error)
	InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error)
}

type Transactor interface {
	InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx ProviderTx) error) error
}

type AvailabilityRepository interface {
	Transactor

	FindWindow(ctx context.Context, windowID uuid.UUID) (domain.AvailabilityWindow, error)
	ListWindows(ctx context.Context, providerID string) ([]domain.AvailabilityWindow, error)
	ListWindowsByDay(ctx context.Context, providerID string, day int16) ([]domain.AvailabilityWindow, error)
}

type CatalogRepository interface {
	FindService(ctx context.Context, serviceID uuid.UUID) (domain.Service, error)
	FindVariation(ctx context.Context, variationID uuid.UUID) (domain.ServiceVariation, error)
}

type BookingRepository interface {
	Transactor

	FindBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	ListByClient(ctx context.Context, clientID string, page PageRequest) (Page[domain.Booking], error)
	ListByProvider(ctx context.Context, providerID string, page PageRequest) (Page[domain.Booking], error)
	HasConfirmedOverlap(ctx context.Context, variationID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error)
	ListConfirmedByProvider(ctx context.Context, providerID string, start, end time.Time) ([]domain.Booking, error)

	// UpdateStatus moves a booking from one status to another. It returns
	// ErrNotFound when the booking is absent and ErrConflict when its current
	// status is not from.
	UpdateStatus(ctx context.Context, bookingID uuid.UUID, from, to domain.BookingStatus, cancelledBy domain.Role) (domain.Booking, error)

	// CompleteEnded marks every CONFIRMED booking that ended before now as COMPLETED.
	CompleteEnded(ctx context.Context, now time.Time) (int64, error)
}
