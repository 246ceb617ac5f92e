// Package memory is an in-process implementation of the scheduling
// repositories. It mirrors the constraints of the Postgres schema so that
// services behave the same against either backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/store"
)

type Store struct {
	mu         sync.Mutex
	services   map[uuid.UUID]domain.Service
	variations map[uuid.UUID]domain.ServiceVariation
	windows    map[uuid.UUID]domain.AvailabilityWindow
	bookings   map[uuid.UUID]domain.Booking
	now        func() time.Time
}

func New() *Store {
	return &Store{
		services:   make(map[uuid.UUID]domain.Service),
		variations: make(map[uuid.UUID]domain.ServiceVariation),
		windows:    make(map[uuid.UUID]domain.AvailabilityWindow),
		bookings:   make(map[uuid.UUID]domain.Booking),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ store.AvailabilityRepository = (*Store)(nil)
	_ store.BookingRepository      = (*Store)(nil)
	_ store.CatalogRepository      = (*Store)(nil)
)

func (s *Store) PutService(svc domain.Service) domain.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if svc.ID == uuid.Nil {
		svc.ID = uuid.New()
	}
	s.services[svc.ID] = svc
	return svc
}

func (s *Store) PutVariation(v domain.ServiceVariation) domain.ServiceVariation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.DiscountDays = append([]int16(nil), v.DiscountDays...)
	s.variations[v.ID] = v
	return v
}

// InProviderTransaction runs fn with the whole store locked. Writes made by
// fn are undone when it returns an error.
func (s *Store) InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx store.ProviderTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) FindWindow(ctx context.Context, windowID uuid.UUID) (domain.AvailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[windowID]
	if !ok {
		return domain.AvailabilityWindow{}, store.ErrNotFound
	}
	return w, nil
}

func (s *Store) ListWindows(ctx context.Context, providerID string) ([]domain.AvailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AvailabilityWindow, 0)
	for _, w := range s.windows {
		if w.ProviderID == providerID {
			out = append(out, w)
		}
	}
	sortWindows(out)
	return out, nil
}

func (s *Store) ListWindowsByDay(ctx context.Context, providerID string, day int16) ([]domain.AvailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowsByDay(providerID, day), nil
}

func (s *Store) FindService(ctx context.Context, serviceID uuid.UUID) (domain.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[serviceID]
	if !ok {
		return domain.Service{}, store.ErrNotFound
	}
	return svc, nil
}

func (s *Store) FindVariation(ctx context.Context, variationID uuid.UUID) (domain.ServiceVariation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variations[variationID]
	if !ok {
		return domain.ServiceVariation{}, store.ErrNotFound
	}
	return v, nil
}

func (s *Store) FindBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return domain.Booking{}, store.ErrNotFound
	}
	return b, nil
}

func (s *Store) ListByClient(ctx context.Context, clientID string, page store.PageRequest) (store.Page[domain.Booking], error) {
	return s.listBookings(func(b domain.Booking) bool { return b.ClientID == clientID }, page), nil
}

func (s *Store) ListByProvider(ctx context.Context, providerID string, page store.PageRequest) (store.Page[domain.Booking], error) {
	return s.listBookings(func(b domain.Booking) bool { return b.ProviderID == providerID }, page), nil
}

func (s *Store) listBookings(match func(domain.Booking) bool, page store.PageRequest) store.Page[domain.Booking] {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]domain.Booking, 0)
	for _, b := range s.bookings {
		if match(b) {
			rows = append(rows, b)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].StartTime.Equal(rows[j].StartTime) {
			return rows[i].StartTime.After(rows[j].StartTime)
		}
		return rows[i].ID.String() < rows[j].ID.String()
	})
	return store.Paginate(rows, page)
}

func (s *Store) HasConfirmedOverlap(ctx context.Context, variationID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasConfirmedOverlap(variationID, start, end, excludeID), nil
}

func (s *Store) ListConfirmedByProvider(ctx context.Context, providerID string, start, end time.Time) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmedByProvider(providerID, start, end), nil
}

func (s *Store) UpdateStatus(ctx context.Context, bookingID uuid.UUID, from, to domain.BookingStatus, cancelledBy domain.Role) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return domain.Booking{}, store.ErrNotFound
	}
	if b.Status != from {
		return domain.Booking{}, store.ErrConflict
	}
	b.Status = to
	b.CancelledBy = cancelledBy
	b.UpdatedAt = s.now()
	s.bookings[bookingID] = b
	return b, nil
}

func (s *Store) CompleteEnded(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, b := range s.bookings {
		if b.Status == domain.BookingStatusConfirmed && b.EndTime.Before(now) {
			b.Status = domain.BookingStatusCompleted
			b.UpdatedAt = now.UTC()
			s.bookings[id] = b
			n++
		}
	}
	return n, nil
}

func (s *Store) windowsByDay(providerID string, day int16) []domain.AvailabilityWindow {
	out := make([]domain.AvailabilityWindow, 0)
	for _, w := range s.windows {
		if w.ProviderID == providerID && w.DayOfWeek == day {
			out = append(out, w)
		}
	}
	sortWindows(out)
	return out
}

func (s *Store) hasConfirmedOverlap(variationID uuid.UUID, start, end time.Time, excludeID uuid.UUID) bool {
	for _, b := range s.bookings {
		if b.ServiceVariationID != variationID || b.Status != domain.BookingStatusConfirmed || b.ID == excludeID {
			continue
		}
		if domain.Overlaps(b.StartTime, b.EndTime, start, end) {
			return true
		}
	}
	return false
}

func (s *Store) confirmedByProvider(providerID string, start, end time.Time) []domain.Booking {
	out := make([]domain.Booking, 0)
	for _, b := range s.bookings {
		if b.ProviderID == providerID && b.Status == domain.BookingStatusConfirmed && domain.Overlaps(b.StartTime, b.EndTime, start, end) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func sortWindows(ws []domain.AvailabilityWindow) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].DayOfWeek != ws[j].DayOfWeek {
			return ws[i].DayOfWeek < ws[j].DayOfWeek
		}
		return ws[i].StartTime < ws[j].StartTime
	})
}
