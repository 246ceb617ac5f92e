package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/store"
)

// memTx operates on a Store whose mutex is already held.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) ListWindowsByDay(ctx context.Context, providerID string, day int16) ([]domain.AvailabilityWindow, error) {
	return t.s.windowsByDay(providerID, day), nil
}

func (t *memTx) InsertWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	if w.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.AvailabilityWindow{}, err
		}
		w.ID = id
	}
	if _, exists := t.s.windows[w.ID]; exists {
		return domain.AvailabilityWindow{}, store.ErrConflict
	}
	if t.windowClashes(w) {
		return domain.AvailabilityWindow{}, store.ErrConflict
	}
	now := t.s.now()
	w.CreatedAt, w.UpdatedAt = now, now
	t.s.windows[w.ID] = w
	t.undo = append(t.undo, func() { delete(t.s.windows, w.ID) })
	return w, nil
}

func (t *memTx) UpdateWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	prev, ok := t.s.windows[w.ID]
	if !ok || prev.ProviderID != w.ProviderID {
		return domain.AvailabilityWindow{}, store.ErrNotFound
	}
	if t.windowClashes(w) {
		return domain.AvailabilityWindow{}, store.ErrConflict
	}
	w.CreatedAt = prev.CreatedAt
	w.UpdatedAt = t.s.now()
	t.s.windows[w.ID] = w
	t.undo = append(t.undo, func() { t.s.windows[prev.ID] = prev })
	return w, nil
}

func (t *memTx) DeleteWindow(ctx context.Context, providerID string, windowID uuid.UUID) error {
	prev, ok := t.s.windows[windowID]
	if !ok || prev.ProviderID != providerID {
		return store.ErrNotFound
	}
	delete(t.s.windows, windowID)
	t.undo = append(t.undo, func() { t.s.windows[prev.ID] = prev })
	return nil
}

func (t *memTx) HasConfirmedOverlap(ctx context.Context, variationID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	return t.s.hasConfirmedOverlap(variationID, start, end, excludeID), nil
}

func (t *memTx) ListConfirmedByProvider(ctx context.Context, providerID string, start, end time.Time) ([]domain.Booking, error) {
	return t.s.confirmedByProvider(providerID, start, end), nil
}

func (t *memTx) InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if b.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Booking{}, err
		}
		b.ID = id
	}
	if _, exists := t.s.bookings[b.ID]; exists {
		return domain.Booking{}, store.ErrConflict
	}
	if b.Status == domain.BookingStatusConfirmed && t.s.hasConfirmedOverlap(b.ServiceVariationID, b.StartTime, b.EndTime, uuid.Nil) {
		return domain.Booking{}, store.ErrConflict
	}
	now := t.s.now()
	b.CreatedAt, b.UpdatedAt = now, now
	t.s.bookings[b.ID] = b
	t.undo = append(t.undo, func() { delete(t.s.bookings, b.ID) })
	return b, nil
}

func (t *memTx) windowClashes(w domain.AvailabilityWindow) bool {
	for _, other := range t.s.windowsByDay(w.ProviderID, w.DayOfWeek) {
		if other.ID != w.ID && other.Overlaps(w) {
			return true
		}
	}
	return false
}
