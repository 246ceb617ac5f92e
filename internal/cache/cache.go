package cache

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"marketplace/backend/internal/domain"
)

// ErrStaleVersion is returned by Set when the listing was computed before the
// latest invalidation and was therefore not stored.
var ErrStaleVersion = errors.New("slot cache: stale version")

// Version identifies the invalidation generation a listing was computed under.
// Provider moves on every provider-wide invalidation, Date on every
// invalidation of that provider and date.
type Version struct {
	Provider int64
	Date     int64
}

// SlotCache stores generated slot listings per provider and calendar date.
// Invalidation drops every variation's listing for that date.
//
// Callers read Version before computing a listing and hand it back to Set, so
// a listing computed across an invalidation is never stored.
type SlotCache interface {
	Get(ctx context.Context, providerID, date string, variationID uuid.UUID) ([]domain.Slot, bool, error)
	Version(ctx context.Context, providerID, date string) (Version, error)
	Set(ctx context.Context, providerID, date string, variationID uuid.UUID, version Version, slots []domain.Slot) error
	InvalidateSlots(ctx context.Context, providerID, date string) error
	InvalidateProvider(ctx context.Context, providerID string) error
}

type Noop struct{}

func (Noop) Get(context.Context, string, string, uuid.UUID) ([]domain.Slot, bool, error) {
	return nil, false, nil
}

func (Noop) Version(context.Context, string, string) (Version, error) {
	return Version{}, nil
}

func (Noop) Set(context.Context, string, string, uuid.UUID, Version, []domain.Slot) error {
	return nil
}

func (Noop) InvalidateSlots(context.Context, string, string) error {
	return nil
}

func (Noop) InvalidateProvider(context.Context, string) error {
	return nil
}
