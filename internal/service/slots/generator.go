package slots

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"marketplace/backend/internal/cache"
	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/store"
)

const DateLayout = "2006-01-02"

var tracer = otel.Tracer("marketplace/backend/internal/service/slots")

type Generator struct {
	catalog  store.CatalogRepository
	windows  store.AvailabilityRepository
	bookings store.BookingRepository
	cache    cache.SlotCache
	loc      *time.Location
	log      *slog.Logger
}

func NewGenerator(catalog store.CatalogRepository, windows store.AvailabilityRepository, bookings store.BookingRepository, slotCache cache.SlotCache, loc *time.Location, log *slog.Logger) *Generator {
	if slotCache == nil {
		slotCache = cache.Noop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		catalog:  catalog,
		windows:  windows,
		bookings: bookings,
		cache:    slotCache,
		loc:      loc,
		log:      log.With(slog.String("component", "service.slots")),
	}
}

type Request struct {
	// ProviderID may be empty, in which case the variation's provider is used.
	ProviderID  string
	Date        string
	VariationID uuid.UUID
}

// GenerateSlots lists the bookable slots of a variation on a calendar date in
// the business timezone. A provider with no window that day yields no slots.
func (g *Generator) GenerateSlots(ctx context.Context, req Request) ([]domain.Slot, error) {
	ctx, span := tracer.Start(ctx, "slots.GenerateSlots")
	defer span.End()

	date, err := time.ParseInLocation(DateLayout, strings.TrimSpace(req.Date), g.loc)
	if err != nil {
		return nil, domain.NewValidationError("date must be formatted as YYYY-MM-DD")
	}
	if req.VariationID == uuid.Nil {
		return nil, domain.NewValidationError("service_variation_id is required")
	}

	variation, service, err := g.resolve(ctx, req.VariationID)
	if err != nil {
		return nil, err
	}
	providerID := strings.TrimSpace(req.ProviderID)
	if providerID == "" {
		providerID = service.ProviderID
	}
	if providerID != service.ProviderID {
		return nil, domain.NewNotFoundError("service variation", store.ErrNotFound)
	}

	dateKey := date.Format(DateLayout)
	span.SetAttributes(
		attribute.String("provider_id", providerID),
		attribute.String("date", dateKey),
		attribute.String("service_variation_id", variation.ID.String()),
	)

	if cached, hit, err := g.cache.Get(ctx, providerID, dateKey, variation.ID); err != nil {
		g.log.Warn("slot cache read failed", slog.Any("err", err), slog.String("provider_id", providerID), slog.String("date", dateKey))
	} else if hit {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return cached, nil
	}

	// The version is read before windows and bookings so that an invalidation
	// landing mid-computation makes the write below a no-op.
	version, versionErr := g.cache.Version(ctx, providerID, dateKey)
	if versionErr != nil {
		g.log.Warn("slot cache version read failed", slog.Any("err", versionErr), slog.String("provider_id", providerID), slog.String("date", dateKey))
	}

	windows, err := g.windows.ListWindowsByDay(ctx, providerID, int16(date.Weekday()))
	if err != nil {
		return nil, err
	}

	var out []domain.Slot
	if len(windows) > 0 {
		day := domain.DayBounds(date, g.loc)
		booked, err := g.bookings.ListConfirmedByProvider(ctx, providerID, day.Start, day.End)
		if err != nil {
			return nil, err
		}
		busy := make([]domain.Interval, 0, len(booked))
		for _, b := range booked {
			busy = append(busy, b.Interval())
		}
		out = domain.GenerateSlots(date, g.loc, windows, busy, variation.Duration())
	}
	if out == nil {
		out = []domain.Slot{}
	}

	if versionErr != nil {
		return out, nil
	}
	switch err := g.cache.Set(ctx, providerID, dateKey, variation.ID, version, out); {
	case errors.Is(err, cache.ErrStaleVersion):
		g.log.Debug("slot listing changed while computing; not cached", slog.String("provider_id", providerID), slog.String("date", dateKey))
	case err != nil:
		g.log.Warn("slot cache write failed", slog.Any("err", err), slog.String("provider_id", providerID), slog.String("date", dateKey))
	}
	return out, nil
}

func (g *Generator) resolve(ctx context.Context, variationID uuid.UUID) (domain.ServiceVariation, domain.Service, error) {
	v, err := g.catalog.FindVariation(ctx, variationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ServiceVariation{}, domain.Service{}, domain.NewNotFoundError("service variation", err)
		}
		return domain.ServiceVariation{}, domain.Service{}, err
	}
	s, err := g.catalog.FindService(ctx, v.ServiceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ServiceVariation{}, domain.Service{}, domain.NewNotFoundError("service", err)
		}
		return domain.ServiceVariation{}, domain.Service{}, err
	}
	return v, s, nil
}
