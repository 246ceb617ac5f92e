package availability

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"marketplace/backend/internal/cache"
	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/store"
)

const errWindowOverlap = "availability window overlaps an existing window"

type Service struct {
	repo  store.AvailabilityRepository
	cache cache.SlotCache
	log   *slog.Logger
}

type Option func(*Service)

// WithSlotCache drops a provider's cached slot listings whenever its windows
// change.
func WithSlotCache(c cache.SlotCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

func NewService(repo store.AvailabilityRepository, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		repo:  repo,
		cache: cache.Noop{},
		log:   log.With(slog.String("component", "service.availability")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateInput struct {
	DayOfWeek int16
	StartTime string
	EndTime   string
}

// UpdateInput leaves a field unchanged when it is nil.
type UpdateInput struct {
	DayOfWeek *int16
	StartTime *string
	EndTime   *string
}

func (s *Service) Create(ctx context.Context, actor domain.Actor, in CreateInput) (domain.AvailabilityWindow, error) {
	if err := requireProvider(actor); err != nil {
		return domain.AvailabilityWindow{}, err
	}

	start, err := domain.ParseTimeOfDay(in.StartTime)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	end, err := domain.ParseTimeOfDay(in.EndTime)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}

	w := domain.AvailabilityWindow{
		ProviderID: actor.UserID,
		DayOfWeek:  in.DayOfWeek,
		StartTime:  start,
		EndTime:    end,
	}
	if err := w.Validate(); err != nil {
		return domain.AvailabilityWindow{}, err
	}

	var out domain.AvailabilityWindow
	err = s.repo.InProviderTransaction(ctx, actor.UserID, func(ctx context.Context, tx store.ProviderTx) error {
		if err := ensureNoWindowOverlap(ctx, tx, w); err != nil {
			return err
		}
		created, err := tx.InsertWindow(ctx, w)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return domain.AvailabilityWindow{}, translate(err)
	}

	s.invalidate(ctx, out.ProviderID)
	s.log.Debug("availability window created",
		slog.String("window_id", out.ID.String()),
		slog.String("provider_id", out.ProviderID),
		slog.Int("day_of_week", int(out.DayOfWeek)),
	)
	return out, nil
}

func (s *Service) Update(ctx context.Context, actor domain.Actor, windowID uuid.UUID, in UpdateInput) (domain.AvailabilityWindow, error) {
	if err := requireProvider(actor); err != nil {
		return domain.AvailabilityWindow{}, err
	}
	existing, err := s.ownedWindow(ctx, actor, windowID)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}

	w := existing
	if in.DayOfWeek != nil {
		w.DayOfWeek = *in.DayOfWeek
	}
	if in.StartTime != nil {
		if w.StartTime, err = domain.ParseTimeOfDay(*in.StartTime); err != nil {
			return domain.AvailabilityWindow{}, err
		}
	}
	if in.EndTime != nil {
		if w.EndTime, err = domain.ParseTimeOfDay(*in.EndTime); err != nil {
			return domain.AvailabilityWindow{}, err
		}
	}
	if err := w.Validate(); err != nil {
		return domain.AvailabilityWindow{}, err
	}

	var out domain.AvailabilityWindow
	err = s.repo.InProviderTransaction(ctx, actor.UserID, func(ctx context.Context, tx store.ProviderTx) error {
		if err := ensureNoWindowOverlap(ctx, tx, w); err != nil {
			return err
		}
		updated, err := tx.UpdateWindow(ctx, w)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.AvailabilityWindow{}, translate(err)
	}
	s.invalidate(ctx, out.ProviderID)
	return out, nil
}

func (s *Service) Delete(ctx context.Context, actor domain.Actor, windowID uuid.UUID) error {
	if err := requireProvider(actor); err != nil {
		return err
	}
	if _, err := s.ownedWindow(ctx, actor, windowID); err != nil {
		return err
	}

	err := s.repo.InProviderTransaction(ctx, actor.UserID, func(ctx context.Context, tx store.ProviderTx) error {
		return tx.DeleteWindow(ctx, actor.UserID, windowID)
	})
	if err != nil {
		return translate(err)
	}
	s.invalidate(ctx, actor.UserID)
	return nil
}

// invalidate runs after commit. A failure leaves listings stale until their
// TTL expires.
func (s *Service) invalidate(ctx context.Context, providerID string) {
	if err := s.cache.InvalidateProvider(ctx, providerID); err != nil {
		s.log.Warn("slot cache invalidation failed", slog.Any("err", err), slog.String("provider_id", providerID))
	}
}

func (s *Service) List(ctx context.Context, providerID string) ([]domain.AvailabilityWindow, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, domain.NewValidationError("provider_id is required")
	}
	return s.repo.ListWindows(ctx, providerID)
}

func (s *Service) ListByDay(ctx context.Context, providerID string, day int16) ([]domain.AvailabilityWindow, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, domain.NewValidationError("provider_id is required")
	}
	if !domain.ValidDayOfWeek(day) {
		return nil, domain.NewValidationError("day_of_week must be between 0 and 6")
	}
	return s.repo.ListWindowsByDay(ctx, providerID, day)
}

func (s *Service) ownedWindow(ctx context.Context, actor domain.Actor, windowID uuid.UUID) (domain.AvailabilityWindow, error) {
	if windowID == uuid.Nil {
		return domain.AvailabilityWindow{}, domain.NewValidationError("window_id is required")
	}
	w, err := s.repo.FindWindow(ctx, windowID)
	if err != nil {
		return domain.AvailabilityWindow{}, translate(err)
	}
	if w.ProviderID != actor.UserID {
		return domain.AvailabilityWindow{}, domain.NewAuthorizationError("not authorized to modify this availability window")
	}
	return w, nil
}

func ensureNoWindowOverlap(ctx context.Context, tx store.ProviderTx, w domain.AvailabilityWindow) error {
	existing, err := tx.ListWindowsByDay(ctx, w.ProviderID, w.DayOfWeek)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.ID != w.ID && e.Overlaps(w) {
			return domain.NewConflictError(errWindowOverlap, store.ErrConflict)
		}
	}
	return nil
}

func requireProvider(actor domain.Actor) error {
	if strings.TrimSpace(actor.UserID) == "" {
		return domain.NewValidationError("provider_id is required")
	}
	if actor.Role != domain.RoleProvider {
		return domain.NewAuthorizationError("only providers can manage availability")
	}
	return nil
}

func translate(err error) error {
	var cErr *domain.ConflictError
	if errors.As(err, &cErr) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.NewNotFoundError("availability window", err)
	case errors.Is(err, store.ErrConflict):
		return domain.NewConflictError(errWindowOverlap, err)
	}
	return err
}
