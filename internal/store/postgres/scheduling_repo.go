package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/store"
)

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"

	bookingsNoOverlapConstraint = "bookings_no_overlap"
	windowsNoOverlapConstraint  = "availability_windows_no_overlap"
)

type SchedulingRepo struct {
	db *bun.DB
}

func NewSchedulingRepo(db *bun.DB) *SchedulingRepo {
	return &SchedulingRepo{db: db}
}

var (
	_ store.AvailabilityRepository = (*SchedulingRepo)(nil)
	_ store.BookingRepository      = (*SchedulingRepo)(nil)
	_ store.CatalogRepository      = (*SchedulingRepo)(nil)
)

type providerTx struct {
	tx bun.Tx
}

func (r *SchedulingRepo) InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx store.ProviderTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProviderSchedule(ctx, tx, providerID); err != nil {
			return err
		}
		return fn(ctx, providerTx{tx: tx})
	})
}

func lockProviderSchedule(ctx context.Context, tx bun.Tx, providerID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "provider:"+providerID).Exec(ctx)
	return err
}

func (r *SchedulingRepo) FindWindow(ctx context.Context, windowID uuid.UUID) (domain.AvailabilityWindow, error) {
	var w domain.AvailabilityWindow
	err := r.db.NewSelect().
		Model(&w).
		Where("id = ?", windowID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.AvailabilityWindow{}, translateError(err)
	}
	return w, nil
}

func (r *SchedulingRepo) ListWindows(ctx context.Context, providerID string) ([]domain.AvailabilityWindow, error) {
	var rows []domain.AvailabilityWindow
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		OrderExpr("day_of_week ASC, start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SchedulingRepo) ListWindowsByDay(ctx context.Context, providerID string, day int16) ([]domain.AvailabilityWindow, error) {
	return listWindowsByDay(ctx, r.db, providerID, day)
}

func (r *SchedulingRepo) FindService(ctx context.Context, serviceID uuid.UUID) (domain.Service, error) {
	var s domain.Service
	err := r.db.NewSelect().
		Model(&s).
		Where("id = ?", serviceID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Service{}, translateError(err)
	}
	return s, nil
}

func (r *SchedulingRepo) FindVariation(ctx context.Context, variationID uuid.UUID) (domain.ServiceVariation, error) {
	var v domain.ServiceVariation
	err := r.db.NewSelect().
		Model(&v).
		Where("id = ?", variationID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.ServiceVariation{}, translateError(err)
	}
	return v, nil
}

func (r *SchedulingRepo) FindBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := r.db.NewSelect().
		Model(&b).
		Where("id = ?", bookingID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Booking{}, translateError(err)
	}
	return b, nil
}

func (r *SchedulingRepo) ListByClient(ctx context.Context, clientID string, page store.PageRequest) (store.Page[domain.Booking], error) {
	return r.listBookings(ctx, "client_id = ?", clientID, page)
}

func (r *SchedulingRepo) ListByProvider(ctx context.Context, providerID string, page store.PageRequest) (store.Page[domain.Booking], error) {
	return r.listBookings(ctx, "provider_id = ?", providerID, page)
}

func (r *SchedulingRepo) listBookings(ctx context.Context, where string, arg string, page store.PageRequest) (store.Page[domain.Booking], error) {
	page = page.Normalize()

	var rows []domain.Booking
	total, err := r.db.NewSelect().
		Model(&rows).
		Where(where, arg).
		OrderExpr("start_time DESC").
		Limit(page.Limit).
		Offset(page.Offset()).
		ScanAndCount(ctx)
	if err != nil {
		return store.Page[domain.Booking]{}, err
	}
	return store.NewPage(rows, page, total), nil
}

func (r *SchedulingRepo) HasConfirmedOverlap(ctx context.Context, variationID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	return hasConfirmedOverlap(ctx, r.db, variationID, start, end, excludeID)
}

func (r *SchedulingRepo) ListConfirmedByProvider(ctx context.Context, providerID string, start, end time.Time) ([]domain.Booking, error) {
	return listConfirmedByProvider(ctx, r.db, providerID, start, end)
}

func (r *SchedulingRepo) UpdateStatus(ctx context.Context, bookingID uuid.UUID, from, to domain.BookingStatus, cancelledBy domain.Role) (domain.Booking, error) {
	var b domain.Booking
	err := r.db.NewUpdate().
		Model(&b).
		Set("status = ?", to).
		Set("cancelled_by = NULLIF(?, '')", string(cancelledBy)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", bookingID).
		Where("status = ?", from).
		Returning("*").
		Scan(ctx)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Booking{}, err
	}

	exists, err := r.db.NewSelect().
		Model((*domain.Booking)(nil)).
		Where("id = ?", bookingID).
		Exists(ctx)
	if err != nil {
		return domain.Booking{}, err
	}
	if !exists {
		return domain.Booking{}, store.ErrNotFound
	}
	return domain.Booking{}, store.ErrConflict
}

func (r *SchedulingRepo) CompleteEnded(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*domain.Booking)(nil)).
		Set("status = ?", domain.BookingStatusCompleted).
		Set("updated_at = ?", now.UTC()).
		Where("status = ?", domain.BookingStatusConfirmed).
		Where("end_time < ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t providerTx) ListWindowsByDay(ctx context.Context, providerID string, day int16) ([]domain.AvailabilityWindow, error) {
	return listWindowsByDay(ctx, t.tx, providerID, day)
}

func (t providerTx) InsertWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	m := w
	if _, err := t.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.AvailabilityWindow{}, translateError(err)
	}
	return m, nil
}

func (t providerTx) UpdateWindow(ctx context.Context, w domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	m := w
	res, err := t.tx.NewUpdate().
		Model(&m).
		Column("day_of_week", "start_minute", "end_minute", "updated_at").
		Where("id = ?", m.ID).
		Where("provider_id = ?", m.ProviderID).
		Exec(ctx)
	if err != nil {
		return domain.AvailabilityWindow{}, translateError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	if affected == 0 {
		return domain.AvailabilityWindow{}, store.ErrNotFound
	}
	return m, nil
}

func (t providerTx) DeleteWindow(ctx context.Context, providerID string, windowID uuid.UUID) error {
	res, err := t.tx.NewDelete().
		Model((*domain.AvailabilityWindow)(nil)).
		Where("provider_id = ?", providerID).
		Where("id = ?", windowID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t providerTx) HasConfirmedOverlap(ctx context.Context, variationID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	return hasConfirmedOverlap(ctx, t.tx, variationID, start, end, excludeID)
}

func (t providerTx) ListConfirmedByProvider(ctx context.Context, providerID string, start, end time.Time) ([]domain.Booking, error) {
	return listConfirmedByProvider(ctx, t.tx, providerID, start, end)
}

func (t providerTx) InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	m := b
	if _, err := t.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Booking{}, translateError(err)
	}
	return m, nil
}

func listWindowsByDay(ctx context.Context, db bun.IDB, providerID string, day int16) ([]domain.AvailabilityWindow, error) {
	var rows []domain.AvailabilityWindow
	err := db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("day_of_week = ?", day).
		OrderExpr("start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func hasConfirmedOverlap(ctx context.Context, db bun.IDB, variationID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	q := db.NewSelect().
		Model((*domain.Booking)(nil)).
		Where("service_variation_id = ?", variationID).
		Where("status = ?", domain.BookingStatusConfirmed).
		Where("start_time < ?", end).
		Where("end_time > ?", start)
	if excludeID != uuid.Nil {
		q = q.Where("id <> ?", excludeID)
	}
	return q.Exists(ctx)
}

func listConfirmedByProvider(ctx context.Context, db bun.IDB, providerID string, start, end time.Time) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("status = ?", domain.BookingStatusConfirmed).
		Where("start_time < ?", end).
		Where("end_time > ?", start).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// translateError maps driver errors onto the store sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation:
			if pgErr.ConstraintName == bookingsNoOverlapConstraint || pgErr.ConstraintName == windowsNoOverlapConstraint {
				return store.ErrConflict
			}
		case pgUniqueViolation:
			return store.ErrConflict
		}
	}
	return err
}
