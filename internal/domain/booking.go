package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
)

func (s BookingStatus) Terminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusCompleted
}

type Role string

const (
	RoleClient   Role = "CLIENT"
	RoleProvider Role = "PROVIDER"
)

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleProvider
}

// Actor is the authenticated caller of a scheduling operation.
type Actor struct {
	UserID string
	Role   Role
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID                 uuid.UUID       `bun:"id,pk,type:uuid"`
	ClientID           string          `bun:"client_id,notnull"`
	ServiceVariationID uuid.UUID       `bun:"service_variation_id,notnull,type:uuid"`
	ProviderID         string          `bun:"provider_id,notnull"`
	StartTime          time.Time       `bun:"start_time,notnull"`
	EndTime            time.Time       `bun:"end_time,notnull"`
	Status             BookingStatus   `bun:"status,notnull"`
	FinalPrice         decimal.Decimal `bun:"final_price,type:numeric(12,2),notnull"`
	CancelledBy        Role            `bun:"cancelled_by,nullzero"`
	CreatedAt          time.Time       `bun:"created_at,notnull"`
	UpdatedAt          time.Time       `bun:"updated_at,notnull"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

func (b Booking) Interval() Interval {
	return Interval{Start: b.StartTime, End: b.EndTime}
}
