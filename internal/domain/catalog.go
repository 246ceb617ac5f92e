package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type Service struct {
	bun.BaseModel `bun:"table:services"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	ProviderID string    `bun:"provider_id,notnull"`
	Name       string    `bun:"name,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type ServiceVariation struct {
	bun.BaseModel `bun:"table:service_variations"`

	ID                 uuid.UUID       `bun:"id,pk,type:uuid"`
	ServiceID          uuid.UUID       `bun:"service_id,notnull,type:uuid"`
	Name               string          `bun:"name,notnull"`
	Price              decimal.Decimal `bun:"price,type:numeric(12,2),notnull"`
	DurationMinutes    int             `bun:"duration_minutes,notnull"`
	DiscountPercentage int             `bun:"discount_percentage,notnull"`
	DiscountDays       []int16         `bun:"discount_days,array,notnull"`
	CreatedAt          time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (v ServiceVariation) Duration() time.Duration {
	return time.Duration(v.DurationMinutes) * time.Minute
}

func (v ServiceVariation) Validate() error {
	if v.Price.IsNegative() {
		return NewValidationError("price must not be negative")
	}
	if v.DurationMinutes <= 0 {
		return NewValidationError("duration_minutes must be positive")
	}
	if v.DiscountPercentage < 0 || v.DiscountPercentage > 100 {
		return NewValidationError("discount_percentage must be between 0 and 100")
	}
	for _, d := range v.DiscountDays {
		if !ValidDayOfWeek(d) {
			return NewValidationError("invalid discount day")
		}
	}
	return nil
}

func (v ServiceVariation) discountsOn(day time.Weekday) bool {
	for _, d := range v.DiscountDays {
		if d == int16(day) {
			return true
		}
	}
	return false
}
