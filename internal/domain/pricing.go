package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const priceScale = 2

var hundred = decimal.NewFromInt(100)

// ComputeFinalPrice applies the variation's discount when day is one of its
// discount days. The undiscounted price is returned as stored.
func ComputeFinalPrice(v ServiceVariation, day time.Weekday) decimal.Decimal {
	if v.DiscountPercentage <= 0 || !v.discountsOn(day) {
		return v.Price
	}
	pct := v.DiscountPercentage
	if pct > 100 {
		pct = 100
	}
	factor := decimal.NewFromInt(int64(100 - pct))
	return v.Price.Mul(factor).Div(hundred).Round(priceScale)
}
