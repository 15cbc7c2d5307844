package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// PromoCode is a discount rule. DiscountValue is a percentage for
// percentage codes and minor currency units for fixed codes.
type PromoCode struct {
	ID            string
	Code          string
	EventID       string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	MaxUses       *int
	UsedCount     int
	ExpiresAt     *time.Time
	IsActive      bool
}

var hundred = decimal.NewFromInt(100)

// DiscountFor returns the discount in minor units for the given subtotal.
// Percentages round half away from zero; the discount never exceeds subtotal.
func (p PromoCode) DiscountFor(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	base := decimal.NewFromInt(subtotal)
	var d decimal.Decimal
	switch p.DiscountType {
	case DiscountPercentage:
		d = base.Mul(p.DiscountValue).Div(hundred).Round(0)
	case DiscountFixed:
		d = p.DiscountValue.Round(0)
	default:
		return 0
	}
	if d.IsNegative() {
		return 0
	}
	if d.GreaterThan(base) {
		return subtotal
	}
	return d.IntPart()
}
