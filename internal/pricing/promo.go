package pricing

import (
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/models"
	"time"

	"github.com/shopspring/decimal"
)

// PromoCheck is everything ValidatePromo needs besides the code itself.
type PromoCheck struct {
	EventID  string
	Subtotal decimal.Decimal
	UserUses int
	Now      time.Time
}

// ValidatePromo refuses codes that are inactive, outside their window or
// below the minimum order value. A code out of uses is a conflict.
func ValidatePromo(p *models.PromoCode, c PromoCheck) error {
	if p == nil {
		return nil
	}
	switch {
	case !p.Active:
		return apperr.Validation("promo code %s is not active", p.Code)
	case p.EventID != "" && p.EventID != c.EventID:
		return apperr.Validation("promo code %s does not apply to this event", p.Code)
	case p.ValidFrom != nil && c.Now.Before(*p.ValidFrom):
		return apperr.Validation("promo code %s is not yet valid", p.Code)
	case p.ValidUntil != nil && c.Now.After(*p.ValidUntil):
		return apperr.Validation("promo code %s has expired", p.Code)
	case p.MinOrderValue.Valid && c.Subtotal.LessThan(p.MinOrderValue.Decimal):
		return apperr.Validation("promo code %s requires a minimum order of %s", p.Code, p.MinOrderValue.Decimal.StringFixed(2))
	case p.MaxUses != nil && p.CurrentUses >= *p.MaxUses:
		return apperr.Conflict("promo code %s usage limit reached", p.Code)
	case p.MaxUsesPerUser != nil && c.UserUses >= *p.MaxUsesPerUser:
		return apperr.Conflict("promo code %s already used the maximum number of times", p.Code)
	}
	return nil
}

// Discount computes the promo's discount on subtotal. PERCENTAGE discounts are
// capped by MaxDiscountAmount; FIXED discounts are not capped here.
func Discount(p *models.PromoCode, subtotal decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	switch p.DiscountType {
	case models.DiscountPercentage:
		d := PercentOf(subtotal, p.DiscountValue)
		if p.MaxDiscountAmount.Valid && d.GreaterThan(p.MaxDiscountAmount.Decimal) {
			d = p.MaxDiscountAmount.Decimal
		}
		return d
	case models.DiscountFixed:
		return Round2(p.DiscountValue)
	}
	return decimal.Zero
}
