// Package pricing computes order amounts. All money is decimal and every
// stored amount is rounded half away from zero to two places.
package pricing

import (
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// PercentOf returns round2(amount * pct / 100).
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(pct).Div(hundred))
}

// Line is one priced order item.
type Line struct {
	TicketType *models.TicketType
	Quantity   int
	HalfPrice  bool
	UnitPrice  decimal.Decimal
	Total      decimal.Decimal
	ServiceFee decimal.Decimal
}

// Totals is the full breakdown stored on an order.
type Totals struct {
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	ServiceFee  decimal.Decimal
	PlatformFee decimal.Decimal
	Total       decimal.Decimal
}

func (t Totals) IsFree() bool { return t.Total.IsZero() }

type Engine struct {
	platformFeePercent decimal.Decimal
}

// NewEngine takes the platform fee as a percentage of the subtotal.
func NewEngine(platformFeePercent decimal.Decimal) *Engine {
	return &Engine{platformFeePercent: platformFeePercent}
}

// PriceItem prices qty units, charging the type's fee unless the organizer
// absorbs it.
func (e *Engine) PriceItem(tt *models.TicketType, qty int, halfPrice bool) Line {
	unit := tt.UnitPrice(halfPrice)
	total := Round2(unit.Mul(decimal.NewFromInt(int64(qty))))
	fee := decimal.Zero
	if !tt.AbsorbServiceFee {
		fee = PercentOf(total, tt.ServiceFeePercent)
	}
	return Line{
		TicketType: tt,
		Quantity:   qty,
		HalfPrice:  halfPrice,
		UnitPrice:  unit,
		Total:      total,
		ServiceFee: fee,
	}
}

func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total)
	}
	return sum
}

func ServiceFee(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.ServiceFee)
	}
	return sum
}

func (e *Engine) PlatformFee(subtotal decimal.Decimal) decimal.Decimal {
	if e.platformFeePercent.IsZero() {
		return decimal.Zero
	}
	return PercentOf(subtotal, e.platformFeePercent)
}

// Totals combines the lines with a discount. A discount larger than what is
// being charged is refused rather than producing a negative total.
func (e *Engine) Totals(lines []Line, discount decimal.Decimal) (Totals, error) {
	subtotal := Subtotal(lines)
	t := Totals{
		Subtotal:    subtotal,
		Discount:    Round2(discount),
		ServiceFee:  ServiceFee(lines),
		PlatformFee: e.PlatformFee(subtotal),
	}
	t.Total = t.Subtotal.Add(t.ServiceFee).Add(t.PlatformFee).Sub(t.Discount)
	if t.Total.IsNegative() {
		return Totals{}, apperr.Validation("discount %s exceeds order value %s", t.Discount.StringFixed(2), t.Subtotal.Add(t.ServiceFee).Add(t.PlatformFee).StringFixed(2))
	}
	return t, nil
}
