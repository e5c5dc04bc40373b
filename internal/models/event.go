package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type EventStatus string

const (
	EventDraft     EventStatus = "DRAFT"
	EventActive    EventStatus = "ACTIVE"
	EventEnded     EventStatus = "ENDED"
	EventCancelled EventStatus = "CANCELLED"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID          string      `bun:"id,pk" json:"id"`
	OrganizerID string      `bun:"organizer_id,notnull" json:"organizerId"`
	Title       string      `bun:"title,notnull" json:"title"`
	Capacity    *int        `bun:"capacity" json:"capacity,omitempty"`
	StartsAt    time.Time   `bun:"starts_at,notnull" json:"startsAt"`
	EndsAt      time.Time   `bun:"ends_at,notnull" json:"endsAt"`
	Status      EventStatus `bun:"status,notnull" json:"status"`

	RefundAllowed      bool `bun:"refund_allowed,notnull" json:"refundAllowed"`
	RefundDeadlineDays *int `bun:"refund_deadline_days" json:"refundDeadlineDays,omitempty"`
	// RefundPercentage is stored policy; approved refunds are always full.
	RefundPercentage int `bun:"refund_percentage,notnull" json:"refundPercentage"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updatedAt"`
}

type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types"`

	ID      string          `bun:"id,pk" json:"id"`
	EventID string          `bun:"event_id,notnull" json:"eventId"`
	Name    string          `bun:"name,notnull" json:"name"`
	Price   decimal.Decimal `bun:"price,type:decimal(12,2),notnull" json:"price"`

	HalfPrice         decimal.NullDecimal `bun:"half_price,type:decimal(12,2)" json:"halfPrice"`
	HalfPriceQuantity int                 `bun:"half_price_quantity,notnull" json:"halfPriceQuantity"`
	HalfPriceSold     int                 `bun:"half_price_sold,notnull" json:"halfPriceSold"`

	Quantity         int `bun:"quantity,notnull" json:"quantity"`
	QuantityReserved int `bun:"quantity_reserved,notnull" json:"quantityReserved"`
	QuantitySold     int `bun:"quantity_sold,notnull" json:"quantitySold"`

	SalesStart  *time.Time `bun:"sales_start" json:"salesStart,omitempty"`
	SalesEnd    *time.Time `bun:"sales_end" json:"salesEnd,omitempty"`
	Visible     bool       `bun:"visible,notnull" json:"visible"`
	MinPerOrder int        `bun:"min_per_order,notnull" json:"minPerOrder"`
	MaxPerOrder int        `bun:"max_per_order,notnull" json:"maxPerOrder"`

	ServiceFeePercent decimal.Decimal `bun:"service_fee_percent,type:decimal(5,2),notnull" json:"serviceFeePercent"`
	AbsorbServiceFee  bool            `bun:"absorb_service_fee,notnull" json:"absorbServiceFee"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"createdAt"`
}

// Available is the general stock left for sale.
func (t *TicketType) Available() int {
	return t.Quantity - t.QuantitySold - t.QuantityReserved
}

// UnitPrice returns the half price when requested and configured.
func (t *TicketType) UnitPrice(halfPrice bool) decimal.Decimal {
	if halfPrice && t.HalfPrice.Valid {
		return t.HalfPrice.Decimal
	}
	return t.Price
}
