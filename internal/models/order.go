package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending       OrderStatus = "PENDING"
	OrderConfirmed     OrderStatus = "CONFIRMED"
	OrderProcessing    OrderStatus = "PROCESSING"
	OrderCancelled     OrderStatus = "CANCELLED"
	OrderExpired       OrderStatus = "EXPIRED"
	OrderCompleted     OrderStatus = "COMPLETED"
	OrderRefunded      OrderStatus = "REFUNDED"
	OrderPartialRefund OrderStatus = "PARTIAL_REFUND"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID          string      `bun:"id,pk" json:"id"`
	OrderNumber string      `bun:"order_number,unique,notnull" json:"orderNumber"`
	EventID     string      `bun:"event_id,notnull" json:"eventId"`
	BuyerID     string      `bun:"buyer_id,notnull" json:"buyerId"`
	Status      OrderStatus `bun:"status,notnull" json:"status"`

	Subtotal    decimal.Decimal `bun:"subtotal,type:decimal(12,2),notnull" json:"subtotal"`
	Discount    decimal.Decimal `bun:"discount,type:decimal(12,2),notnull" json:"discount"`
	ServiceFee  decimal.Decimal `bun:"service_fee,type:decimal(12,2),notnull" json:"serviceFee"`
	PlatformFee decimal.Decimal `bun:"platform_fee,type:decimal(12,2),notnull" json:"platformFee"`
	Total       decimal.Decimal `bun:"total,type:decimal(12,2),notnull" json:"total"`

	PromoCodeID string     `bun:"promo_code_id,nullzero" json:"promoCodeId,omitempty"`
	IsFree      bool       `bun:"is_free,notnull" json:"isFree"`
	ExpiresAt   *time.Time `bun:"expires_at" json:"expiresAt,omitempty"`
	ConfirmedAt *time.Time `bun:"confirmed_at" json:"confirmedAt,omitempty"`
	CancelledAt *time.Time `bun:"cancelled_at" json:"cancelledAt,omitempty"`
	CreatedAt   time.Time  `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"updatedAt"`

	Items   []*OrderItem      `bun:"rel:has-many,join:id=order_id" json:"items,omitempty"`
	Tickets []*TicketInstance `bun:"rel:has-many,join:id=order_id" json:"tickets,omitempty"`
}

// TicketAmount is what the buyer paid for tickets, fees excluded.
func (o *Order) TicketAmount() decimal.Decimal {
	return o.Subtotal.Sub(o.Discount)
}

// FeeAmount is the service and platform fee charged on the order.
func (o *Order) FeeAmount() decimal.Decimal {
	return o.ServiceFee.Add(o.PlatformFee)
}

type AttendeeData struct {
	Name          string         `json:"name" validate:"required"`
	Email         string         `json:"email" validate:"required,email"`
	CPF           string         `json:"cpf,omitempty"`
	Phone         string         `json:"phone,omitempty"`
	FormResponses map[string]any `json:"formResponses,omitempty"`
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID           string          `bun:"id,pk" json:"id"`
	OrderID      string          `bun:"order_id,notnull" json:"orderId"`
	TicketTypeID string          `bun:"ticket_type_id,notnull" json:"ticketTypeId"`
	Quantity     int             `bun:"quantity,notnull" json:"quantity"`
	UnitPrice    decimal.Decimal `bun:"unit_price,type:decimal(12,2),notnull" json:"unitPrice"`
	TotalPrice   decimal.Decimal `bun:"total_price,type:decimal(12,2),notnull" json:"totalPrice"`
	IsHalfPrice  bool            `bun:"is_half_price,notnull" json:"isHalfPrice"`
	// ServiceFee is the fee charged for this item, zero when absorbed.
	ServiceFee decimal.Decimal `bun:"service_fee,type:decimal(12,2),notnull" json:"serviceFee"`

	// PendingAttendees is consumed when the item's tickets are issued.
	PendingAttendees []AttendeeData `bun:"pending_attendees" json:"pendingAttendees,omitempty"`
}
