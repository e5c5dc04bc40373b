package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type RefundStatus string

const (
	RefundPending    RefundStatus = "PENDING"
	RefundProcessing RefundStatus = "PROCESSING"
	RefundCompleted  RefundStatus = "COMPLETED"
	RefundRejected   RefundStatus = "REJECTED"
	RefundCancelled  RefundStatus = "CANCELLED"
)

// Open reports whether the refund still blocks a new request for the same scope.
func (s RefundStatus) Open() bool {
	return s == RefundPending || s == RefundProcessing
}

type RefundType string

const (
	RefundCDC7Days       RefundType = "CDC_7_DAYS"
	RefundEventCancelled RefundType = "EVENT_CANCELLED"
	RefundEventPolicy    RefundType = "EVENT_POLICY"
)

type Refund struct {
	bun.BaseModel `bun:"table:refunds"`

	ID               string       `bun:"id,pk" json:"id"`
	OrderID          string       `bun:"order_id,notnull" json:"orderId"`
	PaymentID        string       `bun:"payment_id,nullzero" json:"paymentId,omitempty"`
	TicketInstanceID string       `bun:"ticket_instance_id,nullzero" json:"ticketInstanceId,omitempty"`
	RequestedBy      string       `bun:"requested_by,notnull" json:"requestedBy"`
	Reason           string       `bun:"reason,notnull" json:"reason"`
	Status           RefundStatus `bun:"status,notnull" json:"status"`
	Type             RefundType   `bun:"refund_type,notnull" json:"refundType"`

	TicketAmount        decimal.Decimal `bun:"ticket_amount,type:decimal(12,2),notnull" json:"ticketAmount"`
	PlatformFeeAmount   decimal.Decimal `bun:"platform_fee_amount,type:decimal(12,2),notnull" json:"platformFeeAmount"`
	PlatformFeeRefunded bool            `bun:"platform_fee_refunded,notnull" json:"platformFeeRefunded"`
	TotalAmount         decimal.Decimal `bun:"total_amount,type:decimal(12,2),notnull" json:"totalAmount"`
	PolicyPercentage    int             `bun:"policy_percentage,notnull" json:"policyPercentage"`

	ProcessedBy     string     `bun:"processed_by,nullzero" json:"processedBy,omitempty"`
	RejectionReason string     `bun:"rejection_reason,nullzero" json:"rejectionReason,omitempty"`
	GatewayRefundID string     `bun:"gateway_refund_id,nullzero" json:"gatewayRefundId,omitempty"`
	GatewayError    string     `bun:"gateway_error,nullzero" json:"gatewayError,omitempty"`
	ProcessedAt     *time.Time `bun:"processed_at" json:"processedAt,omitempty"`
	CreatedAt       time.Time  `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull" json:"updatedAt"`
}

// RefundedValue is the amount this refund returns to the buyer.
func (r *Refund) RefundedValue() decimal.Decimal {
	if r.PlatformFeeRefunded {
		return r.TicketAmount.Add(r.PlatformFeeAmount)
	}
	return r.TicketAmount
}
