package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentCompleted         PaymentStatus = "COMPLETED"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID             string          `bun:"id,pk" json:"id"`
	OrderID        string          `bun:"order_id,notnull" json:"orderId"`
	TransactionID  string          `bun:"transaction_id,unique,notnull" json:"transactionId"`
	Amount         decimal.Decimal `bun:"amount,type:decimal(12,2),notnull" json:"amount"`
	RefundedAmount decimal.Decimal `bun:"refunded_amount,type:decimal(12,2),notnull" json:"refundedAmount"`
	Status         PaymentStatus   `bun:"status,notnull" json:"status"`
	CreatedAt      time.Time       `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt      time.Time       `bun:"updated_at,notnull" json:"updatedAt"`
}
