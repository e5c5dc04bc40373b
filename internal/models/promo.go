package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

type PromoCode struct {
	bun.BaseModel `bun:"table:promo_codes"`

	ID            string          `bun:"id,pk" json:"id"`
	EventID       string          `bun:"event_id,nullzero" json:"eventId,omitempty"`
	Code          string          `bun:"code,unique,notnull" json:"code"`
	DiscountType  DiscountType    `bun:"discount_type,notnull" json:"discountType"`
	DiscountValue decimal.Decimal `bun:"discount_value,type:decimal(12,2),notnull" json:"discountValue"`

	// MaxDiscountAmount caps PERCENTAGE discounts only.
	MaxDiscountAmount decimal.NullDecimal `bun:"max_discount_amount,type:decimal(12,2)" json:"maxDiscountAmount"`
	MinOrderValue     decimal.NullDecimal `bun:"min_order_value,type:decimal(12,2)" json:"minOrderValue"`

	MaxUses        *int `bun:"max_uses" json:"maxUses,omitempty"`
	MaxUsesPerUser *int `bun:"max_uses_per_user" json:"maxUsesPerUser,omitempty"`
	CurrentUses    int  `bun:"current_uses,notnull" json:"currentUses"`

	ValidFrom  *time.Time `bun:"valid_from" json:"validFrom,omitempty"`
	ValidUntil *time.Time `bun:"valid_until" json:"validUntil,omitempty"`
	Active     bool       `bun:"active,notnull" json:"active"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"createdAt"`
}
