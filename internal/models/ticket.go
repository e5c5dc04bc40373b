package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketActive      TicketStatus = "ACTIVE"
	TicketCheckedIn   TicketStatus = "CHECKED_IN"
	TicketCancelled   TicketStatus = "CANCELLED"
	TicketRefunded    TicketStatus = "REFUNDED"
	TicketExpired     TicketStatus = "EXPIRED"
	TicketTransferred TicketStatus = "TRANSFERRED"
)

type TicketInstance struct {
	bun.BaseModel `bun:"table:ticket_instances"`

	ID           string       `bun:"id,pk" json:"id"`
	Code         string       `bun:"code,unique,notnull" json:"code"`
	OrderID      string       `bun:"order_id,notnull" json:"orderId"`
	OrderItemID  string       `bun:"order_item_id,notnull" json:"orderItemId"`
	EventID      string       `bun:"event_id,notnull" json:"eventId"`
	TicketTypeID string       `bun:"ticket_type_id,notnull" json:"ticketTypeId"`
	OwnerID      string       `bun:"owner_id,notnull" json:"ownerId"`
	Status       TicketStatus `bun:"status,notnull" json:"status"`
	IsHalfPrice  bool         `bun:"is_half_price,notnull" json:"isHalfPrice"`

	AttendeeName  string         `bun:"attendee_name,notnull" json:"attendeeName"`
	AttendeeEmail string         `bun:"attendee_email,notnull" json:"attendeeEmail"`
	AttendeeCPF   string         `bun:"attendee_cpf,nullzero" json:"attendeeCpf,omitempty"`
	AttendeePhone string         `bun:"attendee_phone,nullzero" json:"attendeePhone,omitempty"`
	FormResponses map[string]any `bun:"form_responses" json:"formResponses,omitempty"`

	CheckedInAt   *time.Time `bun:"checked_in_at" json:"checkedInAt,omitempty"`
	CheckedInBy   string     `bun:"checked_in_by,nullzero" json:"checkedInBy,omitempty"`
	TransferredTo string     `bun:"transferred_to,nullzero" json:"transferredTo,omitempty"`
	TransferredAt *time.Time `bun:"transferred_at" json:"transferredAt,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updatedAt"`
}
