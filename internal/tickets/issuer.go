package tickets

import (
	"context"
	"crypto/rand"
	"fmt"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/models"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CodeGenerator produces the opaque code printed on a ticket.
type CodeGenerator interface {
	NewCode() (string, error)
}

// Crockford base32 without I, L, O, U: unambiguous when read aloud.
const codeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// RandomCodes generates "TKT-" plus 16 random base32 characters (80 bits).
type RandomCodes struct{}

func (RandomCodes) NewCode() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ticket code entropy: %w", err)
	}
	var b strings.Builder
	b.WriteString("TKT-")
	for _, c := range buf {
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return b.String(), nil
}

// Issuer turns confirmed order items into ticket instances.
type Issuer struct {
	codes CodeGenerator
	log   *logger.Logger
}

func NewIssuer(codes CodeGenerator, log *logger.Logger) *Issuer {
	if codes == nil {
		codes = RandomCodes{}
	}
	return &Issuer{codes: codes, log: log}
}

// Issue creates one ticket per pending attendee on each item and clears the
// attendee data afterwards. Half-price flags are copied without touching any
// counter.
func (i *Issuer) Issue(ctx context.Context, q db.Queries, order *models.Order, now time.Time) ([]*models.TicketInstance, error) {
	var out []*models.TicketInstance
	for _, item := range order.Items {
		if len(item.PendingAttendees) != item.Quantity {
			return nil, apperr.Conflict("order item %s has %d attendees for %d tickets",
				item.ID, len(item.PendingAttendees), item.Quantity)
		}
		for _, a := range item.PendingAttendees {
			code, err := i.codes.NewCode()
			if err != nil {
				return nil, err
			}
			out = append(out, &models.TicketInstance{
				ID:            uuid.NewString(),
				Code:          code,
				OrderID:       order.ID,
				OrderItemID:   item.ID,
				EventID:       order.EventID,
				TicketTypeID:  item.TicketTypeID,
				OwnerID:       order.BuyerID,
				Status:        models.TicketActive,
				IsHalfPrice:   item.IsHalfPrice,
				AttendeeName:  a.Name,
				AttendeeEmail: a.Email,
				AttendeeCPF:   a.CPF,
				AttendeePhone: a.Phone,
				FormResponses: a.FormResponses,
				CreatedAt:     now,
				UpdatedAt:     now,
			})
		}
	}

	if err := q.InsertTickets(ctx, out); err != nil {
		return nil, err
	}
	if err := q.ClearPendingAttendees(ctx, order.ID); err != nil {
		return nil, err
	}
	for _, item := range order.Items {
		item.PendingAttendees = nil
	}

	i.log.LogOrder("ISSUE", order.ID, fmt.Sprintf("issued %d tickets", len(out)))
	return out, nil
}
