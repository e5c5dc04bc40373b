package refund

import (
	"math"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/models"
	"time"

	"github.com/shopspring/decimal"
)

// cdcWindowDays is the consumer-protection cooling-off period.
const cdcWindowDays = 7

// Classification is how a refund qualifies and what it returns.
type Classification struct {
	Type                models.RefundType
	TicketAmount        decimal.Decimal
	PlatformFeeAmount   decimal.Decimal
	PlatformFeeRefunded bool
	TotalRefundAmount   decimal.Decimal
	PolicyPercentage    int
}

// Classify decides which rule lets the buyer get money back. The first
// matching rule wins: the seven-day withdrawal right, then a cancelled event,
// then the organizer's own policy. Every permitted refund returns the whole
// ticket amount and the whole fee; the event's percentage is only recorded.
func Classify(ev *models.Event, orderCreatedAt time.Time, ticketAmount, feeAmount decimal.Decimal, now time.Time) (Classification, error) {
	full := func(t models.RefundType) Classification {
		return Classification{
			Type:                t,
			TicketAmount:        ticketAmount,
			PlatformFeeAmount:   feeAmount,
			PlatformFeeRefunded: true,
			TotalRefundAmount:   ticketAmount.Add(feeAmount),
			PolicyPercentage:    ev.RefundPercentage,
		}
	}

	started := !ev.StartsAt.After(now)
	daysSince := int(math.Floor(now.Sub(orderCreatedAt).Hours() / 24))

	switch {
	case daysSince <= cdcWindowDays && !started:
		return full(models.RefundCDC7Days), nil
	case ev.Status == models.EventCancelled:
		return full(models.RefundEventCancelled), nil
	case !ev.RefundAllowed:
		return Classification{}, apperr.Conflict("event %s does not allow refunds", ev.ID)
	case started:
		return Classification{}, apperr.Conflict("event %s has already started", ev.ID)
	case ev.RefundDeadlineDays != nil && ev.StartsAt.Sub(now) < time.Duration(*ev.RefundDeadlineDays)*24*time.Hour:
		return Classification{}, apperr.Conflict("refunds for event %s close %d days before it starts", ev.ID, *ev.RefundDeadlineDays)
	}
	return full(models.RefundEventPolicy), nil
}
