// Package inventory owns the ticket-type counters. Every mutation is a single
// conditional UPDATE on the caller's transaction, so two buyers racing for the
// last unit cannot both succeed.
package inventory

import (
	"context"
	"fmt"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/models"
	"time"
)

type Reason string

const (
	ReasonEventNotOnSale    Reason = "EVENT_NOT_ON_SALE"
	ReasonNotVisible        Reason = "NOT_VISIBLE"
	ReasonSalesNotStarted   Reason = "SALES_NOT_STARTED"
	ReasonSalesEnded        Reason = "SALES_ENDED"
	ReasonSoldOut           Reason = "SOLD_OUT"
	ReasonHalfPriceSoldOut  Reason = "HALF_PRICE_SOLD_OUT"
	ReasonCapacityExceeded  Reason = "CAPACITY_EXCEEDED"
	ReasonHalfPriceNotOffer Reason = "HALF_PRICE_NOT_OFFERED"
)

// UnavailableError names the check that refused a reservation.
type UnavailableError struct {
	Reason       Reason
	TicketTypeID string
	Detail       string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: ticket type %s: %s", e.Reason, e.TicketTypeID, e.Detail)
}

func (e *UnavailableError) Is(target error) bool {
	return target == apperr.ErrAvailability
}

// Ledger reserves, commits and releases ticket-type stock.
type Ledger struct {
	log *logger.Logger
}

func NewLedger(log *logger.Logger) *Ledger {
	return &Ledger{log: log}
}

// Request is one line of stock to take.
type Request struct {
	Type      *models.TicketType
	Quantity  int
	HalfPrice bool
}

// Reserve holds stock for a pending order.
func (l *Ledger) Reserve(ctx context.Context, q db.Queries, ev *models.Event, req Request, now time.Time) error {
	return l.take(ctx, q, ev, req, now, false)
}

// Sell takes stock straight into sold, for orders that need no payment.
func (l *Ledger) Sell(ctx context.Context, q db.Queries, ev *models.Event, req Request, now time.Time) error {
	return l.take(ctx, q, ev, req, now, true)
}

func (l *Ledger) take(ctx context.Context, q db.Queries, ev *models.Event, req Request, now time.Time, sell bool) error {
	tt := req.Type
	if err := checkOnSale(ev, tt, req.HalfPrice, now); err != nil {
		return err
	}
	if req.Quantity < tt.MinPerOrder || (tt.MaxPerOrder > 0 && req.Quantity > tt.MaxPerOrder) {
		return apperr.Validation("ticket type %s allows between %d and %d per order, got %d",
			tt.ID, tt.MinPerOrder, tt.MaxPerOrder, req.Quantity)
	}

	// Lock the event before touching counters so capacity is checked against
	// a stable total.
	if ev.Capacity != nil {
		if err := q.LockEvent(ctx, ev.ID, now); err != nil {
			return err
		}
	}

	ok, err := q.TakeStock(ctx, tt.ID, req.Quantity, req.HalfPrice, sell)
	if err != nil {
		return err
	}
	if !ok {
		return l.explainShortage(ctx, q, tt.ID, req)
	}

	if ev.Capacity != nil {
		occupied, err := q.EventOccupancy(ctx, ev.ID)
		if err != nil {
			return err
		}
		if occupied > *ev.Capacity {
			return &UnavailableError{
				Reason:       ReasonCapacityExceeded,
				TicketTypeID: tt.ID,
				Detail:       fmt.Sprintf("event %s capacity %d would reach %d", ev.ID, *ev.Capacity, occupied),
			}
		}
	}

	action := "RESERVE"
	if sell {
		action = "SELL"
	}
	l.log.LogInventory(action, tt.ID, fmt.Sprintf("took %d (half price %t)", req.Quantity, req.HalfPrice))
	return nil
}

func checkOnSale(ev *models.Event, tt *models.TicketType, halfPrice bool, now time.Time) error {
	unavailable := func(r Reason, detail string) error {
		return &UnavailableError{Reason: r, TicketTypeID: tt.ID, Detail: detail}
	}
	switch {
	case ev.Status != models.EventActive:
		return unavailable(ReasonEventNotOnSale, fmt.Sprintf("event is %s", ev.Status))
	case !tt.Visible:
		return unavailable(ReasonNotVisible, "ticket type is hidden")
	case tt.SalesStart != nil && now.Before(*tt.SalesStart):
		return unavailable(ReasonSalesNotStarted, "sales open "+tt.SalesStart.Format(time.RFC3339))
	case tt.SalesEnd != nil && now.After(*tt.SalesEnd):
		return unavailable(ReasonSalesEnded, "sales closed "+tt.SalesEnd.Format(time.RFC3339))
	case halfPrice && (!tt.HalfPrice.Valid || tt.HalfPriceQuantity == 0):
		return unavailable(ReasonHalfPriceNotOffer, "no half-price allocation")
	}
	return nil
}

// explainShortage re-reads the row to tell a sold-out type from an exhausted
// half-price quota.
func (l *Ledger) explainShortage(ctx context.Context, q db.Queries, id string, req Request) error {
	tt, err := q.GetTicketType(ctx, id)
	if err != nil {
		return err
	}
	if tt.Available() < req.Quantity {
		return &UnavailableError{
			Reason:       ReasonSoldOut,
			TicketTypeID: id,
			Detail:       fmt.Sprintf("%d left, %d requested", max(tt.Available(), 0), req.Quantity),
		}
	}
	return &UnavailableError{
		Reason:       ReasonHalfPriceSoldOut,
		TicketTypeID: id,
		Detail:       fmt.Sprintf("%d half-price left, %d requested", max(tt.HalfPriceQuantity-tt.HalfPriceSold, 0), req.Quantity),
	}
}

// Commit turns a reservation into a sale.
func (l *Ledger) Commit(ctx context.Context, q db.Queries, ticketTypeID string, qty int) error {
	ok, err := q.CommitStock(ctx, ticketTypeID, qty)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("ticket type %s has fewer than %d reserved units", ticketTypeID, qty)
	}
	l.log.LogInventory("COMMIT", ticketTypeID, fmt.Sprintf("committed %d", qty))
	return nil
}

// Release hands units back. fromSold is set for orders that skipped the
// reservation stage.
func (l *Ledger) Release(ctx context.Context, q db.Queries, ticketTypeID string, qty int, halfPrice, fromSold bool) error {
	ok, err := q.ReturnStock(ctx, ticketTypeID, qty, halfPrice, fromSold)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("ticket type %s cannot release %d units", ticketTypeID, qty)
	}
	l.log.LogInventory("RELEASE", ticketTypeID, fmt.Sprintf("released %d (from sold %t)", qty, fromSold))
	return nil
}
