// Package order runs the order lifecycle: creation with stock holds, payment
// confirmation, buyer cancellation and expiry of unpaid holds.
package order

import (
	"context"
	"fmt"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/auth"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/inventory"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/metrics"
	"ms-ticket-orders/internal/models"
	"ms-ticket-orders/internal/notify"
	"ms-ticket-orders/internal/pricing"
	"ms-ticket-orders/internal/tickets"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ItemInput struct {
	TicketTypeID string                `json:"ticketTypeId" validate:"required"`
	Quantity     int                   `json:"quantity" validate:"gt=0"`
	HalfPrice    bool                  `json:"halfPrice"`
	Attendees    []models.AttendeeData `json:"attendees"`
}

type CreateInput struct {
	EventID   string      `json:"eventId" validate:"required"`
	BuyerID   string      `json:"-" validate:"required"`
	Items     []ItemInput `json:"items" validate:"required,min=1,dive"`
	PromoCode string      `json:"promoCode,omitempty"`
}

// Deps wires the service. Now defaults to the UTC wall clock.
type Deps struct {
	DB         *db.DB
	Ledger     *inventory.Ledger
	Pricing    *pricing.Engine
	Issuer     *tickets.Issuer
	Forms      FormSchemaProvider
	Notifier   notify.Notifier
	Events     *notify.Events
	Dispatcher *notify.Dispatcher
	Log        *logger.Logger
	PendingTTL time.Duration
	Now        func() time.Time
}

type Service struct {
	db         *db.DB
	ledger     *inventory.Ledger
	pricing    *pricing.Engine
	issuer     *tickets.Issuer
	forms      FormSchemaProvider
	notifier   notify.Notifier
	events     *notify.Events
	dispatcher *notify.Dispatcher
	log        *logger.Logger
	pendingTTL time.Duration
	now        func() time.Time
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.PendingTTL <= 0 {
		d.PendingTTL = 15 * time.Minute
	}
	return &Service{
		db:         d.DB,
		ledger:     d.Ledger,
		pricing:    d.Pricing,
		issuer:     d.Issuer,
		forms:      d.Forms,
		notifier:   d.Notifier,
		events:     d.Events,
		dispatcher: d.Dispatcher,
		log:        d.Log,
		pendingTTL: d.PendingTTL,
		now:        d.Now,
	}
}

// ---------------- CREATE ----------------

func (s *Service) validateInput(ctx context.Context, in CreateInput) error {
	if err := validate.Struct(in); err != nil {
		return apperr.Validation("invalid order: %v", err)
	}
	fields, err := s.forms.RequiredFieldsFor(ctx, in.EventID)
	if err != nil {
		return fmt.Errorf("load form of event %s: %w", in.EventID, err)
	}
	for i, item := range in.Items {
		if len(item.Attendees) != item.Quantity {
			return apperr.Validation("item %d: %d attendees for %d tickets", i+1, len(item.Attendees), item.Quantity)
		}
		for j, a := range item.Attendees {
			if err := validateAttendee(fmt.Sprintf("item %d attendee %d", i+1, j+1), a, fields); err != nil {
				return err
			}
		}
	}
	return nil
}

// Create validates the request, prices it, applies the promo code and holds
// stock for every item in one transaction. Orders that cost nothing are
// confirmed and ticketed immediately.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Order, error) {
	o, err := s.create(ctx, in)
	if err != nil {
		metrics.OrderRejections.WithLabelValues(apperr.KindOf(err).String()).Inc()
		return nil, err
	}

	kind := "paid"
	if o.IsFree {
		kind = "free"
	}
	metrics.OrdersCreated.WithLabelValues(kind).Inc()
	s.log.LogOrder("CREATE", o.ID, fmt.Sprintf("%s order %s total %s", kind, o.OrderNumber, o.Total.StringFixed(2)))

	snap := *o
	s.events.Order(notify.OrderCreated, &snap)
	if o.IsFree {
		s.events.Order(notify.OrderConfirmed, &snap)
		s.dispatcher.Go("order confirmation "+o.ID, func(ctx context.Context) error {
			return s.notifier.SendOrderConfirmation(ctx, &snap)
		})
		s.dispatcher.Go("tickets ready "+o.ID, func(ctx context.Context) error {
			return s.notifier.SendTicketsReady(ctx, &snap, snap.Tickets)
		})
	} else {
		s.dispatcher.Go("payment waiting "+o.ID, func(ctx context.Context) error {
			return s.notifier.SendPaymentWaiting(ctx, &snap)
		})
	}
	return o, nil
}

func (s *Service) create(ctx context.Context, in CreateInput) (*models.Order, error) {
	if err := s.validateInput(ctx, in); err != nil {
		return nil, err
	}

	now := s.now()
	var order *models.Order
	err := s.db.RunInTx(ctx, func(ctx context.Context, q db.Queries) error {
		ev, err := q.GetEvent(ctx, in.EventID)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(in.Items))
		for _, it := range in.Items {
			ids = append(ids, it.TicketTypeID)
		}
		types, err := q.GetTicketTypes(ctx, ids)
		if err != nil {
			return err
		}

		lines := make([]pricing.Line, len(in.Items))
		for i, it := range in.Items {
			tt, ok := types[it.TicketTypeID]
			if !ok || tt.EventID != ev.ID {
				return apperr.Validation("ticket type %s is not sold for event %s", it.TicketTypeID, ev.ID)
			}
			lines[i] = s.pricing.PriceItem(tt, it.Quantity, it.HalfPrice)
		}
		subtotal := pricing.Subtotal(lines)

		promo, err := s.applicablePromo(ctx, q, in, subtotal, now)
		if err != nil {
			return err
		}
		totals, err := s.pricing.Totals(lines, pricing.Discount(promo, subtotal))
		if err != nil {
			return err
		}
		if promo != nil {
			ok, err := q.ConsumePromo(ctx, promo.ID)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Conflict("promo code %s usage limit reached", promo.Code)
			}
		}

		free := totals.IsFree()
		order = newOrder(in, ev, lines, totals, promo, now)
		if !free {
			expires := now.Add(s.pendingTTL)
			order.ExpiresAt = &expires
		}

		// Fixed lock order across concurrent orders.
		idx := make([]int, len(lines))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return lines[idx[a]].TicketType.ID < lines[idx[b]].TicketType.ID
		})
		for _, i := range idx {
			req := inventory.Request{Type: lines[i].TicketType, Quantity: lines[i].Quantity, HalfPrice: lines[i].HalfPrice}
			if free {
				err = s.ledger.Sell(ctx, q, ev, req, now)
			} else {
				err = s.ledger.Reserve(ctx, q, ev, req, now)
			}
			if err != nil {
				return err
			}
		}

		if err := q.InsertOrder(ctx, order); err != nil {
			return err
		}
		if free {
			issued, err := s.issuer.Issue(ctx, q, order, now)
			if err != nil {
				return err
			}
			order.Tickets = issued
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) applicablePromo(ctx context.Context, q db.Queries, in CreateInput, subtotal decimal.Decimal, now time.Time) (*models.PromoCode, error) {
	if in.PromoCode == "" {
		return nil, nil
	}
	promo, err := q.GetPromoByCode(ctx, in.PromoCode)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Validation("promo code %s is not valid", in.PromoCode)
		}
		return nil, err
	}
	uses, err := q.CountPromoUses(ctx, promo.ID, in.BuyerID)
	if err != nil {
		return nil, err
	}
	err = pricing.ValidatePromo(promo, pricing.PromoCheck{
		EventID:  in.EventID,
		Subtotal: subtotal,
		UserUses: uses,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}
	return promo, nil
}

func newOrder(in CreateInput, ev *models.Event, lines []pricing.Line, t pricing.Totals, promo *models.PromoCode, now time.Time) *models.Order {
	o := &models.Order{
		ID:          uuid.NewString(),
		OrderNumber: NewOrderNumber(now),
		EventID:     ev.ID,
		BuyerID:     in.BuyerID,
		Status:      models.OrderPending,
		Subtotal:    t.Subtotal,
		Discount:    t.Discount,
		ServiceFee:  t.ServiceFee,
		PlatformFee: t.PlatformFee,
		Total:       t.Total,
		IsFree:      t.IsFree(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if promo != nil {
		o.PromoCodeID = promo.ID
	}
	if o.IsFree {
		o.Status = models.OrderConfirmed
		o.ConfirmedAt = &now
	}
	for i, l := range lines {
		o.Items = append(o.Items, &models.OrderItem{
			ID:               uuid.NewString(),
			OrderID:          o.ID,
			TicketTypeID:     l.TicketType.ID,
			Quantity:         l.Quantity,
			UnitPrice:        l.UnitPrice,
			TotalPrice:       l.Total,
			IsHalfPrice:      l.HalfPrice,
			ServiceFee:       l.ServiceFee,
			PendingAttendees: in.Items[i].Attendees,
		})
	}
	return o
}

// ---------------- CONFIRM ----------------

// Confirm is called once payment has been captured. It is idempotent for an
// order that is already CONFIRMED.
func (s *Service) Confirm(ctx context.Context, orderID string) (*models.Order, error) {
	now := s.now()
	var (
		order     *models.Order
		confirmed bool
	)
	err := s.db.RunInTx(ctx, func(ctx context.Context, q db.Queries) error {
		o, err := q.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == models.OrderConfirmed {
			o.Tickets, err = q.ListOrderTickets(ctx, o.ID)
			order = o
			return err
		}

		next, err := Next(o, ActionConfirm)
		if err != nil {
			return err
		}
		ok, err := q.TransitionOrder(ctx, o.ID, o.Status, next, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("order %s changed while confirming", o.ID)
		}
		for _, item := range o.Items {
			if err := s.ledger.Commit(ctx, q, item.TicketTypeID, item.Quantity); err != nil {
				return err
			}
		}
		issued, err := s.issuer.Issue(ctx, q, o, now)
		if err != nil {
			return err
		}

		o.Status = next
		o.ConfirmedAt = &now
		o.UpdatedAt = now
		o.Tickets = issued
		order, confirmed = o, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !confirmed {
		return order, nil
	}

	metrics.OrderTransitions.WithLabelValues(string(models.OrderConfirmed)).Inc()
	s.log.LogOrder("CONFIRM", order.ID, fmt.Sprintf("issued %d tickets", len(order.Tickets)))

	snap := *order
	s.events.Order(notify.OrderConfirmed, &snap)
	s.dispatcher.Go("order confirmation "+order.ID, func(ctx context.Context) error {
		return s.notifier.SendOrderConfirmation(ctx, &snap)
	})
	s.dispatcher.Go("tickets ready "+order.ID, func(ctx context.Context) error {
		return s.notifier.SendTicketsReady(ctx, &snap, snap.Tickets)
	})
	return order, nil
}

// ---------------- CANCEL ----------------

// Cancel lets the buyer drop an unpaid order, or a free one after
// confirmation. Held or sold units and the promo use are returned.
func (s *Service) Cancel(ctx context.Context, orderID, callerID string) error {
	now := s.now()
	var order *models.Order
	err := s.db.RunInTx(ctx, func(ctx context.Context, q db.Queries) error {
		o, err := q.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.BuyerID != callerID {
			return apperr.Forbidden()
		}
		next, err := Next(o, ActionCancel)
		if err != nil {
			return err
		}
		ok, err := q.TransitionOrder(ctx, o.ID, o.Status, next, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("order %s changed while cancelling", o.ID)
		}

		fromSold := o.Status == models.OrderConfirmed
		if err := s.releaseAll(ctx, q, o, fromSold); err != nil {
			return err
		}
		if fromSold {
			if err := q.DeleteOrderTickets(ctx, o.ID); err != nil {
				return err
			}
		}
		o.Status = next
		o.CancelledAt = &now
		order = o
		return nil
	})
	if err != nil {
		return err
	}

	metrics.OrderTransitions.WithLabelValues(string(models.OrderCancelled)).Inc()
	s.log.LogOrder("CANCEL", order.ID, "cancelled by buyer")
	snap := *order
	s.events.Order(notify.OrderCancelled, &snap)
	return nil
}

func (s *Service) releaseAll(ctx context.Context, q db.Queries, o *models.Order, fromSold bool) error {
	for _, item := range o.Items {
		if err := s.ledger.Release(ctx, q, item.TicketTypeID, item.Quantity, item.IsHalfPrice, fromSold); err != nil {
			return err
		}
	}
	if o.PromoCodeID != "" {
		return q.ReleasePromo(ctx, o.PromoCodeID)
	}
	return nil
}

// ---------------- EXPIRE ----------------

// Expire ends a PENDING order whose hold lapsed before now. It reports false
// without error when the order was confirmed, cancelled or already expired in
// the meantime.
func (s *Service) Expire(ctx context.Context, orderID string, now time.Time) (bool, error) {
	var order *models.Order
	err := s.db.RunInTx(ctx, func(ctx context.Context, q db.Queries) error {
		o, err := q.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if _, err := Next(o, ActionExpire); err != nil {
			return nil
		}
		ok, err := q.ExpireOrder(ctx, o.ID, now)
		if err != nil || !ok {
			return err
		}
		if err := s.releaseAll(ctx, q, o, false); err != nil {
			return err
		}
		o.Status = models.OrderExpired
		order = o
		return nil
	})
	if err != nil {
		return false, err
	}
	if order == nil {
		return false, nil
	}

	metrics.OrderTransitions.WithLabelValues(string(models.OrderExpired)).Inc()
	s.log.LogOrder("EXPIRE", order.ID, "payment window lapsed")
	snap := *order
	s.events.Order(notify.OrderExpired, &snap)
	return true, nil
}

// ---------------- READ ----------------

// Get returns the order with items and tickets to its buyer, the event
// organizer or an admin.
func (s *Service) Get(ctx context.Context, orderID string, p auth.Principal) (*models.Order, error) {
	o, err := s.db.GetOrderWithTickets(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if p.IsAdmin() || o.BuyerID == p.UserID {
		return o, nil
	}
	ev, err := s.db.GetEvent(ctx, o.EventID)
	if err != nil {
		return nil, err
	}
	if ev.OrganizerID != p.UserID {
		return nil, apperr.Forbidden()
	}
	return o, nil
}
