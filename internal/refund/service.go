// Package refund runs buyer refund requests from creation through organizer
// approval and the gateway call, plus the automatic refunds opened when an
// event is cancelled.
package refund

import (
	"context"
	"fmt"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/auth"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/metrics"
	"ms-ticket-orders/internal/models"
	"ms-ticket-orders/internal/notify"
	"ms-ticket-orders/internal/order"
	"ms-ticket-orders/internal/payment"
	"ms-ticket-orders/internal/pricing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CreateInput asks for the whole order back, or one ticket when
// TicketInstanceID is set.
type CreateInput struct {
	OrderID          string `json:"orderId" validate:"required"`
	TicketInstanceID string `json:"ticketInstanceId,omitempty"`
	PaymentID        string `json:"paymentId,omitempty"`
	Reason           string `json:"reason" validate:"required,max=1000"`
	RequestedBy      string `json:"-" validate:"required"`
}

type Service struct {
	db      *db.DB
	gateway payment.Gateway
	events  *notify.Events
	log     *logger.Logger
	now     func() time.Time
}

func NewService(d *db.DB, gw payment.Gateway, events *notify.Events, log *logger.Logger) *Service {
	return &Service{
		db:      d,
		gateway: gw,
		events:  events,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ---------------- CREATE ----------------

func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Refund, error) {
	if err := validate.Struct(in); err != nil {
		return nil, apperr.Validation("invalid refund request: %v", err)
	}

	now := s.now()
	var created *models.Refund
	err := s.db.RunInTx(ctx, func(ctx context.Context, q db.Queries) error {
		o, err := q.GetOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if o.BuyerID != in.RequestedBy {
			return apperr.Forbidden()
		}
		switch o.Status {
		case models.OrderRefunded, models.OrderCancelled, models.OrderExpired:
			return apperr.Conflict("order %s is %s", o.ID, o.Status)
		}

		var ticketAmount, feeAmount decimal.Decimal
		if in.TicketInstanceID != "" {
			ticketAmount, feeAmount, err = ticketShare(ctx, q, o, in.TicketInstanceID)
		} else {
			ticketAmount, feeAmount, err = orderShare(ctx, q, o)
		}
		if err != nil {
			return err
		}

		paymentID, err := linkPayment(ctx, q, o, in.PaymentID)
		if err != nil {
			return err
		}

		ev, err := q.GetEvent(ctx, o.EventID)
		if err != nil {
			return err
		}
		cls, err := Classify(ev, o.CreatedAt, ticketAmount, feeAmount, now)
		if err != nil {
			return err
		}

		created = newRefund(o.ID, paymentID, in.TicketInstanceID, in.RequestedBy, in.Reason, cls, now)
		return q.InsertRefund(ctx, created)
	})
	if err != nil {
		return nil, err
	}

	metrics.RefundTransitions.WithLabelValues(string(models.RefundPending)).Inc()
	s.log.LogRefund("CREATE", created.ID, fmt.Sprintf("%s for order %s, %s", created.Type, created.OrderID, created.TotalAmount.StringFixed(2)))
	s.events.Refund(notify.RefundRequested, created)
	return created, nil
}

// ticketShare is what one ticket is worth on the order: its unit price less
// its part of the discount, plus its part of the fees. The last ticket still
// refundable takes whatever the order holds so rounding never strands money.
func ticketShare(ctx context.Context, q db.Queries, o *models.Order, ticketID string) (decimal.Decimal, decimal.Decimal, error) {
	t, err := q.GetTicket(ctx, ticketID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if t.OrderID != o.ID {
		return decimal.Zero, decimal.Zero, apperr.Validation("ticket %s is not part of order %s", ticketID, o.ID)
	}
	if t.Status == models.TicketRefunded {
		return decimal.Zero, decimal.Zero, apperr.Conflict("ticket %s is already refunded", ticketID)
	}
	if !refundable(t) {
		return decimal.Zero, decimal.Zero, apperr.Conflict("ticket %s is %s", ticketID, t.Status)
	}

	refunds, err := q.ListOrderRefunds(ctx, o.ID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	open := openRefunds(refunds)
	if open[""] {
		return decimal.Zero, decimal.Zero, apperr.Conflict("order %s already has a refund in progress", o.ID)
	}
	if open[ticketID] {
		return decimal.Zero, decimal.Zero, apperr.Conflict("ticket %s already has a refund in progress", ticketID)
	}

	var item *models.OrderItem
	for _, it := range o.Items {
		if it.ID == t.OrderItemID {
			item = it
		}
	}
	if item == nil {
		return decimal.Zero, decimal.Zero, apperr.Conflict("ticket %s has no item on order %s", ticketID, o.ID)
	}

	tickets, err := q.ListOrderTickets(ctx, o.ID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	last := true
	for _, other := range tickets {
		if other.ID != ticketID && refundable(other) && !open[other.ID] {
			last = false
			break
		}
	}

	ticket, fee := Remaining(o, refunds)
	if !last {
		shareTicket, shareFee := unitShare(o, item)
		ticket, fee = decimal.Min(shareTicket, ticket), decimal.Min(shareFee, fee)
	}
	if ticket.Add(fee).Sign() <= 0 {
		return decimal.Zero, decimal.Zero, apperr.Conflict("order %s has nothing left to refund", o.ID)
	}
	return ticket, fee, nil
}

// unitShare spreads the order discount and platform fee over one unit of item
// by its weight in the subtotal.
func unitShare(o *models.Order, item *models.OrderItem) (decimal.Decimal, decimal.Decimal) {
	ticket := item.UnitPrice
	fee := item.ServiceFee.Div(decimal.NewFromInt(int64(item.Quantity)))
	if o.Subtotal.IsPositive() {
		weight := item.UnitPrice.Div(o.Subtotal)
		ticket = ticket.Sub(o.Discount.Mul(weight))
		fee = fee.Add(o.PlatformFee.Mul(weight))
	}
	return netFee(pricing.Round2(ticket), pricing.Round2(fee))
}

// netFee moves a negative ticket amount, left by a discount larger than the
// subtotal, onto the fee.
func netFee(ticket, fee decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if ticket.IsNegative() {
		fee = fee.Add(ticket)
		ticket = decimal.Zero
	}
	return ticket, decimal.Max(fee, decimal.Zero)
}

// refundable tickets have not been refunded, cancelled or expired.
func refundable(t *models.TicketInstance) bool {
	switch t.Status {
	case models.TicketActive, models.TicketCheckedIn, models.TicketTransferred:
		return true
	}
	return false
}

// openRefunds marks the tickets with a PENDING or PROCESSING refund. A
// whole-order refund is marked under "".
func openRefunds(refunds []*models.Refund) map[string]bool {
	open := map[string]bool{}
	for _, r := range refunds {
		if r.Status.Open() {
			open[r.TicketInstanceID] = true
		}
	}
	return open
}

// orderShare is whatever the order still holds. It is refused while any
// other refund on the order is open.
func orderShare(ctx context.Context, q db.Queries, o *models.Order) (decimal.Decimal, decimal.Decimal, error) {
	refunds, err := q.ListOrderRefunds(ctx, o.ID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if len(openRefunds(refunds)) > 0 {
		return decimal.Zero, decimal.Zero, apperr.Conflict("order %s already has a refund in progress", o.ID)
	}
	ticket, fee := Remaining(o, refunds)
	if ticket.Add(fee).Sign() <= 0 {
		return decimal.Zero, decimal.Zero, apperr.Conflict("order %s has nothing left to refund", o.ID)
	}
	return ticket, fee, nil
}

// Remaining is the ticket amount and fee not yet returned by completed
// refunds nor held by open ones.
func Remaining(o *models.Order, refunds []*models.Refund) (decimal.Decimal, decimal.Decimal) {
	ticket, fee := o.TicketAmount(), o.FeeAmount()
	for _, r := range refunds {
		if r.Status != models.RefundCompleted && !r.Status.Open() {
			continue
		}
		ticket = ticket.Sub(r.TicketAmount)
		if r.PlatformFeeRefunded {
			fee = fee.Sub(r.PlatformFeeAmount)
		}
	}
	return netFee(ticket, fee)
}

// linkPayment validates an explicit payment or falls back to the order's
// captured one. An order without a captured payment links nothing.
func linkPayment(ctx context.Context, q db.Queries, o *models.Order, paymentID string) (string, error) {
	if paymentID == "" {
		p, err := q.GetCapturedPayment(ctx, o.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return p.ID, nil
	}

	p, err := q.GetPayment(ctx, paymentID)
	if err != nil {
		return "", err
	}
	if p.OrderID != o.ID {
		return "", apperr.Validation("payment %s does not belong to order %s", paymentID, o.ID)
	}
	if p.Status != models.PaymentCompleted && p.Status != models.PaymentPartiallyRefunded {
		return "", apperr.Validation("payment %s is %s", paymentID, p.Status)
	}
	return p.ID, nil
}

func newRefund(orderID, paymentID, ticketID, requestedBy, reason string, cls Classification, now time.Time) *models.Refund {
	return &models.Refund{
		ID:                  uuid.NewString(),
		OrderID:             orderID,
		PaymentID:           paymentID,
		TicketInstanceID:    ticketID,
		RequestedBy:         requestedBy,
		Reason:              reason,
		Status:              models.RefundPending,
		Type:                cls.Type,
		TicketAmount:        cls.TicketAmount,
		PlatformFeeAmount:   cls.PlatformFeeAmount,
		PlatformFeeRefunded: cls.PlatformFeeRefunded,
		TotalAmount:         cls.TotalRefundAmount,
		PolicyPercentage:    cls.PolicyPercentage,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// ---------------- DECIDE ----------------

// organizerOrAdmin loads the refund and checks p runs the order's event.
func organizerOrAdmin(ctx context.Context, q db.Queries, refundID string, p auth.Principal) (*models.Refund, *models.Order, error) {
	r, err := q.GetRefund(ctx, refundID)
	if err != nil {
		return nil, nil, err
	}
	o, err := q.GetOrder(ctx, r.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if p.IsAdmin() {
		return r, o, nil
	}
	ev, err := q.GetEvent(ctx, o.EventID)
	if err != nil {
		return nil, nil, err
	}
	if ev.OrganizerID != p.UserID {
		return nil, nil, apperr.Forbidden()
	}
	return r, o, nil
}

func (s *Service) move(ctx context.Context, q db.Queries, r *models.Refund, a Action, upd db.RefundUpdate, now time.Time) error {
	to, err := Next(r, a)
	if err != nil {
		return err
	}
	ok, err := q.TransitionRefund(ctx, r.ID, r.Status, to, upd, now)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("refund %s changed concurrently", r.ID)
	}
	r.Status = to
	r.UpdatedAt = now
	if upd.ProcessedBy != "" {
		r.ProcessedBy = upd.ProcessedBy
	}
	if upd.RejectionReason != "" {
		r.RejectionReason = upd.RejectionReason
	}
	if upd.GatewayRefundID != "" {
		r.GatewayRefundID = upd.GatewayRefundID
	}
	if upd.GatewayError != "" {
		r.GatewayError = upd.GatewayError
	}
	if to != models.RefundProcessing {
		r.ProcessedAt = &now
	}
	metrics.RefundTransitions.WithLabelValues(string(to)).Inc()
	return nil
}

// Approve sends the money back. The refund is PROCESSING while the gateway
// call runs and no transaction is held across it. A gateway failure leaves
// the refund REJECTED with the error recorded and order and payment as they
// were.
func (s *Service) Approve(ctx context.Context, refundID string, p auth.Principal) (*models.Refund, error) {
	var (
		r   *models.Refund
		pay *models.Payment
	)
	err := s.db.RunInTx(ctx, func(ctx context.Context, q db.Queries) error {
		var err error
		if r, _, err = organizerOrAdmin(ctx, q, refundID, p); err != nil {
			return err
		}
		if r.PaymentID != "" {
			if pay, err = q.GetPayment(ctx, r.PaymentID); err != nil {
				return err
			}
		}
		return s.move(ctx, q, r, ActionProcess, db.RefundUpdate{ProcessedBy: p.UserID}, s.now())
	})
	if err != nil {
		return nil, err
	}

	gatewayID, gwErr := s.callGateway(ctx, r, pay)
	if gwErr != nil {
		err := s.db.RunInTx(ctx, func(ctx context.Context, q db.Queries) error {
			return s.move(ctx, q, r, ActionFail, db.RefundUpdate{GatewayError: gwErr.Error()}, s.now())
		})
		if err != nil {
			s.log.Error("REFUND", fmt.Sprintf("refund %s failed at the gateway and could not be marked: %v", r.ID, err))
		}
		s.log.LogRefund("GATEWAY_FAILED", r.ID, gwErr.Error())
		s.events.Refund(notify.RefundRejected, r)
		return r, apperr.Gateway("payment gateway refused the refund", gwErr)
	}

	err = s.db.RunInTx(ctx, func(ctx context.Context, q db.Queries) error {
		now := s.now()
		if err := s.move(ctx, q, r, ActionComplete, db.RefundUpdate{GatewayRefundID: gatewayID}, now); err != nil {
			return err
		}
		return s.settle(ctx, q, r, now)
	})
	if err != nil {
		s.log.Error("REFUND", fmt.Sprintf("refund %s paid out as %s but not recorded: %v", r.ID, gatewayID, err))
		return nil, err
	}

	s.log.LogRefund("COMPLETE", r.ID, fmt.Sprintf("returned %s on order %s", r.RefundedValue().StringFixed(2), r.OrderID))
	s.events.Refund(notify.RefundCompleted, r)
	return r, nil
}

func (s *Service) callGateway(ctx context.Context, r *models.Refund, pay *models.Payment) (string, error) {
	amount := r.RefundedValue()
	if !amount.IsPositive() {
		return "", nil
	}
	if pay == nil {
		return "", fmt.Errorf("order %s has no captured payment", r.OrderID)
	}
	return s.gateway.Refund(ctx, pay.TransactionID, amount, fmt.Sprintf("%s: %s", r.Type, r.Reason))
}

// settle applies a completed refund to its ticket, order and payment. A
// whole-order refund leaves tickets held by their own open refund alone. The
// order is REFUNDED once completed refunds reach its total or nothing is left
// to refund.
func (s *Service) settle(ctx context.Context, q db.Queries, r *models.Refund, now time.Time) error {
	if r.TicketInstanceID != "" {
		if _, err := q.TransitionTicket(ctx, r.TicketInstanceID, models.TicketRefunded, now,
			models.TicketActive, models.TicketCheckedIn, models.TicketTransferred); err != nil {
			return err
		}
	}

	o, err := q.GetOrder(ctx, r.OrderID)
	if err != nil {
		return err
	}
	refunds, err := q.ListOrderRefunds(ctx, o.ID)
	if err != nil {
		return err
	}
	open := openRefunds(refunds)
	if r.TicketInstanceID == "" {
		var held []string
		for id := range open {
			if id != "" {
				held = append(held, id)
			}
		}
		if err := q.RefundOrderTickets(ctx, o.ID, now, held...); err != nil {
			return err
		}
	}
	tickets, err := q.ListOrderTickets(ctx, o.ID)
	if err != nil {
		return err
	}
	anyLeft := len(open) > 0
	for _, t := range tickets {
		if refundable(t) {
			anyLeft = true
		}
	}

	action := order.ActionPartialRefund
	if completedValue(refunds).GreaterThanOrEqual(o.Total) || (len(tickets) > 0 && !anyLeft) {
		action = order.ActionRefund
	}
	next, err := order.Next(o, action)
	if err != nil {
		s.log.Warn("REFUND", fmt.Sprintf("order %s left %s: %v", o.ID, o.Status, err))
	} else {
		ok, err := q.TransitionOrder(ctx, o.ID, o.Status, next, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("order %s changed while settling refund %s", o.ID, r.ID)
		}
	}

	if r.PaymentID == "" {
		return nil
	}
	pay, err := q.GetPayment(ctx, r.PaymentID)
	if err != nil {
		return err
	}
	onPayment, err := q.ListPaymentRefunds(ctx, pay.ID)
	if err != nil {
		return err
	}
	paid := completedValue(onPayment)
	status := models.PaymentPartiallyRefunded
	if paid.GreaterThanOrEqual(pay.Amount) {
		status = models.PaymentRefunded
	}
	return q.UpdatePaymentRefund(ctx, pay.ID, paid, status, now)
}

func completedValue(refunds []*models.Refund) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range refunds {
		if r.Status == models.RefundCompleted {
			sum = sum.Add(r.RefundedValue())
		}
	}
	return sum
}

// Reject declines a PENDING refund. A reason is required.
func (s *Service) Reject(ctx context.Context, refundID, reason string, p auth.Principal) (*models.Refund, error) {
	if reason == "" {
		return nil, apperr.Validation("a rejection reason is required")
	}
	var r *models.Refund
	err := s.db.RunInTx(ctx, func(ctx context.Context, q db.Queries) error {
		var err error
		if r, _, err = organizerOrAdmin(ctx, q, refundID, p); err != nil {
			return err
		}
		return s.move(ctx, q, r, ActionReject, db.RefundUpdate{ProcessedBy: p.UserID, RejectionReason: reason}, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.log.LogRefund("REJECT", r.ID, reason)
	s.events.Refund(notify.RefundRejected, r)
	return r, nil
}

// CancelByRequester withdraws a PENDING refund on behalf of whoever asked
// for it.
func (s *Service) CancelByRequester(ctx context.Context, refundID string, p auth.Principal) (*models.Refund, error) {
	var r *models.Refund
	err := s.db.RunInTx(ctx, func(ctx context.Context, q db.Queries) error {
		var err error
		if r, err = q.GetRefund(ctx, refundID); err != nil {
			return err
		}
		if !p.IsAdmin() && r.RequestedBy != p.UserID {
			return apperr.Forbidden()
		}
		return s.move(ctx, q, r, ActionCancel, db.RefundUpdate{ProcessedBy: p.UserID}, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.log.LogRefund("CANCEL", r.ID, "withdrawn by "+p.UserID)
	s.events.Refund(notify.RefundCancelled, r)
	return r, nil
}

// ---------------- EVENT CANCELLATION ----------------

// IssueEventCancellationRefunds opens a PENDING EVENT_CANCELLED refund for the
// unrefunded remainder of every paid order of the event. Orders that fail
// are logged and skipped.
func (s *Service) IssueEventCancellationRefunds(ctx context.Context, eventID string) (int, error) {
	orders, err := s.db.ListEventOrders(ctx, eventID,
		models.OrderConfirmed, models.OrderCompleted, models.OrderPartialRefund)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, o := range orders {
		r, err := s.openCancellationRefund(ctx, o)
		if err != nil {
			s.log.Error("REFUND", fmt.Sprintf("automatic refund for order %s: %v", o.ID, err))
			continue
		}
		if r == nil {
			continue
		}
		created++
		metrics.RefundTransitions.WithLabelValues(string(models.RefundPending)).Inc()
		s.events.Refund(notify.RefundRequested, r)
	}
	s.log.LogRefund("EVENT_CANCELLED", eventID, fmt.Sprintf("opened %d refunds over %d orders", created, len(orders)))
	return created, nil
}

func (s *Service) openCancellationRefund(ctx context.Context, o *models.Order) (*models.Refund, error) {
	var created *models.Refund
	err := s.db.RunInTx(ctx, func(ctx context.Context, q db.Queries) error {
		open, err := q.HasOpenRefund(ctx, o.ID, "")
		if err != nil || open {
			return err
		}
		refunds, err := q.ListOrderRefunds(ctx, o.ID)
		if err != nil {
			return err
		}
		ticket, fee := Remaining(o, refunds)
		if ticket.Add(fee).Sign() <= 0 {
			return nil
		}
		paymentID, err := linkPayment(ctx, q, o, "")
		if err != nil {
			return err
		}
		ev, err := q.GetEvent(ctx, o.EventID)
		if err != nil {
			return err
		}

		cls := Classification{
			Type:                models.RefundEventCancelled,
			TicketAmount:        ticket,
			PlatformFeeAmount:   fee,
			PlatformFeeRefunded: true,
			TotalRefundAmount:   ticket.Add(fee),
			PolicyPercentage:    ev.RefundPercentage,
		}
		created = newRefund(o.ID, paymentID, "", o.BuyerID, "event cancelled", cls, s.now())
		return q.InsertRefund(ctx, created)
	})
	return created, err
}
