// Package payment records captured payments and confirms their orders, and
// refunds captured payments through Stripe.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/kafka"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/models"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// OrderConfirmer confirms an order once its payment is in. order.Service
// satisfies it.
type OrderConfirmer interface {
	Confirm(ctx context.Context, orderID string) (*models.Order, error)
}

// Capture is a payment the provider reports as settled.
type Capture struct {
	OrderID       string          `json:"orderId"`
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
}

type Service struct {
	db            *db.DB
	orders        OrderConfirmer
	webhookSecret string
	log           *logger.Logger
	now           func() time.Time
}

func NewService(d *db.DB, orders OrderConfirmer, webhookSecret string, log *logger.Logger) *Service {
	return &Service{
		db:            d,
		orders:        orders,
		webhookSecret: webhookSecret,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// RecordCapture stores the payment once per transaction and confirms the
// order. Replays of the same transaction only re-run the idempotent confirm.
func (s *Service) RecordCapture(ctx context.Context, c Capture) (*models.Order, error) {
	if c.OrderID == "" || c.TransactionID == "" {
		return nil, apperr.Validation("capture needs an order and a transaction id")
	}

	existing, err := s.db.GetPaymentByTransaction(ctx, c.TransactionID)
	switch {
	case err == nil:
		if existing.OrderID != c.OrderID {
			return nil, apperr.Conflict("transaction %s belongs to another order", c.TransactionID)
		}
	case errors.Is(err, apperr.ErrNotFound):
		o, err := s.db.GetOrder(ctx, c.OrderID)
		if err != nil {
			return nil, err
		}
		if !c.Amount.Equal(o.Total) {
			s.log.Warn("PAYMENT", fmt.Sprintf("order %s captured %s but totals %s",
				o.ID, c.Amount.StringFixed(2), o.Total.StringFixed(2)))
		}
		now := s.now()
		p := &models.Payment{
			ID:             uuid.NewString(),
			OrderID:        o.ID,
			TransactionID:  c.TransactionID,
			Amount:         c.Amount,
			RefundedAmount: decimal.Zero,
			Status:         models.PaymentCompleted,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.db.InsertPayment(ctx, p); err != nil {
			return nil, err
		}
		s.log.Info("PAYMENT", fmt.Sprintf("recorded %s for order %s", c.TransactionID, o.ID))
	default:
		return nil, err
	}

	o, err := s.orders.Confirm(ctx, c.OrderID)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			s.log.Error("PAYMENT", fmt.Sprintf("payment %s captured for order %s that can no longer be confirmed: %v",
				c.TransactionID, c.OrderID, err))
		}
		return nil, err
	}
	return o, nil
}

// ---------------- Kafka ----------------

// HandlePaymentCompleted consumes capture messages from the payment service.
func (s *Service) HandlePaymentCompleted(ctx context.Context, env kafka.Envelope) error {
	var c Capture
	if err := json.Unmarshal(env.Payload, &c); err != nil {
		s.log.Warn("KAFKA", fmt.Sprintf("undecodable %s for %s: %v", env.Type, env.Key, err))
		return nil
	}
	_, err := s.RecordCapture(ctx, c)
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindConflict, apperr.KindNotFound:
		// Not retryable.
		s.log.Warn("KAFKA", fmt.Sprintf("capture %s for order %s dropped: %v", c.TransactionID, c.OrderID, err))
		return nil
	}
	return err
}

// ---------------- Stripe webhook ----------------

// WebhookError carries what the HTTP layer may show and what only the log
// should see.
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int
	PublicError   string
	InternalError string
	OriginalErr   error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error { return e.OriginalErr }

// HandleStripeWebhook verifies the signature and applies the event.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.webhookSecret == "" {
		return &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "Stripe webhook secret is not configured",
		}
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.log.LogSecurity("WEBHOOK_SIGNATURE", err.Error())
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook signature",
			InternalError: fmt.Sprintf("verify webhook: %v", err),
			OriginalErr:   err,
		}
	}

	s.log.Info("WEBHOOK", fmt.Sprintf("processing Stripe event %s (%s)", event.ID, event.Type))

	switch event.Type {
	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return &WebhookError{
				Category:      "processing",
				StatusCode:    http.StatusBadRequest,
				PublicError:   "Invalid event data",
				InternalError: fmt.Sprintf("unmarshal payment intent: %v", err),
				OriginalErr:   err,
			}
		}
		orderID, ok := intent.Metadata["order_id"]
		if !ok {
			return &WebhookError{
				Category:      "processing",
				StatusCode:    http.StatusBadRequest,
				PublicError:   "Invalid payment intent data",
				InternalError: fmt.Sprintf("payment intent %s has no order_id in metadata", intent.ID),
			}
		}
		_, err := s.RecordCapture(ctx, Capture{
			OrderID:       orderID,
			TransactionID: intent.ID,
			Amount:        FromCents(intent.AmountReceived),
		})
		if err != nil {
			status := http.StatusInternalServerError
			// Domain errors are acknowledged so Stripe does not redeliver them.
			if kind := apperr.KindOf(err); kind != 0 {
				status = http.StatusOK
			}
			return &WebhookError{
				Category:      "processing",
				StatusCode:    status,
				PublicError:   "Failed to process payment",
				InternalError: fmt.Sprintf("confirm order %s: %v", orderID, err),
				OriginalErr:   err,
			}
		}

	case "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err == nil {
			s.log.Warn("WEBHOOK", fmt.Sprintf("payment failed for order %s, hold kept until expiry", intent.Metadata["order_id"]))
		}

	default:
		s.log.Debug("WEBHOOK", fmt.Sprintf("ignoring event type %s", event.Type))
	}
	return nil
}
