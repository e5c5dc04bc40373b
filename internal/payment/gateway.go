package payment

import (
	"context"
	"errors"
	"fmt"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/metrics"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

// Gateway returns captured money to the buyer.
type Gateway interface {
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal, description string) (string, error)
}

// UnconfiguredGateway refuses every refund. It stands in when no Stripe key
// is set so refunds fail at approval instead of at startup.
type UnconfiguredGateway struct{}

func (UnconfiguredGateway) Refund(context.Context, string, decimal.Decimal, string) (string, error) {
	return "", ErrStripeClientInitFailed
}

// StripeGateway refunds Stripe payment intents.
type StripeGateway struct {
	client *client.API
	log    *logger.Logger
}

// NewStripeGateway builds a gateway for secretKey. backends may be nil to
// talk to Stripe itself.
func NewStripeGateway(secretKey string, backends *stripe.Backends, log *logger.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrStripeClientInitFailed
	}
	sc := client.New(secretKey, backends)
	if sc == nil {
		return nil, ErrStripeClientInitFailed
	}
	log.Info("STRIPE", "Stripe client initialized")
	return &StripeGateway{client: sc, log: log}, nil
}

// ToCents converts an amount to the smallest currency unit.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromCents is the inverse of ToCents.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func (g *StripeGateway) Refund(ctx context.Context, transactionID string, amount decimal.Decimal, description string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(transactionID),
		Amount:        stripe.Int64(ToCents(amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.AddMetadata("description", description)

	start := time.Now()
	r, err := g.client.Refunds.New(params)
	if err != nil {
		metrics.GatewayLatency.WithLabelValues("error").Observe(time.Since(start).Seconds())
		g.log.Error("STRIPE", fmt.Sprintf("refund of %s on %s failed: %v", amount.StringFixed(2), transactionID, err))
		return "", fmt.Errorf("stripe refund: %w", err)
	}
	metrics.GatewayLatency.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	g.log.Info("STRIPE", fmt.Sprintf("refunded %s on %s as %s (%s)", amount.StringFixed(2), transactionID, r.ID, r.Status))
	return r.ID, nil
}
