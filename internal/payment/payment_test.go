package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/db/dbtest"
	"ms-ticket-orders/internal/kafka"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/models"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

type mockConfirmer struct {
	mock.Mock
}

func (m *mockConfirmer) Confirm(ctx context.Context, orderID string) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func pendingOrder(t *testing.T, d *db.DB, total string) *models.Order {
	t.Helper()
	ev := dbtest.Event(t, d)
	now := time.Now().UTC()
	o := &models.Order{
		ID:          uuid.NewString(),
		OrderNumber: "ORD-" + uuid.NewString(),
		EventID:     ev.ID,
		BuyerID:     "buyer-1",
		Status:      models.OrderPending,
		Subtotal:    dbtest.Money(total),
		Discount:    decimal.Zero,
		ServiceFee:  decimal.Zero,
		PlatformFee: decimal.Zero,
		Total:       dbtest.Money(total),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, d.InsertOrder(context.Background(), o))
	return o
}

func TestToCents(t *testing.T) {
	assert.Equal(t, int64(15450), ToCents(dbtest.Money("154.5")))
	assert.Equal(t, int64(10300), ToCents(dbtest.Money("103")))
	assert.True(t, FromCents(15450).Equal(dbtest.Money("154.50")))
}

func TestStripeGateway_Refund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pi_123", r.PostForm.Get("payment_intent"))
		assert.Equal(t, "15450", r.PostForm.Get("amount"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"re_123","object":"refund","status":"succeeded","amount":15450}`)
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:           stripe.String(srv.URL),
		LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	gw, err := NewStripeGateway("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend},
		logger.NewWithWriter(io.Discard))
	require.NoError(t, err)

	id, err := gw.Refund(context.Background(), "pi_123", dbtest.Money("154.5"), "CDC_7_DAYS refund")
	require.NoError(t, err)
	assert.Equal(t, "re_123", id)
}

func TestNewStripeGateway_NeedsKey(t *testing.T) {
	_, err := NewStripeGateway("", nil, logger.NewWithWriter(io.Discard))
	assert.ErrorIs(t, err, ErrStripeClientInitFailed)

	_, err = UnconfiguredGateway{}.Refund(context.Background(), "pi_1", decimal.NewFromInt(10), "x")
	assert.ErrorIs(t, err, ErrStripeClientInitFailed)
}

func TestRecordCapture_StoresPaymentOnce(t *testing.T) {
	d := dbtest.New(t)
	o := pendingOrder(t, d, "103")
	orders := new(mockConfirmer)
	orders.On("Confirm", mock.Anything, o.ID).Return(&models.Order{ID: o.ID, Status: models.OrderConfirmed}, nil).Twice()
	svc := NewService(d, orders, "", logger.NewWithWriter(io.Discard))
	ctx := context.Background()

	c := Capture{OrderID: o.ID, TransactionID: "pi_abc", Amount: dbtest.Money("103")}
	got, err := svc.RecordCapture(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, models.OrderConfirmed, got.Status)

	_, err = svc.RecordCapture(ctx, c)
	require.NoError(t, err)

	p, err := d.GetCapturedPayment(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_abc", p.TransactionID)
	assert.True(t, p.Amount.Equal(dbtest.Money("103")))
	orders.AssertExpectations(t)
}

func TestRecordCapture_TransactionOfAnotherOrder(t *testing.T) {
	d := dbtest.New(t)
	first := pendingOrder(t, d, "50")
	second := pendingOrder(t, d, "50")
	orders := new(mockConfirmer)
	orders.On("Confirm", mock.Anything, first.ID).Return(first, nil)
	svc := NewService(d, orders, "", logger.NewWithWriter(io.Discard))
	ctx := context.Background()

	_, err := svc.RecordCapture(ctx, Capture{OrderID: first.ID, TransactionID: "pi_1", Amount: dbtest.Money("50")})
	require.NoError(t, err)
	_, err = svc.RecordCapture(ctx, Capture{OrderID: second.ID, TransactionID: "pi_1", Amount: dbtest.Money("50")})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestHandlePaymentCompleted(t *testing.T) {
	d := dbtest.New(t)
	o := pendingOrder(t, d, "80")
	orders := new(mockConfirmer)
	orders.On("Confirm", mock.Anything, o.ID).Return(o, nil).Once()
	svc := NewService(d, orders, "", logger.NewWithWriter(io.Discard))

	payload, err := json.Marshal(Capture{OrderID: o.ID, TransactionID: "pi_k", Amount: dbtest.Money("80")})
	require.NoError(t, err)
	require.NoError(t, svc.HandlePaymentCompleted(context.Background(), kafka.Envelope{Type: "payment.completed", Key: o.ID, Payload: payload}))

	unknown, err := json.Marshal(Capture{OrderID: "missing", TransactionID: "pi_x", Amount: dbtest.Money("1")})
	require.NoError(t, err)
	assert.NoError(t, svc.HandlePaymentCompleted(context.Background(), kafka.Envelope{Payload: unknown}), "unknown orders are dropped")

	orders.On("Confirm", mock.Anything, o.ID).Return(nil, errors.New("connection reset")).Once()
	retry, err := json.Marshal(Capture{OrderID: o.ID, TransactionID: "pi_k", Amount: dbtest.Money("80")})
	require.NoError(t, err)
	assert.Error(t, svc.HandlePaymentCompleted(context.Background(), kafka.Envelope{Payload: retry}), "infrastructure errors are retried")
	orders.AssertExpectations(t)
}

func signedEvent(t *testing.T, secret, eventType, orderID string) webhook.SignedPayload {
	t.Helper()
	body := fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"type": %q,
		"data": {"object": {"id": "pi_hook", "object": "payment_intent", "amount_received": 10300, "metadata": {"order_id": %q}}}
	}`, eventType, orderID)
	return *webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(body), Secret: secret})
}

func TestHandleStripeWebhook(t *testing.T) {
	const secret = "whsec_test"
	d := dbtest.New(t)
	o := pendingOrder(t, d, "103")
	orders := new(mockConfirmer)
	orders.On("Confirm", mock.Anything, o.ID).Return(o, nil).Once()
	svc := NewService(d, orders, secret, logger.NewWithWriter(io.Discard))
	ctx := context.Background()

	ok := signedEvent(t, secret, "payment_intent.succeeded", o.ID)
	require.NoError(t, svc.HandleStripeWebhook(ctx, ok.Payload, ok.Header))

	p, err := d.GetPaymentByTransaction(ctx, "pi_hook")
	require.NoError(t, err)
	assert.True(t, p.Amount.Equal(dbtest.Money("103")))

	forged := signedEvent(t, "whsec_other", "payment_intent.succeeded", o.ID)
	err = svc.HandleStripeWebhook(ctx, forged.Payload, forged.Header)
	var werr *WebhookError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, http.StatusBadRequest, werr.StatusCode)

	failed := signedEvent(t, secret, "payment_intent.payment_failed", o.ID)
	assert.NoError(t, svc.HandleStripeWebhook(ctx, failed.Payload, failed.Header))
	orders.AssertExpectations(t)
}

func TestHandleStripeWebhook_NotConfigured(t *testing.T) {
	svc := NewService(dbtest.New(t), new(mockConfirmer), "", logger.NewWithWriter(io.Discard))
	err := svc.HandleStripeWebhook(context.Background(), []byte(`{}`), "")
	var werr *WebhookError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, "configuration", werr.Category)
}
