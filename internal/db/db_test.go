package db_test

import (
	"context"
	"errors"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/db/dbtest"
	"ms-ticket-orders/internal/models"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertOrder(t *testing.T, d *db.DB, eventID string, status models.OrderStatus, expiresAt *time.Time) *models.Order {
	t.Helper()
	now := time.Now().UTC()
	o := &models.Order{
		ID:          uuid.NewString(),
		OrderNumber: "ORD-" + uuid.NewString(),
		EventID:     eventID,
		BuyerID:     "buyer-1",
		Status:      status,
		Subtotal:    dbtest.Money("200"),
		Discount:    decimal.Zero,
		ServiceFee:  dbtest.Money("6"),
		PlatformFee: decimal.Zero,
		Total:       dbtest.Money("206"),
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	o.Items = []*models.OrderItem{{
		ID:               uuid.NewString(),
		OrderID:          o.ID,
		TicketTypeID:     "tt-1",
		Quantity:         2,
		UnitPrice:        dbtest.Money("100"),
		TotalPrice:       dbtest.Money("200"),
		ServiceFee:       dbtest.Money("6"),
		PendingAttendees: dbtest.Attendees(2),
	}}
	require.NoError(t, d.InsertOrder(context.Background(), o))
	return o
}

func TestTakeStock_RespectsQuantity(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	ev := dbtest.Event(t, d)
	tt := dbtest.TicketType(t, d, ev.ID, func(tt *models.TicketType) { tt.Quantity = 5 })

	ok, err := d.TakeStock(ctx, tt.ID, 3, false, false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.TakeStock(ctx, tt.ID, 3, false, true)
	require.NoError(t, err)
	assert.False(t, ok, "only 2 units left")

	ok, err = d.TakeStock(ctx, tt.ID, 2, false, true)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := d.GetTicketType(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.QuantityReserved)
	assert.Equal(t, 2, got.QuantitySold)
	assert.Equal(t, 0, got.Available())
}

func TestTakeStock_HalfPriceQuota(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	ev := dbtest.Event(t, d)
	tt := dbtest.TicketType(t, d, ev.ID, func(tt *models.TicketType) {
		tt.HalfPrice = decimal.NewNullDecimal(dbtest.Money("50"))
		tt.HalfPriceQuantity = 2
	})

	ok, err := d.TakeStock(ctx, tt.ID, 2, true, false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.TakeStock(ctx, tt.ID, 1, true, false)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := d.GetTicketType(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.HalfPriceSold)
	assert.Equal(t, 2, got.QuantityReserved)
}

func TestCommitAndReturnStock(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	ev := dbtest.Event(t, d)
	tt := dbtest.TicketType(t, d, ev.ID)

	_, err := d.TakeStock(ctx, tt.ID, 4, false, false)
	require.NoError(t, err)

	ok, err := d.CommitStock(ctx, tt.ID, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.CommitStock(ctx, tt.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok, "only one unit is still reserved")

	ok, err = d.ReturnStock(ctx, tt.ID, 5, false, true)
	require.NoError(t, err)
	assert.False(t, ok, "sold must not go negative")

	ok, err = d.ReturnStock(ctx, tt.ID, 3, false, true)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := d.GetTicketType(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.QuantityReserved)
	assert.Equal(t, 0, got.QuantitySold)
}

func TestEventOccupancy(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	ev := dbtest.Event(t, d)
	a := dbtest.TicketType(t, d, ev.ID)
	b := dbtest.TicketType(t, d, ev.ID)

	n, err := d.EventOccupancy(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = d.TakeStock(ctx, a.ID, 3, false, false)
	require.NoError(t, err)
	_, err = d.TakeStock(ctx, b.ID, 2, false, true)
	require.NoError(t, err)

	n, err = d.EventOccupancy(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestConsumePromo_StopsAtMaxUses(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	p := dbtest.Promo(t, d, "launch", func(p *models.PromoCode) { p.MaxUses = dbtest.IntPtr(2) })

	for i := 0; i < 2; i++ {
		ok, err := d.ConsumePromo(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := d.ConsumePromo(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.ReleasePromo(ctx, p.ID))
	got, err := d.GetPromoByCode(ctx, "Launch")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentUses)
}

func TestGetOrder_LoadsItems(t *testing.T) {
	d := dbtest.New(t)
	ev := dbtest.Event(t, d)
	o := insertOrder(t, d, ev.ID, models.OrderPending, nil)

	got, err := d.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Len(t, got.Items[0].PendingAttendees, 2)
	assert.True(t, got.Total.Equal(dbtest.Money("206")))

	require.NoError(t, d.ClearPendingAttendees(context.Background(), o.ID))
	got, err = d.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Items[0].PendingAttendees)
}

func TestGetOrder_NotFound(t *testing.T) {
	d := dbtest.New(t)

	_, err := d.GetOrder(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestExpireOrder_OnlyAfterDeadline(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	ev := dbtest.Event(t, d)
	now := time.Now().UTC()
	future := now.Add(10 * time.Minute)
	past := now.Add(-time.Minute)

	live := insertOrder(t, d, ev.ID, models.OrderPending, &future)
	lapsed := insertOrder(t, d, ev.ID, models.OrderPending, &past)

	ids, err := d.ListExpiredOrderIDs(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{lapsed.ID}, ids)

	ok, err := d.ExpireOrder(ctx, live.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.ExpireOrder(ctx, lapsed.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.ExpireOrder(ctx, lapsed.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "second expiry is a no-op")
}

func TestTransitionOrder_LoserSeesNoChange(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	ev := dbtest.Event(t, d)
	o := insertOrder(t, d, ev.ID, models.OrderPending, nil)
	now := time.Now().UTC()

	ok, err := d.TransitionOrder(ctx, o.ID, models.OrderPending, models.OrderConfirmed, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.TransitionOrder(ctx, o.ID, models.OrderPending, models.OrderCancelled, now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := d.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderConfirmed, got.Status)
	assert.NotNil(t, got.ConfirmedAt)
}

func TestHasOpenRefund(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()
	r := &models.Refund{
		ID:               uuid.NewString(),
		OrderID:          "order-1",
		TicketInstanceID: "ticket-1",
		RequestedBy:      "buyer-1",
		Reason:           "cannot attend",
		Status:           models.RefundPending,
		Type:             models.RefundCDC7Days,
		TicketAmount:     dbtest.Money("150"),
		TotalAmount:      dbtest.Money("150"),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, d.InsertRefund(ctx, r))

	open, err := d.HasOpenRefund(ctx, "order-1", "ticket-1")
	require.NoError(t, err)
	assert.True(t, open)

	open, err = d.HasOpenRefund(ctx, "order-1", "")
	require.NoError(t, err)
	assert.False(t, open, "ticket refund does not block a full-order refund")

	ok, err := d.TransitionRefund(ctx, r.ID, models.RefundPending, models.RefundRejected, db.RefundUpdate{RejectionReason: "late"}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	open, err = d.HasOpenRefund(ctx, "order-1", "ticket-1")
	require.NoError(t, err)
	assert.False(t, open)
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	ev := dbtest.Event(t, d)
	tt := dbtest.TicketType(t, d, ev.ID)

	boom := errors.New("boom")
	err := d.RunInTx(ctx, func(ctx context.Context, q db.Queries) error {
		if _, err := q.TakeStock(ctx, tt.ID, 5, false, false); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := d.GetTicketType(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.QuantityReserved)
}
