package order_test

import (
	"context"
	"errors"
	"io"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/auth"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/db/dbtest"
	"ms-ticket-orders/internal/inventory"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/models"
	"ms-ticket-orders/internal/notify"
	"ms-ticket-orders/internal/order"
	"ms-ticket-orders/internal/pricing"
	"ms-ticket-orders/internal/tickets"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendOrderConfirmation(ctx context.Context, o *models.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *mockNotifier) SendPaymentWaiting(ctx context.Context, o *models.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *mockNotifier) SendTicketsReady(ctx context.Context, o *models.Order, tickets []*models.TicketInstance) error {
	return m.Called(ctx, o, tickets).Error(0)
}

type fixture struct {
	db         *db.DB
	svc        *order.Service
	notifier   *mockNotifier
	dispatcher *notify.Dispatcher
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewWithWriter(io.Discard)
	f := &fixture{
		db:         dbtest.New(t),
		notifier:   new(mockNotifier),
		dispatcher: notify.NewDispatcher(log),
		now:        time.Now().UTC().Truncate(time.Second),
	}
	f.svc = order.NewService(order.Deps{
		DB:         f.db,
		Ledger:     inventory.NewLedger(log),
		Pricing:    pricing.NewEngine(decimal.Zero),
		Issuer:     tickets.NewIssuer(nil, log),
		Forms:      order.DBForms{DB: f.db},
		Notifier:   f.notifier,
		Events:     notify.NewEvents(notify.LogPublisher{Log: log}, "orders", "refunds", f.dispatcher),
		Dispatcher: f.dispatcher,
		Log:        log,
		PendingTTL: 15 * time.Minute,
		Now:        func() time.Time { return f.now },
	})
	t.Cleanup(f.dispatcher.Wait)
	return f
}

// quiet accepts every notification.
func (f *fixture) quiet() *fixture {
	f.notifier.On("SendOrderConfirmation", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.notifier.On("SendPaymentWaiting", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.notifier.On("SendTicketsReady", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return f
}

func input(eventID, buyerID string, items ...order.ItemInput) order.CreateInput {
	return order.CreateInput{EventID: eventID, BuyerID: buyerID, Items: items}
}

func item(tt *models.TicketType, qty int) order.ItemInput {
	return order.ItemInput{TicketTypeID: tt.ID, Quantity: qty, Attendees: dbtest.Attendees(qty)}
}

func (f *fixture) ticketType(t *testing.T, id string) *models.TicketType {
	t.Helper()
	tt, err := f.db.GetTicketType(context.Background(), id)
	require.NoError(t, err)
	return tt
}

func TestCreate_PaidOrderHoldsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := dbtest.Event(t, f.db)
	tt := dbtest.TicketType(t, f.db, ev.ID, func(tt *models.TicketType) {
		tt.ServiceFeePercent = dbtest.Money("3")
	})
	f.notifier.On("SendPaymentWaiting", mock.Anything, mock.MatchedBy(func(o *models.Order) bool {
		return o.BuyerID == "buyer-1"
	})).Return(nil).Once()

	o, err := f.svc.Create(ctx, input(ev.ID, "buyer-1", item(tt, 1)))
	require.NoError(t, err)

	assert.Equal(t, models.OrderPending, o.Status)
	assert.True(t, o.Total.Equal(dbtest.Money("103")), "total %s", o.Total)
	assert.True(t, o.ServiceFee.Equal(dbtest.Money("3")))
	require.NotNil(t, o.ExpiresAt)
	assert.Equal(t, f.now.Add(15*time.Minute), *o.ExpiresAt)
	assert.Regexp(t, `^ORD-[0-9A-Z]{26}$`, o.OrderNumber)

	stock := f.ticketType(t, tt.ID)
	assert.Equal(t, 1, stock.QuantityReserved)
	assert.Equal(t, 0, stock.QuantitySold)

	f.dispatcher.Wait()
	f.notifier.AssertExpectations(t)
}

func TestCreate_EventCapacityAcrossTypes(t *testing.T) {
	f := newFixture(t).quiet()
	ctx := context.Background()
	ev := dbtest.Event(t, f.db, func(e *models.Event) { e.Capacity = dbtest.IntPtr(10) })
	a := dbtest.TicketType(t, f.db, ev.ID)
	b := dbtest.TicketType(t, f.db, ev.ID)

	_, err := f.svc.Create(ctx, input(ev.ID, "buyer-1", item(a, 6)))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, input(ev.ID, "buyer-2", item(b, 4)))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, input(ev.ID, "buyer-3", item(a, 1)))
	require.ErrorIs(t, err, apperr.ErrAvailability)
	var ue *inventory.UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, inventory.ReasonCapacityExceeded, ue.Reason)

	occupied, err := f.db.EventOccupancy(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, occupied)
}

func TestCreate_RejectsBadAttendees(t *testing.T) {
	f := newFixture(t).quiet()
	ctx := context.Background()
	ev := dbtest.Event(t, f.db)
	tt := dbtest.TicketType(t, f.db, ev.ID)

	short := item(tt, 2)
	short.Attendees = short.Attendees[:1]
	_, err := f.svc.Create(ctx, input(ev.ID, "buyer-1", short))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	badEmail := item(tt, 1)
	badEmail.Attendees[0].Email = "not-an-email"
	_, err = f.svc.Create(ctx, input(ev.ID, "buyer-1", badEmail))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Equal(t, 0, f.ticketType(t, tt.ID).QuantityReserved)
}

func TestCreate_ChecksFormAnswers(t *testing.T) {
	f := newFixture(t).quiet()
	ctx := context.Background()
	ev := dbtest.Event(t, f.db)
	tt := dbtest.TicketType(t, f.db, ev.ID)
	require.NoError(t, f.db.InsertFormField(ctx, &models.FormField{
		ID: uuid.NewString(), EventID: ev.ID, Key: "phone", Label: "Phone", Type: models.FieldPhone, Required: true,
	}))
	require.NoError(t, f.db.InsertFormField(ctx, &models.FormField{
		ID: uuid.NewString(), EventID: ev.ID, Key: "shirt", Label: "Shirt", Type: models.FieldSelect,
		Options: []string{"S", "M", "L"}, Position: 1,
	}))

	withAnswers := func(answers map[string]any) order.ItemInput {
		it := item(tt, 1)
		it.Attendees[0].FormResponses = answers
		return it
	}

	cases := []struct {
		name    string
		answers map[string]any
		ok      bool
	}{
		{"missing required", nil, false},
		{"short phone", map[string]any{"phone": "12345"}, false},
		{"unknown option", map[string]any{"phone": "+55 11 98765-4321", "shirt": "XXL"}, false},
		{"valid", map[string]any{"phone": "+55 11 98765-4321", "shirt": "M"}, true},
		{"optional omitted", map[string]any{"phone": "(11) 98765-4321"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, input(ev.ID, "buyer-1", withAnswers(tc.answers)))
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperr.ErrValidation)
			}
		})
	}
}

func TestCreate_PromoStopsAtMaxUses(t *testing.T) {
	f := newFixture(t).quiet()
	ctx := context.Background()
	ev := dbtest.Event(t, f.db)
	tt := dbtest.TicketType(t, f.db, ev.ID)
	promo := dbtest.Promo(t, f.db, "TECH20", func(p *models.PromoCode) {
		p.DiscountValue = dbtest.Money("20")
		p.MaxUses = dbtest.IntPtr(2)
	})

	var ok int
	for i := range 3 {
		in := input(ev.ID, uuid.NewString(), item(tt, 1))
		in.PromoCode = "tech20"
		o, err := f.svc.Create(ctx, in)
		if i < 2 {
			require.NoError(t, err)
			assert.True(t, o.Discount.Equal(dbtest.Money("20")))
			assert.Equal(t, promo.ID, o.PromoCodeID)
			ok++
		} else {
			assert.ErrorIs(t, err, apperr.ErrConflict)
		}
	}
	assert.Equal(t, 2, ok)

	p, err := f.db.GetPromoByCode(ctx, "TECH20")
	require.NoError(t, err)
	assert.Equal(t, 2, p.CurrentUses)
}

func TestCreate_UnknownPromoIsValidationError(t *testing.T) {
	f := newFixture(t).quiet()
	ev := dbtest.Event(t, f.db)
	tt := dbtest.TicketType(t, f.db, ev.ID)

	in := input(ev.ID, "buyer-1", item(tt, 1))
	in.PromoCode = "NOPE"
	_, err := f.svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreate_FreeOrderIsConfirmedAndTicketed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := dbtest.Event(t, f.db)
	tt := dbtest.TicketType(t, f.db, ev.ID, func(tt *models.TicketType) { tt.Price = decimal.Zero })
	f.notifier.On("SendOrderConfirmation", mock.Anything, mock.Anything).Return(nil).Once()
	f.notifier.On("SendTicketsReady", mock.Anything, mock.Anything, mock.MatchedBy(func(ts []*models.TicketInstance) bool {
		return len(ts) == 2
	})).Return(nil).Once()

	o, err := f.svc.Create(ctx, input(ev.ID, "buyer-1", item(tt, 2)))
	require.NoError(t, err)

	assert.Equal(t, models.OrderConfirmed, o.Status)
	assert.True(t, o.IsFree)
	assert.Nil(t, o.ExpiresAt)
	assert.Len(t, o.Tickets, 2)

	stock := f.ticketType(t, tt.ID)
	assert.Equal(t, 2, stock.QuantitySold)
	assert.Equal(t, 0, stock.QuantityReserved)

	stored, err := f.db.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Items[0].PendingAttendees)

	f.dispatcher.Wait()
	f.notifier.AssertExpectations(t)
}

func TestCreate_ConcurrentBuyersForLastUnit(t *testing.T) {
	f := newFixture(t).quiet()
	ev := dbtest.Event(t, f.db)
	tt := dbtest.TicketType(t, f.db, ev.ID, func(tt *models.TicketType) { tt.Quantity = 1 })

	const buyers = 5
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for i := range buyers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), input(ev.ID, uuid.NewString(), item(tt, 1)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else {
				errs = append(errs, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	for _, err := range errs {
		assert.ErrorIs(t, err, apperr.ErrAvailability)
	}
	stock := f.ticketType(t, tt.ID)
	assert.Equal(t, 1, stock.QuantityReserved)
}

func TestCancel_RestoresCountersAndPromo(t *testing.T) {
	f := newFixture(t).quiet()
	ctx := context.Background()
	ev := dbtest.Event(t, f.db)
	tt := dbtest.TicketType(t, f.db, ev.ID, func(tt *models.TicketType) {
		tt.HalfPrice = decimal.NewNullDecimal(dbtest.Money("50"))
		tt.HalfPriceQuantity = 5
	})
	dbtest.Promo(t, f.db, "WELCOME")

	half := item(tt, 2)
	half.HalfPrice = true
	in := input(ev.ID, "buyer-1", item(tt, 1), half)
	in.PromoCode = "WELCOME"
	o, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.Cancel(ctx, o.ID, "someone-else"), apperr.ErrForbidden)
	require.NoError(t, f.svc.Cancel(ctx, o.ID, "buyer-1"))

	stock := f.ticketType(t, tt.ID)
	assert.Equal(t, 0, stock.QuantityReserved)
	assert.Equal(t, 0, stock.HalfPriceSold)
	p, err := f.db.GetPromoByCode(ctx, "WELCOME")
	require.NoError(t, err)
	assert.Equal(t, 0, p.CurrentUses)

	stored, err := f.db.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, stored.Status)
	assert.NotNil(t, stored.CancelledAt)

	assert.ErrorIs(t, f.svc.Cancel(ctx, o.ID, "buyer-1"), apperr.ErrConflict)
}

func TestCancel_FreeConfirmedOrderReturnsSoldUnits(t *testing.T) {
	f := newFixture(t).quiet()
	ctx := context.Background()
	ev := dbtest.Event(t, f.db)
	tt := dbtest.TicketType(t, f.db, ev.ID, func(tt *models.TicketType) { tt.Price = decimal.Zero })

	o, err := f.svc.Create(ctx, input(ev.ID, "buyer-1", item(tt, 2)))
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ctx, o.ID, "buyer-1"))

	assert.Equal(t, 0, f.ticketType(t, tt.ID).QuantitySold)
	left, err := f.db.ListOrderTickets(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestCancel_PaidConfirmedOrderNeedsRefund(t *testing.T) {
	f := newFixture(t).quiet()
	ctx := context.Background()
	ev := dbtest.Event(t, f.db)
	tt := dbtest.TicketType(t, f.db, ev.ID)

	o, err := f.svc.Create(ctx, input(ev.ID, "buyer-1", item(tt, 1)))
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, o.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Cancel(ctx, o.ID, "buyer-1"), apperr.ErrConflict)
	assert.Equal(t, 1, f.ticketType(t, tt.ID).QuantitySold)
}

func TestConfirm_IssuesTicketsOnce(t *testing.T) {
	f := newFixture(t).quiet()
	ctx := context.Background()
	ev := dbtest.Event(t, f.db)
	tt := dbtest.TicketType(t, f.db, ev.ID)

	o, err := f.svc.Create(ctx, input(ev.ID, "buyer-1", item(tt, 3)))
	require.NoError(t, err)

	confirmed, err := f.svc.Confirm(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderConfirmed, confirmed.Status)
	require.Len(t, confirmed.Tickets, 3)
	for _, tk := range confirmed.Tickets {
		assert.Equal(t, models.TicketActive, tk.Status)
		assert.Equal(t, "buyer-1", tk.OwnerID)
	}

	stock := f.ticketType(t, tt.ID)
	assert.Equal(t, 3, stock.QuantitySold)
	assert.Equal(t, 0, stock.QuantityReserved)

	again, err := f.svc.Confirm(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, again.Tickets, 3)
	assert.Equal(t, 3, f.ticketType(t, tt.ID).QuantitySold)
}

func TestExpire_ReleasesHoldAndBeatsLateConfirm(t *testing.T) {
	f := newFixture(t).quiet()
	ctx := context.Background()
	ev := dbtest.Event(t, f.db)
	tt := dbtest.TicketType(t, f.db, ev.ID)

	o, err := f.svc.Create(ctx, input(ev.ID, "buyer-1", item(tt, 2)))
	require.NoError(t, err)

	expired, err := f.svc.Expire(ctx, o.ID, f.now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, expired, "hold has not lapsed yet")

	expired, err = f.svc.Expire(ctx, o.ID, f.now.Add(16*time.Minute))
	require.NoError(t, err)
	assert.True(t, expired)
	assert.Equal(t, 0, f.ticketType(t, tt.ID).QuantityReserved)

	_, err = f.svc.Confirm(ctx, o.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	expired, err = f.svc.Expire(ctx, o.ID, f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestGet_Visibility(t *testing.T) {
	f := newFixture(t).quiet()
	ctx := context.Background()
	ev := dbtest.Event(t, f.db)
	tt := dbtest.TicketType(t, f.db, ev.ID)
	o, err := f.svc.Create(ctx, input(ev.ID, "buyer-1", item(tt, 1)))
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, o.ID, auth.Principal{UserID: "buyer-1", Role: auth.RoleUser})
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, o.ID, auth.Principal{UserID: ev.OrganizerID, Role: auth.RoleOrganizer})
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, o.ID, auth.Principal{UserID: "stranger", Role: auth.RoleUser})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}
