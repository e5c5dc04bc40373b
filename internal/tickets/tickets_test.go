package tickets_test

import (
	"bytes"
	"context"
	"io"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/auth"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/db/dbtest"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/models"
	"ms-ticket-orders/internal/tickets"
	"ms-ticket-orders/internal/tickets/qr"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sequenceCodes struct{ n int }

func (s *sequenceCodes) NewCode() (string, error) {
	s.n++
	return "TKT-" + string(rune('A'+s.n-1)), nil
}

func seedOrder(t *testing.T, d *db.DB, ev *models.Event) *models.Order {
	t.Helper()
	now := time.Now().UTC()
	o := &models.Order{
		ID:          uuid.NewString(),
		OrderNumber: "ORD-1",
		EventID:     ev.ID,
		BuyerID:     "buyer-1",
		Status:      models.OrderConfirmed,
		Subtotal:    dbtest.Money("150"),
		Discount:    decimal.Zero,
		ServiceFee:  decimal.Zero,
		PlatformFee: decimal.Zero,
		Total:       dbtest.Money("150"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	o.Items = []*models.OrderItem{
		{ID: uuid.NewString(), OrderID: o.ID, TicketTypeID: "tt-full", Quantity: 2,
			UnitPrice: dbtest.Money("50"), TotalPrice: dbtest.Money("100"), ServiceFee: decimal.Zero,
			PendingAttendees: dbtest.Attendees(2)},
		{ID: uuid.NewString(), OrderID: o.ID, TicketTypeID: "tt-half", Quantity: 1, IsHalfPrice: true,
			UnitPrice: dbtest.Money("50"), TotalPrice: dbtest.Money("50"), ServiceFee: decimal.Zero,
			PendingAttendees: []models.AttendeeData{{Name: "Student", Email: "s@example.com", CPF: "12345678901",
				FormResponses: map[string]any{"tshirt": "M"}}}},
	}
	require.NoError(t, d.InsertOrder(context.Background(), o))
	got, err := d.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	return got
}

func TestIssue_OneTicketPerAttendee(t *testing.T) {
	d := dbtest.New(t)
	ev := dbtest.Event(t, d)
	o := seedOrder(t, d, ev)
	issuer := tickets.NewIssuer(&sequenceCodes{}, logger.NewWithWriter(io.Discard))

	var issued []*models.TicketInstance
	err := d.RunInTx(context.Background(), func(ctx context.Context, q db.Queries) error {
		var err error
		issued, err = issuer.Issue(ctx, q, o, time.Now().UTC())
		return err
	})
	require.NoError(t, err)
	require.Len(t, issued, 3)

	stored, err := d.ListOrderTickets(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)

	codes := map[string]bool{}
	half := 0
	for _, tk := range stored {
		codes[tk.Code] = true
		assert.Equal(t, models.TicketActive, tk.Status)
		assert.Equal(t, "buyer-1", tk.OwnerID)
		if tk.IsHalfPrice {
			half++
			assert.Equal(t, "Student", tk.AttendeeName)
			assert.Equal(t, "12345678901", tk.AttendeeCPF)
			assert.Equal(t, "M", tk.FormResponses["tshirt"])
		}
	}
	assert.Len(t, codes, 3)
	assert.Equal(t, 1, half)

	reloaded, err := d.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	for _, item := range reloaded.Items {
		assert.Empty(t, item.PendingAttendees)
	}
}

func TestIssue_AttendeeMismatchIsRejected(t *testing.T) {
	d := dbtest.New(t)
	ev := dbtest.Event(t, d)
	o := seedOrder(t, d, ev)
	o.Items[0].PendingAttendees = o.Items[0].PendingAttendees[:1]
	issuer := tickets.NewIssuer(nil, logger.NewWithWriter(io.Discard))

	err := d.RunInTx(context.Background(), func(ctx context.Context, q db.Queries) error {
		_, err := issuer.Issue(ctx, q, o, time.Now().UTC())
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestRandomCodes(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code, err := tickets.RandomCodes{}.NewCode()
		require.NoError(t, err)
		assert.Len(t, code, 20)
		assert.False(t, seen[code])
		seen[code] = true
	}
}

func TestCheckIn(t *testing.T) {
	d := dbtest.New(t)
	ev := dbtest.Event(t, d)
	o := seedOrder(t, d, ev)
	log := logger.NewWithWriter(io.Discard)
	gen, err := qr.NewGenerator("secret")
	require.NoError(t, err)
	svc := tickets.NewService(d, gen, log)

	var issued []*models.TicketInstance
	require.NoError(t, d.RunInTx(context.Background(), func(ctx context.Context, q db.Queries) error {
		issued, err = tickets.NewIssuer(nil, log).Issue(ctx, q, o, time.Now().UTC())
		return err
	}))
	tk := issued[0]
	token, err := gen.Seal(qr.Payload{TicketID: tk.ID, Code: tk.Code, EventID: tk.EventID})
	require.NoError(t, err)

	_, err = svc.CheckIn(context.Background(), token, auth.Principal{UserID: "stranger"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	organizer := auth.Principal{UserID: ev.OrganizerID, Role: auth.RoleOrganizer}
	got, err := svc.CheckIn(context.Background(), token, organizer)
	require.NoError(t, err)
	assert.Equal(t, models.TicketCheckedIn, got.Status)

	_, err = svc.CheckIn(context.Background(), token, organizer)
	assert.ErrorIs(t, err, apperr.ErrConflict, "a ticket is admitted once")

	_, err = svc.CheckIn(context.Background(), "garbage", organizer)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestQRCode_OwnerOnly(t *testing.T) {
	d := dbtest.New(t)
	ev := dbtest.Event(t, d)
	o := seedOrder(t, d, ev)
	log := logger.NewWithWriter(io.Discard)
	gen, _ := qr.NewGenerator("secret")
	svc := tickets.NewService(d, gen, log)

	var issued []*models.TicketInstance
	require.NoError(t, d.RunInTx(context.Background(), func(ctx context.Context, q db.Queries) error {
		var err error
		issued, err = tickets.NewIssuer(nil, log).Issue(ctx, q, o, time.Now().UTC())
		return err
	}))

	png, err := svc.QRCode(context.Background(), issued[0].ID, auth.Principal{UserID: "buyer-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, png)

	_, err = svc.QRCode(context.Background(), issued[0].ID, auth.Principal{UserID: "someone-else"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestPrintableTicket(t *testing.T) {
	d := dbtest.New(t)
	ev := dbtest.Event(t, d)
	issued := issueOne(t, d, ev)
	gen, err := qr.NewGenerator("ticket-test-secret")
	require.NoError(t, err)
	svc := tickets.NewService(d, gen, logger.NewWithWriter(io.Discard))

	doc, err := svc.PrintableTicket(context.Background(), issued[0].ID, auth.Principal{UserID: "buyer-1"})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF-")))

	_, err = svc.PrintableTicket(context.Background(), issued[0].ID, auth.Principal{UserID: "someone-else"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	svc.PDF = tickets.NewPDFRenderer("/nonexistent/font.ttf")
	_, err = svc.PrintableTicket(context.Background(), issued[0].ID, auth.Principal{UserID: "buyer-1"})
	assert.Error(t, err)
}

func issueOne(t *testing.T, d *db.DB, ev *models.Event) []*models.TicketInstance {
	t.Helper()
	o := seedOrder(t, d, ev)
	var issued []*models.TicketInstance
	require.NoError(t, d.RunInTx(context.Background(), func(ctx context.Context, q db.Queries) error {
		var err error
		issued, err = tickets.NewIssuer(nil, logger.NewWithWriter(io.Discard)).Issue(ctx, q, o, time.Now().UTC())
		return err
	}))
	return issued
}
