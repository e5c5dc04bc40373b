// Package dbtest builds throwaway in-memory SQLite databases with the full
// schema, plus seed helpers for tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/models"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// New opens a private in-memory database. A single connection keeps the
// memory database alive and serializes transactions the way row locks do.
func New(t testing.TB) *db.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	for _, m := range db.Models() {
		_, err := bunDB.NewCreateTable().Model(m).IfNotExists().Exec(ctx)
		require.NoError(t, err)
	}
	return db.New(bunDB)
}

func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func IntPtr(n int) *int { return &n }

// Event seeds an ACTIVE event starting in 30 days.
func Event(t testing.TB, d *db.DB, opts ...func(*models.Event)) *models.Event {
	t.Helper()
	now := time.Now().UTC()
	ev := &models.Event{
		ID:               uuid.NewString(),
		OrganizerID:      "organizer-1",
		Title:            "Go Conference",
		StartsAt:         now.Add(30 * 24 * time.Hour),
		EndsAt:           now.Add(31 * 24 * time.Hour),
		Status:           models.EventActive,
		RefundPercentage: 100,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, o := range opts {
		o(ev)
	}
	require.NoError(t, d.InsertEvent(context.Background(), ev))
	return ev
}

// TicketType seeds a visible type priced 100 with 100 units and no fee.
func TicketType(t testing.TB, d *db.DB, eventID string, opts ...func(*models.TicketType)) *models.TicketType {
	t.Helper()
	tt := &models.TicketType{
		ID:                uuid.NewString(),
		EventID:           eventID,
		Name:              "General",
		Price:             Money("100"),
		Quantity:          100,
		Visible:           true,
		MinPerOrder:       1,
		MaxPerOrder:       10,
		ServiceFeePercent: decimal.Zero,
		CreatedAt:         time.Now().UTC(),
	}
	for _, o := range opts {
		o(tt)
	}
	require.NoError(t, d.InsertTicketType(context.Background(), tt))
	return tt
}

func Promo(t testing.TB, d *db.DB, code string, opts ...func(*models.PromoCode)) *models.PromoCode {
	t.Helper()
	p := &models.PromoCode{
		ID:            uuid.NewString(),
		Code:          code,
		DiscountType:  models.DiscountPercentage,
		DiscountValue: Money("10"),
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}
	for _, o := range opts {
		o(p)
	}
	require.NoError(t, d.InsertPromo(context.Background(), p))
	return p
}

func Payment(t testing.TB, d *db.DB, orderID string, amount decimal.Decimal) *models.Payment {
	t.Helper()
	now := time.Now().UTC()
	p := &models.Payment{
		ID:             uuid.NewString(),
		OrderID:        orderID,
		TransactionID:  "pi_" + uuid.NewString(),
		Amount:         amount,
		RefundedAmount: decimal.Zero,
		Status:         models.PaymentCompleted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, d.InsertPayment(context.Background(), p))
	return p
}

// Attendees returns n distinct attendees.
func Attendees(n int) []models.AttendeeData {
	out := make([]models.AttendeeData, n)
	for i := range out {
		out[i] = models.AttendeeData{
			Name:  fmt.Sprintf("Attendee %d", i+1),
			Email: fmt.Sprintf("attendee%d@example.com", i+1),
		}
	}
	return out
}
