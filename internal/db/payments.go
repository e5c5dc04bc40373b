package db

import (
	"context"
	"ms-ticket-orders/internal/models"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// ---------------- PAYMENTS ----------------

func (q Queries) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	if err := q.idb.NewSelect().Model(&p).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFoundOr(err, "payment %s", id)
	}
	return &p, nil
}

func (q Queries) GetPaymentByTransaction(ctx context.Context, transactionID string) (*models.Payment, error) {
	var p models.Payment
	err := q.idb.NewSelect().Model(&p).Where("transaction_id = ?", transactionID).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "payment for transaction %s", transactionID)
	}
	return &p, nil
}

// GetCapturedPayment returns the order's most recent payment that still holds
// money (COMPLETED or PARTIALLY_REFUNDED).
func (q Queries) GetCapturedPayment(ctx context.Context, orderID string) (*models.Payment, error) {
	var p models.Payment
	err := q.idb.NewSelect().
		Model(&p).
		Where("order_id = ?", orderID).
		Where("status IN (?, ?)", models.PaymentCompleted, models.PaymentPartiallyRefunded).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "captured payment for order %s", orderID)
	}
	return &p, nil
}

func (q Queries) InsertPayment(ctx context.Context, p *models.Payment) error {
	if _, err := q.idb.NewInsert().Model(p).Exec(ctx); err != nil {
		return errors.Wrapf(err, "insert payment %s", p.ID)
	}
	return nil
}

func (q Queries) UpdatePaymentRefund(ctx context.Context, id string, refunded decimal.Decimal, status models.PaymentStatus, now time.Time) error {
	_, err := q.idb.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("refunded_amount = ?", refunded).
		Set("status = ?", status).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	return errors.Wrapf(err, "update payment %s", id)
}
