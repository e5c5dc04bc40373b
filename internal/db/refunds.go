package db

import (
	"context"
	"ms-ticket-orders/internal/models"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/uptrace/bun"
)

// ---------------- REFUNDS ----------------

func (q Queries) InsertRefund(ctx context.Context, r *models.Refund) error {
	if _, err := q.idb.NewInsert().Model(r).Exec(ctx); err != nil {
		return errors.Wrapf(err, "insert refund %s", r.ID)
	}
	return nil
}

func (q Queries) GetRefund(ctx context.Context, id string) (*models.Refund, error) {
	var r models.Refund
	if err := q.idb.NewSelect().Model(&r).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFoundOr(err, "refund %s", id)
	}
	return &r, nil
}

func (q Queries) ListOrderRefunds(ctx context.Context, orderID string) ([]*models.Refund, error) {
	var refunds []*models.Refund
	err := q.idb.NewSelect().Model(&refunds).Where("order_id = ?", orderID).Order("created_at", "id").Scan(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "list refunds of order %s", orderID)
	}
	return refunds, nil
}

func (q Queries) ListPaymentRefunds(ctx context.Context, paymentID string) ([]*models.Refund, error) {
	var refunds []*models.Refund
	err := q.idb.NewSelect().Model(&refunds).Where("payment_id = ?", paymentID).Scan(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "list refunds of payment %s", paymentID)
	}
	return refunds, nil
}

// HasOpenRefund reports whether a PENDING or PROCESSING refund exists for the
// ticket, or for the whole order when ticketID is empty.
func (q Queries) HasOpenRefund(ctx context.Context, orderID, ticketID string) (bool, error) {
	sel := q.idb.NewSelect().
		Model((*models.Refund)(nil)).
		Where("order_id = ?", orderID).
		Where("status IN (?)", bun.In([]models.RefundStatus{models.RefundPending, models.RefundProcessing}))
	if ticketID == "" {
		sel = sel.Where("ticket_instance_id IS NULL")
	} else {
		sel = sel.Where("ticket_instance_id = ?", ticketID)
	}
	ok, err := sel.Exists(ctx)
	if err != nil {
		return false, errors.Wrapf(err, "open refund lookup for order %s", orderID)
	}
	return ok, nil
}

// RefundUpdate carries the optional columns written with a status change.
type RefundUpdate struct {
	ProcessedBy     string
	RejectionReason string
	GatewayRefundID string
	GatewayError    string
}

// TransitionRefund moves the refund from `from` to `to` and stamps the
// non-empty fields of upd.
func (q Queries) TransitionRefund(ctx context.Context, id string, from, to models.RefundStatus, upd RefundUpdate, now time.Time) (bool, error) {
	u := q.idb.NewUpdate().
		Model((*models.Refund)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", from)
	if upd.ProcessedBy != "" {
		u = u.Set("processed_by = ?", upd.ProcessedBy)
	}
	if upd.RejectionReason != "" {
		u = u.Set("rejection_reason = ?", upd.RejectionReason)
	}
	if upd.GatewayRefundID != "" {
		u = u.Set("gateway_refund_id = ?", upd.GatewayRefundID)
	}
	if upd.GatewayError != "" {
		u = u.Set("gateway_error = ?", upd.GatewayError)
	}
	if to != models.RefundProcessing {
		u = u.Set("processed_at = ?", now)
	}
	ok, err := rowsChanged(u.Exec(ctx))
	if err != nil {
		return false, errors.Wrapf(err, "transition refund %s %s->%s", id, from, to)
	}
	return ok, nil
}
