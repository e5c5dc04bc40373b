package db

import (
	"context"
	"ms-ticket-orders/internal/models"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/uptrace/bun"
)

// ---------------- ORDERS ----------------

// InsertOrder writes the order and its items.
func (q Queries) InsertOrder(ctx context.Context, o *models.Order) error {
	if _, err := q.idb.NewInsert().Model(o).Exec(ctx); err != nil {
		return errors.Wrapf(err, "insert order %s", o.ID)
	}
	if len(o.Items) == 0 {
		return nil
	}
	if _, err := q.idb.NewInsert().Model(&o.Items).Exec(ctx); err != nil {
		return errors.Wrapf(err, "insert items of order %s", o.ID)
	}
	return nil
}

// GetOrder loads the order with its items ordered by ticket type.
func (q Queries) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := q.idb.NewSelect().
		Model(&o).
		Relation("Items", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Order("ticket_type_id", "id")
		}).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "order %s", id)
	}
	return &o, nil
}

// GetOrderWithTickets also loads the order's ticket instances.
func (q Queries) GetOrderWithTickets(ctx context.Context, id string) (*models.Order, error) {
	o, err := q.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Tickets, err = q.ListOrderTickets(ctx, id); err != nil {
		return nil, err
	}
	return o, nil
}

// TransitionOrder sets status to `to` only while the order is still in
// `from`. A false result means another writer got there first.
func (q Queries) TransitionOrder(ctx context.Context, id string, from, to models.OrderStatus, now time.Time) (bool, error) {
	upd := q.idb.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", from)
	switch to {
	case models.OrderConfirmed:
		upd = upd.Set("confirmed_at = ?", now)
	case models.OrderCancelled:
		upd = upd.Set("cancelled_at = ?", now)
	}
	ok, err := rowsChanged(upd.Exec(ctx))
	if err != nil {
		return false, errors.Wrapf(err, "transition order %s %s->%s", id, from, to)
	}
	return ok, nil
}

// ExpireOrder moves a PENDING order whose hold has lapsed to EXPIRED.
func (q Queries) ExpireOrder(ctx context.Context, id string, now time.Time) (bool, error) {
	ok, err := rowsChanged(q.idb.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderExpired).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.OrderPending).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", now).
		Exec(ctx))
	if err != nil {
		return false, errors.Wrapf(err, "expire order %s", id)
	}
	return ok, nil
}

// ListExpiredOrderIDs returns up to limit PENDING orders past their hold,
// oldest first.
func (q Queries) ListExpiredOrderIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := q.idb.NewSelect().
		Model((*models.Order)(nil)).
		Column("id").
		Where("status = ?", models.OrderPending).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", now).
		Order("expires_at").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return nil, errors.Wrap(err, "list expired orders")
	}
	return ids, nil
}

func (q Queries) ListEventOrders(ctx context.Context, eventID string, statuses ...models.OrderStatus) ([]*models.Order, error) {
	var orders []*models.Order
	sel := q.idb.NewSelect().Model(&orders).Where("event_id = ?", eventID).Order("created_at")
	if len(statuses) > 0 {
		sel = sel.Where("status IN (?)", bun.In(statuses))
	}
	if err := sel.Scan(ctx); err != nil {
		return nil, errors.Wrapf(err, "list orders of event %s", eventID)
	}
	return orders, nil
}

// CountPromoUses counts the buyer's live orders that used the promo code.
func (q Queries) CountPromoUses(ctx context.Context, promoID, buyerID string) (int, error) {
	n, err := q.idb.NewSelect().
		Model((*models.Order)(nil)).
		Where("promo_code_id = ?", promoID).
		Where("buyer_id = ?", buyerID).
		Where("status NOT IN (?)", bun.In([]models.OrderStatus{models.OrderCancelled, models.OrderExpired})).
		Count(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "count promo uses %s", promoID)
	}
	return n, nil
}

// ClearPendingAttendees drops attendee data once tickets exist for the items.
func (q Queries) ClearPendingAttendees(ctx context.Context, orderID string) error {
	_, err := q.idb.NewUpdate().
		Model((*models.OrderItem)(nil)).
		Set("pending_attendees = NULL").
		Where("order_id = ?", orderID).
		Exec(ctx)
	return errors.Wrapf(err, "clear attendees of order %s", orderID)
}
