package db

import (
	"context"
	"ms-ticket-orders/internal/models"

	"github.com/cockroachdb/errors"
	"github.com/uptrace/bun"
)

// ---------------- ANALYTICS ----------------

// ListEventOrdersWithItems loads the event's orders in the given states with
// their items.
func (q Queries) ListEventOrdersWithItems(ctx context.Context, eventID string, statuses ...models.OrderStatus) ([]*models.Order, error) {
	var orders []*models.Order
	sel := q.idb.NewSelect().Model(&orders).Relation("Items").Where("event_id = ?", eventID).Order("created_at")
	if len(statuses) > 0 {
		sel = sel.Where("status IN (?)", bun.In(statuses))
	}
	if err := sel.Scan(ctx); err != nil {
		return nil, errors.Wrapf(err, "list orders with items of event %s", eventID)
	}
	return orders, nil
}

type StatusCount struct {
	Status string `bun:"status"`
	Count  int    `bun:"n"`
}

// CountEventOrders groups the event's orders by status.
func (q Queries) CountEventOrders(ctx context.Context, eventID string) ([]StatusCount, error) {
	var out []StatusCount
	err := q.idb.NewSelect().
		Model((*models.Order)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS n").
		Where("event_id = ?", eventID).
		Group("status").
		Scan(ctx, &out)
	return out, errors.Wrapf(err, "count orders of event %s", eventID)
}

// CountEventTickets groups the event's issued tickets by status.
func (q Queries) CountEventTickets(ctx context.Context, eventID string) ([]StatusCount, error) {
	var out []StatusCount
	err := q.idb.NewSelect().
		Model((*models.TicketInstance)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS n").
		Where("event_id = ?", eventID).
		Group("status").
		Scan(ctx, &out)
	return out, errors.Wrapf(err, "count tickets of event %s", eventID)
}

// ListEventRefunds returns the event's refunds in the given state.
func (q Queries) ListEventRefunds(ctx context.Context, eventID string, status models.RefundStatus) ([]*models.Refund, error) {
	var refunds []*models.Refund
	err := q.idb.NewSelect().
		Model(&refunds).
		Where("status = ?", status).
		Where("order_id IN (?)", q.idb.NewSelect().Model((*models.Order)(nil)).Column("id").Where("event_id = ?", eventID)).
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "list refunds of event %s", eventID)
	}
	return refunds, nil
}

func (q Queries) ListEventTicketTypes(ctx context.Context, eventID string) ([]*models.TicketType, error) {
	var types []*models.TicketType
	if err := q.idb.NewSelect().Model(&types).Where("event_id = ?", eventID).Order("name").Scan(ctx); err != nil {
		return nil, errors.Wrapf(err, "list ticket types of event %s", eventID)
	}
	return types, nil
}

func (q Queries) GetPromos(ctx context.Context, ids []string) (map[string]*models.PromoCode, error) {
	out := make(map[string]*models.PromoCode, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var list []*models.PromoCode
	if err := q.idb.NewSelect().Model(&list).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		return nil, errors.Wrap(err, "load promo codes")
	}
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}
