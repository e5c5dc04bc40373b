package db

import (
	"context"
	"ms-ticket-orders/internal/models"

	"github.com/cockroachdb/errors"
	"github.com/uptrace/bun"
)

// ---------------- TICKET TYPES ----------------

func (q Queries) GetTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	var tt models.TicketType
	err := q.idb.NewSelect().Model(&tt).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "ticket type %s", id)
	}
	return &tt, nil
}

// GetTicketTypes returns the requested types keyed by id. Missing ids are
// simply absent from the map.
func (q Queries) GetTicketTypes(ctx context.Context, ids []string) (map[string]*models.TicketType, error) {
	var list []*models.TicketType
	if len(ids) > 0 {
		err := q.idb.NewSelect().Model(&list).Where("id IN (?)", bun.In(ids)).Scan(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "select ticket types")
		}
	}
	out := make(map[string]*models.TicketType, len(list))
	for _, tt := range list {
		out[tt.ID] = tt
	}
	return out, nil
}

func (q Queries) InsertTicketType(ctx context.Context, tt *models.TicketType) error {
	if _, err := q.idb.NewInsert().Model(tt).Exec(ctx); err != nil {
		return errors.Wrapf(err, "insert ticket type %s", tt.ID)
	}
	return nil
}

// TakeStock adds qty to quantity_reserved (or quantity_sold when sell is
// true) only if that many units are still free. Half-price requests also
// consume the half-price sub-quota in the same statement. It reports false
// when the guard rejected the update.
func (q Queries) TakeStock(ctx context.Context, id string, qty int, halfPrice, sell bool) (bool, error) {
	column := "quantity_reserved"
	if sell {
		column = "quantity_sold"
	}
	upd := q.idb.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("? = ? + ?", bun.Ident(column), bun.Ident(column), qty).
		Where("id = ?", id).
		Where("quantity - quantity_sold - quantity_reserved >= ?", qty)
	if halfPrice {
		upd = upd.
			Set("half_price_sold = half_price_sold + ?", qty).
			Where("half_price_sold + ? <= half_price_quantity", qty)
	}
	ok, err := rowsChanged(upd.Exec(ctx))
	if err != nil {
		return false, errors.Wrapf(err, "take stock %s", id)
	}
	return ok, nil
}

// CommitStock moves qty units from reserved to sold.
func (q Queries) CommitStock(ctx context.Context, id string, qty int) (bool, error) {
	ok, err := rowsChanged(q.idb.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("quantity_reserved = quantity_reserved - ?", qty).
		Set("quantity_sold = quantity_sold + ?", qty).
		Where("id = ?", id).
		Where("quantity_reserved >= ?", qty).
		Exec(ctx))
	if err != nil {
		return false, errors.Wrapf(err, "commit stock %s", id)
	}
	return ok, nil
}

// ReturnStock gives qty units back from reserved (or sold when fromSold is
// true). Half-price units also go back to the sub-quota. Counters never go
// below zero: the update is rejected instead.
func (q Queries) ReturnStock(ctx context.Context, id string, qty int, halfPrice, fromSold bool) (bool, error) {
	column := "quantity_reserved"
	if fromSold {
		column = "quantity_sold"
	}
	upd := q.idb.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("? = ? - ?", bun.Ident(column), bun.Ident(column), qty).
		Where("id = ?", id).
		Where("? >= ?", bun.Ident(column), qty)
	if halfPrice {
		upd = upd.
			Set("half_price_sold = half_price_sold - ?", qty).
			Where("half_price_sold >= ?", qty)
	}
	ok, err := rowsChanged(upd.Exec(ctx))
	if err != nil {
		return false, errors.Wrapf(err, "return stock %s", id)
	}
	return ok, nil
}
