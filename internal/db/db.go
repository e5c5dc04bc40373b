package db

import (
	"context"
	"database/sql"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/models"

	"github.com/cockroachdb/errors"
	"github.com/uptrace/bun"
)

// DB is the bun handle plus the query set bound to it. Queries run outside a
// transaction when called on DB directly; RunInTx hands a transaction-bound
// Queries to the callback.
type DB struct {
	Bun *bun.DB
	Queries
}

func New(b *bun.DB) *DB {
	return &DB{Bun: b, Queries: Queries{idb: b}}
}

// Queries is every read and conditional write the engine performs.
type Queries struct {
	idb bun.IDB
}

// RunInTx commits when fn returns nil and rolls back otherwise. fn must only
// use the Queries it is given.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, Queries{idb: tx})
	})
}

// Models lists every table the engine touches, in creation order.
func Models() []any {
	return []any{
		(*models.Event)(nil),
		(*models.TicketType)(nil),
		(*models.FormField)(nil),
		(*models.PromoCode)(nil),
		(*models.Order)(nil),
		(*models.OrderItem)(nil),
		(*models.TicketInstance)(nil),
		(*models.Payment)(nil),
		(*models.Refund)(nil),
	}
}

func notFoundOr(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(format, args...)
	}
	return errors.Wrapf(err, format, args...)
}

func rowsChanged(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n > 0, nil
}
