package db

import (
	"context"
	"ms-ticket-orders/internal/models"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/uptrace/bun"
)

// ---------------- TICKET INSTANCES ----------------

func (q Queries) InsertTickets(ctx context.Context, tickets []*models.TicketInstance) error {
	if len(tickets) == 0 {
		return nil
	}
	if _, err := q.idb.NewInsert().Model(&tickets).Exec(ctx); err != nil {
		return errors.Wrap(err, "insert tickets")
	}
	return nil
}

func (q Queries) GetTicket(ctx context.Context, id string) (*models.TicketInstance, error) {
	var t models.TicketInstance
	if err := q.idb.NewSelect().Model(&t).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFoundOr(err, "ticket %s", id)
	}
	return &t, nil
}

func (q Queries) GetTicketByCode(ctx context.Context, code string) (*models.TicketInstance, error) {
	var t models.TicketInstance
	if err := q.idb.NewSelect().Model(&t).Where("code = ?", code).Limit(1).Scan(ctx); err != nil {
		return nil, notFoundOr(err, "ticket with code %s", code)
	}
	return &t, nil
}

func (q Queries) ListOrderTickets(ctx context.Context, orderID string) ([]*models.TicketInstance, error) {
	var tickets []*models.TicketInstance
	err := q.idb.NewSelect().Model(&tickets).Where("order_id = ?", orderID).Order("created_at", "id").Scan(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "list tickets of order %s", orderID)
	}
	return tickets, nil
}

// TransitionTicket changes status only from one of the given states.
func (q Queries) TransitionTicket(ctx context.Context, id string, to models.TicketStatus, now time.Time, from ...models.TicketStatus) (bool, error) {
	upd := q.idb.NewUpdate().
		Model((*models.TicketInstance)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from))
	ok, err := rowsChanged(upd.Exec(ctx))
	if err != nil {
		return false, errors.Wrapf(err, "transition ticket %s", id)
	}
	return ok, nil
}

// CheckInTicket marks an ACTIVE ticket as used.
func (q Queries) CheckInTicket(ctx context.Context, id, scannerID string, now time.Time) (bool, error) {
	ok, err := rowsChanged(q.idb.NewUpdate().
		Model((*models.TicketInstance)(nil)).
		Set("status = ?", models.TicketCheckedIn).
		Set("checked_in_at = ?", now).
		Set("checked_in_by = ?", scannerID).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.TicketActive).
		Exec(ctx))
	if err != nil {
		return false, errors.Wrapf(err, "check in ticket %s", id)
	}
	return ok, nil
}

// RefundOrderTickets marks every unused ticket of the order REFUNDED, leaving
// the tickets named in except alone.
func (q Queries) RefundOrderTickets(ctx context.Context, orderID string, now time.Time, except ...string) error {
	upd := q.idb.NewUpdate().
		Model((*models.TicketInstance)(nil)).
		Set("status = ?", models.TicketRefunded).
		Set("updated_at = ?", now).
		Where("order_id = ?", orderID).
		Where("status IN (?)", bun.In([]models.TicketStatus{models.TicketActive, models.TicketTransferred}))
	if len(except) > 0 {
		upd = upd.Where("id NOT IN (?)", bun.In(except))
	}
	_, err := upd.Exec(ctx)
	return errors.Wrapf(err, "refund tickets of order %s", orderID)
}

func (q Queries) DeleteOrderTickets(ctx context.Context, orderID string) error {
	_, err := q.idb.NewDelete().
		Model((*models.TicketInstance)(nil)).
		Where("order_id = ?", orderID).
		Exec(ctx)
	return errors.Wrapf(err, "delete tickets of order %s", orderID)
}
