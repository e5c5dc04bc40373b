package db

import (
	"context"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/models"
	"time"

	"github.com/cockroachdb/errors"
)

// ---------------- EVENTS ----------------

func (q Queries) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var ev models.Event
	err := q.idb.NewSelect().Model(&ev).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "event %s", id)
	}
	return &ev, nil
}

// LockEvent takes the event row lock for the rest of the transaction so that
// capacity checks on one event run one at a time.
func (q Queries) LockEvent(ctx context.Context, id string, now time.Time) error {
	ok, err := rowsChanged(q.idb.NewUpdate().
		Model((*models.Event)(nil)).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx))
	if err != nil {
		return errors.Wrapf(err, "lock event %s", id)
	}
	if !ok {
		return apperr.NotFound("event %s", id)
	}
	return nil
}

// EventOccupancy is sold plus reserved across all of the event's ticket types.
func (q Queries) EventOccupancy(ctx context.Context, eventID string) (int, error) {
	var n int
	err := q.idb.NewSelect().
		Model((*models.TicketType)(nil)).
		ColumnExpr("COALESCE(SUM(quantity_sold + quantity_reserved), 0)").
		Where("event_id = ?", eventID).
		Scan(ctx, &n)
	if err != nil {
		return 0, errors.Wrapf(err, "event occupancy %s", eventID)
	}
	return n, nil
}

// CancelEvent flips the event to CANCELLED unless it already is.
func (q Queries) CancelEvent(ctx context.Context, id string, now time.Time) (bool, error) {
	ok, err := rowsChanged(q.idb.NewUpdate().
		Model((*models.Event)(nil)).
		Set("status = ?", models.EventCancelled).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status <> ?", models.EventCancelled).
		Exec(ctx))
	if err != nil {
		return false, errors.Wrapf(err, "cancel event %s", id)
	}
	return ok, nil
}

func (q Queries) InsertEvent(ctx context.Context, ev *models.Event) error {
	if _, err := q.idb.NewInsert().Model(ev).Exec(ctx); err != nil {
		return errors.Wrapf(err, "insert event %s", ev.ID)
	}
	return nil
}
