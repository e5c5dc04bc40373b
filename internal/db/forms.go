package db

import (
	"context"
	"ms-ticket-orders/internal/models"

	"github.com/cockroachdb/errors"
)

// FieldsFor returns the event's attendee form in display order.
func (q Queries) FieldsFor(ctx context.Context, eventID string) ([]models.FormField, error) {
	var fields []models.FormField
	err := q.idb.NewSelect().Model(&fields).Where("event_id = ?", eventID).Order("position", "id").Scan(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "form fields of event %s", eventID)
	}
	return fields, nil
}

func (q Queries) InsertFormField(ctx context.Context, f *models.FormField) error {
	if _, err := q.idb.NewInsert().Model(f).Exec(ctx); err != nil {
		return errors.Wrapf(err, "insert form field %s", f.Key)
	}
	return nil
}
