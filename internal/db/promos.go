package db

import (
	"context"
	"ms-ticket-orders/internal/models"
	"strings"

	"github.com/cockroachdb/errors"
)

// ---------------- PROMO CODES ----------------

// GetPromoByCode looks the code up case-insensitively.
func (q Queries) GetPromoByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var p models.PromoCode
	err := q.idb.NewSelect().
		Model(&p).
		Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "promo code %s", code)
	}
	return &p, nil
}

func (q Queries) InsertPromo(ctx context.Context, p *models.PromoCode) error {
	p.Code = strings.ToUpper(p.Code)
	if _, err := q.idb.NewInsert().Model(p).Exec(ctx); err != nil {
		return errors.Wrapf(err, "insert promo %s", p.Code)
	}
	return nil
}

// ConsumePromo bumps current_uses unless max_uses is already reached.
func (q Queries) ConsumePromo(ctx context.Context, id string) (bool, error) {
	ok, err := rowsChanged(q.idb.NewUpdate().
		Model((*models.PromoCode)(nil)).
		Set("current_uses = current_uses + 1").
		Where("id = ?", id).
		Where("(max_uses IS NULL OR current_uses < max_uses)").
		Exec(ctx))
	if err != nil {
		return false, errors.Wrapf(err, "consume promo %s", id)
	}
	return ok, nil
}

// ReleasePromo gives one use back.
func (q Queries) ReleasePromo(ctx context.Context, id string) error {
	_, err := q.idb.NewUpdate().
		Model((*models.PromoCode)(nil)).
		Set("current_uses = current_uses - 1").
		Where("id = ?", id).
		Where("current_uses > 0").
		Exec(ctx)
	return errors.Wrapf(err, "release promo %s", id)
}
