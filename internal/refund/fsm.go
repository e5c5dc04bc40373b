package refund

import (
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/models"
)

type Action string

const (
	ActionProcess  Action = "PROCESS"
	ActionComplete Action = "COMPLETE"
	ActionFail     Action = "FAIL"
	ActionReject   Action = "REJECT"
	ActionCancel   Action = "CANCEL"
)

var transitions = map[models.RefundStatus]map[Action]models.RefundStatus{
	models.RefundPending: {
		ActionProcess: models.RefundProcessing,
		ActionReject:  models.RefundRejected,
		ActionCancel:  models.RefundCancelled,
	},
	models.RefundProcessing: {
		ActionComplete: models.RefundCompleted,
		ActionFail:     models.RefundRejected,
	},
}

// Next returns the state r moves to under a.
func Next(r *models.Refund, a Action) (models.RefundStatus, error) {
	to, ok := transitions[r.Status][a]
	if !ok {
		return "", apperr.Conflict("refund %s is %s and cannot %s", r.ID, r.Status, a)
	}
	return to, nil
}
