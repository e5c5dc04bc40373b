package order

import (
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/models"
)

type Action string

const (
	ActionConfirm       Action = "CONFIRM"
	ActionCancel        Action = "CANCEL"
	ActionExpire        Action = "EXPIRE"
	ActionProcess       Action = "PROCESS"
	ActionComplete      Action = "COMPLETE"
	ActionRefund        Action = "REFUND"
	ActionPartialRefund Action = "PARTIAL_REFUND"
)

type transition struct {
	to    models.OrderStatus
	guard func(o *models.Order) error
}

// Only orders that cost nothing can be cancelled after confirmation; paid
// ones go through the refund workflow.
func onlyFree(o *models.Order) error {
	if !o.Total.IsZero() {
		return apperr.Conflict("order %s was paid, request a refund instead", o.ID)
	}
	return nil
}

var transitions = map[models.OrderStatus]map[Action]transition{
	models.OrderPending: {
		ActionConfirm: {to: models.OrderConfirmed},
		ActionCancel:  {to: models.OrderCancelled},
		ActionExpire:  {to: models.OrderExpired},
	},
	models.OrderConfirmed: {
		ActionCancel:        {to: models.OrderCancelled, guard: onlyFree},
		ActionProcess:       {to: models.OrderProcessing},
		ActionComplete:      {to: models.OrderCompleted},
		ActionRefund:        {to: models.OrderRefunded},
		ActionPartialRefund: {to: models.OrderPartialRefund},
	},
	models.OrderProcessing: {
		ActionComplete:      {to: models.OrderCompleted},
		ActionRefund:        {to: models.OrderRefunded},
		ActionPartialRefund: {to: models.OrderPartialRefund},
	},
	models.OrderCompleted: {
		ActionRefund:        {to: models.OrderRefunded},
		ActionPartialRefund: {to: models.OrderPartialRefund},
	},
	models.OrderPartialRefund: {
		ActionRefund:        {to: models.OrderRefunded},
		ActionPartialRefund: {to: models.OrderPartialRefund},
	},
}

// Next returns the state o moves to under a, or a ConflictError when the
// table has no such edge or its guard refuses.
func Next(o *models.Order, a Action) (models.OrderStatus, error) {
	t, ok := transitions[o.Status][a]
	if !ok {
		return "", apperr.Conflict("order %s is %s and cannot %s", o.ID, o.Status, a)
	}
	if t.guard != nil {
		if err := t.guard(o); err != nil {
			return "", err
		}
	}
	return t.to, nil
}
