// Package event handles organizer actions on an event that ripple into its
// orders.
package event

import (
	"context"
	"fmt"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/auth"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/models"
	"ms-ticket-orders/internal/notify"
	"time"
)

// RefundIssuer opens the refunds owed when an event is cancelled.
// refund.Service satisfies it.
type RefundIssuer interface {
	IssueEventCancellationRefunds(ctx context.Context, eventID string) (int, error)
}

type Service struct {
	db      *db.DB
	refunds RefundIssuer
	events  *notify.Events
	log     *logger.Logger
	now     func() time.Time
}

func NewService(d *db.DB, refunds RefundIssuer, events *notify.Events, log *logger.Logger) *Service {
	return &Service{db: d, refunds: refunds, events: events, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Authorize allows the event organizer and admins.
func (s *Service) Authorize(ctx context.Context, eventID string, p auth.Principal) error {
	ev, err := s.db.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if !p.IsAdmin() && ev.OrganizerID != p.UserID {
		return apperr.Forbidden()
	}
	return nil
}

// Cancel marks the event CANCELLED and opens a pending refund for every paid
// order. It returns how many refunds were opened.
func (s *Service) Cancel(ctx context.Context, eventID string, p auth.Principal) (int, error) {
	ev, err := s.db.GetEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if !p.IsAdmin() && ev.OrganizerID != p.UserID {
		return 0, apperr.Forbidden()
	}
	if ev.Status == models.EventCancelled || ev.Status == models.EventEnded {
		return 0, apperr.Conflict("event %s is %s", ev.ID, ev.Status)
	}

	ok, err := s.db.CancelEvent(ctx, ev.ID, s.now())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, apperr.Conflict("event %s was cancelled concurrently", ev.ID)
	}
	s.log.Info("EVENT", fmt.Sprintf("event %s cancelled by %s", ev.ID, p.UserID))

	n, err := s.refunds.IssueEventCancellationRefunds(ctx, ev.ID)
	if err != nil {
		return n, fmt.Errorf("refunds for cancelled event %s: %w", ev.ID, err)
	}
	s.events.Event(notify.EventCancelled, ev.ID, n)
	return n, nil
}
