package tickets

import (
	"context"
	"errors"
	"fmt"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/auth"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/models"
	"ms-ticket-orders/internal/tickets/qr"
	"time"
)

// Service serves issued tickets: QR rendering and door check-in.
type Service struct {
	DB  *db.DB
	QR  *qr.Generator
	PDF *PDFRenderer
	log *logger.Logger
	now func() time.Time
}

func NewService(d *db.DB, gen *qr.Generator, log *logger.Logger) *Service {
	return &Service{
		DB:  d,
		QR:  gen,
		PDF: NewPDFRenderer(""),
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// visible reports whether p may see the ticket: its owner, the event
// organizer, or an admin.
func (s *Service) visible(ctx context.Context, t *models.TicketInstance, p auth.Principal) error {
	if p.IsAdmin() || t.OwnerID == p.UserID {
		return nil
	}
	ev, err := s.DB.GetEvent(ctx, t.EventID)
	if err != nil {
		return err
	}
	if ev.OrganizerID == p.UserID {
		return nil
	}
	return apperr.Forbidden()
}

func (s *Service) QRCode(ctx context.Context, ticketID string, p auth.Principal) ([]byte, error) {
	t, err := s.DB.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := s.visible(ctx, t, p); err != nil {
		return nil, err
	}
	if t.Status != models.TicketActive {
		return nil, apperr.Conflict("ticket %s is %s", t.ID, t.Status)
	}
	return s.QR.PNG(qr.Payload{TicketID: t.ID, Code: t.Code, EventID: t.EventID})
}

// PrintableTicket renders the ticket as a PDF with its QR code.
func (s *Service) PrintableTicket(ctx context.Context, ticketID string, p auth.Principal) ([]byte, error) {
	code, err := s.QRCode(ctx, ticketID, p)
	if err != nil {
		return nil, err
	}
	t, err := s.DB.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	ev, err := s.DB.GetEvent(ctx, t.EventID)
	if err != nil {
		return nil, err
	}
	return s.PDF.Render(t, ev, code)
}

// CheckIn admits the ticket whose sealed payload was scanned. Only the event
// organizer or an admin may scan.
func (s *Service) CheckIn(ctx context.Context, token string, scanner auth.Principal) (*models.TicketInstance, error) {
	payload, err := s.QR.Open(token)
	if err != nil {
		if errors.Is(err, qr.ErrInvalidPayload) {
			return nil, apperr.Validation("unreadable ticket code")
		}
		return nil, err
	}

	t, err := s.DB.GetTicketByCode(ctx, payload.Code)
	if err != nil {
		return nil, err
	}
	if t.ID != payload.TicketID {
		return nil, apperr.Validation("ticket code mismatch")
	}
	ev, err := s.DB.GetEvent(ctx, t.EventID)
	if err != nil {
		return nil, err
	}
	if !scanner.IsAdmin() && ev.OrganizerID != scanner.UserID {
		return nil, apperr.Forbidden()
	}

	now := s.now()
	ok, err := s.DB.CheckInTicket(ctx, t.ID, scanner.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("check in: %w", err)
	}
	if !ok {
		return nil, apperr.Conflict("ticket %s is %s", t.ID, t.Status)
	}
	t.Status = models.TicketCheckedIn
	t.CheckedInAt = &now
	t.CheckedInBy = scanner.UserID

	s.log.Info("TICKET", fmt.Sprintf("checked in %s for event %s", t.Code, t.EventID))
	return t, nil
}
