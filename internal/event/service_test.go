package event_test

import (
	"context"
	"errors"
	"io"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/auth"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/db/dbtest"
	"ms-ticket-orders/internal/event"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/models"
	"ms-ticket-orders/internal/notify"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockIssuer struct {
	mock.Mock
}

func (m *mockIssuer) IssueEventCancellationRefunds(ctx context.Context, eventID string) (int, error) {
	args := m.Called(ctx, eventID)
	return args.Int(0), args.Error(1)
}

func newService(t *testing.T, issuer event.RefundIssuer) (*event.Service, *db.DB) {
	t.Helper()
	log := logger.NewWithWriter(io.Discard)
	d := dbtest.New(t)
	dispatcher := notify.NewDispatcher(log)
	t.Cleanup(dispatcher.Wait)
	events := notify.NewEvents(notify.LogPublisher{Log: log}, "orders", "refunds", dispatcher)
	return event.NewService(d, issuer, events, log), d
}

func TestCancel_OpensRefunds(t *testing.T) {
	issuer := new(mockIssuer)
	svc, d := newService(t, issuer)
	ev := dbtest.Event(t, d)
	ctx := context.Background()

	issuer.On("IssueEventCancellationRefunds", mock.Anything, ev.ID).Return(3, nil).Once()

	n, err := svc.Cancel(ctx, ev.ID, auth.Principal{UserID: ev.OrganizerID, Role: auth.RoleOrganizer})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stored, err := d.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventCancelled, stored.Status)

	_, err = svc.Cancel(ctx, ev.ID, auth.Principal{UserID: "root", Role: auth.RoleAdmin})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	issuer.AssertExpectations(t)
}

func TestCancel_UnknownEvent(t *testing.T) {
	issuer := new(mockIssuer)
	svc, _ := newService(t, issuer)
	_, err := svc.Cancel(context.Background(), "missing", auth.Principal{UserID: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCancel_ForbiddenAndIssuerFailure(t *testing.T) {
	issuer := new(mockIssuer)
	svc, d := newService(t, issuer)
	ev := dbtest.Event(t, d)
	ctx := context.Background()

	_, err := svc.Cancel(ctx, ev.ID, auth.Principal{UserID: "stranger", Role: auth.RoleOrganizer})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	issuer.On("IssueEventCancellationRefunds", mock.Anything, ev.ID).Return(0, errors.New("db gone")).Once()
	_, err = svc.Cancel(ctx, ev.ID, auth.Principal{UserID: "root", Role: auth.RoleAdmin})
	assert.Error(t, err)
	issuer.AssertExpectations(t)
}

func TestAuthorize(t *testing.T) {
	svc, d := newService(t, new(mockIssuer))
	ev := dbtest.Event(t, d)
	ctx := context.Background()

	assert.NoError(t, svc.Authorize(ctx, ev.ID, auth.Principal{UserID: ev.OrganizerID, Role: auth.RoleOrganizer}))
	assert.NoError(t, svc.Authorize(ctx, ev.ID, auth.Principal{UserID: "root", Role: auth.RoleAdmin}))
	assert.ErrorIs(t, svc.Authorize(ctx, ev.ID, auth.Principal{UserID: "buyer-1"}), apperr.ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, "missing", auth.Principal{UserID: "root", Role: auth.RoleAdmin}), apperr.ErrNotFound)
}
