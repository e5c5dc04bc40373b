package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("create order: %w", Conflict("promo code %s exhausted", "TECH20"))

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "create order: promo code TECH20 exhausted", err.Error())
}

func TestForbidden_HasNoDetail(t *testing.T) {
	assert.Equal(t, "forbidden", Forbidden().Error())
}

func TestGateway_UnwrapsCause(t *testing.T) {
	cause := errors.New("card_declined")
	err := Gateway("refund failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrGateway)
	assert.Equal(t, "refund failed: card_declined", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		Validation("bad"):                http.StatusBadRequest,
		Conflict("busy"):                 http.StatusConflict,
		Forbidden():                      http.StatusForbidden,
		NotFound("order"):                http.StatusNotFound,
		Gateway("x", nil):                http.StatusBadGateway,
		errors.New("boom"):               http.StatusInternalServerError,
		fmt.Errorf("w: %w", Forbidden()): http.StatusForbidden,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}
