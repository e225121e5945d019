package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type testStatus string

func TestTransitionErrorUnwrapsToSentinel(t *testing.T) {
	err := NewTransitionError(testStatus("accepted"), testStatus("active"))

	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, "invalid status transition accepted -> active", err.Error())

	var te *TransitionError
	if assert.True(t, errors.As(fmt.Errorf("accept: %w", err), &te)) {
		assert.Equal(t, "accepted", te.From)
		assert.Equal(t, "active", te.To)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", fmt.Errorf("get session: %w", ErrNotFound), http.StatusNotFound},
		{"no capacity", ErrNoCapacity, http.StatusConflict},
		{"already queued", ErrAlreadyQueued, http.StatusConflict},
		{"transition", NewTransitionError(testStatus("removed"), testStatus("offered")), http.StatusConflict},
		{"payment", ErrPaymentAuthorizationFailed, http.StatusPaymentRequired},
		{"conflict", ErrConcurrencyConflict, http.StatusServiceUnavailable},
		{"capacity", ErrInvalidCapacity, http.StatusUnprocessableEntity},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, "OFFER_EXPIRED", Code(fmt.Errorf("accept: %w", ErrOfferExpired)))
	assert.Equal(t, "ALREADY_BOOKED", Code(ErrAlreadyBooked))
	assert.Equal(t, "INTERNAL", Code(errors.New("other")))
}
