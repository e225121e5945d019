// Package apperrors holds the error taxonomy shared by the engine packages and
// the HTTP layer.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound                   = errors.New("not found")
	ErrNoCapacity                 = errors.New("session is full")
	ErrAlreadyQueued              = errors.New("participant already has an open waitlist entry")
	ErrAlreadyBooked              = errors.New("participant already holds a confirmed booking")
	ErrAlreadyCancelled           = errors.New("booking is already cancelled")
	ErrInvalidTransition          = errors.New("invalid status transition")
	ErrOfferExpired               = errors.New("offer has expired")
	ErrConcurrencyConflict        = errors.New("concurrent update conflict, retry the request")
	ErrPaymentAuthorizationFailed = errors.New("payment authorization failed")
	ErrOverRelease                = errors.New("release exceeds reserved seats")
	ErrInvalidCapacity            = errors.New("invalid capacity")
	ErrQueueEmpty                 = errors.New("waitlist is empty")
	ErrLockTimeout                = errors.New("timed out waiting for session lock")
)

// TransitionError records an illegal status change.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NewTransitionError builds a TransitionError for any string-backed status type.
func NewTransitionError[S ~string](from, to S) error {
	return &TransitionError{From: string(from), To: string(to)}
}

// HTTPStatus maps an engine error to the status code the API layer returns.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrQueueEmpty):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyQueued),
		errors.Is(err, ErrAlreadyBooked),
		errors.Is(err, ErrAlreadyCancelled),
		errors.Is(err, ErrNoCapacity),
		errors.Is(err, ErrOfferExpired),
		errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidCapacity), errors.Is(err, ErrOverRelease):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPaymentAuthorizationFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrConcurrencyConflict), errors.Is(err, ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a stable machine-readable code for an engine error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrQueueEmpty):
		return "QUEUE_EMPTY"
	case errors.Is(err, ErrNoCapacity):
		return "NO_CAPACITY"
	case errors.Is(err, ErrAlreadyQueued):
		return "ALREADY_QUEUED"
	case errors.Is(err, ErrAlreadyBooked):
		return "ALREADY_BOOKED"
	case errors.Is(err, ErrAlreadyCancelled):
		return "ALREADY_CANCELLED"
	case errors.Is(err, ErrOfferExpired):
		return "OFFER_EXPIRED"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrConcurrencyConflict):
		return "CONCURRENCY_CONFLICT"
	case errors.Is(err, ErrLockTimeout):
		return "LOCK_TIMEOUT"
	case errors.Is(err, ErrPaymentAuthorizationFailed):
		return "PAYMENT_AUTHORIZATION_FAILED"
	case errors.Is(err, ErrOverRelease):
		return "OVER_RELEASE"
	case errors.Is(err, ErrInvalidCapacity):
		return "INVALID_CAPACITY"
	default:
		return "INTERNAL"
	}
}
