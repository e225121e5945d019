package bookings

import (
	"context"

	"github.com/google/uuid"
)

// AuthorizationRequest describes the charge or credit a seat needs.
type AuthorizationRequest struct {
	TenantID      uuid.UUID
	SessionID     uuid.UUID
	ParticipantID uuid.UUID
	PaymentToken  string
}

// Authorizer is the payment/credit collaborator. Authorize runs before a seat
// is reserved; Void releases an authorization that did not turn into a booking.
type Authorizer interface {
	Authorize(ctx context.Context, req AuthorizationRequest) (string, error)
	Void(ctx context.Context, authorizationID string) error
}

// NoopAuthorizer approves everything. Used for free sessions and in tests.
type NoopAuthorizer struct{}

func (NoopAuthorizer) Authorize(ctx context.Context, req AuthorizationRequest) (string, error) {
	return "", nil
}

func (NoopAuthorizer) Void(ctx context.Context, authorizationID string) error { return nil }
