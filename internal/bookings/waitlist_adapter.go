package bookings

import (
	"context"
	"fmt"
	"time"

	"clubsched/internal/waitlist"

	"github.com/google/uuid"
)

// WaitlistRecorder writes the booking for an accepted offer. It satisfies
// promotion.BookingRecorder.
type WaitlistRecorder struct {
	repo  Repository
	clock func() time.Time
}

// NewWaitlistRecorder creates the adapter the promotion coordinator records bookings through
func NewWaitlistRecorder(repo Repository, clock func() time.Time) *WaitlistRecorder {
	if clock == nil {
		clock = time.Now
	}
	return &WaitlistRecorder{repo: repo, clock: clock}
}

func (w *WaitlistRecorder) RecordWaitlistBooking(ctx context.Context, entry *waitlist.Entry, authorizationID string) (uuid.UUID, error) {
	entryID := entry.ID
	now := w.clock()
	booking := &Booking{
		ID:              uuid.New(),
		TenantID:        entry.TenantID,
		SessionID:       entry.SessionID,
		ParticipantID:   entry.ParticipantID,
		GuardianID:      entry.GuardianID,
		Status:          StatusConfirmed,
		Source:          SourceWaitlist,
		WaitlistEntryID: &entryID,
		AuthorizationID: authorizationID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := w.repo.Create(ctx, booking); err != nil {
		return uuid.Nil, err
	}
	return booking.ID, nil
}

// DiscardWaitlistBooking cancels a recorded booking whose offer was never
// marked accepted.
func (w *WaitlistRecorder) DiscardWaitlistBooking(ctx context.Context, bookingID uuid.UUID) error {
	if _, err := w.repo.CancelIfConfirmed(ctx, bookingID, w.clock()); err != nil {
		return fmt.Errorf("discard booking %s: %w", bookingID, err)
	}
	return nil
}
