package bookings

import (
	"time"

	"clubsched/internal/waitlist"

	"github.com/google/uuid"
)

// Booking is the seat of record. The ledger's confirmed counter for a session
// equals the number of its CONFIRMED bookings.
type Booking struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID        uuid.UUID  `gorm:"type:uuid;index;not null" json:"tenant_id"`
	SessionID       uuid.UUID  `gorm:"type:uuid;index;not null" json:"session_id"`
	ParticipantID   uuid.UUID  `gorm:"type:uuid;index;not null" json:"participant_id"`
	GuardianID      *uuid.UUID `gorm:"type:uuid" json:"guardian_id,omitempty"`
	Status          Status     `gorm:"type:varchar(20);not null;check:status IN ('CONFIRMED', 'CANCELLED')" json:"status"`
	Source          Source     `gorm:"type:varchar(20);not null;check:source IN ('DIRECT', 'WAITLIST')" json:"source"`
	WaitlistEntryID *uuid.UUID `gorm:"type:uuid" json:"waitlist_entry_id,omitempty"`
	AuthorizationID string     `gorm:"size:255" json:"authorization_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
}

// TableName sets the table name for Booking
func (Booking) TableName() string {
	return "bookings"
}

// Helper methods for booking management
func (b *Booking) IsConfirmed() bool {
	return b.Status == StatusConfirmed
}

func (b *Booking) IsCancelled() bool {
	return b.Status == StatusCancelled
}

// BookRequest is a booking attempt for one participant.
type BookRequest struct {
	TenantID      uuid.UUID
	SessionID     uuid.UUID
	ParticipantID uuid.UUID
	GuardianID    *uuid.UUID
	PaymentToken  string
}

// BookResult carries either the confirmed booking or the waitlist entry.
type BookResult struct {
	Outcome Outcome
	Booking *Booking
	Entry   *waitlist.Entry
}

// AcceptResult is a confirmed booking created from an accepted offer.
type AcceptResult struct {
	Booking *Booking
	Entry   *waitlist.Entry
}
