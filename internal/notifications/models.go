package notifications

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NotificationType names an engine event that downstream channels may deliver
type NotificationType string

const (
	NotificationTypeOfferCreated     NotificationType = "WAITLIST_OFFER_CREATED"
	NotificationTypeOfferExpired     NotificationType = "WAITLIST_OFFER_EXPIRED"
	NotificationTypeOfferAccepted    NotificationType = "WAITLIST_OFFER_ACCEPTED"
	NotificationTypeWaitlistJoined   NotificationType = "WAITLIST_JOINED"
	NotificationTypeWaitlistRemoved  NotificationType = "WAITLIST_REMOVED"
	NotificationTypeBookingConfirmed NotificationType = "BOOKING_CONFIRMED"
	NotificationTypeBookingCancelled NotificationType = "BOOKING_CANCELLED"
)

type NotificationPriority string

const (
	NotificationPriorityLow    NotificationPriority = "LOW"
	NotificationPriorityMedium NotificationPriority = "MEDIUM"
	NotificationPriorityHigh   NotificationPriority = "HIGH"
)

// Notification is published once per engine event. Recipients are the
// participant and, for junior players, their guardian.
type Notification struct {
	ID       uuid.UUID            `json:"id"`
	Type     NotificationType     `json:"type"`
	Priority NotificationPriority `json:"priority"`

	TenantID      uuid.UUID  `json:"tenant_id"`
	SessionID     uuid.UUID  `json:"session_id"`
	ParticipantID uuid.UUID  `json:"participant_id"`
	GuardianID    *uuid.UUID `json:"guardian_id,omitempty"`

	BookingID       *uuid.UUID `json:"booking_id,omitempty"`
	WaitlistEntryID *uuid.UUID `json:"waitlist_entry_id,omitempty"`
	Position        int        `json:"position,omitempty"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type NotificationBuilder struct {
	notification *Notification
}

func NewNotificationBuilder() *NotificationBuilder {
	return &NotificationBuilder{
		notification: &Notification{
			ID:        uuid.New(),
			CreatedAt: time.Now(),
		},
	}
}

func (nb *NotificationBuilder) WithType(notType NotificationType) *NotificationBuilder {
	nb.notification.Type = notType
	nb.notification.Priority = GetDefaultPriority(notType)
	return nb
}

func (nb *NotificationBuilder) WithRecipient(participantID uuid.UUID, guardianID *uuid.UUID) *NotificationBuilder {
	nb.notification.ParticipantID = participantID
	nb.notification.GuardianID = guardianID
	return nb
}

func (nb *NotificationBuilder) WithSessionContext(tenantID, sessionID uuid.UUID) *NotificationBuilder {
	nb.notification.TenantID = tenantID
	nb.notification.SessionID = sessionID
	return nb
}

func (nb *NotificationBuilder) WithBookingContext(bookingID uuid.UUID) *NotificationBuilder {
	nb.notification.BookingID = &bookingID
	return nb
}

func (nb *NotificationBuilder) WithWaitlistContext(entryID uuid.UUID, position int) *NotificationBuilder {
	nb.notification.WaitlistEntryID = &entryID
	nb.notification.Position = position
	return nb
}

func (nb *NotificationBuilder) WithExpiration(expiresAt *time.Time) *NotificationBuilder {
	nb.notification.ExpiresAt = expiresAt
	return nb
}

func (nb *NotificationBuilder) Build() *Notification {
	return nb.notification
}

// GetDefaultPriority ranks time-bounded offers above everything else
func GetDefaultPriority(notType NotificationType) NotificationPriority {
	switch notType {
	case NotificationTypeOfferCreated:
		return NotificationPriorityHigh
	case NotificationTypeWaitlistJoined, NotificationTypeWaitlistRemoved:
		return NotificationPriorityLow
	default:
		return NotificationPriorityMedium
	}
}

// GetPartitionKey keeps a participant's notifications ordered on one partition
func (n *Notification) GetPartitionKey() string {
	return n.ParticipantID.String()
}

func (n *Notification) ToJSON() ([]byte, error) {
	return json.Marshal(n)
}
