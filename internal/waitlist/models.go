package waitlist

import (
	"time"

	"clubsched/pkg/lock"

	"github.com/google/uuid"
)

// Status represents the status of a waitlist entry
type Status string

const (
	StatusActive   Status = "active"
	StatusOffered  Status = "offered"
	StatusAccepted Status = "accepted"
	StatusExpired  Status = "expired"
	StatusRemoved  Status = "removed"
)

var validTransitions = map[Status][]Status{
	StatusActive:   {StatusOffered, StatusRemoved},
	StatusOffered:  {StatusAccepted, StatusExpired, StatusRemoved},
	StatusExpired:  {StatusActive, StatusRemoved},
	StatusAccepted: {}, // Terminal state
	StatusRemoved:  {}, // Terminal state
}

// IsValid checks if the status is one of the known values
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransitionTo checks if the status can transition to the target status
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRemoved
}

// IsOpen reports whether the entry holds a place in line and a position.
func (s Status) IsOpen() bool {
	return s == StatusActive || s == StatusOffered
}

// Entry is one participant's place in a session's waitlist. Position is dense
// 1..k over open entries ordered by (EnqueuedAt, Seq) and 0 otherwise.
type Entry struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID        uuid.UUID  `json:"tenant_id" gorm:"type:uuid;not null;index"`
	SessionID       uuid.UUID  `json:"session_id" gorm:"type:uuid;not null;index:idx_waitlist_session_order,priority:1"`
	ParticipantID   uuid.UUID  `json:"participant_id" gorm:"type:uuid;not null;index"`
	GuardianID      *uuid.UUID `json:"guardian_id,omitempty" gorm:"type:uuid"`
	Position        int        `json:"position" gorm:"not null"`
	Status          Status     `json:"status" gorm:"type:varchar(20);not null;index"`
	EnqueuedAt      time.Time  `json:"enqueued_at" gorm:"not null;index:idx_waitlist_session_order,priority:2"`
	Seq             int64      `json:"seq" gorm:"not null;index:idx_waitlist_session_order,priority:3"`
	OfferExpiresAt  *time.Time `json:"offer_expires_at,omitempty" gorm:"index"`
	StatusChangedAt time.Time  `json:"status_changed_at" gorm:"not null"`
	CreatedAt       time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName overrides the gorm default
func (Entry) TableName() string {
	return "waitlist_entries"
}

// TimeRemaining returns the time left on an outstanding offer
func (e *Entry) TimeRemaining(now time.Time) *time.Duration {
	if e.Status != StatusOffered || e.OfferExpiresAt == nil {
		return nil
	}
	remaining := e.OfferExpiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// EnqueueRequest carries what is needed to put a participant in line
type EnqueueRequest struct {
	TenantID      uuid.UUID
	SessionID     uuid.UUID
	ParticipantID uuid.UUID
	GuardianID    *uuid.UUID
}

// EntryResponse represents a waitlist entry in API responses
type EntryResponse struct {
	ID             uuid.UUID  `json:"id"`
	SessionID      uuid.UUID  `json:"session_id"`
	ParticipantID  uuid.UUID  `json:"participant_id"`
	GuardianID     *uuid.UUID `json:"guardian_id,omitempty"`
	Position       int        `json:"position"`
	Status         Status     `json:"status"`
	EnqueuedAt     time.Time  `json:"enqueued_at"`
	OfferExpiresAt *time.Time `json:"offer_expires_at,omitempty"`
	TimeRemaining  *string    `json:"time_remaining,omitempty"`
}

// ToResponse converts an entry to its API view
func (e *Entry) ToResponse(now time.Time) EntryResponse {
	resp := EntryResponse{
		ID:             e.ID,
		SessionID:      e.SessionID,
		ParticipantID:  e.ParticipantID,
		GuardianID:     e.GuardianID,
		Position:       e.Position,
		Status:         e.Status,
		EnqueuedAt:     e.EnqueuedAt,
		OfferExpiresAt: e.OfferExpiresAt,
	}
	if remaining := e.TimeRemaining(now); remaining != nil {
		s := remaining.Round(time.Second).String()
		resp.TimeRemaining = &s
	}
	return resp
}

// LockKey returns the lock key serializing a session's queue mutations
func LockKey(sessionID uuid.UUID) string {
	return lock.Key("waitlist", sessionID.String())
}
