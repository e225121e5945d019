package sessions

import (
	"time"

	"github.com/google/uuid"
)

// Session is a capacity-limited slot participants book into. The seat counters
// are owned by the Ledger and only change through compare-and-swap on Version.
// OverbookedCount is the number of seats an admin granted beyond Capacity; it
// shrinks back to zero as seats are given up and never changes Capacity.
type Session struct {
	ID              uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID        uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Name            string    `json:"name" gorm:"not null;size:255"`
	StartsAt        time.Time `json:"starts_at" gorm:"not null"`
	Capacity        int       `json:"capacity" gorm:"not null;check:capacity > 0"`
	ConfirmedCount  int       `json:"confirmed_count" gorm:"not null;default:0;check:confirmed_count >= 0"`
	HeldCount       int       `json:"held_count" gorm:"not null;default:0;check:held_count >= 0"`
	OverbookedCount int       `json:"overbooked_count" gorm:"not null;default:0;check:overbooked_count >= 0"`
	WaitlistEnabled bool      `json:"waitlist_enabled" gorm:"not null;default:true"`
	OfferTTLSeconds *int      `json:"offer_ttl_seconds,omitempty"`
	Version         int64     `json:"version" gorm:"not null;default:0"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// FreeSeats is the number of seats neither confirmed nor held for an offer.
func (s *Session) FreeSeats() int {
	free := s.Capacity + s.OverbookedCount - s.ConfirmedCount - s.HeldCount
	if free < 0 {
		return 0
	}
	return free
}

// IsFull reports whether a direct reservation would fail.
func (s *Session) IsFull() bool {
	return s.FreeSeats() == 0
}

// absorbOverbooking retires one overbooked seat in place of freeing it. It
// reports whether there was one to retire.
func (s *Session) absorbOverbooking() bool {
	if s.OverbookedCount == 0 {
		return false
	}
	s.OverbookedCount--
	return true
}

// FreedSeatReason says why a seat became available.
type FreedSeatReason string

const (
	FreedSeatRelease          FreedSeatReason = "release"
	FreedSeatCapacityIncrease FreedSeatReason = "capacity_increase"
	FreedSeatOfferReleased    FreedSeatReason = "offer_released"
)

// FreedSeat is emitted once per seat returned to the free pool.
type FreedSeat struct {
	SessionID uuid.UUID
	Reason    FreedSeatReason
	At        time.Time
}

// Request/Response Models

// CreateSessionRequest represents a request to create a session
type CreateSessionRequest struct {
	TenantID        uuid.UUID `json:"tenant_id"`
	Name            string    `json:"name" binding:"required,min=2,max=255"`
	StartsAt        time.Time `json:"starts_at" binding:"required"`
	Capacity        int       `json:"capacity" binding:"required,min=1,max=100000"`
	WaitlistEnabled *bool     `json:"waitlist_enabled"`
	OfferTTLSeconds *int      `json:"offer_ttl_seconds" binding:"omitempty,min=1"`
}

// SetCapacityRequest represents an admin capacity change
type SetCapacityRequest struct {
	Capacity int `json:"capacity" binding:"required,min=1,max=100000"`
}

// UpdateSettingsRequest represents an admin change to per-session settings
type UpdateSettingsRequest struct {
	WaitlistEnabled *bool `json:"waitlist_enabled"`
	OfferTTLSeconds *int  `json:"offer_ttl_seconds" binding:"omitempty,min=1"`
}

// SessionResponse is the API view of a session
type SessionResponse struct {
	ID              uuid.UUID `json:"id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	Name            string    `json:"name"`
	StartsAt        time.Time `json:"starts_at"`
	Capacity        int       `json:"capacity"`
	ConfirmedCount  int       `json:"confirmed_count"`
	HeldCount       int       `json:"held_count"`
	OverbookedCount int       `json:"overbooked_count"`
	FreeSeats       int       `json:"free_seats"`
	WaitlistEnabled bool      `json:"waitlist_enabled"`
	OfferTTLSeconds *int      `json:"offer_ttl_seconds,omitempty"`
}

// ToResponse converts a session to its API view
func (s *Session) ToResponse() *SessionResponse {
	return &SessionResponse{
		ID:              s.ID,
		TenantID:        s.TenantID,
		Name:            s.Name,
		StartsAt:        s.StartsAt,
		Capacity:        s.Capacity,
		ConfirmedCount:  s.ConfirmedCount,
		HeldCount:       s.HeldCount,
		OverbookedCount: s.OverbookedCount,
		FreeSeats:       s.FreeSeats(),
		WaitlistEnabled: s.WaitlistEnabled,
		OfferTTLSeconds: s.OfferTTLSeconds,
	}
}
