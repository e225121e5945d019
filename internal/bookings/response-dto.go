package bookings

import (
	"time"

	"clubsched/internal/waitlist"
)

type BookingResponse struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	ParticipantID   string     `json:"participant_id"`
	GuardianID      *string    `json:"guardian_id,omitempty"`
	Status          Status     `json:"status"`
	Source          Source     `json:"source"`
	WaitlistEntryID *string    `json:"waitlist_entry_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
}

type BookResponse struct {
	Outcome Outcome                 `json:"outcome"`
	Booking *BookingResponse        `json:"booking,omitempty"`
	Entry   *waitlist.EntryResponse `json:"waitlist_entry,omitempty"`
}

type WaitlistResponse struct {
	SessionID string                   `json:"session_id"`
	Entries   []waitlist.EntryResponse `json:"entries"`
}

type AcceptResponse struct {
	Booking *BookingResponse        `json:"booking"`
	Entry   *waitlist.EntryResponse `json:"waitlist_entry"`
}

func (b *Booking) ToResponse() *BookingResponse {
	resp := &BookingResponse{
		ID:            b.ID.String(),
		SessionID:     b.SessionID.String(),
		ParticipantID: b.ParticipantID.String(),
		Status:        b.Status,
		Source:        b.Source,
		CreatedAt:     b.CreatedAt,
		CancelledAt:   b.CancelledAt,
	}
	if b.GuardianID != nil {
		g := b.GuardianID.String()
		resp.GuardianID = &g
	}
	if b.WaitlistEntryID != nil {
		e := b.WaitlistEntryID.String()
		resp.WaitlistEntryID = &e
	}
	return resp
}
