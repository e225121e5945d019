package bookings

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"clubsched/internal/shared/apperrors"

	"github.com/google/uuid"
)

// memoryRepository keeps bookings in process. It enforces the same
// one-confirmed-booking-per-participant rule as the partial unique index.
type memoryRepository struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID]*Booking
}

func NewMemoryRepository() Repository {
	return &memoryRepository{bookings: make(map[uuid.UUID]*Booking)}
}

func (r *memoryRepository) Create(ctx context.Context, booking *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	if booking.Status == StatusConfirmed {
		for _, b := range r.bookings {
			if b.SessionID == booking.SessionID && b.ParticipantID == booking.ParticipantID && b.Status == StatusConfirmed {
				return fmt.Errorf("session %s participant %s: %w", booking.SessionID, booking.ParticipantID, apperrors.ErrAlreadyBooked)
			}
		}
	}

	now := time.Now()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now
	stored := *booking
	r.bookings[booking.ID] = &stored
	return nil
}

func (r *memoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, apperrors.ErrNotFound)
	}
	out := *b
	return &out, nil
}

func (r *memoryRepository) FindConfirmed(ctx context.Context, sessionID, participantID uuid.UUID) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.bookings {
		if b.SessionID == sessionID && b.ParticipantID == participantID && b.Status == StatusConfirmed {
			out := *b
			return &out, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memoryRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []Booking
	for _, b := range r.bookings {
		if b.SessionID == sessionID {
			list = append(list, *b)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

func (r *memoryRepository) CountConfirmed(ctx context.Context, sessionID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, b := range r.bookings {
		if b.SessionID == sessionID && b.Status == StatusConfirmed {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) CancelIfConfirmed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return false, fmt.Errorf("booking %s: %w", id, apperrors.ErrNotFound)
	}
	if b.Status != StatusConfirmed {
		return false, nil
	}
	b.Status = StatusCancelled
	b.CancelledAt = &at
	b.UpdatedAt = at
	return true, nil
}
