package waitlist

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"clubsched/internal/shared/apperrors"

	"github.com/google/uuid"
)

// memoryRepository keeps entries in process memory. It enforces the same
// single-open-entry rule as the partial unique index in postgres.
type memoryRepository struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
	seq     int64
}

// NewMemoryRepository creates an in-memory waitlist repository
func NewMemoryRepository() Repository {
	return &memoryRepository{
		entries: make(map[uuid.UUID]*Entry),
	}
}

func clone(e *Entry) Entry {
	out := *e
	if e.GuardianID != nil {
		g := *e.GuardianID
		out.GuardianID = &g
	}
	if e.OfferExpiresAt != nil {
		t := *e.OfferExpiresAt
		out.OfferExpiresAt = &t
	}
	return out
}

func (r *memoryRepository) Create(ctx context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	for _, existing := range r.entries {
		if existing.SessionID == entry.SessionID &&
			existing.ParticipantID == entry.ParticipantID &&
			!existing.Status.IsTerminal() {
			return fmt.Errorf("session %s participant %s: %w", entry.SessionID, entry.ParticipantID, apperrors.ErrAlreadyQueued)
		}
	}

	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	stored := clone(entry)
	r.entries[entry.ID] = &stored
	return nil
}

func (r *memoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("waitlist entry %s: %w", id, apperrors.ErrNotFound)
	}
	out := clone(e)
	return &out, nil
}

func (r *memoryRepository) FindOpenByParticipant(ctx context.Context, sessionID, participantID uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.SessionID == sessionID && e.ParticipantID == participantID && !e.Status.IsTerminal() {
			out := clone(e)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("waitlist entry for participant %s: %w", participantID, apperrors.ErrNotFound)
}

func (r *memoryRepository) ListOpen(ctx context.Context, sessionID uuid.UUID) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []Entry
	for _, e := range r.entries {
		if e.SessionID == sessionID && e.Status.IsOpen() {
			list = append(list, clone(e))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return queueOrderLess(&list[i], &list[j])
	})
	return list, nil
}

func (r *memoryRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []Entry
	for _, e := range r.entries {
		if e.SessionID == sessionID {
			list = append(list, clone(e))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := &list[i], &list[j]
		if (a.Position == 0) != (b.Position == 0) {
			return a.Position != 0
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return queueOrderLess(a, b)
	})
	return list, nil
}

func (r *memoryRepository) CountByStatus(ctx context.Context, sessionID uuid.UUID, status Status) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, e := range r.entries {
		if e.SessionID == sessionID && e.Status == status {
			count++
		}
	}
	return count, nil
}

func (r *memoryRepository) UpdateIfStatus(ctx context.Context, entry *Entry, expected Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.entries[entry.ID]
	if !ok {
		return false, fmt.Errorf("waitlist entry %s: %w", entry.ID, apperrors.ErrNotFound)
	}
	if stored.Status != expected {
		return false, nil
	}

	next := clone(entry)
	next.CreatedAt = stored.CreatedAt
	next.UpdatedAt = time.Now()
	r.entries[entry.ID] = &next
	return true, nil
}

func (r *memoryRepository) UpdatePositions(ctx context.Context, positions map[uuid.UUID]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range positions {
		if _, ok := r.entries[id]; !ok {
			return fmt.Errorf("waitlist entry %s: %w", id, apperrors.ErrNotFound)
		}
	}
	for id, position := range positions {
		r.entries[id].Position = position
	}
	return nil
}

func (r *memoryRepository) NextSequence(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq, nil
}

func (r *memoryRepository) ListDueOffers(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []Entry
	for _, e := range r.entries {
		if e.Status == StatusOffered && e.OfferExpiresAt != nil && !e.OfferExpiresAt.After(now) {
			list = append(list, clone(e))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].OfferExpiresAt.Before(*list[j].OfferExpiresAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func queueOrderLess(a, b *Entry) bool {
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.Seq < b.Seq
}
