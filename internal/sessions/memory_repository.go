package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"clubsched/internal/shared/apperrors"

	"github.com/google/uuid"
)

// memoryRepository keeps sessions in process memory. It backs STORE_BACKEND=memory
// and the engine tests; every read returns a copy.
type memoryRepository struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]Session
}

// NewMemoryRepository creates an in-memory session repository
func NewMemoryRepository() Repository {
	return &memoryRepository{
		sessions: make(map[uuid.UUID]Session),
	}
}

func (r *memoryRepository) Create(ctx context.Context, session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	r.sessions[session.ID] = *session
	return nil
}

func (r *memoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, apperrors.ErrNotFound)
	}
	return &s, nil
}

func (r *memoryRepository) List(ctx context.Context, limit, offset int) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID.String() < list[j].ID.String()
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})

	if offset >= len(list) {
		return []Session{}, nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list, nil
}

func (r *memoryRepository) CompareAndSwap(ctx context.Context, next *Session, expectedVersion int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[next.ID]
	if !ok {
		return false, fmt.Errorf("session %s: %w", next.ID, apperrors.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return false, nil
	}

	current.Capacity = next.Capacity
	current.ConfirmedCount = next.ConfirmedCount
	current.HeldCount = next.HeldCount
	current.OverbookedCount = next.OverbookedCount
	current.Version = expectedVersion + 1
	current.UpdatedAt = time.Now()
	r.sessions[next.ID] = current
	return true, nil
}

func (r *memoryRepository) UpdateSettings(ctx context.Context, id uuid.UUID, waitlistEnabled *bool, offerTTLSeconds *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, apperrors.ErrNotFound)
	}
	if waitlistEnabled != nil {
		current.WaitlistEnabled = *waitlistEnabled
	}
	if offerTTLSeconds != nil {
		ttl := *offerTTLSeconds
		current.OfferTTLSeconds = &ttl
	}
	current.UpdatedAt = time.Now()
	r.sessions[id] = current
	return nil
}
