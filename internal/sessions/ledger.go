package sessions

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"clubsched/internal/shared/apperrors"
	"clubsched/internal/shared/metrics"
	"clubsched/pkg/logger"

	"github.com/google/uuid"
)

// FreedSeatHandler consumes free-seat events. Handlers run synchronously after
// the counter change is committed; the ledger holds no lock while they run.
type FreedSeatHandler func(ctx context.Context, event FreedSeat)

// LedgerConfig contains configuration for the capacity ledger
type LedgerConfig struct {
	// MaxRetries bounds compare-and-swap attempts per operation.
	MaxRetries   int
	RetryBackoff time.Duration
	Clock        func() time.Time
}

// DefaultLedgerConfig returns default ledger configuration
func DefaultLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		MaxRetries:   8,
		RetryBackoff: 2 * time.Millisecond,
		Clock:        time.Now,
	}
}

// Ledger is the single source of truth for seat accounting. Every mutation is a
// read, a pure transformation and a versioned compare-and-swap; a lost race is
// retried from a fresh read.
type Ledger struct {
	repo    Repository
	config  *LedgerConfig
	metrics *metrics.Metrics
	logger  *logger.Logger

	mu       sync.RWMutex
	handlers []FreedSeatHandler
}

// NewLedger creates a new capacity ledger
func NewLedger(repo Repository, config *LedgerConfig, m *metrics.Metrics, log *logger.Logger) *Ledger {
	if config == nil {
		config = DefaultLedgerConfig()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return &Ledger{
		repo:    repo,
		config:  config,
		metrics: m,
		logger:  log.WithComponent("ledger"),
	}
}

// Subscribe registers a free-seat consumer.
func (l *Ledger) Subscribe(handler FreedSeatHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, handler)
}

// Create validates and stores a new session with empty counters.
func (l *Ledger) Create(ctx context.Context, session *Session) error {
	if session.Capacity <= 0 {
		return fmt.Errorf("capacity %d: %w", session.Capacity, apperrors.ErrInvalidCapacity)
	}
	session.ConfirmedCount = 0
	session.HeldCount = 0
	session.OverbookedCount = 0
	session.Version = 0
	return l.repo.Create(ctx, session)
}

// Get returns the current session record.
func (l *Ledger) Get(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	return l.repo.GetByID(ctx, sessionID)
}

// TryReserve takes a free seat as a confirmed seat.
func (l *Ledger) TryReserve(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	return l.mutate(ctx, sessionID, "try_reserve", func(s *Session) error {
		if s.IsFull() {
			return apperrors.ErrNoCapacity
		}
		s.ConfirmedCount++
		return nil
	})
}

// Release gives a confirmed seat back to the pool and emits a free-seat event.
// On an overbooked session the seat retires the overbooking instead, and the
// returned event is nil.
func (l *Ledger) Release(ctx context.Context, sessionID uuid.UUID) (*FreedSeat, error) {
	var absorbed bool
	_, err := l.mutate(ctx, sessionID, "release", func(s *Session) error {
		if s.ConfirmedCount == 0 {
			return apperrors.ErrOverRelease
		}
		s.ConfirmedCount--
		absorbed = s.absorbOverbooking()
		return nil
	})
	if err != nil || absorbed {
		return nil, err
	}

	events := l.emit(ctx, sessionID, FreedSeatRelease, 1)
	return &events[0], nil
}

// SetCapacity changes the capacity. Growth first covers any overbooked seats
// and emits one free-seat event per seat left over. A shrink below the seats
// already confirmed or held is rejected.
func (l *Ledger) SetCapacity(ctx context.Context, sessionID uuid.UUID, capacity int) (*Session, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity %d: %w", capacity, apperrors.ErrInvalidCapacity)
	}

	var added int
	updated, err := l.mutate(ctx, sessionID, "set_capacity", func(s *Session) error {
		committed := s.ConfirmedCount + s.HeldCount
		if capacity+s.OverbookedCount < committed {
			return fmt.Errorf("capacity %d below %d committed seats: %w",
				capacity, committed, apperrors.ErrInvalidCapacity)
		}
		added = capacity - s.Capacity
		for added > 0 && s.absorbOverbooking() {
			added--
		}
		s.Capacity = capacity
		return nil
	})
	if err != nil {
		return nil, err
	}

	if added > 0 {
		l.emit(ctx, sessionID, FreedSeatCapacityIncrease, added)
	}
	return updated, nil
}

// Hold reserves a free seat for an outstanding offer.
func (l *Ledger) Hold(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	return l.mutate(ctx, sessionID, "hold", func(s *Session) error {
		if s.IsFull() {
			return apperrors.ErrNoCapacity
		}
		s.HeldCount++
		return nil
	})
}

// ForceHold holds a seat for an admin promotion. On a full session the seat is
// recorded as overbooked; capacity is left as configured. No event is emitted.
func (l *Ledger) ForceHold(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	return l.mutate(ctx, sessionID, "force_hold", func(s *Session) error {
		if s.IsFull() {
			s.OverbookedCount++
		}
		s.HeldCount++
		return nil
	})
}

// ConvertHold turns a held seat into a confirmed one when an offer is accepted.
func (l *Ledger) ConvertHold(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	return l.mutate(ctx, sessionID, "convert_hold", func(s *Session) error {
		if s.HeldCount == 0 {
			return apperrors.ErrOverRelease
		}
		s.HeldCount--
		s.ConfirmedCount++
		return nil
	})
}

// ReleaseHold returns a held seat to the pool and emits a free-seat event. On
// an overbooked session it retires the overbooking instead and returns nil.
func (l *Ledger) ReleaseHold(ctx context.Context, sessionID uuid.UUID) (*FreedSeat, error) {
	var absorbed bool
	_, err := l.mutate(ctx, sessionID, "release_hold", func(s *Session) error {
		if s.HeldCount == 0 {
			return apperrors.ErrOverRelease
		}
		s.HeldCount--
		absorbed = s.absorbOverbooking()
		return nil
	})
	if err != nil || absorbed {
		return nil, err
	}

	events := l.emit(ctx, sessionID, FreedSeatOfferReleased, 1)
	return &events[0], nil
}

// CancelHold drops a hold without announcing the seat. Used when a hold was
// taken but no entry could be offered.
func (l *Ledger) CancelHold(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	return l.mutate(ctx, sessionID, "cancel_hold", func(s *Session) error {
		if s.HeldCount == 0 {
			return apperrors.ErrOverRelease
		}
		s.HeldCount--
		s.absorbOverbooking()
		return nil
	})
}

// Reconcile overwrites the counters with externally observed values. Seats
// beyond capacity are recorded as overbooked.
func (l *Ledger) Reconcile(ctx context.Context, sessionID uuid.UUID, confirmed, held int) (*Session, error) {
	return l.mutate(ctx, sessionID, "reconcile", func(s *Session) error {
		s.ConfirmedCount = confirmed
		s.HeldCount = held
		s.OverbookedCount = max(0, confirmed+held-s.Capacity)
		return nil
	})
}

func (l *Ledger) mutate(ctx context.Context, sessionID uuid.UUID, op string, apply func(*Session) error) (*Session, error) {
	for attempt := 0; attempt <= l.config.MaxRetries; attempt++ {
		current, err := l.repo.GetByID(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		expected := current.Version
		next := *current
		if err := apply(&next); err != nil {
			if errors.Is(err, apperrors.ErrNoCapacity) || errors.Is(err, apperrors.ErrOverRelease) {
				return nil, fmt.Errorf("%s session %s: %w", op, sessionID, err)
			}
			return nil, err
		}

		swapped, err := l.repo.CompareAndSwap(ctx, &next, expected)
		if err != nil {
			return nil, err
		}
		if swapped {
			next.Version = expected + 1
			return &next, nil
		}

		l.metrics.RecordLedgerRetry()
		if err := l.backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}

	l.metrics.RecordLedgerConflict(op)
	l.logger.WarnContext(ctx, "ledger retries exhausted",
		"session_id", sessionID.String(),
		"operation", op,
		"max_retries", l.config.MaxRetries,
	)
	return nil, fmt.Errorf("%s session %s: %w", op, sessionID, apperrors.ErrConcurrencyConflict)
}

func (l *Ledger) backoff(ctx context.Context, attempt int) error {
	if l.config.RetryBackoff <= 0 {
		return ctx.Err()
	}

	base := l.config.RetryBackoff << min(attempt, 6)
	wait := base/2 + time.Duration(rand.Int63n(int64(base/2)+1))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Ledger) emit(ctx context.Context, sessionID uuid.UUID, reason FreedSeatReason, n int) []FreedSeat {
	l.metrics.RecordFreedSeats(string(reason), n)

	events := make([]FreedSeat, n)
	for i := range events {
		events[i] = FreedSeat{
			SessionID: sessionID,
			Reason:    reason,
			At:        l.config.Clock(),
		}
	}

	l.mu.RLock()
	handlers := make([]FreedSeatHandler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()

	for _, event := range events {
		for _, handler := range handlers {
			handler(ctx, event)
		}
	}
	return events
}
