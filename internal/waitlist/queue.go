package waitlist

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"clubsched/internal/shared/apperrors"
	"clubsched/internal/shared/metrics"
	"clubsched/pkg/lock"
	"clubsched/pkg/logger"

	"github.com/google/uuid"
)

// Guard inspects the stored entry and may amend its next version inside a
// transition. Returning an error aborts the transition without writing.
type Guard func(current, next *Entry) error

// QueueConfig contains configuration for the waitlist queue
type QueueConfig struct {
	Clock func() time.Time
}

// Queue owns waitlist membership and ordering. Every mutation runs under the
// session's queue lock and is conditioned on the status it observed.
type Queue struct {
	repo    Repository
	locker  lock.Locker
	clock   func() time.Time
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewQueue creates a new waitlist queue
func NewQueue(repo Repository, locker lock.Locker, config *QueueConfig, m *metrics.Metrics, log *logger.Logger) *Queue {
	clock := time.Now
	if config != nil && config.Clock != nil {
		clock = config.Clock
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return &Queue{
		repo:    repo,
		locker:  locker,
		clock:   clock,
		metrics: m,
		logger:  log.WithComponent("waitlist"),
	}
}

// Now returns the queue's clock reading.
func (q *Queue) Now() time.Time {
	return q.clock()
}

// Enqueue appends a participant at the tail of the session's queue.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*Entry, error) {
	unlock, err := q.locker.Lock(ctx, LockKey(req.SessionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	_, err = q.repo.FindOpenByParticipant(ctx, req.SessionID, req.ParticipantID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("session %s participant %s: %w", req.SessionID, req.ParticipantID, apperrors.ErrAlreadyQueued)
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, err
	}

	open, err := q.repo.ListOpen(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	seq, err := q.repo.NextSequence(ctx)
	if err != nil {
		return nil, err
	}

	now := q.clock()
	entry := &Entry{
		ID:              uuid.New(),
		TenantID:        req.TenantID,
		SessionID:       req.SessionID,
		ParticipantID:   req.ParticipantID,
		GuardianID:      req.GuardianID,
		Position:        len(open) + 1,
		Status:          StatusActive,
		EnqueuedAt:      tailTime(open, now),
		Seq:             seq,
		StatusChangedAt: now,
	}
	if err := q.repo.Create(ctx, entry); err != nil {
		return nil, err
	}

	positions, err := q.renumberLocked(ctx, req.SessionID)
	if err != nil {
		q.logger.WarnContext(ctx, "renumber after enqueue failed",
			"session_id", req.SessionID.String(),
			"error", err.Error(),
		)
	} else if p, ok := positions[entry.ID]; ok {
		entry.Position = p
	}

	q.metrics.RecordTransition("new", string(StatusActive))
	return entry, nil
}

// PeekNext returns the lowest-positioned active entry, skipping the given IDs.
func (q *Queue) PeekNext(ctx context.Context, sessionID uuid.UUID, exclude ...uuid.UUID) (*Entry, error) {
	open, err := q.repo.ListOpen(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	for i := range open {
		if open[i].Status != StatusActive || slices.Contains(exclude, open[i].ID) {
			continue
		}
		return &open[i], nil
	}
	return nil, fmt.Errorf("session %s: %w", sessionID, apperrors.ErrQueueEmpty)
}

// Transition moves an entry to a new status. It is the only place statuses
// change. Positions are renumbered whenever the set of open entries changes.
func (q *Queue) Transition(ctx context.Context, entryID uuid.UUID, to Status, guard Guard) (*Entry, error) {
	if !to.IsValid() {
		return nil, fmt.Errorf("unknown status %q: %w", to, apperrors.ErrInvalidTransition)
	}

	observed, err := q.repo.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}

	unlock, err := q.locker.Lock(ctx, LockKey(observed.SessionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	return q.transitionLocked(ctx, entryID, to, guard)
}

func (q *Queue) transitionLocked(ctx context.Context, entryID uuid.UUID, to Status, guard Guard) (*Entry, error) {
	current, err := q.repo.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(to) {
		q.logger.LogInvalidTransition(ctx, entryID.String(), string(current.Status), string(to))
		return nil, apperrors.NewTransitionError(current.Status, to)
	}

	now := q.clock()
	next := clone(current)
	next.Status = to
	next.StatusChangedAt = now

	if current.Status == StatusExpired && to == StatusActive {
		open, err := q.repo.ListOpen(ctx, current.SessionID)
		if err != nil {
			return nil, err
		}
		seq, err := q.repo.NextSequence(ctx)
		if err != nil {
			return nil, err
		}
		next.EnqueuedAt = tailTime(open, now)
		next.Seq = seq
	}

	if guard != nil {
		if err := guard(current, &next); err != nil {
			return nil, err
		}
	}

	if to != StatusOffered {
		next.OfferExpiresAt = nil
	} else if next.OfferExpiresAt == nil {
		return nil, fmt.Errorf("offer for entry %s has no expiry", entryID)
	}
	if !to.IsOpen() {
		next.Position = 0
	}

	swapped, err := q.repo.UpdateIfStatus(ctx, &next, current.Status)
	if err != nil {
		return nil, err
	}
	if !swapped {
		latest, err := q.repo.GetByID(ctx, entryID)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.NewTransitionError(latest.Status, to)
	}

	if current.Status.IsOpen() != to.IsOpen() {
		positions, err := q.renumberLocked(ctx, current.SessionID)
		if err != nil {
			q.logger.WarnContext(ctx, "renumber after transition failed",
				"session_id", current.SessionID.String(),
				"entry_id", entryID.String(),
				"error", err.Error(),
			)
		} else if p, ok := positions[entryID]; ok {
			next.Position = p
		}
	}

	q.metrics.RecordTransition(string(current.Status), string(to))
	q.logger.DebugContext(ctx, "waitlist transition",
		"entry_id", entryID.String(),
		"session_id", current.SessionID.String(),
		"from", string(current.Status),
		"to", string(to),
	)
	return &next, nil
}

// RemoveEntry closes an entry with a terminal status.
func (q *Queue) RemoveEntry(ctx context.Context, entryID uuid.UUID, terminal Status) (*Entry, error) {
	if !terminal.IsTerminal() {
		return nil, fmt.Errorf("%s is not terminal: %w", terminal, apperrors.ErrInvalidTransition)
	}
	return q.Transition(ctx, entryID, terminal, nil)
}

// Reinsert puts an expired entry back at the tail of the queue.
func (q *Queue) Reinsert(ctx context.Context, entryID uuid.UUID) (*Entry, error) {
	return q.Transition(ctx, entryID, StatusActive, nil)
}

// Renumber rewrites positions for a session from scratch.
func (q *Queue) Renumber(ctx context.Context, sessionID uuid.UUID) error {
	unlock, err := q.locker.Lock(ctx, LockKey(sessionID))
	if err != nil {
		return err
	}
	defer unlock()

	_, err = q.renumberLocked(ctx, sessionID)
	return err
}

// renumberLocked assigns 1..k over open entries and writes only the changes.
func (q *Queue) renumberLocked(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]int, error) {
	open, err := q.repo.ListOpen(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	positions := make(map[uuid.UUID]int, len(open))
	changed := make(map[uuid.UUID]int)
	for i := range open {
		positions[open[i].ID] = i + 1
		if open[i].Position != i+1 {
			changed[open[i].ID] = i + 1
		}
	}

	if err := q.repo.UpdatePositions(ctx, changed); err != nil {
		return nil, err
	}
	return positions, nil
}

// Get returns a single entry.
func (q *Queue) Get(ctx context.Context, entryID uuid.UUID) (*Entry, error) {
	return q.repo.GetByID(ctx, entryID)
}

// FindOpen returns the participant's non-terminal entry for a session.
func (q *Queue) FindOpen(ctx context.Context, sessionID, participantID uuid.UUID) (*Entry, error) {
	return q.repo.FindOpenByParticipant(ctx, sessionID, participantID)
}

// List returns every entry of a session, open entries first in queue order.
func (q *Queue) List(ctx context.Context, sessionID uuid.UUID) ([]Entry, error) {
	return q.repo.ListBySession(ctx, sessionID)
}

// ListOpen returns active and offered entries in queue order.
func (q *Queue) ListOpen(ctx context.Context, sessionID uuid.UUID) ([]Entry, error) {
	return q.repo.ListOpen(ctx, sessionID)
}

func (q *Queue) CountActive(ctx context.Context, sessionID uuid.UUID) (int, error) {
	return q.repo.CountByStatus(ctx, sessionID, StatusActive)
}

func (q *Queue) CountOffered(ctx context.Context, sessionID uuid.UUID) (int, error) {
	return q.repo.CountByStatus(ctx, sessionID, StatusOffered)
}

// DueOffers returns offered entries whose deadline has passed.
func (q *Queue) DueOffers(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	return q.repo.ListDueOffers(ctx, now, limit)
}

// tailTime keeps enqueued_at monotonic within a session so a new or reinserted
// entry always sorts after every open one.
func tailTime(open []Entry, now time.Time) time.Time {
	if n := len(open); n > 0 && open[n-1].EnqueuedAt.After(now) {
		return open[n-1].EnqueuedAt
	}
	return now
}
