// Package offers turns waitlist entries into time-bounded offers and expires
// the ones nobody took up.
package offers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clubsched/internal/notifications"
	"clubsched/internal/sessions"
	"clubsched/internal/shared/apperrors"
	"clubsched/internal/shared/metrics"
	"clubsched/internal/waitlist"
	"clubsched/pkg/logger"

	"github.com/google/uuid"
)

// ExpiryPolicy decides what happens to an entry after its offer lapses
type ExpiryPolicy string

const (
	// ExpiryPolicyKeep leaves the entry expired; the participant may rejoin.
	ExpiryPolicyKeep    ExpiryPolicy = "keep"
	ExpiryPolicyRequeue ExpiryPolicy = "requeue"
	ExpiryPolicyDrop    ExpiryPolicy = "drop"
)

// ParseExpiryPolicy validates a configured policy name
func ParseExpiryPolicy(s string) (ExpiryPolicy, error) {
	switch p := ExpiryPolicy(s); p {
	case ExpiryPolicyKeep, ExpiryPolicyRequeue, ExpiryPolicyDrop:
		return p, nil
	default:
		return "", fmt.Errorf("unknown expiry policy %q", s)
	}
}

// SeatLedger is the part of the capacity ledger offers need (defined here to avoid import cycles)
type SeatLedger interface {
	ConvertHold(ctx context.Context, sessionID uuid.UUID) (*sessions.Session, error)
	ReleaseHold(ctx context.Context, sessionID uuid.UUID) (*sessions.FreedSeat, error)
}

// Notifier accepts fire-and-forget notifications
type Notifier interface {
	Dispatch(ctx context.Context, notification *notifications.Notification)
}

// SeatFiller offers free seats to waiting entries. Requeued entries need it
// when the cascade found nobody else to offer the released seat to.
type SeatFiller interface {
	Fill(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// Config contains configuration for the offer scheduler
type Config struct {
	ExpiryPolicy ExpiryPolicy
	BatchSize    int
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() *Config {
	return &Config{
		ExpiryPolicy: ExpiryPolicyKeep,
		BatchSize:    100,
	}
}

// Scheduler creates, accepts and expires offers.
type Scheduler struct {
	queue    *waitlist.Queue
	ledger   SeatLedger
	notifier Notifier
	filler   SeatFiller
	config   *Config
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// NewScheduler creates a new offer scheduler
func NewScheduler(queue *waitlist.Queue, ledger SeatLedger, notifier Notifier, config *Config, m *metrics.Metrics, log *logger.Logger) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return &Scheduler{
		queue:    queue,
		ledger:   ledger,
		notifier: notifier,
		config:   config,
		metrics:  m,
		logger:   log.WithComponent("offers"),
	}
}

// SetSeatFiller injects the component that refills seats after a requeue
func (s *Scheduler) SetSeatFiller(filler SeatFiller) {
	s.filler = filler
}

// Policy returns the configured expiry policy.
func (s *Scheduler) Policy() ExpiryPolicy {
	return s.config.ExpiryPolicy
}

// CreateOffer moves an active entry to offered with a deadline ttl from now.
// The caller must already hold a seat for it.
func (s *Scheduler) CreateOffer(ctx context.Context, entryID uuid.UUID, ttl time.Duration, trigger string) (*waitlist.Entry, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("offer ttl must be positive, got %s", ttl)
	}

	expiresAt := s.queue.Now().Add(ttl)
	entry, err := s.queue.Transition(ctx, entryID, waitlist.StatusOffered, func(current, next *waitlist.Entry) error {
		next.OfferExpiresAt = &expiresAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOfferCreated(trigger)
	s.logger.LogOfferCreated(ctx, entry.ID.String(), entry.SessionID.String(), expiresAt, trigger)
	s.notify(ctx, notifications.NotificationTypeOfferCreated, entry)
	return entry, nil
}

// Accept commits an offer if it is still inside its window and converts the
// held seat into a confirmed one. An accept that arrives after the deadline
// expires the offer on the spot and reports ErrOfferExpired.
//
// commit, when set, runs under the waitlist lock after the deadline check and
// before the entry is written as accepted. If it fails the offer and its held
// seat are left untouched.
func (s *Scheduler) Accept(ctx context.Context, entryID uuid.UUID, commit func(entry *waitlist.Entry) error) (*waitlist.Entry, error) {
	entry, err := s.queue.Transition(ctx, entryID, waitlist.StatusAccepted, func(current, next *waitlist.Entry) error {
		if next.OfferExpiresAt == nil || !s.queue.Now().Before(*next.OfferExpiresAt) {
			return fmt.Errorf("entry %s: %w", entryID, apperrors.ErrOfferExpired)
		}
		if commit != nil {
			return commit(next)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrOfferExpired) {
			if _, expireErr := s.Expire(ctx, entryID); expireErr != nil && !errors.Is(expireErr, apperrors.ErrInvalidTransition) {
				s.logger.WarnContext(ctx, "failed to expire late offer",
					"entry_id", entryID.String(),
					"error", expireErr.Error(),
				)
			}
		}
		return nil, err
	}

	if _, err := s.ledger.ConvertHold(ctx, entry.SessionID); err != nil {
		// The participant accepted in time, so the seat is theirs; the auditor
		// reconciles the counters from the entry and booking rows.
		s.logger.LogInvariantViolation(ctx, entry.SessionID.String(), "held_matches_offers",
			fmt.Sprintf("convert hold for entry %s failed: %v", entry.ID, err))
	}

	s.metrics.RecordOfferAccepted()
	return entry, nil
}

// Expire lapses an offer. It is idempotent: a second call, or a call racing
// an accept, returns an invalid transition error and changes nothing. The
// released seat cascades to the next waiter before the policy is applied.
func (s *Scheduler) Expire(ctx context.Context, entryID uuid.UUID) (*waitlist.Entry, error) {
	entry, err := s.queue.Transition(ctx, entryID, waitlist.StatusExpired, nil)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOfferExpired()
	s.logger.LogOfferExpired(ctx, entry.ID.String(), entry.SessionID.String(), string(s.config.ExpiryPolicy))
	s.notify(ctx, notifications.NotificationTypeOfferExpired, entry)

	if _, err := s.ledger.ReleaseHold(ctx, entry.SessionID); err != nil {
		s.logger.LogInvariantViolation(ctx, entry.SessionID.String(), "held_matches_offers",
			fmt.Sprintf("release hold for expired entry %s failed: %v", entry.ID, err))
	}

	return s.applyPolicy(ctx, entry)
}

func (s *Scheduler) applyPolicy(ctx context.Context, entry *waitlist.Entry) (*waitlist.Entry, error) {
	switch s.config.ExpiryPolicy {
	case ExpiryPolicyRequeue:
		requeued, err := s.queue.Reinsert(ctx, entry.ID)
		if err != nil {
			return entry, fmt.Errorf("requeue expired entry: %w", err)
		}
		if s.filler != nil {
			if _, err := s.filler.Fill(ctx, entry.SessionID); err != nil {
				s.logger.WarnContext(ctx, "fill after requeue failed",
					"session_id", entry.SessionID.String(),
					"error", err.Error(),
				)
			}
			if latest, err := s.queue.Get(ctx, entry.ID); err == nil {
				requeued = latest
			}
		}
		return requeued, nil

	case ExpiryPolicyDrop:
		removed, err := s.queue.RemoveEntry(ctx, entry.ID, waitlist.StatusRemoved)
		if err != nil {
			return entry, fmt.Errorf("drop expired entry: %w", err)
		}
		return removed, nil

	default:
		return entry, nil
	}
}

// Sweep expires every offer whose deadline has passed, in batches. It returns
// how many offers it expired.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start)) }()

	expired := 0
	for {
		if err := ctx.Err(); err != nil {
			return expired, err
		}

		due, err := s.queue.DueOffers(ctx, s.queue.Now(), s.config.BatchSize)
		if err != nil {
			return expired, err
		}
		if len(due) == 0 {
			return expired, nil
		}

		progressed := 0
		for i := range due {
			_, err := s.Expire(ctx, due[i].ID)
			switch {
			case err == nil:
				expired++
				progressed++
			case errors.Is(err, apperrors.ErrInvalidTransition):
				// Accepted or removed since the scan.
				progressed++
			default:
				s.logger.ErrorWithContext(ctx, "failed to expire offer", err, map[string]interface{}{
					"entry_id":   due[i].ID.String(),
					"session_id": due[i].SessionID.String(),
				})
			}
		}

		if progressed == 0 || len(due) < s.config.BatchSize {
			return expired, nil
		}
	}
}

func (s *Scheduler) notify(ctx context.Context, notType notifications.NotificationType, entry *waitlist.Entry) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(ctx, notifications.NewNotificationBuilder().
		WithType(notType).
		WithRecipient(entry.ParticipantID, entry.GuardianID).
		WithSessionContext(entry.TenantID, entry.SessionID).
		WithWaitlistContext(entry.ID, entry.Position).
		WithExpiration(entry.OfferExpiresAt).
		Build())
}
