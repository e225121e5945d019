// Package promotion moves waiting participants into seats as they free up.
//
// The coordinator never takes a session lock. It runs inside ledger free-seat
// handlers, which may already execute under one.
package promotion

import (
	"context"
	"errors"
	"fmt"

	"clubsched/internal/notifications"
	"clubsched/internal/offers"
	"clubsched/internal/sessions"
	"clubsched/internal/settings"
	"clubsched/internal/shared/apperrors"
	"clubsched/internal/shared/metrics"
	"clubsched/internal/waitlist"
	"clubsched/pkg/logger"

	"github.com/google/uuid"
)

// AdminPromotePolicy decides what an admin promote does on a full session
type AdminPromotePolicy string

const (
	// AdminPromoteOverbook holds a seat beyond capacity.
	AdminPromoteOverbook    AdminPromotePolicy = "overbook"
	AdminPromoteRequireSeat AdminPromotePolicy = "require_seat"
)

// ParseAdminPromotePolicy validates a configured policy name
func ParseAdminPromotePolicy(s string) (AdminPromotePolicy, error) {
	switch p := AdminPromotePolicy(s); p {
	case AdminPromoteOverbook, AdminPromoteRequireSeat:
		return p, nil
	default:
		return "", fmt.Errorf("unknown admin promote policy %q", s)
	}
}

// SeatLedger is the part of the capacity ledger promotion needs
type SeatLedger interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*sessions.Session, error)
	Hold(ctx context.Context, sessionID uuid.UUID) (*sessions.Session, error)
	ForceHold(ctx context.Context, sessionID uuid.UUID) (*sessions.Session, error)
	CancelHold(ctx context.Context, sessionID uuid.UUID) (*sessions.Session, error)
	ReleaseHold(ctx context.Context, sessionID uuid.UUID) (*sessions.FreedSeat, error)
}

// BookingRecorder persists the booking for an accepted offer (defined here to avoid import cycles)
type BookingRecorder interface {
	RecordWaitlistBooking(ctx context.Context, entry *waitlist.Entry, authorizationID string) (uuid.UUID, error)
	DiscardWaitlistBooking(ctx context.Context, bookingID uuid.UUID) error
}

// Acceptance is the outcome of a successful accept.
type Acceptance struct {
	Entry     *waitlist.Entry
	BookingID uuid.UUID
}

// Config contains configuration for the coordinator
type Config struct {
	AdminPromotePolicy AdminPromotePolicy
}

// DefaultConfig returns default coordinator configuration
func DefaultConfig() *Config {
	return &Config{AdminPromotePolicy: AdminPromoteOverbook}
}

// Coordinator reacts to freed seats and drives participant-facing waitlist actions.
type Coordinator struct {
	ledger    SeatLedger
	queue     *waitlist.Queue
	scheduler *offers.Scheduler
	settings  settings.Provider
	recorder  BookingRecorder
	notifier  offers.Notifier
	config    *Config
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewCoordinator creates a new promotion coordinator and registers it as the
// scheduler's seat filler.
func NewCoordinator(
	ledger SeatLedger,
	queue *waitlist.Queue,
	scheduler *offers.Scheduler,
	provider settings.Provider,
	notifier offers.Notifier,
	config *Config,
	m *metrics.Metrics,
	log *logger.Logger,
) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AdminPromotePolicy == "" {
		config.AdminPromotePolicy = AdminPromoteOverbook
	}
	if log == nil {
		log = logger.GetDefault()
	}

	c := &Coordinator{
		ledger:    ledger,
		queue:     queue,
		scheduler: scheduler,
		settings:  provider,
		notifier:  notifier,
		config:    config,
		metrics:   m,
		logger:    log.WithComponent("promotion"),
	}
	scheduler.SetSeatFiller(c)
	return c
}

// SetBookingRecorder injects the booking writer used by Accept.
func (c *Coordinator) SetBookingRecorder(recorder BookingRecorder) {
	c.recorder = recorder
}

// HandleFreedSeat offers a freed seat to the head of the queue. It has the
// sessions.FreedSeatHandler signature so it can be subscribed to the ledger.
func (c *Coordinator) HandleFreedSeat(ctx context.Context, event sessions.FreedSeat) {
	entry, err := c.offerSeat(ctx, event.SessionID, string(event.Reason))
	if err != nil {
		c.logger.ErrorWithContext(ctx, "failed to promote from waitlist", err, map[string]interface{}{
			"session_id": event.SessionID.String(),
			"reason":     string(event.Reason),
		})
		return
	}
	if entry == nil {
		c.logger.DebugContext(ctx, "freed seat left for direct booking",
			"session_id", event.SessionID.String(),
			"reason", string(event.Reason),
		)
	}
}

// Fill offers free seats to waiters until one side runs out. It returns how
// many offers were made.
func (c *Coordinator) Fill(ctx context.Context, sessionID uuid.UUID) (int, error) {
	offered := 0
	for {
		session, err := c.ledger.Get(ctx, sessionID)
		if err != nil {
			return offered, err
		}
		if session.IsFull() {
			return offered, nil
		}

		entry, err := c.offerSeat(ctx, sessionID, "fill")
		if err != nil {
			return offered, err
		}
		if entry == nil {
			return offered, nil
		}
		offered++
	}
}

// offerSeat holds one seat and offers it to the first active entry that will
// take it. A nil entry with a nil error means there was nobody to offer to.
func (c *Coordinator) offerSeat(ctx context.Context, sessionID uuid.UUID, trigger string) (*waitlist.Entry, error) {
	cfg, err := c.settings.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !cfg.WaitlistEnabled {
		return nil, nil
	}

	next, err := c.queue.PeekNext(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrQueueEmpty) {
			return nil, nil
		}
		return nil, err
	}

	if _, err := c.ledger.Hold(ctx, sessionID); err != nil {
		if errors.Is(err, apperrors.ErrNoCapacity) {
			// A direct booking took the seat first.
			return nil, nil
		}
		return nil, err
	}

	var skipped []uuid.UUID
	for depth := 0; ; depth++ {
		entry, err := c.scheduler.CreateOffer(ctx, next.ID, cfg.OfferTTL, trigger)
		if err == nil {
			c.metrics.ObserveCascadeDepth(depth)
			return entry, nil
		}

		c.logger.WarnContext(ctx, "offer failed, trying next entry",
			"session_id", sessionID.String(),
			"entry_id", next.ID.String(),
			"error", err.Error(),
		)
		skipped = append(skipped, next.ID)

		next, err = c.queue.PeekNext(ctx, sessionID, skipped...)
		if err != nil {
			c.cancelHold(ctx, sessionID)
			if errors.Is(err, apperrors.ErrQueueEmpty) {
				return nil, nil
			}
			return nil, err
		}
	}
}

func (c *Coordinator) cancelHold(ctx context.Context, sessionID uuid.UUID) {
	if _, err := c.ledger.CancelHold(ctx, sessionID); err != nil {
		c.logger.LogInvariantViolation(ctx, sessionID.String(), "held_matches_offers",
			fmt.Sprintf("cancel unused hold failed: %v", err))
	}
}

// Accept takes up an offer and records the resulting booking. The booking is
// written before the entry is marked accepted, so a failed write leaves the
// offer and its held seat in place.
func (c *Coordinator) Accept(ctx context.Context, entryID uuid.UUID, authorizationID string) (*Acceptance, error) {
	if c.recorder == nil {
		return nil, errors.New("promotion: booking recorder not configured")
	}

	var recorded *waitlist.Entry
	var bookingID uuid.UUID
	entry, err := c.scheduler.Accept(ctx, entryID, func(next *waitlist.Entry) error {
		id, err := c.recorder.RecordWaitlistBooking(ctx, next, authorizationID)
		if err != nil {
			return fmt.Errorf("failed to record booking: %w", err)
		}
		recorded, bookingID = next, id
		return nil
	})
	if err != nil {
		if recorded != nil {
			c.discardBooking(ctx, recorded, bookingID)
		}
		return nil, err
	}

	c.notify(ctx, notifications.NotificationTypeOfferAccepted, entry, &bookingID)
	return &Acceptance{Entry: entry, BookingID: bookingID}, nil
}

// discardBooking cancels a booking whose entry never reached accepted.
func (c *Coordinator) discardBooking(ctx context.Context, entry *waitlist.Entry, bookingID uuid.UUID) {
	if err := c.recorder.DiscardWaitlistBooking(ctx, bookingID); err != nil {
		c.logger.LogInvariantViolation(ctx, entry.SessionID.String(), "confirmed_matches_bookings",
			fmt.Sprintf("discard booking %s for entry %s failed: %v", bookingID, entry.ID, err))
	}
}

// Promote offers a seat to a specific active entry regardless of its position.
func (c *Coordinator) Promote(ctx context.Context, entryID uuid.UUID) (*waitlist.Entry, error) {
	entry, err := c.queue.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != waitlist.StatusActive {
		return nil, apperrors.NewTransitionError(entry.Status, waitlist.StatusOffered)
	}

	cfg, err := c.settings.Get(ctx, entry.SessionID)
	if err != nil {
		return nil, err
	}

	if _, err := c.ledger.Hold(ctx, entry.SessionID); err != nil {
		if !errors.Is(err, apperrors.ErrNoCapacity) || c.config.AdminPromotePolicy != AdminPromoteOverbook {
			return nil, err
		}
		if _, err := c.ledger.ForceHold(ctx, entry.SessionID); err != nil {
			return nil, err
		}
		c.logger.InfoWithContext(ctx, "admin promote overbooked session", map[string]interface{}{
			"session_id": entry.SessionID.String(),
			"entry_id":   entry.ID.String(),
		})
	}

	offered, err := c.scheduler.CreateOffer(ctx, entryID, cfg.OfferTTL, "admin_promote")
	if err != nil {
		c.cancelHold(ctx, entry.SessionID)
		return nil, err
	}
	return offered, nil
}

// Remove takes an entry off the waitlist. An outstanding offer's seat goes to
// the next waiter.
func (c *Coordinator) Remove(ctx context.Context, entryID uuid.UUID) (*waitlist.Entry, error) {
	var wasOffered bool
	removed, err := c.queue.Transition(ctx, entryID, waitlist.StatusRemoved, func(current, next *waitlist.Entry) error {
		wasOffered = current.Status == waitlist.StatusOffered
		return nil
	})
	if err != nil {
		return nil, err
	}

	if wasOffered {
		if _, err := c.ledger.ReleaseHold(ctx, removed.SessionID); err != nil {
			c.logger.LogInvariantViolation(ctx, removed.SessionID.String(), "held_matches_offers",
				fmt.Sprintf("release hold for removed entry %s failed: %v", removed.ID, err))
		}
	}

	c.notify(ctx, notifications.NotificationTypeWaitlistRemoved, removed, nil)
	return removed, nil
}

// Rejoin puts an expired entry back at the tail and offers it a seat if one
// is already free.
func (c *Coordinator) Rejoin(ctx context.Context, entryID uuid.UUID) (*waitlist.Entry, error) {
	entry, err := c.queue.Reinsert(ctx, entryID)
	if err != nil {
		return nil, err
	}

	if _, err := c.Fill(ctx, entry.SessionID); err != nil {
		c.logger.WarnContext(ctx, "fill after rejoin failed",
			"session_id", entry.SessionID.String(),
			"error", err.Error(),
		)
		return entry, nil
	}
	if latest, err := c.queue.Get(ctx, entryID); err == nil {
		entry = latest
	}
	return entry, nil
}

func (c *Coordinator) notify(ctx context.Context, notType notifications.NotificationType, entry *waitlist.Entry, bookingID *uuid.UUID) {
	if c.notifier == nil {
		return
	}

	b := notifications.NewNotificationBuilder().
		WithType(notType).
		WithRecipient(entry.ParticipantID, entry.GuardianID).
		WithSessionContext(entry.TenantID, entry.SessionID).
		WithWaitlistContext(entry.ID, entry.Position)
	if bookingID != nil {
		b = b.WithBookingContext(*bookingID)
	}
	c.notifier.Dispatch(ctx, b.Build())
}
