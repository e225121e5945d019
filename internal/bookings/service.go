package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clubsched/internal/notifications"
	"clubsched/internal/offers"
	"clubsched/internal/promotion"
	"clubsched/internal/sessions"
	"clubsched/internal/settings"
	"clubsched/internal/shared/apperrors"
	"clubsched/internal/shared/metrics"
	"clubsched/internal/waitlist"
	"clubsched/pkg/lock"
	"clubsched/pkg/logger"

	"github.com/google/uuid"
)

// SeatLedger interface for the capacity operations bookings use (to avoid circular dependency)
type SeatLedger interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*sessions.Session, error)
	TryReserve(ctx context.Context, sessionID uuid.UUID) (*sessions.Session, error)
	Release(ctx context.Context, sessionID uuid.UUID) (*sessions.FreedSeat, error)
}

// Promoter interface for waitlist actions that go through the promotion coordinator
type Promoter interface {
	Fill(ctx context.Context, sessionID uuid.UUID) (int, error)
	Accept(ctx context.Context, entryID uuid.UUID, authorizationID string) (*promotion.Acceptance, error)
	Promote(ctx context.Context, entryID uuid.UUID) (*waitlist.Entry, error)
	Remove(ctx context.Context, entryID uuid.UUID) (*waitlist.Entry, error)
	Rejoin(ctx context.Context, entryID uuid.UUID) (*waitlist.Entry, error)
}

// Service interface defines the booking gateway the API layer calls
type Service interface {
	Book(ctx context.Context, req BookRequest) (*BookResult, error)
	Cancel(ctx context.Context, bookingID uuid.UUID) (*Booking, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*Booking, error)

	Accept(ctx context.Context, entryID uuid.UUID, paymentToken string) (*AcceptResult, error)
	Promote(ctx context.Context, entryID uuid.UUID) (*waitlist.Entry, error)
	RemoveFromWaitlist(ctx context.Context, entryID uuid.UUID) (*waitlist.Entry, error)
	Rejoin(ctx context.Context, entryID uuid.UUID) (*waitlist.Entry, error)
	ListWaitlist(ctx context.Context, sessionID uuid.UUID) ([]waitlist.Entry, error)
}

// Dependencies wires the booking service
type Dependencies struct {
	Repo       Repository
	Ledger     SeatLedger
	Queue      *waitlist.Queue
	Promoter   Promoter
	Settings   settings.Provider
	Authorizer Authorizer
	Locker     lock.Locker
	Notifier   offers.Notifier
	Clock      func() time.Time
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
}

type service struct {
	repo       Repository
	ledger     SeatLedger
	queue      *waitlist.Queue
	promoter   Promoter
	settings   settings.Provider
	authorizer Authorizer
	locker     lock.Locker
	notifier   offers.Notifier
	clock      func() time.Time
	metrics    *metrics.Metrics
	logger     *logger.Logger
}

// NewService creates a new booking service instance
func NewService(deps Dependencies) Service {
	if deps.Authorizer == nil {
		deps.Authorizer = NoopAuthorizer{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logger.GetDefault()
	}

	return &service{
		repo:       deps.Repo,
		ledger:     deps.Ledger,
		queue:      deps.Queue,
		promoter:   deps.Promoter,
		settings:   deps.Settings,
		authorizer: deps.Authorizer,
		locker:     deps.Locker,
		notifier:   deps.Notifier,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		logger:     deps.Logger.WithComponent("bookings"),
	}
}

// SessionLockKey returns the lock key serializing bookings for a session.
// It is always taken before the session's waitlist lock.
func SessionLockKey(sessionID uuid.UUID) string {
	return lock.Key("session", sessionID.String())
}

// Book confirms a seat when one is free and nobody is waiting for it, and
// otherwise puts the participant on the waitlist.
func (s *service) Book(ctx context.Context, req BookRequest) (*BookResult, error) {
	session, err := s.ledger.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if req.TenantID != uuid.Nil && req.TenantID != session.TenantID {
		return nil, fmt.Errorf("session %s: %w", req.SessionID, apperrors.ErrNotFound)
	}

	cfg, err := s.settings.Get(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if err := s.checkDuplicate(ctx, session.ID, req.ParticipantID); err != nil {
		s.metrics.RecordBooking("duplicate")
		return nil, err
	}

	direct, err := s.directPath(ctx, session, cfg)
	if err != nil {
		return nil, err
	}
	if !direct && !cfg.WaitlistEnabled {
		s.metrics.RecordBooking("no_capacity")
		return nil, fmt.Errorf("session %s: %w", session.ID, apperrors.ErrNoCapacity)
	}

	// Payment runs before any lock is taken and only when a seat looks free.
	var authID string
	if direct {
		authID, err = s.authorize(ctx, AuthorizationRequest{
			TenantID:      session.TenantID,
			SessionID:     session.ID,
			ParticipantID: req.ParticipantID,
			PaymentToken:  req.PaymentToken,
		})
		if err != nil {
			return nil, err
		}
	}

	result, err := s.bookLocked(ctx, session, cfg, req, direct, authID)
	if direct && (err != nil || result.Outcome != OutcomeConfirmed) {
		s.void(ctx, authID)
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrNoCapacity) {
			s.metrics.RecordBooking("no_capacity")
		}
		return nil, err
	}

	switch result.Outcome {
	case OutcomeConfirmed:
		b := result.Booking
		s.metrics.RecordBooking(string(OutcomeConfirmed))
		s.logger.LogBookingConfirmed(ctx, b.ID.String(), b.SessionID.String(), b.ParticipantID.String(), string(b.Source))
		s.notifyBooking(ctx, notifications.NotificationTypeBookingConfirmed, b)

	case OutcomeQueued:
		e := result.Entry
		s.metrics.RecordBooking(string(OutcomeQueued))
		s.logger.LogBookingQueued(ctx, e.ID.String(), e.SessionID.String(), e.ParticipantID.String(), e.Position)
		s.notifyEntry(ctx, notifications.NotificationTypeWaitlistJoined, e)

		// A seat may have freed between the check and the enqueue.
		if n, err := s.promoter.Fill(ctx, session.ID); err != nil {
			s.logger.WarnContext(ctx, "fill after enqueue failed",
				"session_id", session.ID.String(),
				"error", err.Error(),
			)
		} else if n > 0 {
			if latest, err := s.queue.Get(ctx, e.ID); err == nil {
				result.Entry = latest
			}
		}
	}
	return result, nil
}

func (s *service) directPath(ctx context.Context, session *sessions.Session, cfg *settings.SessionSettings) (bool, error) {
	if session.IsFull() {
		return false, nil
	}
	if !cfg.WaitlistEnabled {
		return true, nil
	}
	waiting, err := s.queue.CountActive(ctx, session.ID)
	if err != nil {
		return false, err
	}
	return waiting == 0, nil
}

func (s *service) bookLocked(ctx context.Context, session *sessions.Session, cfg *settings.SessionSettings, req BookRequest, direct bool, authID string) (*BookResult, error) {
	unlock, err := s.locker.Lock(ctx, SessionLockKey(session.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.checkDuplicate(ctx, session.ID, req.ParticipantID); err != nil {
		return nil, err
	}

	if direct {
		waiting := 0
		if cfg.WaitlistEnabled {
			if waiting, err = s.queue.CountActive(ctx, session.ID); err != nil {
				return nil, err
			}
		}
		if waiting == 0 {
			booking, err := s.reserve(ctx, session, req, authID)
			if err == nil {
				return &BookResult{Outcome: OutcomeConfirmed, Booking: booking}, nil
			}
			if !errors.Is(err, apperrors.ErrNoCapacity) {
				return nil, err
			}
		}
	}

	if !cfg.WaitlistEnabled {
		return nil, fmt.Errorf("session %s: %w", session.ID, apperrors.ErrNoCapacity)
	}

	entry, err := s.queue.Enqueue(ctx, waitlist.EnqueueRequest{
		TenantID:      session.TenantID,
		SessionID:     session.ID,
		ParticipantID: req.ParticipantID,
		GuardianID:    req.GuardianID,
	})
	if err != nil {
		return nil, err
	}
	return &BookResult{Outcome: OutcomeQueued, Entry: entry}, nil
}

func (s *service) reserve(ctx context.Context, session *sessions.Session, req BookRequest, authID string) (*Booking, error) {
	if _, err := s.ledger.TryReserve(ctx, session.ID); err != nil {
		return nil, err
	}

	now := s.clock()
	booking := &Booking{
		ID:              uuid.New(),
		TenantID:        session.TenantID,
		SessionID:       session.ID,
		ParticipantID:   req.ParticipantID,
		GuardianID:      req.GuardianID,
		Status:          StatusConfirmed,
		Source:          SourceDirect,
		AuthorizationID: authID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, booking); err != nil {
		if _, releaseErr := s.ledger.Release(ctx, session.ID); releaseErr != nil {
			s.logger.LogInvariantViolation(ctx, session.ID.String(), "confirmed_matches_bookings",
				fmt.Sprintf("release after failed booking insert: %v", releaseErr))
		}
		return nil, err
	}
	return booking, nil
}

func (s *service) checkDuplicate(ctx context.Context, sessionID, participantID uuid.UUID) error {
	_, err := s.repo.FindConfirmed(ctx, sessionID, participantID)
	switch {
	case err == nil:
		return fmt.Errorf("session %s participant %s: %w", sessionID, participantID, apperrors.ErrAlreadyBooked)
	case !errors.Is(err, apperrors.ErrNotFound):
		return err
	}

	_, err = s.queue.FindOpen(ctx, sessionID, participantID)
	switch {
	case err == nil:
		return fmt.Errorf("session %s participant %s: %w", sessionID, participantID, apperrors.ErrAlreadyQueued)
	case !errors.Is(err, apperrors.ErrNotFound):
		return err
	}
	return nil
}

// Cancel gives a confirmed seat back. Only the call that flips the booking
// releases the seat; any later call reports ErrAlreadyCancelled.
func (s *service) Cancel(ctx context.Context, bookingID uuid.UUID) (*Booking, error) {
	booking, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanBeCancelled() {
		s.metrics.RecordCancellation("already_cancelled")
		return nil, fmt.Errorf("booking %s: %w", bookingID, apperrors.ErrAlreadyCancelled)
	}

	now := s.clock()
	cancelled, err := s.repo.CancelIfConfirmed(ctx, bookingID, now)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		s.metrics.RecordCancellation("already_cancelled")
		return nil, fmt.Errorf("booking %s: %w", bookingID, apperrors.ErrAlreadyCancelled)
	}
	booking.Status = StatusCancelled
	booking.CancelledAt = &now
	booking.UpdatedAt = now

	if _, err := s.ledger.Release(ctx, booking.SessionID); err != nil {
		// The cancellation is committed; the auditor brings the counter back in line.
		s.logger.LogInvariantViolation(ctx, booking.SessionID.String(), "confirmed_matches_bookings",
			fmt.Sprintf("release for cancelled booking %s failed: %v", booking.ID, err))
	}

	s.metrics.RecordCancellation("cancelled")
	s.logger.LogBookingCancelled(ctx, booking.ID.String(), booking.SessionID.String(), booking.ParticipantID.String())
	s.notifyBooking(ctx, notifications.NotificationTypeBookingCancelled, booking)
	return booking, nil
}

func (s *service) GetBooking(ctx context.Context, bookingID uuid.UUID) (*Booking, error) {
	return s.repo.GetByID(ctx, bookingID)
}

// Accept authorizes payment for an outstanding offer and confirms the seat.
func (s *service) Accept(ctx context.Context, entryID uuid.UUID, paymentToken string) (*AcceptResult, error) {
	entry, err := s.queue.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != waitlist.StatusOffered {
		return nil, apperrors.NewTransitionError(entry.Status, waitlist.StatusAccepted)
	}

	authID, err := s.authorize(ctx, AuthorizationRequest{
		TenantID:      entry.TenantID,
		SessionID:     entry.SessionID,
		ParticipantID: entry.ParticipantID,
		PaymentToken:  paymentToken,
	})
	if err != nil {
		return nil, err
	}

	acceptance, err := s.promoter.Accept(ctx, entryID, authID)
	if err != nil {
		s.void(ctx, authID)
		return nil, err
	}

	booking, err := s.repo.GetByID(ctx, acceptance.BookingID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordBooking("accepted")
	s.logger.LogBookingConfirmed(ctx, booking.ID.String(), booking.SessionID.String(), booking.ParticipantID.String(), string(booking.Source))
	return &AcceptResult{Booking: booking, Entry: acceptance.Entry}, nil
}

func (s *service) Promote(ctx context.Context, entryID uuid.UUID) (*waitlist.Entry, error) {
	return s.promoter.Promote(ctx, entryID)
}

func (s *service) RemoveFromWaitlist(ctx context.Context, entryID uuid.UUID) (*waitlist.Entry, error) {
	return s.promoter.Remove(ctx, entryID)
}

func (s *service) Rejoin(ctx context.Context, entryID uuid.UUID) (*waitlist.Entry, error) {
	return s.promoter.Rejoin(ctx, entryID)
}

// ListWaitlist returns open entries in queue order followed by closed ones.
func (s *service) ListWaitlist(ctx context.Context, sessionID uuid.UUID) ([]waitlist.Entry, error) {
	if _, err := s.ledger.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.queue.List(ctx, sessionID)
}

func (s *service) authorize(ctx context.Context, req AuthorizationRequest) (string, error) {
	authID, err := s.authorizer.Authorize(ctx, req)
	if err != nil {
		s.metrics.RecordPaymentAuth("failed")
		s.logger.WarnContext(ctx, "payment authorization failed",
			"session_id", req.SessionID.String(),
			"participant_id", req.ParticipantID.String(),
			"error", err.Error(),
		)
		return "", fmt.Errorf("%w: %v", apperrors.ErrPaymentAuthorizationFailed, err)
	}
	s.metrics.RecordPaymentAuth("authorized")
	return authID, nil
}

func (s *service) void(ctx context.Context, authID string) {
	if authID == "" {
		return
	}
	if err := s.authorizer.Void(ctx, authID); err != nil {
		s.logger.WarnContext(ctx, "failed to void payment authorization",
			"authorization_id", authID,
			"error", err.Error(),
		)
		return
	}
	s.metrics.RecordPaymentAuth("voided")
}

func (s *service) notifyBooking(ctx context.Context, notType notifications.NotificationType, b *Booking) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(ctx, notifications.NewNotificationBuilder().
		WithType(notType).
		WithRecipient(b.ParticipantID, b.GuardianID).
		WithSessionContext(b.TenantID, b.SessionID).
		WithBookingContext(b.ID).
		Build())
}

func (s *service) notifyEntry(ctx context.Context, notType notifications.NotificationType, e *waitlist.Entry) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(ctx, notifications.NewNotificationBuilder().
		WithType(notType).
		WithRecipient(e.ParticipantID, e.GuardianID).
		WithSessionContext(e.TenantID, e.SessionID).
		WithWaitlistContext(e.ID, e.Position).
		Build())
}
