package promotion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clubsched/internal/notifications"
	"clubsched/internal/offers"
	"clubsched/internal/sessions"
	"clubsched/internal/settings"
	"clubsched/internal/shared/apperrors"
	"clubsched/internal/waitlist"
	"clubsched/pkg/lock"
	"clubsched/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureNotifier struct {
	mu  sync.Mutex
	got []*notifications.Notification
}

func (n *captureNotifier) Dispatch(ctx context.Context, notification *notifications.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, notification)
}

func (n *captureNotifier) last(notType notifications.NotificationType) *notifications.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.got) - 1; i >= 0; i-- {
		if n.got[i].Type == notType {
			return n.got[i]
		}
	}
	return nil
}

type fakeRecorder struct {
	bookingID uuid.UUID
	err       error
	entries   []uuid.UUID
	discarded []uuid.UUID
}

func (r *fakeRecorder) RecordWaitlistBooking(ctx context.Context, entry *waitlist.Entry, authorizationID string) (uuid.UUID, error) {
	r.entries = append(r.entries, entry.ID)
	return r.bookingID, r.err
}

func (r *fakeRecorder) DiscardWaitlistBooking(ctx context.Context, bookingID uuid.UUID) error {
	r.discarded = append(r.discarded, bookingID)
	return nil
}

// writeFailingRepository refuses to move selected entries to a given status.
type writeFailingRepository struct {
	waitlist.Repository
	mu   sync.Mutex
	fail map[uuid.UUID]waitlist.Status
}

func (r *writeFailingRepository) UpdateIfStatus(ctx context.Context, entry *waitlist.Entry, expected waitlist.Status) (bool, error) {
	r.mu.Lock()
	to, failing := r.fail[entry.ID]
	r.mu.Unlock()
	if failing && entry.Status == to {
		return false, errors.New("write rejected")
	}
	return r.Repository.UpdateIfStatus(ctx, entry, expected)
}

func (r *writeFailingRepository) failOffers(ids ...uuid.UUID) {
	r.failWrites(waitlist.StatusOffered, ids...)
}

func (r *writeFailingRepository) failWrites(to waitlist.Status, ids ...uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.fail[id] = to
	}
}

type fixture struct {
	ledger      *sessions.Ledger
	queue       *waitlist.Queue
	scheduler   *offers.Scheduler
	coordinator *Coordinator
	repo        *writeFailingRepository
	recorder    *fakeRecorder
	notifier    *captureNotifier
	clock       *testClock
	session     *sessions.Session
}

type fixtureOptions struct {
	capacity        int
	expiryPolicy    offers.ExpiryPolicy
	promotePolicy   AdminPromotePolicy
	waitlistEnabled bool
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	if opts.expiryPolicy == "" {
		opts.expiryPolicy = offers.ExpiryPolicyKeep
	}

	f := &fixture{
		clock:    &testClock{now: time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)},
		notifier: &captureNotifier{},
		recorder: &fakeRecorder{bookingID: uuid.New()},
		repo:     &writeFailingRepository{Repository: waitlist.NewMemoryRepository(), fail: map[uuid.UUID]waitlist.Status{}},
	}
	provider := settings.Static{Settings: settings.SessionSettings{
		OfferTTL:        15 * time.Minute,
		WaitlistEnabled: opts.waitlistEnabled,
	}}

	f.ledger = sessions.NewLedger(sessions.NewMemoryRepository(), &sessions.LedgerConfig{MaxRetries: 8, Clock: f.clock.Now}, nil, logger.Discard())
	f.queue = waitlist.NewQueue(f.repo, lock.NewLocalLocker(time.Second, nil), &waitlist.QueueConfig{Clock: f.clock.Now}, nil, logger.Discard())
	f.scheduler = offers.NewScheduler(f.queue, f.ledger, f.notifier, &offers.Config{ExpiryPolicy: opts.expiryPolicy, BatchSize: 10}, nil, logger.Discard())
	f.coordinator = NewCoordinator(f.ledger, f.queue, f.scheduler, provider, f.notifier, &Config{AdminPromotePolicy: opts.promotePolicy}, nil, logger.Discard())
	f.coordinator.SetBookingRecorder(f.recorder)
	f.ledger.Subscribe(f.coordinator.HandleFreedSeat)

	f.session = &sessions.Session{TenantID: uuid.New(), Name: "Saturday juniors", Capacity: opts.capacity, WaitlistEnabled: opts.waitlistEnabled}
	require.NoError(t, f.ledger.Create(context.Background(), f.session))
	return f
}

func (f *fixture) fill(t *testing.T) {
	t.Helper()
	for i := 0; i < f.session.Capacity; i++ {
		_, err := f.ledger.TryReserve(context.Background(), f.session.ID)
		require.NoError(t, err)
	}
}

func (f *fixture) enqueue(t *testing.T) *waitlist.Entry {
	t.Helper()
	e, err := f.queue.Enqueue(context.Background(), waitlist.EnqueueRequest{
		TenantID:      f.session.TenantID,
		SessionID:     f.session.ID,
		ParticipantID: uuid.New(),
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) entry(t *testing.T, id uuid.UUID) *waitlist.Entry {
	t.Helper()
	e, err := f.queue.Get(context.Background(), id)
	require.NoError(t, err)
	return e
}

func (f *fixture) state(t *testing.T) *sessions.Session {
	t.Helper()
	s, err := f.ledger.Get(context.Background(), f.session.ID)
	require.NoError(t, err)
	return s
}

func TestFreedSeatOffersHeadOfQueue(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true})
	f.fill(t)
	a := f.enqueue(t)
	b := f.enqueue(t)

	_, err := f.ledger.Release(context.Background(), f.session.ID)
	require.NoError(t, err)

	got := f.entry(t, a.ID)
	assert.Equal(t, waitlist.StatusOffered, got.Status)
	assert.Equal(t, 1, got.Position)
	require.NotNil(t, got.OfferExpiresAt)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), *got.OfferExpiresAt)
	assert.Equal(t, waitlist.StatusActive, f.entry(t, b.ID).Status)

	s := f.state(t)
	assert.Equal(t, 0, s.ConfirmedCount)
	assert.Equal(t, 1, s.HeldCount)
	assert.NotNil(t, f.notifier.last(notifications.NotificationTypeOfferCreated))
}

func TestFreedSeatWithEmptyQueueStaysFree(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true})
	f.fill(t)

	_, err := f.ledger.Release(context.Background(), f.session.ID)
	require.NoError(t, err)

	s := f.state(t)
	assert.Equal(t, 0, s.HeldCount)
	assert.Equal(t, 1, s.FreeSeats())
}

func TestWaitlistDisabledLeavesSeatFree(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: false})
	f.fill(t)
	a := f.enqueue(t)

	_, err := f.ledger.Release(context.Background(), f.session.ID)
	require.NoError(t, err)

	assert.Equal(t, waitlist.StatusActive, f.entry(t, a.ID).Status)
	assert.Equal(t, 1, f.state(t).FreeSeats())
}

func TestCascadeSkipsEntryThatCannotBeOffered(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true})
	f.fill(t)
	a := f.enqueue(t)
	b := f.enqueue(t)
	f.repo.failOffers(a.ID)

	_, err := f.ledger.Release(context.Background(), f.session.ID)
	require.NoError(t, err)

	assert.Equal(t, waitlist.StatusActive, f.entry(t, a.ID).Status)
	assert.Equal(t, waitlist.StatusOffered, f.entry(t, b.ID).Status)
	assert.Equal(t, 1, f.state(t).HeldCount)
}

func TestCascadeCancelsHoldWhenNobodyCanTakeIt(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true})
	f.fill(t)
	a := f.enqueue(t)
	b := f.enqueue(t)
	f.repo.failOffers(a.ID, b.ID)

	_, err := f.ledger.Release(context.Background(), f.session.ID)
	require.NoError(t, err)

	s := f.state(t)
	assert.Equal(t, 0, s.HeldCount)
	assert.Equal(t, 1, s.FreeSeats())
}

func TestExpiryCascadesToNextInOneSweep(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true})
	f.fill(t)
	a := f.enqueue(t)
	b := f.enqueue(t)
	_, err := f.ledger.Release(context.Background(), f.session.ID)
	require.NoError(t, err)

	f.clock.Advance(15 * time.Minute)
	n, err := f.scheduler.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, waitlist.StatusExpired, f.entry(t, a.ID).Status)
	gotB := f.entry(t, b.ID)
	assert.Equal(t, waitlist.StatusOffered, gotB.Status)
	assert.Equal(t, 1, gotB.Position)
	assert.Equal(t, 1, f.state(t).HeldCount)

	// Same instant, nothing further is due.
	n, err = f.scheduler.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFillOffersEveryFreeSeat(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 3, waitlistEnabled: true})
	a := f.enqueue(t)
	b := f.enqueue(t)

	n, err := f.coordinator.Fill(context.Background(), f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, waitlist.StatusOffered, f.entry(t, a.ID).Status)
	assert.Equal(t, waitlist.StatusOffered, f.entry(t, b.ID).Status)
	s := f.state(t)
	assert.Equal(t, 2, s.HeldCount)
	assert.Equal(t, 1, s.FreeSeats())
}

func TestAcceptRecordsBooking(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true})
	f.fill(t)
	a := f.enqueue(t)
	_, err := f.ledger.Release(context.Background(), f.session.ID)
	require.NoError(t, err)

	got, err := f.coordinator.Accept(context.Background(), a.ID, "auth-1")
	require.NoError(t, err)
	assert.Equal(t, f.recorder.bookingID, got.BookingID)
	assert.Equal(t, waitlist.StatusAccepted, got.Entry.Status)
	assert.Equal(t, []uuid.UUID{a.ID}, f.recorder.entries)

	s := f.state(t)
	assert.Equal(t, 1, s.ConfirmedCount)
	assert.Equal(t, 0, s.HeldCount)

	accepted := f.notifier.last(notifications.NotificationTypeOfferAccepted)
	require.NotNil(t, accepted)
	require.NotNil(t, accepted.BookingID)
	assert.Equal(t, f.recorder.bookingID, *accepted.BookingID)
}

func TestAcceptRecorderFailureKeepsOffer(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true})
	f.fill(t)
	a := f.enqueue(t)
	_, err := f.ledger.Release(context.Background(), f.session.ID)
	require.NoError(t, err)

	f.recorder.err = errors.New("bookings table unavailable")
	_, err = f.coordinator.Accept(context.Background(), a.ID, "auth-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, f.recorder.err)
	assert.Empty(t, f.recorder.discarded)

	assert.Equal(t, waitlist.StatusOffered, f.entry(t, a.ID).Status)
	s := f.state(t)
	assert.Equal(t, 0, s.ConfirmedCount)
	assert.Equal(t, 1, s.HeldCount)
	assert.Nil(t, f.notifier.last(notifications.NotificationTypeOfferAccepted))

	f.recorder.err = nil
	got, err := f.coordinator.Accept(context.Background(), a.ID, "auth-2")
	require.NoError(t, err)
	assert.Equal(t, waitlist.StatusAccepted, got.Entry.Status)
	s = f.state(t)
	assert.Equal(t, 1, s.ConfirmedCount)
	assert.Equal(t, 0, s.HeldCount)
}

func TestAcceptDiscardsBookingWhenEntryWriteFails(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true})
	f.fill(t)
	a := f.enqueue(t)
	_, err := f.ledger.Release(context.Background(), f.session.ID)
	require.NoError(t, err)

	f.repo.failWrites(waitlist.StatusAccepted, a.ID)
	_, err = f.coordinator.Accept(context.Background(), a.ID, "auth-1")
	require.Error(t, err)
	assert.Equal(t, []uuid.UUID{f.recorder.bookingID}, f.recorder.discarded)

	assert.Equal(t, waitlist.StatusOffered, f.entry(t, a.ID).Status)
	s := f.state(t)
	assert.Equal(t, 0, s.ConfirmedCount)
	assert.Equal(t, 1, s.HeldCount)
}

func TestAcceptAfterDeadlineCascades(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true})
	f.fill(t)
	a := f.enqueue(t)
	b := f.enqueue(t)
	_, err := f.ledger.Release(context.Background(), f.session.ID)
	require.NoError(t, err)

	f.clock.Advance(16 * time.Minute)
	_, err = f.coordinator.Accept(context.Background(), a.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrOfferExpired)
	assert.Empty(t, f.recorder.entries)

	assert.Equal(t, waitlist.StatusExpired, f.entry(t, a.ID).Status)
	assert.Equal(t, waitlist.StatusOffered, f.entry(t, b.ID).Status)
}

func TestPromoteOverbooksFullSession(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true, promotePolicy: AdminPromoteOverbook})
	f.fill(t)
	c := f.enqueue(t)
	d := f.enqueue(t)

	got, err := f.coordinator.Promote(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StatusOffered, got.Status)

	gotC := f.entry(t, c.ID)
	assert.Equal(t, waitlist.StatusActive, gotC.Status)
	assert.Equal(t, 1, gotC.Position)

	s := f.state(t)
	assert.Equal(t, 1, s.Capacity)
	assert.Equal(t, 1, s.OverbookedCount)
	assert.Equal(t, 1, s.HeldCount)
	assert.Equal(t, 1, s.ConfirmedCount)
}

func TestPromoteRequireSeatRejectsFullSession(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true, promotePolicy: AdminPromoteRequireSeat})
	f.fill(t)
	d := f.enqueue(t)

	_, err := f.coordinator.Promote(context.Background(), d.ID)
	assert.ErrorIs(t, err, apperrors.ErrNoCapacity)
	assert.Equal(t, waitlist.StatusActive, f.entry(t, d.ID).Status)
	assert.Equal(t, 0, f.state(t).HeldCount)
}

func TestPromoteRequiresActiveEntry(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true})
	f.fill(t)
	a := f.enqueue(t)
	_, err := f.ledger.Release(context.Background(), f.session.ID)
	require.NoError(t, err)

	_, err = f.coordinator.Promote(context.Background(), a.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, 1, f.state(t).HeldCount)
}

func TestRemoveOfferedEntryPassesSeatOn(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true})
	f.fill(t)
	a := f.enqueue(t)
	b := f.enqueue(t)
	_, err := f.ledger.Release(context.Background(), f.session.ID)
	require.NoError(t, err)

	removed, err := f.coordinator.Remove(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StatusRemoved, removed.Status)
	assert.Zero(t, removed.Position)

	gotB := f.entry(t, b.ID)
	assert.Equal(t, waitlist.StatusOffered, gotB.Status)
	assert.Equal(t, 1, gotB.Position)
	assert.Equal(t, 1, f.state(t).HeldCount)
	assert.NotNil(t, f.notifier.last(notifications.NotificationTypeWaitlistRemoved))

	_, err = f.coordinator.Remove(context.Background(), a.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestRemoveActiveEntryKeepsCounters(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true})
	f.fill(t)
	a := f.enqueue(t)
	b := f.enqueue(t)

	_, err := f.coordinator.Remove(context.Background(), a.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, f.entry(t, b.ID).Position)
	s := f.state(t)
	assert.Equal(t, 1, s.ConfirmedCount)
	assert.Equal(t, 0, s.HeldCount)
}

func TestRejoinTakesFreeSeat(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true})
	f.fill(t)
	a := f.enqueue(t)
	_, err := f.ledger.Release(context.Background(), f.session.ID)
	require.NoError(t, err)

	f.clock.Advance(15 * time.Minute)
	_, err = f.scheduler.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, waitlist.StatusExpired, f.entry(t, a.ID).Status)
	require.Equal(t, 1, f.state(t).FreeSeats())

	got, err := f.coordinator.Rejoin(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StatusOffered, got.Status)
	assert.Equal(t, 1, f.state(t).HeldCount)
}

func TestRequeuePolicyRefillsThroughCoordinator(t *testing.T) {
	f := newFixture(t, fixtureOptions{capacity: 1, waitlistEnabled: true, expiryPolicy: offers.ExpiryPolicyRequeue})
	f.fill(t)
	a := f.enqueue(t)
	_, err := f.ledger.Release(context.Background(), f.session.ID)
	require.NoError(t, err)

	f.clock.Advance(15 * time.Minute)
	_, err = f.scheduler.Expire(context.Background(), a.ID)
	require.NoError(t, err)

	// Alone in the queue, the requeued entry gets the seat straight back.
	got := f.entry(t, a.ID)
	assert.Equal(t, waitlist.StatusOffered, got.Status)
	assert.Equal(t, 1, f.state(t).HeldCount)
}

func TestParseAdminPromotePolicy(t *testing.T) {
	p, err := ParseAdminPromotePolicy("require_seat")
	require.NoError(t, err)
	assert.Equal(t, AdminPromoteRequireSeat, p)

	_, err = ParseAdminPromotePolicy("always")
	assert.Error(t, err)
}
