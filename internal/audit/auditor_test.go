package audit

import (
	"context"
	"testing"
	"time"

	"clubsched/internal/bookings"
	"clubsched/internal/sessions"
	"clubsched/internal/shared/metrics"
	"clubsched/internal/waitlist"
	"clubsched/pkg/lock"
	"clubsched/pkg/logger"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	sessionRepo  sessions.Repository
	ledger       *sessions.Ledger
	waitlistRepo waitlist.Repository
	queue        *waitlist.Queue
	bookingRepo  bookings.Repository
	metrics      *metrics.Metrics
	session      *sessions.Session
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	f := &fixture{
		sessionRepo:  sessions.NewMemoryRepository(),
		waitlistRepo: waitlist.NewMemoryRepository(),
		bookingRepo:  bookings.NewMemoryRepository(),
		metrics:      metrics.New(prometheus.NewRegistry()),
	}
	f.ledger = sessions.NewLedger(f.sessionRepo, &sessions.LedgerConfig{MaxRetries: 4}, f.metrics, logger.Discard())
	f.queue = waitlist.NewQueue(f.waitlistRepo, lock.NewLocalLocker(time.Second, nil), nil, f.metrics, logger.Discard())

	f.session = &sessions.Session{
		TenantID:        uuid.New(),
		Name:            "Saturday squad",
		StartsAt:        time.Now().Add(24 * time.Hour),
		Capacity:        capacity,
		WaitlistEnabled: true,
	}
	require.NoError(t, f.ledger.Create(context.Background(), f.session))
	return f
}

func (f *fixture) auditor(repair bool) *Auditor {
	return NewAuditor(f.sessionRepo, f.bookingRepo, f.queue, f.ledger, &Config{
		Schedule: "@every 1h",
		Repair:   repair,
		PageSize: 1,
	}, f.metrics, logger.Discard())
}

func (f *fixture) book(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.TryReserve(ctx, f.session.ID)
	require.NoError(t, err)
	require.NoError(t, f.bookingRepo.Create(ctx, &bookings.Booking{
		TenantID:      f.session.TenantID,
		SessionID:     f.session.ID,
		ParticipantID: uuid.New(),
		Status:        bookings.StatusConfirmed,
		Source:        bookings.SourceDirect,
	}))
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

func TestRunFindsNothingOnConsistentSession(t *testing.T) {
	f := newFixture(t, 2)
	f.book(t)
	f.book(t)
	f.enqueue(t)
	f.enqueue(t)

	report, err := f.auditor(false).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SessionsChecked)
	assert.Empty(t, report.Violations)
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.InvariantViolations.WithLabelValues(InvariantConfirmedCount)))
}

func TestRunDetectsCounterDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	f.book(t)

	// A reservation that never produced a booking row.
	_, err := f.ledger.TryReserve(ctx, f.session.ID)
	require.NoError(t, err)

	// An offer without a held seat.
	entry := f.enqueue(t)
	expires := time.Now().Add(time.Minute)
	_, err = f.queue.Transition(ctx, entry.ID, waitlist.StatusOffered, func(current, next *waitlist.Entry) error {
		next.OfferExpiresAt = &expires
		return nil
	})
	require.NoError(t, err)

	a := f.auditor(false)
	report, err := a.Run(ctx)
	require.NoError(t, err)

	found := map[string]bool{}
	for _, v := range report.Violations {
		found[v.Invariant] = true
		assert.Equal(t, f.session.ID, v.SessionID)
	}
	assert.True(t, found[InvariantConfirmedCount])
	assert.True(t, found[InvariantHeldCount])
	assert.False(t, found[InvariantCapacity])
	assert.Equal(t, 0, report.Repaired)
	assert.Same(t, report, a.LastReport())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.InvariantViolations.WithLabelValues(InvariantHeldCount)))

	// Detection alone leaves the ledger untouched.
	stored, err := f.ledger.Get(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ConfirmedCount)
}

func TestRunRepairsDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	f.book(t)
	_, err := f.ledger.TryReserve(ctx, f.session.ID)
	require.NoError(t, err)

	first := f.enqueue(t)
	second := f.enqueue(t)
	require.NoError(t, f.waitlistRepo.UpdatePositions(ctx, map[uuid.UUID]int{first.ID: 4, second.ID: 9}))

	report, err := f.auditor(true).Run(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, report.Violations)
	assert.Equal(t, 1, report.Repaired)

	stored, err := f.ledger.Get(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ConfirmedCount)
	assert.Equal(t, 0, stored.HeldCount)

	open, err := f.queue.ListOpen(ctx, f.session.ID)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, 1, open[0].Position)
	assert.Equal(t, 2, open[1].Position)

	report, err = f.auditor(false).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Violations)
}

func TestRunAcceptsOverbookedOffer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	f.book(t)

	entry := f.enqueue(t)
	_, err := f.ledger.ForceHold(ctx, f.session.ID)
	require.NoError(t, err)
	expires := time.Now().Add(time.Minute)
	_, err = f.queue.Transition(ctx, entry.ID, waitlist.StatusOffered, func(current, next *waitlist.Entry) error {
		next.OfferExpiresAt = &expires
		return nil
	})
	require.NoError(t, err)

	report, err := f.auditor(false).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Violations)
}

func TestRunPagesThroughSessions(t *testing.T) {
	f := newFixture(t, 1)
	for i := 0; i < 4; i++ {
		require.NoError(t, f.ledger.Create(context.Background(), &sessions.Session{
			TenantID: uuid.New(),
			Name:     "extra",
			StartsAt: time.Now().Add(time.Hour),
			Capacity: 1,
		}))
	}

	report, err := f.auditor(false).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.SessionsChecked)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, 1)
	a := NewAuditor(f.sessionRepo, f.bookingRepo, f.queue, f.ledger, &Config{Schedule: "every now and then"}, nil, logger.Discard())
	assert.Error(t, a.Start(context.Background()))

	a = f.auditor(false)
	require.NoError(t, a.Start(context.Background()))
	a.Stop()
	a.Stop()
}
