package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid and
// records nothing, so components can be built without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	// Booking gateway
	BookingsTotal      *prometheus.CounterVec
	CancellationsTotal *prometheus.CounterVec

	// Ledger
	LedgerConflictsTotal *prometheus.CounterVec
	LedgerRetriesTotal   prometheus.Counter
	FreedSeatsTotal      *prometheus.CounterVec

	// Waitlist and offers
	WaitlistTransitionsTotal *prometheus.CounterVec
	OffersCreatedTotal       *prometheus.CounterVec
	OffersExpiredTotal       prometheus.Counter
	OffersAcceptedTotal      prometheus.Counter
	SweepDuration            prometheus.Histogram
	PromotionCascadeDepth    prometheus.Histogram

	// Collaborators
	NotificationsTotal *prometheus.CounterVec
	PaymentAuthTotal   *prometheus.CounterVec

	// Audit
	InvariantViolations *prometheus.GaugeVec
	LockWaitDuration    *prometheus.HistogramVec
}

// New creates and registers all engine metrics on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		BookingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clubsched_bookings_total",
				Help: "Booking attempts by outcome",
			},
			[]string{"outcome"},
		),
		CancellationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clubsched_cancellations_total",
				Help: "Booking cancellations by outcome",
			},
			[]string{"outcome"},
		),
		LedgerConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clubsched_ledger_conflicts_total",
				Help: "Ledger operations that exhausted their compare-and-swap retries",
			},
			[]string{"operation"},
		),
		LedgerRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clubsched_ledger_retries_total",
				Help: "Compare-and-swap retries performed by the capacity ledger",
			},
		),
		FreedSeatsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clubsched_freed_seats_total",
				Help: "Free-seat events emitted by the capacity ledger",
			},
			[]string{"reason"},
		),
		WaitlistTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clubsched_waitlist_transitions_total",
				Help: "Waitlist entry status transitions",
			},
			[]string{"from", "to"},
		),
		OffersCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clubsched_offers_created_total",
				Help: "Offers created by trigger",
			},
			[]string{"trigger"},
		),
		OffersExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clubsched_offers_expired_total",
				Help: "Offers that lapsed without acceptance",
			},
		),
		OffersAcceptedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clubsched_offers_accepted_total",
				Help: "Offers accepted before expiry",
			},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clubsched_offer_sweep_duration_seconds",
				Help:    "Duration of one expiry sweep",
				Buckets: prometheus.DefBuckets,
			},
		),
		PromotionCascadeDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clubsched_promotion_cascade_depth",
				Help:    "Entries tried before an offer stuck",
				Buckets: []float64{1, 2, 3, 5, 8, 13},
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clubsched_notifications_total",
				Help: "Notifications by type and delivery outcome",
			},
			[]string{"type", "outcome"},
		),
		PaymentAuthTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clubsched_payment_authorizations_total",
				Help: "Payment authorizations by outcome",
			},
			[]string{"outcome"},
		),
		InvariantViolations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "clubsched_invariant_violations",
				Help: "Invariant violations found by the last audit run",
			},
			[]string{"invariant"},
		),
		LockWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clubsched_lock_wait_seconds",
				Help:    "Time spent waiting for a session lock",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2},
			},
			[]string{"backend"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.BookingsTotal,
			m.CancellationsTotal,
			m.LedgerConflictsTotal,
			m.LedgerRetriesTotal,
			m.FreedSeatsTotal,
			m.WaitlistTransitionsTotal,
			m.OffersCreatedTotal,
			m.OffersExpiredTotal,
			m.OffersAcceptedTotal,
			m.SweepDuration,
			m.PromotionCascadeDepth,
			m.NotificationsTotal,
			m.PaymentAuthTotal,
			m.InvariantViolations,
			m.LockWaitDuration,
		)
	}

	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordBooking(outcome string) {
	if m == nil {
		return
	}
	m.BookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordCancellation(outcome string) {
	if m == nil {
		return
	}
	m.CancellationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordLedgerConflict(operation string) {
	if m == nil {
		return
	}
	m.LedgerConflictsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordLedgerRetry() {
	if m == nil {
		return
	}
	m.LedgerRetriesTotal.Inc()
}

func (m *Metrics) RecordFreedSeats(reason string, n int) {
	if m == nil {
		return
	}
	m.FreedSeatsTotal.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.WaitlistTransitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordOfferCreated(trigger string) {
	if m == nil {
		return
	}
	m.OffersCreatedTotal.WithLabelValues(trigger).Inc()
}

func (m *Metrics) RecordOfferExpired() {
	if m == nil {
		return
	}
	m.OffersExpiredTotal.Inc()
}

func (m *Metrics) RecordOfferAccepted() {
	if m == nil {
		return
	}
	m.OffersAcceptedTotal.Inc()
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveCascadeDepth(depth int) {
	if m == nil {
		return
	}
	m.PromotionCascadeDepth.Observe(float64(depth))
}

func (m *Metrics) RecordNotification(notificationType, outcome string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(notificationType, outcome).Inc()
}

func (m *Metrics) RecordPaymentAuth(outcome string) {
	if m == nil {
		return
	}
	m.PaymentAuthTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetInvariantViolations(invariant string, n int) {
	if m == nil {
		return
	}
	m.InvariantViolations.WithLabelValues(invariant).Set(float64(n))
}

func (m *Metrics) ObserveLockWait(backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.LockWaitDuration.WithLabelValues(backend).Observe(d.Seconds())
}
