package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clubsched/internal/sessions"
	"clubsched/internal/shared/metrics"
	"clubsched/internal/waitlist"
	"clubsched/pkg/logger"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Invariant names, also used as metric labels.
const (
	InvariantConfirmedCount = "confirmed_count"
	InvariantHeldCount      = "held_count"
	InvariantCapacity       = "capacity"
	InvariantDensePositions = "dense_positions"
)

var invariants = []string{
	InvariantConfirmedCount,
	InvariantHeldCount,
	InvariantCapacity,
	InvariantDensePositions,
}

// SessionLister pages through every session
type SessionLister interface {
	List(ctx context.Context, limit, offset int) ([]sessions.Session, error)
}

// BookingCounter counts confirmed bookings of a session
type BookingCounter interface {
	CountConfirmed(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// QueueInspector reads and renumbers a session's open entries
type QueueInspector interface {
	ListOpen(ctx context.Context, sessionID uuid.UUID) ([]waitlist.Entry, error)
	CountOffered(ctx context.Context, sessionID uuid.UUID) (int, error)
	Renumber(ctx context.Context, sessionID uuid.UUID) error
}

// CounterRepairer overwrites ledger counters
type CounterRepairer interface {
	Reconcile(ctx context.Context, sessionID uuid.UUID, confirmed, held int) (*sessions.Session, error)
}

// Violation is one broken invariant on one session
type Violation struct {
	SessionID uuid.UUID
	Invariant string
	Detail    string
}

// Report summarises a single audit run
type Report struct {
	SessionsChecked int
	Violations      []Violation
	Repaired        int
	Duration        time.Duration
}

// Config controls scheduling and repair
type Config struct {
	Schedule string
	Repair   bool
	PageSize int
}

// DefaultConfig returns the default audit configuration
func DefaultConfig() *Config {
	return &Config{
		Schedule: "@every 10m",
		PageSize: 200,
	}
}

// Auditor compares ledger counters and queue positions against the rows they
// summarise.
type Auditor struct {
	sessions SessionLister
	bookings BookingCounter
	queue    QueueInspector
	ledger   CounterRepairer
	config   *Config
	metrics  *metrics.Metrics
	logger   *logger.Logger

	mu         sync.Mutex
	cron       *cron.Cron
	lastReport *Report
}

// NewAuditor creates a new auditor
func NewAuditor(lister SessionLister, bookings BookingCounter, queue QueueInspector, ledger CounterRepairer, config *Config, m *metrics.Metrics, log *logger.Logger) *Auditor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.PageSize <= 0 {
		config.PageSize = DefaultConfig().PageSize
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return &Auditor{
		sessions: lister,
		bookings: bookings,
		queue:    queue,
		ledger:   ledger,
		config:   config,
		metrics:  m,
		logger:   log.WithComponent("auditor"),
	}
}

// Start schedules Run on the configured cron schedule.
func (a *Auditor) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(a.config.Schedule, func() {
		if _, err := a.Run(ctx); err != nil {
			a.logger.ErrorWithContext(ctx, "audit run failed", err, nil)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule audit %q: %w", a.config.Schedule, err)
	}

	c.Start()
	a.cron = c
	a.logger.Info("Invariant auditor started",
		"schedule", a.config.Schedule,
		"repair", a.config.Repair,
	)
	return nil
}

// Stop waits for a running audit to finish.
func (a *Auditor) Stop() {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	a.logger.Info("Invariant auditor stopped")
}

// LastReport returns the result of the most recent run, if any.
func (a *Auditor) LastReport() *Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastReport
}

// GetJobStatus reports the schedule and the outcome of the last run
func (a *Auditor) GetJobStatus() map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()

	status := "stopped"
	if a.cron != nil {
		status = "running"
	}
	out := map[string]interface{}{
		"schedule": a.config.Schedule,
		"repair":   a.config.Repair,
		"status":   status,
	}
	if a.lastReport != nil {
		out["last_sessions_checked"] = a.lastReport.SessionsChecked
		out["last_violations"] = len(a.lastReport.Violations)
		out["last_repaired"] = a.lastReport.Repaired
	}
	return out
}

// Run audits every session once.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{}

	for offset := 0; ; offset += a.config.PageSize {
		page, err := a.sessions.List(ctx, a.config.PageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}

		for i := range page {
			violations, err := a.checkSession(ctx, &page[i])
			if err != nil {
				return nil, err
			}
			report.SessionsChecked++
			if len(violations) == 0 {
				continue
			}

			report.Violations = append(report.Violations, violations...)
			for _, v := range violations {
				a.logger.LogInvariantViolation(ctx, v.SessionID.String(), v.Invariant, v.Detail)
			}

			if a.config.Repair {
				repaired, err := a.repair(ctx, page[i].ID)
				if err != nil {
					a.logger.ErrorWithContext(ctx, "audit repair failed", err, map[string]interface{}{
						"session_id": page[i].ID.String(),
					})
					continue
				}
				if repaired {
					report.Repaired++
				}
			}
		}

		if len(page) < a.config.PageSize {
			break
		}
	}

	report.Duration = time.Since(start)
	a.publish(report)

	a.mu.Lock()
	a.lastReport = report
	a.mu.Unlock()

	a.logger.Info("Audit completed",
		"sessions", report.SessionsChecked,
		"violations", len(report.Violations),
		"repaired", report.Repaired,
		"duration", report.Duration.String(),
	)
	return report, nil
}

type observed struct {
	confirmed int
	held      int
	open      []waitlist.Entry
}

func (a *Auditor) observe(ctx context.Context, sessionID uuid.UUID) (*observed, error) {
	confirmed, err := a.bookings.CountConfirmed(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count bookings for session %s: %w", sessionID, err)
	}

	open, err := a.queue.ListOpen(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list waitlist for session %s: %w", sessionID, err)
	}

	held, err := a.queue.CountOffered(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count offers for session %s: %w", sessionID, err)
	}
	return &observed{confirmed: confirmed, held: held, open: open}, nil
}

func (a *Auditor) checkSession(ctx context.Context, s *sessions.Session) ([]Violation, error) {
	obs, err := a.observe(ctx, s.ID)
	if err != nil {
		return nil, err
	}

	var violations []Violation
	if s.ConfirmedCount != obs.confirmed {
		violations = append(violations, Violation{
			SessionID: s.ID,
			Invariant: InvariantConfirmedCount,
			Detail:    fmt.Sprintf("ledger has %d, bookings have %d", s.ConfirmedCount, obs.confirmed),
		})
	}
	if s.HeldCount != obs.held {
		violations = append(violations, Violation{
			SessionID: s.ID,
			Invariant: InvariantHeldCount,
			Detail:    fmt.Sprintf("ledger has %d, offered entries %d", s.HeldCount, obs.held),
		})
	}
	if s.ConfirmedCount+s.HeldCount > s.Capacity+s.OverbookedCount {
		violations = append(violations, Violation{
			SessionID: s.ID,
			Invariant: InvariantCapacity,
			Detail: fmt.Sprintf("confirmed %d + held %d exceeds capacity %d + overbooked %d",
				s.ConfirmedCount, s.HeldCount, s.Capacity, s.OverbookedCount),
		})
	}
	for i := range obs.open {
		if obs.open[i].Position != i+1 {
			violations = append(violations, Violation{
				SessionID: s.ID,
				Invariant: InvariantDensePositions,
				Detail:    fmt.Sprintf("entry %s at index %d has position %d", obs.open[i].ID, i+1, obs.open[i].Position),
			})
			break
		}
	}
	return violations, nil
}

// repair re-observes the session and only writes when the drift is still
// there, so a booking that was mid-flight during the first read is left alone.
func (a *Auditor) repair(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	first, err := a.observe(ctx, sessionID)
	if err != nil {
		return false, err
	}
	second, err := a.observe(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if first.confirmed != second.confirmed || first.held != second.held {
		return false, nil
	}

	if _, err := a.ledger.Reconcile(ctx, sessionID, second.confirmed, second.held); err != nil {
		return false, err
	}
	if err := a.queue.Renumber(ctx, sessionID); err != nil {
		return false, err
	}

	a.logger.WarnContext(ctx, "session counters repaired",
		"session_id", sessionID.String(),
		"confirmed", second.confirmed,
		"held", second.held,
	)
	return true, nil
}

func (a *Auditor) publish(report *Report) {
	counts := make(map[string]int, len(invariants))
	for _, v := range report.Violations {
		counts[v.Invariant]++
	}
	for _, name := range invariants {
		a.metrics.SetInvariantViolations(name, counts[name])
	}
}
