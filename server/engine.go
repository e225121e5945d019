package main

import (
	"context"
	"fmt"
	"time"

	"clubsched/api/routes"
	"clubsched/internal/audit"
	"clubsched/internal/bookings"
	"clubsched/internal/notifications"
	"clubsched/internal/offers"
	"clubsched/internal/promotion"
	"clubsched/internal/sessions"
	"clubsched/internal/settings"
	"clubsched/internal/shared/config"
	"clubsched/internal/shared/database"
	"clubsched/internal/shared/metrics"
	"clubsched/internal/waitlist"
	"clubsched/pkg/cache"
	"clubsched/pkg/lock"
	"clubsched/pkg/logger"
)

// engine is the assembled capacity and waitlist stack plus its background jobs
type engine struct {
	sessionRepo sessions.Repository
	bookingRepo bookings.Repository
	ledger      *sessions.Ledger
	queue       *waitlist.Queue
	scheduler   *offers.Scheduler
	coordinator *promotion.Coordinator
	sessionSvc  sessions.Service
	bookingSvc  bookings.Service
	dispatcher  *notifications.Dispatcher
	sweeper     *offers.JobProcessor
	auditor     *audit.Auditor
	logger      *logger.Logger
}

// buildEngine wires repositories, ledger, queue, offers, promotion and the
// booking gateway for the configured backends.
func buildEngine(cfg *config.Config, db *database.DB, m *metrics.Metrics, log *logger.Logger) (*engine, error) {
	repos, err := newRepositories(cfg, db)
	if err != nil {
		return nil, err
	}

	locker, err := newLocker(cfg, db, m)
	if err != nil {
		return nil, err
	}

	publisher, err := newPublisher(cfg, log)
	if err != nil {
		return nil, err
	}
	dispatcher := notifications.NewDispatcher(publisher, &notifications.DispatcherConfig{
		Workers:    cfg.Notification.Workers,
		BufferSize: cfg.Notification.Buffer,
	}, m, log)

	var settingsCache cache.Service
	if db != nil && db.Redis != nil {
		settingsCache = cache.NewService(db.Redis, "clubsched", log)
	}
	provider := settings.NewProvider(
		sessions.NewSettingsSource(repos.sessions),
		settingsCache,
		settings.Defaults{
			OfferTTL:        cfg.Engine.OfferTTL,
			WaitlistEnabled: cfg.Engine.WaitlistEnabledDefault,
		},
		cfg.Redis.SettingsCacheTTL,
	)

	ledger := sessions.NewLedger(repos.sessions, &sessions.LedgerConfig{
		MaxRetries:   cfg.Engine.LedgerMaxRetries,
		RetryBackoff: 2 * time.Millisecond,
	}, m, log)
	queue := waitlist.NewQueue(repos.waitlist, locker, nil, m, log)

	expiryPolicy, err := offers.ParseExpiryPolicy(cfg.Engine.ExpiryPolicy)
	if err != nil {
		return nil, err
	}
	scheduler := offers.NewScheduler(queue, ledger, dispatcher, &offers.Config{
		ExpiryPolicy: expiryPolicy,
		BatchSize:    cfg.Engine.SweepBatchSize,
	}, m, log)

	promotePolicy, err := promotion.ParseAdminPromotePolicy(cfg.Engine.AdminPromotePolicy)
	if err != nil {
		return nil, err
	}
	coordinator := promotion.NewCoordinator(ledger, queue, scheduler, provider, dispatcher, &promotion.Config{
		AdminPromotePolicy: promotePolicy,
	}, m, log)
	coordinator.SetBookingRecorder(bookings.NewWaitlistRecorder(repos.bookings, time.Now))
	ledger.Subscribe(coordinator.HandleFreedSeat)

	bookingSvc := bookings.NewService(bookings.Dependencies{
		Repo:       repos.bookings,
		Ledger:     ledger,
		Queue:      queue,
		Promoter:   coordinator,
		Settings:   provider,
		Authorizer: bookings.NoopAuthorizer{},
		Locker:     locker,
		Notifier:   dispatcher,
		Metrics:    m,
		Logger:     log,
	})
	sessionSvc := sessions.NewService(repos.sessions, ledger, provider, sessions.ServiceConfig{
		WaitlistEnabledDefault: cfg.Engine.WaitlistEnabledDefault,
	}, log)

	e := &engine{
		sessionRepo: repos.sessions,
		bookingRepo: repos.bookings,
		ledger:      ledger,
		queue:       queue,
		scheduler:   scheduler,
		coordinator: coordinator,
		sessionSvc:  sessionSvc,
		bookingSvc:  bookingSvc,
		dispatcher:  dispatcher,
		sweeper: offers.NewJobProcessor(scheduler, &offers.JobConfig{
			SweepInterval: cfg.Engine.SweepInterval,
		}, log),
		logger: log.WithComponent("engine"),
	}

	if cfg.Audit.Enabled {
		e.auditor = audit.NewAuditor(repos.sessions, repos.bookings, queue, ledger, &audit.Config{
			Schedule: cfg.Audit.Schedule,
			Repair:   cfg.Audit.Repair,
		}, m, log)
	}
	return e, nil
}

// start launches the dispatcher, the expiry sweeper and the auditor. The
// dispatcher ignores ctx cancellation and runs until stop drains it.
func (e *engine) start(ctx context.Context) error {
	e.dispatcher.Start(context.WithoutCancel(ctx))
	e.sweeper.Start(ctx)
	if e.auditor != nil {
		if err := e.auditor.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// stop halts the jobs, then drains the dispatcher buffer so their last
// notifications still get delivered
func (e *engine) stop() {
	e.sweeper.Stop()
	if e.auditor != nil {
		e.auditor.Stop()
	}
	if err := e.dispatcher.Stop(); err != nil {
		e.logger.Error("error stopping notification dispatcher", "error", err.Error())
	}
}

func (e *engine) handlers() routes.Handlers {
	return routes.Handlers{
		Sessions: sessions.NewController(e.sessionSvc),
		Bookings: bookings.NewController(e.bookingSvc),
	}
}

func (e *engine) jobs() map[string]routes.JobReporter {
	jobs := map[string]routes.JobReporter{
		"offer_expiry": e.sweeper,
	}
	if e.auditor != nil {
		jobs["invariant_audit"] = e.auditor
	}
	return jobs
}

type repositories struct {
	sessions sessions.Repository
	waitlist waitlist.Repository
	bookings bookings.Repository
}

func newRepositories(cfg *config.Config, db *database.DB) (*repositories, error) {
	if cfg.StoreBackend != "postgres" {
		return &repositories{
			sessions: sessions.NewMemoryRepository(),
			waitlist: waitlist.NewMemoryRepository(),
			bookings: bookings.NewMemoryRepository(),
		}, nil
	}

	if db == nil || db.PostgreSQL == nil {
		return nil, fmt.Errorf("STORE_BACKEND=postgres needs a database connection")
	}
	return &repositories{
		sessions: sessions.NewRepository(db.PostgreSQL),
		waitlist: waitlist.NewRepository(db.PostgreSQL),
		bookings: bookings.NewRepository(db.PostgreSQL),
	}, nil
}

func newLocker(cfg *config.Config, db *database.DB, m *metrics.Metrics) (lock.Locker, error) {
	switch cfg.Lock.Backend {
	case "redis":
		if db == nil || db.Redis == nil {
			return nil, fmt.Errorf("LOCK_BACKEND=redis needs a Redis connection")
		}
		lockCfg := lock.DefaultRedisConfig()
		lockCfg.TTL = cfg.Lock.TTL
		lockCfg.Wait = cfg.Lock.Wait
		return lock.NewRedisLocker(db.Redis, lockCfg, m), nil
	default:
		return lock.NewLocalLocker(cfg.Lock.Wait, m), nil
	}
}

func newPublisher(cfg *config.Config, log *logger.Logger) (notifications.Publisher, error) {
	if !cfg.Kafka.Enabled {
		return notifications.NewLogPublisher(log), nil
	}

	kafkaCfg := notifications.DefaultKafkaProducerConfig()
	kafkaCfg.Brokers = cfg.Kafka.Brokers
	kafkaCfg.NotificationTopic = cfg.Kafka.NotificationTopic
	return notifications.NewKafkaPublisher(kafkaCfg, log)
}
