package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"clubsched/internal/bookings"
	"clubsched/internal/sessions"
	"clubsched/internal/shared/config"
	"clubsched/internal/shared/database"
	"clubsched/internal/waitlist"
	"clubsched/pkg/lock"
	"clubsched/pkg/logger"

	"github.com/google/uuid"
)

type Seeder struct {
	db       *database.DB
	ledger   *sessions.Ledger
	queue    *waitlist.Queue
	bookings bookings.Repository
}

// sessionSeed describes one demo session and how full to make it
type sessionSeed struct {
	name            string
	startsIn        time.Duration
	capacity        int
	booked          int
	queued          int
	waitlistEnabled bool
	offerTTLSeconds *int
}

func main() {
	fmt.Println("Starting clubsched database seeder...")

	cfg := config.Load()
	cfg.StoreBackend = "postgres"
	cfg.Redis.Enabled = false

	log.SetFlags(0)
	appLogger := logger.GetDefault()

	db, err := database.InitDB(cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	seeder := &Seeder{
		db:       db,
		ledger:   sessions.NewLedger(sessions.NewRepository(db.PostgreSQL), nil, nil, appLogger),
		queue:    waitlist.NewQueue(waitlist.NewRepository(db.PostgreSQL), lock.NewLocalLocker(cfg.Lock.Wait, nil), nil, nil, appLogger),
		bookings: bookings.NewRepository(db.PostgreSQL),
	}

	fmt.Println("Cleaning database...")
	if err := seeder.CleanDatabase(); err != nil {
		log.Fatalf("Failed to clean database: %v", err)
	}

	fmt.Println("Seeding database...")
	if err := seeder.SeedAll(context.Background()); err != nil {
		log.Fatalf("Failed to seed database: %v", err)
	}
	fmt.Println("Seeding completed, database is ready for testing.")
}

// CleanDatabase truncates the engine tables and resets the tie-break sequence
func (s *Seeder) CleanDatabase() error {
	tables := []string{
		"bookings",
		"waitlist_entries",
		"sessions",
	}

	tx := s.db.PostgreSQL.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for _, table := range tables {
		if err := tx.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
		fmt.Printf("  truncated %s\n", table)
	}

	if err := tx.Exec(fmt.Sprintf("ALTER SEQUENCE %s RESTART WITH 1", waitlist.SequenceName)).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to reset %s: %w", waitlist.SequenceName, err)
	}

	return tx.Commit().Error
}

// SeedAll creates two tenants with a spread of empty, full and waitlisted sessions
func (s *Seeder) SeedAll(ctx context.Context) error {
	shortTTL := 120

	tenants := map[string][]sessionSeed{
		"Riverside Swim Club": {
			{name: "Tadpoles (4-6)", startsIn: 48 * time.Hour, capacity: 8, booked: 3, waitlistEnabled: true},
			{name: "Squad training", startsIn: 72 * time.Hour, capacity: 4, booked: 4, queued: 3, waitlistEnabled: true},
			{name: "Stroke clinic", startsIn: 96 * time.Hour, capacity: 2, booked: 2, queued: 2, waitlistEnabled: true, offerTTLSeconds: &shortTTL},
		},
		"Northside Tennis": {
			{name: "Mini red ball", startsIn: 24 * time.Hour, capacity: 6, booked: 6, waitlistEnabled: false},
			{name: "Junior match play", startsIn: 120 * time.Hour, capacity: 10, booked: 0, waitlistEnabled: true},
		},
	}

	for club, seeds := range tenants {
		tenantID := uuid.New()
		fmt.Printf("  tenant %s (%s)\n", club, tenantID)

		for _, seed := range seeds {
			session, err := s.seedSession(ctx, tenantID, seed)
			if err != nil {
				return fmt.Errorf("failed to seed %q: %w", seed.name, err)
			}
			fmt.Printf("    %-20s capacity=%d confirmed=%d waitlist=%d id=%s\n",
				seed.name, session.Capacity, seed.booked, seed.queued, session.ID)
		}
	}
	return nil
}

func (s *Seeder) seedSession(ctx context.Context, tenantID uuid.UUID, seed sessionSeed) (*sessions.Session, error) {
	session := &sessions.Session{
		TenantID:        tenantID,
		Name:            seed.name,
		StartsAt:        time.Now().Add(seed.startsIn).Truncate(time.Hour),
		Capacity:        seed.capacity,
		WaitlistEnabled: seed.waitlistEnabled,
		OfferTTLSeconds: seed.offerTTLSeconds,
	}
	if err := s.ledger.Create(ctx, session); err != nil {
		return nil, err
	}

	for i := 0; i < seed.booked; i++ {
		if _, err := s.ledger.TryReserve(ctx, session.ID); err != nil {
			return nil, err
		}
		booking := &bookings.Booking{
			TenantID:      tenantID,
			SessionID:     session.ID,
			ParticipantID: uuid.New(),
			Status:        bookings.StatusConfirmed,
			Source:        bookings.SourceDirect,
		}
		if err := s.bookings.Create(ctx, booking); err != nil {
			return nil, err
		}
	}

	for i := 0; i < seed.queued; i++ {
		_, err := s.queue.Enqueue(ctx, waitlist.EnqueueRequest{
			TenantID:      tenantID,
			SessionID:     session.ID,
			ParticipantID: uuid.New(),
		})
		if err != nil {
			return nil, err
		}
	}

	return session, nil
}
