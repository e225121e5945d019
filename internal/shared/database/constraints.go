package database

import (
	"fmt"

	"gorm.io/gorm"
)

// Partial unique indexes backing the duplicate checks done in the services.
const (
	IndexOneOpenEntry    = "idx_waitlist_one_open_entry"
	IndexOneConfirmed    = "idx_bookings_one_confirmed"
	IndexDueOffers       = "idx_waitlist_due_offers"
	IndexSessionBookings = "idx_bookings_session_status"
)

var constraintStatements = []struct {
	name string
	sql  string
}{
	{
		// One non-terminal waitlist entry per participant and session
		name: IndexOneOpenEntry,
		sql: `CREATE UNIQUE INDEX IF NOT EXISTS ` + IndexOneOpenEntry + `
			ON waitlist_entries (session_id, participant_id)
			WHERE status IN ('active', 'offered', 'expired')`,
	},
	{
		// One confirmed booking per participant and session
		name: IndexOneConfirmed,
		sql: `CREATE UNIQUE INDEX IF NOT EXISTS ` + IndexOneConfirmed + `
			ON bookings (session_id, participant_id)
			WHERE status = 'CONFIRMED'`,
	},
	{
		name: IndexDueOffers,
		sql: `CREATE INDEX IF NOT EXISTS ` + IndexDueOffers + `
			ON waitlist_entries (offer_expires_at)
			WHERE status = 'offered'`,
	},
	{
		name: IndexSessionBookings,
		sql: `CREATE INDEX IF NOT EXISTS ` + IndexSessionBookings + `
			ON bookings (session_id, status)`,
	},
}

// MigrateConstraints adds the indexes that enforce uniqueness under concurrency
func MigrateConstraints(db *gorm.DB) error {
	for _, stmt := range constraintStatements {
		if err := db.Exec(stmt.sql).Error; err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}
	return nil
}
