package database

import (
	"fmt"

	"clubsched/internal/bookings"
	"clubsched/internal/sessions"
	"clubsched/internal/waitlist"

	"gorm.io/gorm"
)

// Migrate creates the engine tables and the waitlist tie-break sequence
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&sessions.Session{},
		&waitlist.Entry{},
		&bookings.Booking{},
	); err != nil {
		return err
	}

	if err := db.Exec(fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s", waitlist.SequenceName)).Error; err != nil {
		return fmt.Errorf("failed to create sequence %s: %w", waitlist.SequenceName, err)
	}
	return nil
}
