package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clubsched/internal/shared/apperrors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository interface defines the contract for session data operations
type Repository interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	List(ctx context.Context, limit, offset int) ([]Session, error)

	// CompareAndSwap persists the seat counters and capacity of next only if the
	// stored version still equals expectedVersion. It reports whether it wrote.
	CompareAndSwap(ctx context.Context, next *Session, expectedVersion int64) (bool, error)

	UpdateSettings(ctx context.Context, id uuid.UUID, waitlistEnabled *bool, offerTTLSeconds *int) error
}

// repository implements the Repository interface
type repository struct {
	db *gorm.DB
}

// NewRepository creates a new gorm-backed session repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, session *Session) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}

	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	var session Session
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&session).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &session, nil
}

func (r *repository) List(ctx context.Context, limit, offset int) ([]Session, error) {
	var list []Session
	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&list).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return list, nil
}

// CompareAndSwap is a conditional UPDATE keyed on the version column.
func (r *repository) CompareAndSwap(ctx context.Context, next *Session, expectedVersion int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ? AND version = ?", next.ID, expectedVersion).
		Updates(map[string]interface{}{
			"capacity":         next.Capacity,
			"confirmed_count":  next.ConfirmedCount,
			"held_count":       next.HeldCount,
			"overbooked_count": next.OverbookedCount,
			"version":          expectedVersion + 1,
			"updated_at":       time.Now(),
		})

	if result.Error != nil {
		return false, fmt.Errorf("failed to update session counters: %w", result.Error)
	}

	return result.RowsAffected == 1, nil
}

func (r *repository) UpdateSettings(ctx context.Context, id uuid.UUID, waitlistEnabled *bool, offerTTLSeconds *int) error {
	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if waitlistEnabled != nil {
		updates["waitlist_enabled"] = *waitlistEnabled
	}
	if offerTTLSeconds != nil {
		updates["offer_ttl_seconds"] = *offerTTLSeconds
	}

	result := r.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ?", id).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to update session settings: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}
