package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clubsched/internal/shared/apperrors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// SequenceName is the postgres sequence that breaks enqueued_at ties.
const SequenceName = "waitlist_entry_seq"

// Repository interface defines the contract for waitlist data operations
type Repository interface {
	// Create stores a new entry. A second open entry for the same
	// (session, participant) is rejected with apperrors.ErrAlreadyQueued.
	Create(ctx context.Context, entry *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	FindOpenByParticipant(ctx context.Context, sessionID, participantID uuid.UUID) (*Entry, error)

	// ListOpen returns active and offered entries ordered by (enqueued_at, seq).
	ListOpen(ctx context.Context, sessionID uuid.UUID) ([]Entry, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]Entry, error)
	CountByStatus(ctx context.Context, sessionID uuid.UUID, status Status) (int, error)

	// UpdateIfStatus writes the mutable columns of entry only if the stored
	// status still equals expected.
	UpdateIfStatus(ctx context.Context, entry *Entry, expected Status) (bool, error)
	UpdatePositions(ctx context.Context, positions map[uuid.UUID]int) error

	NextSequence(ctx context.Context) (int64, error)
	ListDueOffers(ctx context.Context, now time.Time, limit int) ([]Entry, error)
}

// repository implements the Repository interface
type repository struct {
	db *gorm.DB
}

// NewRepository creates a new gorm-backed waitlist repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session %s participant %s: %w", entry.SessionID, entry.ParticipantID, apperrors.ErrAlreadyQueued)
		}
		return fmt.Errorf("failed to create waitlist entry: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	var entry Entry
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&entry).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("waitlist entry %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get waitlist entry: %w", err)
	}
	return &entry, nil
}

func (r *repository) FindOpenByParticipant(ctx context.Context, sessionID, participantID uuid.UUID) (*Entry, error) {
	var entry Entry
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND participant_id = ? AND status IN ?", sessionID, participantID, nonTerminalStatuses()).
		First(&entry).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("waitlist entry for participant %s: %w", participantID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find waitlist entry: %w", err)
	}
	return &entry, nil
}

func (r *repository) ListOpen(ctx context.Context, sessionID uuid.UUID) ([]Entry, error) {
	var entries []Entry
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND status IN ?", sessionID, []Status{StatusActive, StatusOffered}).
		Order("enqueued_at ASC, seq ASC").
		Find(&entries).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list open waitlist entries: %w", err)
	}
	return entries, nil
}

func (r *repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]Entry, error) {
	var entries []Entry
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("CASE WHEN position = 0 THEN 1 ELSE 0 END, position ASC, enqueued_at ASC, seq ASC").
		Find(&entries).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list waitlist entries: %w", err)
	}
	return entries, nil
}

func (r *repository) CountByStatus(ctx context.Context, sessionID uuid.UUID, status Status) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Entry{}).
		Where("session_id = ? AND status = ?", sessionID, status).
		Count(&count).Error

	if err != nil {
		return 0, fmt.Errorf("failed to count waitlist entries: %w", err)
	}
	return int(count), nil
}

func (r *repository) UpdateIfStatus(ctx context.Context, entry *Entry, expected Status) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&Entry{}).
		Where("id = ? AND status = ?", entry.ID, expected).
		Updates(map[string]interface{}{
			"status":            entry.Status,
			"position":          entry.Position,
			"enqueued_at":       entry.EnqueuedAt,
			"seq":               entry.Seq,
			"offer_expires_at":  entry.OfferExpiresAt,
			"status_changed_at": entry.StatusChangedAt,
			"updated_at":        time.Now(),
		})

	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return false, fmt.Errorf("reopen entry %s: %w", entry.ID, apperrors.ErrAlreadyQueued)
		}
		return false, fmt.Errorf("failed to update waitlist entry: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// UpdatePositions rewrites positions in one transaction.
func (r *repository) UpdatePositions(ctx context.Context, positions map[uuid.UUID]int) error {
	if len(positions) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, position := range positions {
			err := tx.Model(&Entry{}).
				Where("id = ?", id).
				Update("position", position).Error
			if err != nil {
				return fmt.Errorf("failed to update position for entry %s: %w", id, err)
			}
		}
		return nil
	})
}

func (r *repository) NextSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := r.db.WithContext(ctx).
		Raw("SELECT nextval(?)", SequenceName).
		Scan(&seq).Error

	if err != nil {
		return 0, fmt.Errorf("failed to draw waitlist sequence: %w", err)
	}
	return seq, nil
}

func (r *repository) ListDueOffers(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	var entries []Entry
	err := r.db.WithContext(ctx).
		Where("status = ? AND offer_expires_at <= ?", StatusOffered, now).
		Order("offer_expires_at ASC").
		Limit(limit).
		Find(&entries).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list due offers: %w", err)
	}
	return entries, nil
}

func nonTerminalStatuses() []Status {
	return []Status{StatusActive, StatusOffered, StatusExpired}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
