package waitlist

import (
	"context"
	"errors"
	"testing"
	"time"

	"clubsched/internal/shared/apperrors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestCreateMapsUniqueViolation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectExec(`INSERT INTO "waitlist_entries"`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_waitlist_one_open_entry"})

	err := repo.Create(context.Background(), &Entry{
		SessionID:     uuid.New(),
		ParticipantID: uuid.New(),
		Status:        StatusActive,
		EnqueuedAt:    time.Now(),
	})
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyQueued))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateIfStatusConditionsOnObservedStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectExec(`UPDATE "waitlist_entries" SET .* WHERE \(?id = \$\d+ AND status = \$\d+\)?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "waitlist_entries" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	entry := &Entry{ID: uuid.New(), Status: StatusOffered, StatusChangedAt: time.Now()}

	ok, err := repo.UpdateIfStatus(context.Background(), entry, StatusActive)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateIfStatus(context.Background(), entry, StatusActive)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextSequenceDrawsFromPostgresSequence(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectQuery(`SELECT nextval\(\$1\)`).
		WithArgs(SequenceName).
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(42)))

	seq, err := repo.NextSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePositionsRunsInTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "waitlist_entries" SET "position"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdatePositions(context.Background(), map[uuid.UUID]int{uuid.New(): 1})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "waitlist_entries" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}
