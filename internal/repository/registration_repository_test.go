package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ct-study-api/internal/models"
)

func registrationRows(code string, status models.RegistrationStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"code", "status", "preset_group", "claimed_by", "claimed_at", "created_at"}).
		AddRow(code, status, "child-EN", nil, nil, time.Now())
}

func TestFindByCode(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRegistrationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT code, status, preset_group, claimed_by, claimed_at, created_at FROM registration_codes WHERE code = $1`)).
		WithArgs("ABC123").
		WillReturnRows(registrationRows("ABC123", models.RegistrationStatusAvailable))

	rec, err := repo.FindByCode(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", rec.Code)
	assert.Equal(t, models.RegistrationStatusAvailable, rec.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByCodeForUpdateLocksRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRegistrationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT code, status, preset_group, claimed_by, claimed_at, created_at FROM registration_codes WHERE code = $1 FOR UPDATE`)).
		WithArgs("ABC123").
		WillReturnRows(registrationRows("ABC123", models.RegistrationStatusAvailable))

	tx, err := db.Beginx()
	require.NoError(t, err)

	rec, err := repo.FindByCodeForUpdate(context.Background(), tx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkUsed(t *testing.T) {
	claimedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta(`UPDATE registration_codes
        SET status = $2, claimed_by = $3, claimed_at = $4
        WHERE code = $1 AND status <> $2`)

	t.Run("transitions the row once", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewRegistrationRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(query).
			WithArgs("ABC123", models.RegistrationStatusUsed, "p-1", claimedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		tx, err := db.Beginx()
		require.NoError(t, err)
		require.NoError(t, repo.MarkUsed(context.Background(), tx, "ABC123", "p-1", claimedAt))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("errors when the code was already used", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewRegistrationRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(query).
			WithArgs("ABC123", models.RegistrationStatusUsed, "p-1", claimedAt).
			WillReturnResult(sqlmock.NewResult(0, 0))

		tx, err := db.Beginx()
		require.NoError(t, err)
		err = repo.MarkUsed(context.Background(), tx, "ABC123", "p-1", claimedAt)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already used")
	})
}
