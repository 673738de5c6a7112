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

func TestCreateParticipantInsertsSessionRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewParticipantRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO participants`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for n := 1; n <= models.SessionCount; n++ {
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO participant_sessions (participant_id, session_no) VALUES ($1, $2)`)).
			WithArgs("p-1", n).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	tx, err := db.Beginx()
	require.NoError(t, err)

	p := &models.Participant{ParticipantID: "p-1", Group: "child-EN", Version: 2}
	require.NoError(t, repo.Create(context.Background(), tx, p))
	assert.Equal(t, models.NextSession1, p.NextSession)
	assert.False(t, p.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindDetailForUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewParticipantRepository(db)

	created := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	started := created.Add(24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT participant_id, grp, version, language, country, next_session, created_at FROM participants WHERE participant_id = $1 FOR UPDATE`)).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"participant_id", "grp", "version", "language", "country", "next_session", "created_at"}).
			AddRow("p-1", "child-EN", 2, "en", "GB", 2, created))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT participant_id, session_no, started_at, completed_at, withdrawn_at, window_open_at, window_close_at, lang FROM participant_sessions WHERE participant_id = $1 ORDER BY session_no`)).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"participant_id", "session_no", "started_at", "completed_at", "withdrawn_at", "window_open_at", "window_close_at", "lang"}).
			AddRow("p-1", 1, started, started, nil, nil, nil, "en").
			AddRow("p-1", 2, nil, nil, nil, started.Add(48*time.Hour), started.Add(72*time.Hour), "").
			AddRow("p-1", 3, nil, nil, nil, nil, nil, ""))

	tx, err := db.Beginx()
	require.NoError(t, err)

	detail, err := repo.FindDetailForUpdate(context.Background(), tx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, models.NextSession2, detail.NextSession)
	require.Len(t, detail.Sessions, 3)
	assert.NotNil(t, detail.Session(1).CompletedAt)
	assert.NotNil(t, detail.Session(2).WindowOpenAt)
	assert.Nil(t, detail.Session(3).StartedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetWindowWritesOnce(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewParticipantRepository(db)

	openAt := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	closeAt := openAt.Add(24 * time.Hour)

	mock.ExpectBegin()
	// the guard keeps an existing window from being recomputed
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE participant_sessions SET window_open_at = $3, window_close_at = $4
        WHERE participant_id = $1 AND session_no = $2 AND window_open_at IS NULL`)).
		WithArgs("p-1", 2, openAt, closeAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := db.Beginx()
	require.NoError(t, err)
	require.NoError(t, repo.SetWindow(context.Background(), tx, "p-1", 2, openAt, closeAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateNextSession(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewParticipantRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE participants SET next_session = $2 WHERE participant_id = $1`)).
		WithArgs("p-1", models.NextSessionDone).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.Beginx()
	require.NoError(t, err)
	require.NoError(t, repo.UpdateNextSession(context.Background(), tx, "p-1", models.NextSessionDone))
	require.NoError(t, mock.ExpectationsWereMet())
}
