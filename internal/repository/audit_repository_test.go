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

func TestCreateEnrollmentEventAssignsID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO enrollment_events`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	pid := "p-1"
	event := &models.EnrollmentEvent{ParticipantID: &pid, Action: models.EnrollmentActionClaim}
	require.NoError(t, repo.CreateEnrollmentEvent(context.Background(), event))
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByParticipantClampsLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	rows := sqlmock.NewRows([]string{"id", "participant_id", "action", "code", "session_no", "detail", "ip_address", "created_at"}).
		AddRow("ev-1", "p-1", models.EnrollmentActionClaim, nil, nil, nil, "", time.Now())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, participant_id, action, code, session_no, detail, ip_address, created_at
        FROM enrollment_events WHERE participant_id = $1 ORDER BY created_at DESC LIMIT $2`)).
		WithArgs("p-1", 50).
		WillReturnRows(rows)

	events, err := repo.ListByParticipant(context.Background(), "p-1", -5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EnrollmentActionClaim, events[0].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}
