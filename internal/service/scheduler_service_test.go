package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ct-study-api/internal/models"
	"github.com/noah-isme/ct-study-api/internal/repository"
	"github.com/noah-isme/ct-study-api/pkg/config"
	appErrors "github.com/noah-isme/ct-study-api/pkg/errors"
)

type stubTxRunner struct {
	err error
}

func (s *stubTxRunner) RunTx(_ context.Context, _ int, fn func(tx *sqlx.Tx) error) error {
	if s.err != nil {
		return s.err
	}
	return fn(nil)
}

type fakeSessionStore struct {
	detail  *models.ParticipantDetail
	findErr error
}

func (f *fakeSessionStore) lookup() (*models.ParticipantDetail, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.detail == nil {
		return nil, sql.ErrNoRows
	}
	return f.detail, nil
}

func (f *fakeSessionStore) FindDetailByID(context.Context, string) (*models.ParticipantDetail, error) {
	return f.lookup()
}

func (f *fakeSessionStore) FindDetailForUpdate(context.Context, *sqlx.Tx, string) (*models.ParticipantDetail, error) {
	return f.lookup()
}

func (f *fakeSessionStore) MarkStarted(_ context.Context, _ *sqlx.Tx, _ string, n int, startedAt time.Time, lang string) error {
	sess := f.detail.Session(n)
	sess.StartedAt = &startedAt
	sess.Lang = lang
	return nil
}

func (f *fakeSessionStore) MarkCompleted(_ context.Context, _ *sqlx.Tx, _ string, n int, completedAt time.Time) error {
	f.detail.Session(n).CompletedAt = &completedAt
	return nil
}

func (f *fakeSessionStore) MarkWithdrawn(_ context.Context, _ *sqlx.Tx, _ string, n int, withdrawnAt time.Time) error {
	f.detail.Session(n).WithdrawnAt = &withdrawnAt
	return nil
}

func (f *fakeSessionStore) SetWindow(_ context.Context, _ *sqlx.Tx, _ string, n int, openAt, closeAt time.Time) error {
	sess := f.detail.Session(n)
	if sess.WindowOpenAt != nil {
		return nil
	}
	sess.WindowOpenAt = &openAt
	sess.WindowCloseAt = &closeAt
	return nil
}

func (f *fakeSessionStore) UpdateNextSession(_ context.Context, _ *sqlx.Tx, _ string, next models.NextSession) error {
	f.detail.NextSession = next
	return nil
}

var schedulerNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestParticipant(next models.NextSession) *models.ParticipantDetail {
	d := &models.ParticipantDetail{
		Participant: models.Participant{
			ParticipantID: "p-1",
			Group:         "child-EN",
			Version:       2,
			NextSession:   next,
		},
	}
	for n := 1; n <= models.SessionCount; n++ {
		d.Sessions = append(d.Sessions, models.SessionState{ParticipantID: "p-1", SessionNo: n})
	}
	return d
}

func newTestScheduler(store *fakeSessionStore) *SchedulerService {
	svc := NewSchedulerService(&stubTxRunner{}, store, nil, nil, nil, config.SessionConfig{
		WindowOpenAfter:  48 * time.Hour,
		WindowCloseAfter: 72 * time.Hour,
	}, 3)
	svc.clock = func() time.Time { return schedulerNow }
	return svc
}

func TestBeginSessionStampsStartAndDerivesNextWindow(t *testing.T) {
	store := &fakeSessionStore{detail: newTestParticipant(models.NextSession1)}
	svc := newTestScheduler(store)

	state, err := svc.BeginSession(context.Background(), "p-1", 1, "en")
	require.NoError(t, err)
	require.NotNil(t, state.StartedAt)
	assert.Equal(t, schedulerNow, *state.StartedAt)
	assert.Equal(t, "en", state.Lang)

	// starting does not advance the pointer
	assert.Equal(t, models.NextSession1, store.detail.NextSession)

	next := store.detail.Session(2)
	require.NotNil(t, next.WindowOpenAt)
	assert.Equal(t, schedulerNow.Add(48*time.Hour), *next.WindowOpenAt)
	assert.Equal(t, schedulerNow.Add(72*time.Hour), *next.WindowCloseAt)
}

func TestBeginFinalSessionSetsNoWindow(t *testing.T) {
	detail := newTestParticipant(models.NextSession3)
	store := &fakeSessionStore{detail: detail}
	svc := newTestScheduler(store)

	_, err := svc.BeginSession(context.Background(), "p-1", 3, "")
	require.NoError(t, err)
	for _, sess := range detail.Sessions {
		assert.Nil(t, sess.WindowOpenAt)
	}
}

func TestBeginSessionGuards(t *testing.T) {
	t.Run("out of range", func(t *testing.T) {
		svc := newTestScheduler(&fakeSessionStore{detail: newTestParticipant(models.NextSession1)})
		_, err := svc.BeginSession(context.Background(), "p-1", 4, "")
		requireErrCode(t, err, appErrors.ErrValidation.Code)
	})

	t.Run("unknown participant", func(t *testing.T) {
		svc := newTestScheduler(&fakeSessionStore{})
		_, err := svc.BeginSession(context.Background(), "missing", 1, "")
		requireErrCode(t, err, appErrors.ErrNotFound.Code)
	})

	t.Run("study complete", func(t *testing.T) {
		svc := newTestScheduler(&fakeSessionStore{detail: newTestParticipant(models.NextSessionDone)})
		_, err := svc.BeginSession(context.Background(), "p-1", 3, "")
		requireErrCode(t, err, appErrors.ErrStudyComplete.Code)
	})

	t.Run("wrong session number", func(t *testing.T) {
		svc := newTestScheduler(&fakeSessionStore{detail: newTestParticipant(models.NextSession2)})
		_, err := svc.BeginSession(context.Background(), "p-1", 1, "")
		requireErrCode(t, err, appErrors.ErrBackwardSession.Code)

		_, err = svc.BeginSession(context.Background(), "p-1", 3, "")
		requireErrCode(t, err, appErrors.ErrBackwardSession.Code)
	})

	t.Run("already started", func(t *testing.T) {
		detail := newTestParticipant(models.NextSession1)
		started := schedulerNow.Add(-time.Hour)
		detail.Session(1).StartedAt = &started
		svc := newTestScheduler(&fakeSessionStore{detail: detail})
		_, err := svc.BeginSession(context.Background(), "p-1", 1, "")
		requireErrCode(t, err, appErrors.ErrAlreadyStarted.Code)
	})
}

func TestCompleteSessionAdvancesPointer(t *testing.T) {
	detail := newTestParticipant(models.NextSession1)
	started := schedulerNow.Add(-time.Hour)
	detail.Session(1).StartedAt = &started
	store := &fakeSessionStore{detail: detail}
	svc := newTestScheduler(store)

	state, err := svc.CompleteSession(context.Background(), "p-1", 1)
	require.NoError(t, err)
	require.NotNil(t, state.CompletedAt)
	assert.Equal(t, models.NextSession2, store.detail.NextSession)
}

func TestCompleteFinalSessionMarksDone(t *testing.T) {
	detail := newTestParticipant(models.NextSession3)
	started := schedulerNow.Add(-time.Hour)
	detail.Session(3).StartedAt = &started
	store := &fakeSessionStore{detail: detail}
	svc := newTestScheduler(store)

	_, err := svc.CompleteSession(context.Background(), "p-1", 3)
	require.NoError(t, err)
	assert.True(t, store.detail.NextSession.Done())
}

func TestCompleteSessionGuards(t *testing.T) {
	t.Run("never started", func(t *testing.T) {
		svc := newTestScheduler(&fakeSessionStore{detail: newTestParticipant(models.NextSession1)})
		_, err := svc.CompleteSession(context.Background(), "p-1", 1)
		requireErrCode(t, err, appErrors.ErrSessionNotStarted.Code)
	})

	t.Run("already completed", func(t *testing.T) {
		detail := newTestParticipant(models.NextSession2)
		started := schedulerNow.Add(-2 * time.Hour)
		completed := schedulerNow.Add(-time.Hour)
		detail.Session(1).StartedAt = &started
		detail.Session(1).CompletedAt = &completed
		svc := newTestScheduler(&fakeSessionStore{detail: detail})
		_, err := svc.CompleteSession(context.Background(), "p-1", 1)
		requireErrCode(t, err, appErrors.ErrSessionCompleted.Code)
	})
}

func TestWithdraw(t *testing.T) {
	detail := newTestParticipant(models.NextSession1)
	started := schedulerNow.Add(-time.Hour)
	detail.Session(1).StartedAt = &started
	store := &fakeSessionStore{detail: detail}
	svc := newTestScheduler(store)

	require.NoError(t, svc.Withdraw(context.Background(), "p-1", 1))
	require.NotNil(t, store.detail.Session(1).WithdrawnAt)

	// repeat calls keep the first timestamp
	first := *store.detail.Session(1).WithdrawnAt
	require.NoError(t, svc.Withdraw(context.Background(), "p-1", 1))
	assert.Equal(t, first, *store.detail.Session(1).WithdrawnAt)

	err := svc.Withdraw(context.Background(), "p-1", 2)
	requireErrCode(t, err, appErrors.ErrSessionNotStarted.Code)
}

func TestRouteLadder(t *testing.T) {
	window := func(open, close time.Time) (*time.Time, *time.Time) {
		return &open, &close
	}

	t.Run("unknown participant blocks as invalid", func(t *testing.T) {
		svc := newTestScheduler(&fakeSessionStore{})
		outcome, err := svc.Route(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, outcome.Proceed)
		assert.Equal(t, models.BlockReasonInvalid, outcome.Reason)
	})

	t.Run("all sessions done", func(t *testing.T) {
		svc := newTestScheduler(&fakeSessionStore{detail: newTestParticipant(models.NextSessionDone)})
		outcome, err := svc.Route(context.Background(), "p-1")
		require.NoError(t, err)
		assert.Equal(t, models.BlockReasonCompletedAll, outcome.Reason)
	})

	t.Run("fresh participant goes to consent", func(t *testing.T) {
		svc := newTestScheduler(&fakeSessionStore{detail: newTestParticipant(models.NextSession1)})
		outcome, err := svc.Route(context.Background(), "p-1")
		require.NoError(t, err)
		assert.True(t, outcome.Proceed)
		assert.Equal(t, models.RouteStageConsent, outcome.Stage)
	})

	t.Run("started but incomplete session blocks", func(t *testing.T) {
		detail := newTestParticipant(models.NextSession1)
		started := schedulerNow.Add(-time.Hour)
		detail.Session(1).StartedAt = &started
		svc := newTestScheduler(&fakeSessionStore{detail: detail})
		outcome, err := svc.Route(context.Background(), "p-1")
		require.NoError(t, err)
		assert.Equal(t, models.BlockReasonInvalid, outcome.Reason)
	})

	t.Run("window not yet derived blocks", func(t *testing.T) {
		svc := newTestScheduler(&fakeSessionStore{detail: newTestParticipant(models.NextSession2)})
		outcome, err := svc.Route(context.Background(), "p-1")
		require.NoError(t, err)
		assert.Equal(t, models.BlockReasonInvalid, outcome.Reason)
	})

	t.Run("too early carries the window bounds", func(t *testing.T) {
		detail := newTestParticipant(models.NextSession2)
		open, close := window(schedulerNow.Add(time.Hour), schedulerNow.Add(25*time.Hour))
		detail.Session(2).WindowOpenAt = open
		detail.Session(2).WindowCloseAt = close
		svc := newTestScheduler(&fakeSessionStore{detail: detail})
		outcome, err := svc.Route(context.Background(), "p-1")
		require.NoError(t, err)
		assert.False(t, outcome.Proceed)
		assert.Equal(t, models.BlockReasonTooEarly, outcome.Reason)
		assert.Equal(t, 2, outcome.Session)
		assert.Equal(t, open, outcome.WindowOpenAt)
		assert.Equal(t, close, outcome.WindowCloseAt)
	})

	t.Run("inside window proceeds to instructions", func(t *testing.T) {
		detail := newTestParticipant(models.NextSession2)
		open, close := window(schedulerNow.Add(-time.Hour), schedulerNow.Add(23*time.Hour))
		detail.Session(2).WindowOpenAt = open
		detail.Session(2).WindowCloseAt = close
		svc := newTestScheduler(&fakeSessionStore{detail: detail})
		outcome, err := svc.Route(context.Background(), "p-1")
		require.NoError(t, err)
		assert.True(t, outcome.Proceed)
		assert.Equal(t, models.RouteStageInstructions, outcome.Stage)
	})

	t.Run("expired window blocks permanently", func(t *testing.T) {
		detail := newTestParticipant(models.NextSession3)
		open, close := window(schedulerNow.Add(-72*time.Hour), schedulerNow.Add(-time.Hour))
		detail.Session(3).WindowOpenAt = open
		detail.Session(3).WindowCloseAt = close
		svc := newTestScheduler(&fakeSessionStore{detail: detail})
		outcome, err := svc.Route(context.Background(), "p-1")
		require.NoError(t, err)
		assert.False(t, outcome.Proceed)
		assert.Equal(t, models.BlockReasonInvalid, outcome.Reason)
	})
}

func TestSchedulerMapsRetryExhaustionToTransient(t *testing.T) {
	store := &fakeSessionStore{detail: newTestParticipant(models.NextSession1)}
	svc := newTestScheduler(store)
	svc.tx = &stubTxRunner{err: repository.ErrRetriesExhausted}

	_, err := svc.BeginSession(context.Background(), "p-1", 1, "")
	requireErrCode(t, err, appErrors.ErrTransient.Code)
}

func requireErrCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, code, appErr.Code)
}
