package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/ct-study-api/internal/models"
	"github.com/noah-isme/ct-study-api/internal/repository"
	"github.com/noah-isme/ct-study-api/pkg/config"
	appErrors "github.com/noah-isme/ct-study-api/pkg/errors"
)

type sessionStore interface {
	FindDetailByID(ctx context.Context, id string) (*models.ParticipantDetail, error)
	FindDetailForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.ParticipantDetail, error)
	MarkStarted(ctx context.Context, tx *sqlx.Tx, id string, n int, startedAt time.Time, lang string) error
	MarkCompleted(ctx context.Context, tx *sqlx.Tx, id string, n int, completedAt time.Time) error
	MarkWithdrawn(ctx context.Context, tx *sqlx.Tx, id string, n int, withdrawnAt time.Time) error
	SetWindow(ctx context.Context, tx *sqlx.Tx, id string, n int, openAt, closeAt time.Time) error
	UpdateNextSession(ctx context.Context, tx *sqlx.Tx, id string, next models.NextSession) error
}

type schedulerMetrics interface {
	ObserveRoute(outcome string)
	ObserveSessionTransition(transition string)
}

// SchedulerService advances the three-session state machine and computes
// routing decisions. Transitions run inside serializable transactions with
// the participant row locked, so concurrent begin or complete calls for the
// same participant serialize in the store.
type SchedulerService struct {
	tx           txRunner
	participants sessionStore
	audit        enrollmentAuditor
	metrics      schedulerMetrics
	logger       *zap.Logger
	cfg          config.SessionConfig
	retries      int
	clock        func() time.Time
}

// NewSchedulerService constructs SchedulerService.
func NewSchedulerService(tx txRunner, participants sessionStore, audit enrollmentAuditor, metrics schedulerMetrics, logger *zap.Logger, cfg config.SessionConfig, retries int) *SchedulerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WindowOpenAfter <= 0 {
		cfg.WindowOpenAfter = 48 * time.Hour
	}
	if cfg.WindowCloseAfter <= 0 {
		cfg.WindowCloseAfter = 72 * time.Hour
	}
	if retries <= 0 {
		retries = 3
	}
	return &SchedulerService{
		tx:           tx,
		participants: participants,
		audit:        audit,
		metrics:      metrics,
		logger:       logger,
		cfg:          cfg,
		retries:      retries,
		clock:        time.Now,
	}
}

// BeginSession stamps the start of session n. It does not advance the
// session pointer; only completion does. Starting session n also derives
// session n+1's eligibility window from the fresh start time.
func (s *SchedulerService) BeginSession(ctx context.Context, participantID string, n int, lang string) (*models.SessionState, error) {
	if n < 1 || n > models.SessionCount {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session number out of range")
	}

	var state *models.SessionState
	err := s.runTx(ctx, func(tx *sqlx.Tx) error {
		detail, err := s.lockParticipant(ctx, tx, participantID)
		if err != nil {
			return err
		}
		if detail.NextSession.Done() {
			return appErrors.ErrStudyComplete
		}
		if models.NextSession(n) != detail.NextSession {
			return appErrors.ErrBackwardSession
		}

		sess := detail.Session(n)
		if sess == nil {
			return appErrors.Clone(appErrors.ErrInternal, "participant session rows are incomplete")
		}
		if sess.StartedAt != nil {
			return appErrors.ErrAlreadyStarted
		}

		now := s.clock().UTC()
		if err := s.participants.MarkStarted(ctx, tx, participantID, n, now, lang); err != nil {
			return err
		}
		if err := s.participants.UpdateNextSession(ctx, tx, participantID, models.NextSession(n)); err != nil {
			return err
		}
		if n < models.SessionCount {
			openAt := now.Add(s.cfg.WindowOpenAfter)
			closeAt := now.Add(s.cfg.WindowCloseAfter)
			if err := s.participants.SetWindow(ctx, tx, participantID, n+1, openAt, closeAt); err != nil {
				return err
			}
		}

		started := *sess
		started.StartedAt = &now
		started.Lang = lang
		state = &started
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.observeTransition("begin")
	s.recordSessionEvent(ctx, models.EnrollmentActionBegin, participantID, n)
	return state, nil
}

// CompleteSession stamps the completion of session n and advances the
// session pointer to n+1, or to done after the final session.
func (s *SchedulerService) CompleteSession(ctx context.Context, participantID string, n int) (*models.SessionState, error) {
	if n < 1 || n > models.SessionCount {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session number out of range")
	}

	var state *models.SessionState
	err := s.runTx(ctx, func(tx *sqlx.Tx) error {
		detail, err := s.lockParticipant(ctx, tx, participantID)
		if err != nil {
			return err
		}

		sess := detail.Session(n)
		if sess == nil {
			return appErrors.Clone(appErrors.ErrInternal, "participant session rows are incomplete")
		}
		if sess.StartedAt == nil {
			return appErrors.ErrSessionNotStarted
		}
		if sess.CompletedAt != nil {
			return appErrors.ErrSessionCompleted
		}

		now := s.clock().UTC()
		if err := s.participants.MarkCompleted(ctx, tx, participantID, n, now); err != nil {
			return err
		}

		next := models.NextSession(n + 1)
		if n == models.SessionCount {
			next = models.NextSessionDone
		}
		// nextSession only moves forward
		if next > detail.NextSession {
			if err := s.participants.UpdateNextSession(ctx, tx, participantID, next); err != nil {
				return err
			}
		}

		completed := *sess
		completed.CompletedAt = &now
		state = &completed
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.observeTransition("complete")
	s.recordSessionEvent(ctx, models.EnrollmentActionComplete, participantID, n)
	return state, nil
}

// Withdraw stores a withdrawal timestamp on a started session. No state
// transition follows from it; the field is reserved for collaborators.
func (s *SchedulerService) Withdraw(ctx context.Context, participantID string, n int) error {
	if n < 1 || n > models.SessionCount {
		return appErrors.Clone(appErrors.ErrValidation, "session number out of range")
	}

	err := s.runTx(ctx, func(tx *sqlx.Tx) error {
		detail, err := s.lockParticipant(ctx, tx, participantID)
		if err != nil {
			return err
		}
		sess := detail.Session(n)
		if sess == nil {
			return appErrors.Clone(appErrors.ErrInternal, "participant session rows are incomplete")
		}
		if sess.StartedAt == nil {
			return appErrors.ErrSessionNotStarted
		}
		if sess.WithdrawnAt != nil {
			return nil
		}
		return s.participants.MarkWithdrawn(ctx, tx, participantID, n, s.clock().UTC())
	})
	if err != nil {
		return err
	}

	s.observeTransition("withdraw")
	s.recordSessionEvent(ctx, models.EnrollmentActionWithdraw, participantID, n)
	return nil
}

// Route computes where the participant should go next. All blocks are
// expected outcomes, not errors; only store failures return an error. The
// decision always re-reads authoritative state.
func (s *SchedulerService) Route(ctx context.Context, participantID string) (models.RouteOutcome, error) {
	detail, err := s.participants.FindDetailByID(ctx, participantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.blocked(models.BlockReasonInvalid), nil
		}
		return models.RouteOutcome{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participant")
	}

	if detail.NextSession.Done() {
		return s.blocked(models.BlockReasonCompletedAll), nil
	}

	n := int(detail.NextSession)
	sess := detail.Session(n)
	if sess == nil {
		return s.blocked(models.BlockReasonInvalid), nil
	}

	// No-resume policy: a started-but-incomplete session blocks routing
	// until it is completed.
	if sess.StartedAt != nil && sess.CompletedAt == nil {
		return s.blocked(models.BlockReasonInvalid), nil
	}

	if n == 1 {
		s.observeRoute(string(models.RouteStageConsent))
		return models.ProceedTo(models.RouteStageConsent), nil
	}

	if sess.WindowOpenAt == nil || sess.WindowCloseAt == nil {
		return s.blocked(models.BlockReasonInvalid), nil
	}

	now := s.clock().UTC()
	if now.Before(*sess.WindowOpenAt) {
		s.observeRoute(string(models.BlockReasonTooEarly))
		return models.RouteOutcome{
			Reason:        models.BlockReasonTooEarly,
			Session:       n,
			WindowOpenAt:  sess.WindowOpenAt,
			WindowCloseAt: sess.WindowCloseAt,
		}, nil
	}
	if now.After(*sess.WindowCloseAt) {
		// the window expired permanently; there is no late-arrival path
		return s.blocked(models.BlockReasonInvalid), nil
	}

	s.observeRoute(string(models.RouteStageInstructions))
	return models.ProceedTo(models.RouteStageInstructions), nil
}

func (s *SchedulerService) lockParticipant(ctx context.Context, tx *sqlx.Tx, id string) (*models.ParticipantDetail, error) {
	detail, err := s.participants.FindDetailForUpdate(ctx, tx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "participant not found")
		}
		return nil, err
	}
	return detail, nil
}

func (s *SchedulerService) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	err := s.tx.RunTx(ctx, s.retries, fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrRetriesExhausted) {
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, appErrors.ErrTransient.Message)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "session transition failed")
}

func (s *SchedulerService) recordSessionEvent(ctx context.Context, action, participantID string, n int) {
	if s.audit == nil {
		return
	}
	detail, _ := json.Marshal(map[string]int{"session": n})
	event := &models.EnrollmentEvent{
		ParticipantID: &participantID,
		Action:        action,
		SessionNo:     &n,
		Detail:        detail,
	}
	if err := s.audit.CreateEnrollmentEvent(ctx, event); err != nil {
		s.logger.Warn("failed to record session event",
			zap.String("action", strings.ToLower(action)), zap.Error(err))
	}
}

func (s *SchedulerService) blocked(reason models.BlockReason) models.RouteOutcome {
	s.observeRoute(string(reason))
	return models.BlockedBecause(reason)
}

func (s *SchedulerService) observeRoute(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveRoute(outcome)
	}
}

func (s *SchedulerService) observeTransition(transition string) {
	if s.metrics != nil {
		s.metrics.ObserveSessionTransition(transition)
	}
}