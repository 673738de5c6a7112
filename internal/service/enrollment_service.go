package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/ct-study-api/internal/models"
	"github.com/noah-isme/ct-study-api/internal/repository"
	"github.com/noah-isme/ct-study-api/pkg/config"
	appErrors "github.com/noah-isme/ct-study-api/pkg/errors"
)

type registrationStore interface {
	FindByCodeForUpdate(ctx context.Context, tx *sqlx.Tx, code string) (*models.RegistrationCode, error)
	MarkUsed(ctx context.Context, tx *sqlx.Tx, code, claimedBy string, claimedAt time.Time) error
}

type participantStore interface {
	FindTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Participant, error)
	Create(ctx context.Context, tx *sqlx.Tx, p *models.Participant) error
}

type identityMappingStore interface {
	FindByPublicCodeTx(ctx context.Context, tx *sqlx.Tx, publicCode string) (*models.IdentityMapping, error)
	ExistsInternalID(ctx context.Context, tx *sqlx.Tx, internalID string) (bool, error)
	Create(ctx context.Context, tx *sqlx.Tx, m *models.IdentityMapping) error
}

type balanceStore interface {
	LockGroupCounters(ctx context.Context, tx *sqlx.Tx, group string, versions []int) ([]models.BalanceCounter, error)
	IncrementVersion(ctx context.Context, tx *sqlx.Tx, group string, version int, assignedAt time.Time) error
}

type enrollmentAuditor interface {
	CreateEnrollmentEvent(ctx context.Context, event *models.EnrollmentEvent) error
}

type txRunner interface {
	RunTx(ctx context.Context, retries int, fn func(tx *sqlx.Tx) error) error
}

type enrollmentMetrics interface {
	ObserveClaim(outcome string)
	ObserveBalanceFallback()
}

// ClaimRequest carries the enrollment context for one claim. Group is an
// explicit operator/UI condition choice and overrides the code's preset.
type ClaimRequest struct {
	Code     string `json:"code" validate:"required"`
	Group    string `json:"group"`
	Language string `json:"language"`
	Country  string `json:"country"`
	IP       string `json:"-"`
}

// EnrollmentService converts one-time registration codes into enrolled
// participants. The whole claim — code transition, identity resolution,
// group and version assignment, record creation — commits as a single
// serializable transaction.
type EnrollmentService struct {
	tx           txRunner
	codes        registrationStore
	participants participantStore
	mappings     identityMappingStore
	balances     balanceStore
	audit        enrollmentAuditor
	metrics      enrollmentMetrics
	validator    *validator.Validate
	logger       *zap.Logger
	cfg          config.EnrollmentConfig
	clock        func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(
	tx txRunner,
	codes registrationStore,
	participants participantStore,
	mappings identityMappingStore,
	balances balanceStore,
	audit enrollmentAuditor,
	metrics enrollmentMetrics,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg config.EnrollmentConfig,
) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TokenAttempts <= 0 {
		cfg.TokenAttempts = 5
	}
	if cfg.TokenLength <= 0 {
		cfg.TokenLength = 8
	}
	if cfg.TxRetries <= 0 {
		cfg.TxRetries = 3
	}
	if cfg.FallbackVersion <= 0 {
		cfg.FallbackVersion = 1
	}
	if len(cfg.Versions) == 0 {
		cfg.Versions = []int{1, 2, 3, 4}
	}
	return &EnrollmentService{
		tx:           tx,
		codes:        codes,
		participants: participants,
		mappings:     mappings,
		balances:     balances,
		audit:        audit,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		cfg:          cfg,
		clock:        time.Now,
	}
}

// Claim consumes a registration code and returns the participant identity.
// Claiming an already-used code is not an error: it resumes the existing
// enrollment, creating any records legacy data left missing. The call is
// idempotent and safe to retry.
func (s *EnrollmentService) Claim(ctx context.Context, req ClaimRequest) (*models.ParticipantIdentity, error) {
	req.Code = strings.TrimSpace(req.Code)
	if err := s.validator.Struct(req); err != nil {
		s.observeClaim("invalid")
		return nil, appErrors.Clone(appErrors.ErrInvalidCode, "registration code is required")
	}

	var identity *models.ParticipantIdentity
	err := s.tx.RunTx(ctx, s.cfg.TxRetries, func(tx *sqlx.Tx) error {
		var txErr error
		identity, txErr = s.claimTx(ctx, tx, req)
		return txErr
	})
	if err != nil {
		if errors.Is(err, repository.ErrRetriesExhausted) {
			s.observeClaim("transient")
			return nil, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, appErrors.ErrTransient.Message)
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			s.observeClaim(strings.ToLower(appErr.Code))
			return nil, err
		}
		s.observeClaim("error")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "claim failed")
	}

	action := models.EnrollmentActionClaim
	outcome := "claimed"
	if identity.Resumed {
		action = models.EnrollmentActionResume
		outcome = "resumed"
	}
	s.observeClaim(outcome)
	s.recordEvent(ctx, action, identity.ParticipantID, req)

	return identity, nil
}

func (s *EnrollmentService) claimTx(ctx context.Context, tx *sqlx.Tx, req ClaimRequest) (*models.ParticipantIdentity, error) {
	rec, err := s.codes.FindByCodeForUpdate(ctx, tx, req.Code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.resumeDirect(ctx, tx, req.Code)
		}
		return nil, err
	}

	switch models.NormalizeRegistrationStatus(rec.Status) {
	case models.RegistrationStatusAvailable:
		return s.claimAvailable(ctx, tx, req, rec)
	case models.RegistrationStatusUsed:
		return s.resumeUsed(ctx, tx, req, rec)
	default:
		return nil, appErrors.Clone(appErrors.ErrCorruptState,
			"registration code "+req.Code+" has unrecognized status "+string(rec.Status))
	}
}

// claimAvailable performs the first-time claim: exactly one caller wins the
// row lock and transitions the code; losers re-read it as used.
func (s *EnrollmentService) claimAvailable(ctx context.Context, tx *sqlx.Tx, req ClaimRequest, rec *models.RegistrationCode) (*models.ParticipantIdentity, error) {
	now := s.clock().UTC()

	internalID, err := s.resolveNewIdentity(ctx, tx, req.Code)
	if err != nil {
		return nil, err
	}

	group := AssignGroup(req.Group, rec.PresetGroup, s.cfg.DefaultGroup)
	version := s.assignVersion(ctx, tx, group, now)

	if s.cfg.Pseudonymous {
		mapping := &models.IdentityMapping{
			PublicCode: req.Code,
			InternalID: internalID,
			Group:      group,
			AssignedAt: now,
		}
		if err := s.mappings.Create(ctx, tx, mapping); err != nil {
			return nil, err
		}
	}

	participant := &models.Participant{
		ParticipantID: internalID,
		Group:         group,
		Version:       version,
		Language:      req.Language,
		Country:       req.Country,
		NextSession:   models.NextSession1,
		CreatedAt:     now,
	}
	if err := s.participants.Create(ctx, tx, participant); err != nil {
		return nil, err
	}

	if err := s.codes.MarkUsed(ctx, tx, req.Code, internalID, now); err != nil {
		return nil, err
	}

	return &models.ParticipantIdentity{
		ParticipantID: internalID,
		Group:         group,
		Version:       version,
		NextSession:   models.NextSession1,
	}, nil
}

// resumeUsed handles a code that was already claimed. Legacy deployments
// may lack the mapping or the participant record; both are backfilled here
// without touching the registration code again.
func (s *EnrollmentService) resumeUsed(ctx context.Context, tx *sqlx.Tx, req ClaimRequest, rec *models.RegistrationCode) (*models.ParticipantIdentity, error) {
	now := s.clock().UTC()
	group := AssignGroup(req.Group, rec.PresetGroup, s.cfg.DefaultGroup)

	internalID := req.Code
	if s.cfg.Pseudonymous {
		mapping, err := s.mappings.FindByPublicCodeTx(ctx, tx, req.Code)
		switch {
		case err == nil:
			internalID = mapping.InternalID
			group = mapping.Group
		case errors.Is(err, sql.ErrNoRows):
			internalID, err = s.generateToken(ctx, tx)
			if err != nil {
				return nil, err
			}
			if err := s.mappings.Create(ctx, tx, &models.IdentityMapping{
				PublicCode: req.Code,
				InternalID: internalID,
				Group:      group,
				AssignedAt: now,
			}); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	} else if rec.ClaimedBy != nil && *rec.ClaimedBy != "" {
		internalID = *rec.ClaimedBy
	}

	participant, err := s.participants.FindTx(ctx, tx, internalID)
	if err == nil {
		return &models.ParticipantIdentity{
			ParticipantID: participant.ParticipantID,
			Group:         participant.Group,
			Version:       participant.Version,
			NextSession:   participant.NextSession,
			Resumed:       true,
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	version := s.assignVersion(ctx, tx, group, now)
	created := &models.Participant{
		ParticipantID: internalID,
		Group:         group,
		Version:       version,
		Language:      req.Language,
		Country:       req.Country,
		NextSession:   models.NextSession1,
		CreatedAt:     now,
	}
	if err := s.participants.Create(ctx, tx, created); err != nil {
		return nil, err
	}

	return &models.ParticipantIdentity{
		ParticipantID: internalID,
		Group:         group,
		Version:       version,
		NextSession:   models.NextSession1,
		Resumed:       true,
	}, nil
}

// resumeDirect resolves an input with no registration code as an existing
// participant id. Internal ids handed out earlier stay usable even when the
// code table no longer knows them.
func (s *EnrollmentService) resumeDirect(ctx context.Context, tx *sqlx.Tx, id string) (*models.ParticipantIdentity, error) {
	participant, err := s.participants.FindTx(ctx, tx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidCode
		}
		return nil, err
	}
	return &models.ParticipantIdentity{
		ParticipantID: participant.ParticipantID,
		Group:         participant.Group,
		Version:       participant.Version,
		NextSession:   participant.NextSession,
		Resumed:       true,
	}, nil
}

// resolveNewIdentity picks the internal id for a fresh enrollment: the code
// itself, or a generated token in pseudonymous deployments.
func (s *EnrollmentService) resolveNewIdentity(ctx context.Context, tx *sqlx.Tx, code string) (string, error) {
	if !s.cfg.Pseudonymous {
		return code, nil
	}
	return s.generateToken(ctx, tx)
}

// generateToken produces a random internal id, retrying on collision a
// bounded number of times.
func (s *EnrollmentService) generateToken(ctx context.Context, tx *sqlx.Tx) (string, error) {
	for attempt := 0; attempt < s.cfg.TokenAttempts; attempt++ {
		buf := make([]byte, s.cfg.TokenLength)
		if _, err := rand.Read(buf); err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "token generation failed")
		}
		token := hex.EncodeToString(buf)

		taken, err := s.mappings.ExistsInternalID(ctx, tx, token)
		if err != nil {
			return "", err
		}
		if !taken {
			return token, nil
		}
	}
	return "", appErrors.ErrIdentityExhausted
}

// assignVersion runs the counterbalancing pick inside the enrollment
// transaction, guarded by a savepoint: a failing counter store degrades to
// the fallback version instead of failing the enrollment.
func (s *EnrollmentService) assignVersion(ctx context.Context, tx *sqlx.Tx, group string, now time.Time) int {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT balance_pick"); err != nil {
		s.logger.Warn("balance savepoint failed, assigning fallback version",
			zap.String("group", group), zap.Error(err))
		s.observeFallback()
		return s.cfg.FallbackVersion
	}

	version, err := s.pickAndIncrement(ctx, tx, group, now)
	if err == nil {
		if _, relErr := tx.ExecContext(ctx, "RELEASE SAVEPOINT balance_pick"); relErr == nil {
			return version
		}
	}

	if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT balance_pick"); rbErr != nil {
		s.logger.Warn("balance savepoint rollback failed", zap.String("group", group), zap.Error(rbErr))
	}
	s.logger.Warn("balance counter update failed, assigning fallback version",
		zap.String("group", group), zap.Int("fallback", s.cfg.FallbackVersion), zap.Error(err))
	s.observeFallback()
	return s.cfg.FallbackVersion
}

func (s *EnrollmentService) pickAndIncrement(ctx context.Context, tx *sqlx.Tx, group string, now time.Time) (int, error) {
	counters, err := s.balances.LockGroupCounters(ctx, tx, group, s.cfg.Versions)
	if err != nil {
		return 0, err
	}
	version := PickVersion(counters)
	if version == 0 {
		version = s.cfg.FallbackVersion
	}
	if err := s.balances.IncrementVersion(ctx, tx, group, version, now); err != nil {
		return 0, err
	}
	return version, nil
}

func (s *EnrollmentService) recordEvent(ctx context.Context, action, participantID string, req ClaimRequest) {
	if s.audit == nil {
		return
	}
	detail, _ := json.Marshal(map[string]string{"language": req.Language, "country": req.Country})
	event := &models.EnrollmentEvent{
		ParticipantID: &participantID,
		Action:        action,
		Code:          &req.Code,
		Detail:        detail,
		IPAddress:     req.IP,
	}
	if err := s.audit.CreateEnrollmentEvent(ctx, event); err != nil {
		s.logger.Warn("failed to record enrollment event", zap.String("action", action), zap.Error(err))
	}
}

func (s *EnrollmentService) observeClaim(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveClaim(outcome)
	}
}

func (s *EnrollmentService) observeFallback() {
	if s.metrics != nil {
		s.metrics.ObserveBalanceFallback()
	}
}