package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/ct-study-api/internal/models"
	appErrors "github.com/noah-isme/ct-study-api/pkg/errors"
	"github.com/noah-isme/ct-study-api/pkg/export"
)

type balanceReader interface {
	Snapshot(ctx context.Context) ([]models.BalanceCounter, error)
}

type registrationReader interface {
	FindByCode(ctx context.Context, code string) (*models.RegistrationCode, error)
}

type mappingWriter interface {
	FindByPublicCode(ctx context.Context, publicCode string) (*models.IdentityMapping, error)
	SetCompleted(ctx context.Context, publicCode string, completed bool) error
}

type eventReader interface {
	ListByParticipant(ctx context.Context, participantID string, limit int) ([]models.EnrollmentEvent, error)
}

// OperatorService backs the authenticated admin endpoints: balance counter
// inspection, code status lookup and mapping completion.
type OperatorService struct {
	balances balanceReader
	codes    registrationReader
	mappings mappingWriter
	events   eventReader
	logger   *zap.Logger
}

// NewOperatorService constructs OperatorService.
func NewOperatorService(balances balanceReader, codes registrationReader, mappings mappingWriter, events eventReader, logger *zap.Logger) *OperatorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperatorService{balances: balances, codes: codes, mappings: mappings, events: events, logger: logger}
}

// BalanceSnapshot returns all counterbalancing counters.
func (s *OperatorService) BalanceSnapshot(ctx context.Context) ([]models.BalanceCounter, error) {
	counters, err := s.balances.Snapshot(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read balance counters")
	}
	return counters, nil
}

// CodeStatus looks up a registration code, normalizing legacy statuses.
func (s *OperatorService) CodeStatus(ctx context.Context, code string) (*models.RegistrationCode, error) {
	rec, err := s.codes.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration code not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read registration code")
	}
	rec.Status = models.NormalizeRegistrationStatus(rec.Status)
	return rec, nil
}

// CompleteMapping flips the completed flag on an identity mapping. The flag
// is informational for collaborators and touches nothing else.
func (s *OperatorService) CompleteMapping(ctx context.Context, publicCode string) (*models.IdentityMapping, error) {
	if _, err := s.mappings.FindByPublicCode(ctx, publicCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "identity mapping not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read identity mapping")
	}
	if err := s.mappings.SetCompleted(ctx, publicCode, true); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update identity mapping")
	}
	mapping, err := s.mappings.FindByPublicCode(ctx, publicCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload identity mapping")
	}
	return mapping, nil
}

// ParticipantEvents lists the audit trail for one participant.
func (s *OperatorService) ParticipantEvents(ctx context.Context, participantID string, limit int) ([]models.EnrollmentEvent, error) {
	events, err := s.events.ListByParticipant(ctx, participantID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollment events")
	}
	return events, nil
}

// ExportEvents renders a participant's audit trail as CSV.
func (s *OperatorService) ExportEvents(ctx context.Context, participantID string, limit int) ([]byte, error) {
	events, err := s.ParticipantEvents(ctx, participantID, limit)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		code, session := "", ""
		if ev.Code != nil {
			code = *ev.Code
		}
		if ev.SessionNo != nil {
			session = strconv.Itoa(*ev.SessionNo)
		}
		rows = append(rows, []string{
			ev.ID,
			ev.Action,
			code,
			session,
			ev.IPAddress,
			ev.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	data, err := export.RenderCSV([]string{"id", "action", "code", "session", "ip_address", "created_at"}, rows)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render events export")
	}
	return data, nil
}