package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/ct-study-api/internal/models"
)

// AuditRepository persists enrollment event records.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateEnrollmentEvent appends an audit record.
func (r *AuditRepository) CreateEnrollmentEvent(ctx context.Context, event *models.EnrollmentEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollment_events (id, participant_id, action, code, session_no, detail, ip_address, created_at)
        VALUES (:id, :participant_id, :action, :code, :session_no, :detail, :ip_address, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create enrollment event: %w", err)
	}
	return nil
}

// ListByParticipant returns events for one participant, newest first.
func (r *AuditRepository) ListByParticipant(ctx context.Context, participantID string, limit int) ([]models.EnrollmentEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const query = `SELECT id, participant_id, action, code, session_no, detail, ip_address, created_at
        FROM enrollment_events WHERE participant_id = $1 ORDER BY created_at DESC LIMIT $2`
	var events []models.EnrollmentEvent
	if err := r.db.SelectContext(ctx, &events, query, participantID, limit); err != nil {
		return nil, fmt.Errorf("list enrollment events: %w", err)
	}
	return events, nil
}