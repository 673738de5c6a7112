package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/ct-study-api/internal/models"
)

// ParticipantRepository handles persistence of participant records and
// their fixed-arity session rows.
type ParticipantRepository struct {
	db *sqlx.DB
}

// NewParticipantRepository constructs the repository.
func NewParticipantRepository(db *sqlx.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

const participantColumns = `participant_id, grp, version, language, country, next_session, created_at`

const sessionColumns = `participant_id, session_no, started_at, completed_at, withdrawn_at, window_open_at, window_close_at, lang`

// FindByID returns a participant without sessions.
func (r *ParticipantRepository) FindByID(ctx context.Context, id string) (*models.Participant, error) {
	query := fmt.Sprintf(`SELECT %s FROM participants WHERE participant_id = $1`, participantColumns)
	var p models.Participant
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindTx returns a participant inside tx without taking a row lock.
func (r *ParticipantRepository) FindTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Participant, error) {
	query := fmt.Sprintf(`SELECT %s FROM participants WHERE participant_id = $1`, participantColumns)
	var p models.Participant
	if err := tx.GetContext(ctx, &p, query, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindDetailByID returns a participant with all session rows.
func (r *ParticipantRepository) FindDetailByID(ctx context.Context, id string) (*models.ParticipantDetail, error) {
	p, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	sessions, err := r.listSessions(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	return &models.ParticipantDetail{Participant: *p, Sessions: sessions}, nil
}

// FindDetailForUpdate locks the participant row inside tx and returns the
// full record. Session transitions load through here so concurrent begin
// and complete calls for the same participant serialize on the row lock.
func (r *ParticipantRepository) FindDetailForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.ParticipantDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM participants WHERE participant_id = $1 FOR UPDATE`, participantColumns)
	var p models.Participant
	if err := tx.GetContext(ctx, &p, query, id); err != nil {
		return nil, err
	}
	sessions, err := r.listSessions(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return &models.ParticipantDetail{Participant: p, Sessions: sessions}, nil
}

// ExistsTx reports whether a participant record exists, inside tx.
func (r *ParticipantRepository) ExistsTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	var exists bool
	const query = `SELECT EXISTS (SELECT 1 FROM participants WHERE participant_id = $1)`
	if err := tx.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("check participant exists: %w", err)
	}
	return exists, nil
}

// Create inserts the participant and its three empty session rows inside tx.
func (r *ParticipantRepository) Create(ctx context.Context, tx *sqlx.Tx, p *models.Participant) error {
	if p.NextSession == 0 {
		p.NextSession = models.NextSession1
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO participants (participant_id, grp, version, language, country, next_session, created_at)
        VALUES (:participant_id, :grp, :version, :language, :country, :next_session, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("create participant: %w", err)
	}

	for n := 1; n <= models.SessionCount; n++ {
		const sessQuery = `INSERT INTO participant_sessions (participant_id, session_no) VALUES ($1, $2)`
		if _, err := tx.ExecContext(ctx, sessQuery, p.ParticipantID, n); err != nil {
			return fmt.Errorf("create participant session %d: %w", n, err)
		}
	}
	return nil
}

// MarkStarted stamps startedAt and lang on session n.
func (r *ParticipantRepository) MarkStarted(ctx context.Context, tx *sqlx.Tx, id string, n int, startedAt time.Time, lang string) error {
	const query = `UPDATE participant_sessions SET started_at = $3, lang = $4
        WHERE participant_id = $1 AND session_no = $2`
	if _, err := tx.ExecContext(ctx, query, id, n, startedAt, lang); err != nil {
		return fmt.Errorf("mark session started: %w", err)
	}
	return nil
}

// MarkCompleted stamps completedAt on session n.
func (r *ParticipantRepository) MarkCompleted(ctx context.Context, tx *sqlx.Tx, id string, n int, completedAt time.Time) error {
	const query = `UPDATE participant_sessions SET completed_at = $3
        WHERE participant_id = $1 AND session_no = $2`
	if _, err := tx.ExecContext(ctx, query, id, n, completedAt); err != nil {
		return fmt.Errorf("mark session completed: %w", err)
	}
	return nil
}

// MarkWithdrawn stamps withdrawnAt on session n.
func (r *ParticipantRepository) MarkWithdrawn(ctx context.Context, tx *sqlx.Tx, id string, n int, withdrawnAt time.Time) error {
	const query = `UPDATE participant_sessions SET withdrawn_at = $3
        WHERE participant_id = $1 AND session_no = $2`
	if _, err := tx.ExecContext(ctx, query, id, n, withdrawnAt); err != nil {
		return fmt.Errorf("mark session withdrawn: %w", err)
	}
	return nil
}

// SetWindow stamps the eligibility window on session n. Windows derive from
// the prior session's start and are written once; the guard keeps a second
// begin from recomputing them.
func (r *ParticipantRepository) SetWindow(ctx context.Context, tx *sqlx.Tx, id string, n int, openAt, closeAt time.Time) error {
	const query = `UPDATE participant_sessions SET window_open_at = $3, window_close_at = $4
        WHERE participant_id = $1 AND session_no = $2 AND window_open_at IS NULL`
	if _, err := tx.ExecContext(ctx, query, id, n, openAt, closeAt); err != nil {
		return fmt.Errorf("set session window: %w", err)
	}
	return nil
}

// UpdateNextSession moves the participant's session pointer.
func (r *ParticipantRepository) UpdateNextSession(ctx context.Context, tx *sqlx.Tx, id string, next models.NextSession) error {
	const query = `UPDATE participants SET next_session = $2 WHERE participant_id = $1`
	if _, err := tx.ExecContext(ctx, query, id, next); err != nil {
		return fmt.Errorf("update next session: %w", err)
	}
	return nil
}

func (r *ParticipantRepository) listSessions(ctx context.Context, q sqlx.QueryerContext, id string) ([]models.SessionState, error) {
	query := fmt.Sprintf(`SELECT %s FROM participant_sessions WHERE participant_id = $1 ORDER BY session_no`, sessionColumns)
	var sessions []models.SessionState
	if err := sqlx.SelectContext(ctx, q, &sessions, query, id); err != nil {
		return nil, fmt.Errorf("list participant sessions: %w", err)
	}
	return sessions, nil
}