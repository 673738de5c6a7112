package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/ct-study-api/internal/models"
)

// RegistrationRepository handles persistence of one-time enrollment codes.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

const registrationColumns = `code, status, preset_group, claimed_by, claimed_at, created_at`

// FindByCode returns a registration code outside any transaction.
func (r *RegistrationRepository) FindByCode(ctx context.Context, code string) (*models.RegistrationCode, error) {
	query := fmt.Sprintf(`SELECT %s FROM registration_codes WHERE code = $1`, registrationColumns)
	var rec models.RegistrationCode
	if err := r.db.GetContext(ctx, &rec, query, code); err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByCodeForUpdate locks and returns a registration code inside tx. The
// row lock serializes concurrent claims of the same code.
func (r *RegistrationRepository) FindByCodeForUpdate(ctx context.Context, tx *sqlx.Tx, code string) (*models.RegistrationCode, error) {
	query := fmt.Sprintf(`SELECT %s FROM registration_codes WHERE code = $1 FOR UPDATE`, registrationColumns)
	var rec models.RegistrationCode
	if err := tx.GetContext(ctx, &rec, query, code); err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkUsed transitions a code to used, stamping who claimed it and when.
// The status guard keeps the available->used transition single-shot even if
// a caller races past the row lock.
func (r *RegistrationRepository) MarkUsed(ctx context.Context, tx *sqlx.Tx, code, claimedBy string, claimedAt time.Time) error {
	const query = `UPDATE registration_codes
        SET status = $2, claimed_by = $3, claimed_at = $4
        WHERE code = $1 AND status <> $2`
	res, err := tx.ExecContext(ctx, query, code, models.RegistrationStatusUsed, claimedBy, claimedAt)
	if err != nil {
		return fmt.Errorf("mark code used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark code used: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("mark code used: code %q already used", code)
	}
	return nil
}

// Create inserts a code. Provisioning normally happens out of band; this
// supports seeding and tests.
func (r *RegistrationRepository) Create(ctx context.Context, rec *models.RegistrationCode) error {
	if rec.Status == "" {
		rec.Status = models.RegistrationStatusAvailable
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO registration_codes (code, status, preset_group, created_at)
        VALUES (:code, :status, :preset_group, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("create registration code: %w", err)
	}
	return nil
}