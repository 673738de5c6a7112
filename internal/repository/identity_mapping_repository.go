package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/ct-study-api/internal/models"
)

// IdentityMappingRepository handles the pseudonymization layer linking
// public codes to generated internal ids.
type IdentityMappingRepository struct {
	db *sqlx.DB
}

// NewIdentityMappingRepository constructs the repository.
func NewIdentityMappingRepository(db *sqlx.DB) *IdentityMappingRepository {
	return &IdentityMappingRepository{db: db}
}

// FindByPublicCode returns the mapping for a code.
func (r *IdentityMappingRepository) FindByPublicCode(ctx context.Context, publicCode string) (*models.IdentityMapping, error) {
	const query = `SELECT public_code, internal_id, grp, assigned_at, completed
        FROM identity_mappings WHERE public_code = $1`
	var m models.IdentityMapping
	if err := r.db.GetContext(ctx, &m, query, publicCode); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindByPublicCodeTx returns the mapping for a code inside tx.
func (r *IdentityMappingRepository) FindByPublicCodeTx(ctx context.Context, tx *sqlx.Tx, publicCode string) (*models.IdentityMapping, error) {
	const query = `SELECT public_code, internal_id, grp, assigned_at, completed
        FROM identity_mappings WHERE public_code = $1`
	var m models.IdentityMapping
	if err := tx.GetContext(ctx, &m, query, publicCode); err != nil {
		return nil, err
	}
	return &m, nil
}

// ExistsInternalID reports whether a generated internal id is taken,
// inside tx. Token generation retries on collision.
func (r *IdentityMappingRepository) ExistsInternalID(ctx context.Context, tx *sqlx.Tx, internalID string) (bool, error) {
	var exists bool
	const query = `SELECT EXISTS (SELECT 1 FROM identity_mappings WHERE internal_id = $1)`
	if err := tx.GetContext(ctx, &exists, query, internalID); err != nil {
		return false, fmt.Errorf("check internal id: %w", err)
	}
	return exists, nil
}

// Create inserts a mapping inside tx.
func (r *IdentityMappingRepository) Create(ctx context.Context, tx *sqlx.Tx, m *models.IdentityMapping) error {
	if m.AssignedAt.IsZero() {
		m.AssignedAt = time.Now().UTC()
	}
	const query = `INSERT INTO identity_mappings (public_code, internal_id, grp, assigned_at, completed)
        VALUES (:public_code, :internal_id, :grp, :assigned_at, :completed)`
	if _, err := tx.NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("create identity mapping: %w", err)
	}
	return nil
}

// SetCompleted flips the completed flag. Collaborators outside the core set
// this when the participant finishes the study.
func (r *IdentityMappingRepository) SetCompleted(ctx context.Context, publicCode string, completed bool) error {
	const query = `UPDATE identity_mappings SET completed = $2 WHERE public_code = $1`
	res, err := r.db.ExecContext(ctx, query, publicCode, completed)
	if err != nil {
		return fmt.Errorf("set mapping completed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set mapping completed: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set mapping completed: no mapping for %q", publicCode)
	}
	return nil
}