package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/ct-study-api/internal/models"
)

// BalanceRepository handles the per-group counterbalancing counters.
type BalanceRepository struct {
	db *sqlx.DB
}

// NewBalanceRepository constructs the repository.
func NewBalanceRepository(db *sqlx.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// LockGroupCounters ensures a counter row exists for every defined version
// of the group, locks them, and returns the counts. The group-wide lock
// makes the read-pick-increment cycle atomic per group.
func (r *BalanceRepository) LockGroupCounters(ctx context.Context, tx *sqlx.Tx, group string, versions []int) ([]models.BalanceCounter, error) {
	for _, v := range versions {
		const seed = `INSERT INTO balance_counters (grp, version, assigned_count)
            VALUES ($1, $2, 0) ON CONFLICT (grp, version) DO NOTHING`
		if _, err := tx.ExecContext(ctx, seed, group, v); err != nil {
			return nil, fmt.Errorf("seed balance counter: %w", err)
		}
	}

	const query = `SELECT grp, version, assigned_count, last_assigned_at
        FROM balance_counters WHERE grp = $1 ORDER BY version FOR UPDATE`
	var counters []models.BalanceCounter
	if err := tx.SelectContext(ctx, &counters, query, group); err != nil {
		return nil, fmt.Errorf("lock balance counters: %w", err)
	}
	return counters, nil
}

// IncrementVersion bumps the chosen version's counter and stamps the
// assignment time, inside tx.
func (r *BalanceRepository) IncrementVersion(ctx context.Context, tx *sqlx.Tx, group string, version int, assignedAt time.Time) error {
	const query = `UPDATE balance_counters
        SET assigned_count = assigned_count + 1, last_assigned_at = $3
        WHERE grp = $1 AND version = $2`
	res, err := tx.ExecContext(ctx, query, group, version, assignedAt)
	if err != nil {
		return fmt.Errorf("increment balance counter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment balance counter: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("increment balance counter: no counter for %s v%d", group, version)
	}
	return nil
}

// Snapshot returns all counters, for operator inspection.
func (r *BalanceRepository) Snapshot(ctx context.Context) ([]models.BalanceCounter, error) {
	const query = `SELECT grp, version, assigned_count, last_assigned_at
        FROM balance_counters ORDER BY grp, version`
	var counters []models.BalanceCounter
	if err := r.db.SelectContext(ctx, &counters, query); err != nil {
		return nil, fmt.Errorf("snapshot balance counters: %w", err)
	}
	return counters, nil
}