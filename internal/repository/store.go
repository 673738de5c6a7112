package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Postgres error codes that signal a retriable transaction conflict.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// Store wraps the database handle and runs serializable transactions with
// bounded retry. Enrollment and session transitions go through RunTx so
// racing writers are serialized by the database rather than in process.
type Store struct {
	db *sqlx.DB
}

// NewStore constructs a Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for read-only repositories.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// ErrRetriesExhausted is returned when a transaction kept conflicting past
// its retry budget. Callers map it to a transient failure.
var ErrRetriesExhausted = errors.New("transaction retries exhausted")

// RunTx executes fn inside a serializable transaction. Serialization
// failures and deadlocks are retried up to retries times with a short
// backoff; other errors abort immediately.
func (s *Store) RunTx(ctx context.Context, retries int, fn func(tx *sqlx.Tx) error) error {
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
			}
		}

		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !retriable(err) {
			return err
		}
		lastErr = err
	}

	return errors.Join(ErrRetriesExhausted, lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func retriable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return code == pqSerializationFailure || code == pqDeadlockDetected
	}
	return false
}