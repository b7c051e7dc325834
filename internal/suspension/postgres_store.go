package suspension

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists suspensions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed suspension store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the suspensions table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS suspensions (
			namespace        VARCHAR(16) NOT NULL,
			subject          VARCHAR(255) NOT NULL,
			suspended_until  TIMESTAMPTZ NOT NULL,
			reason           TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (namespace, subject)
		);

		CREATE INDEX IF NOT EXISTS idx_suspensions_until ON suspensions (suspended_until);
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, ns Namespace, subject string) (*Record, error) {
	var r Record
	var nsText string
	err := s.db.QueryRowContext(ctx, `
		SELECT namespace, subject, suspended_until, reason, created_at
		FROM suspensions
		WHERE namespace = $1 AND subject = $2
	`, string(ns), subject).Scan(&nsText, &r.Subject, &r.Until, &r.Reason, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get suspension: %w", err)
	}
	r.Namespace = Namespace(nsText)
	return &r, nil
}

func (s *PostgresStore) Put(ctx context.Context, r *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suspensions (namespace, subject, suspended_until, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, subject) DO UPDATE SET
			suspended_until = EXCLUDED.suspended_until,
			reason          = EXCLUDED.reason,
			created_at      = EXCLUDED.created_at
		WHERE suspensions.suspended_until <= EXCLUDED.suspended_until
	`, string(r.Namespace), r.Subject, r.Until, r.Reason, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store suspension: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, ns Namespace, subject string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM suspensions WHERE namespace = $1 AND subject = $2
	`, string(ns), subject)
	if err != nil {
		return fmt.Errorf("failed to delete suspension: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteIfUntil(ctx context.Context, ns Namespace, subject string, until time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM suspensions
		WHERE namespace = $1 AND subject = $2 AND suspended_until = $3
	`, string(ns), subject, until)
	if err != nil {
		return false, fmt.Errorf("failed to clear suspension: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM suspensions WHERE suspended_until <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge suspensions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}
