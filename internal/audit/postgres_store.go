package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists attempts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed attempt store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the login_attempts table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS login_attempts (
			id             VARCHAR(36) PRIMARY KEY,
			username       VARCHAR(64) NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			outcome        VARCHAR(16) NOT NULL,
			method         VARCHAR(16) NOT NULL DEFAULT '',
			score          DOUBLE PRECISION,
			reason         TEXT NOT NULL DEFAULT '',
			origin         VARCHAR(64) NOT NULL DEFAULT '',
			fraud_blocked  BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE INDEX IF NOT EXISTS idx_login_attempts_user ON login_attempts (username, created_at DESC);
	`)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, a *Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_attempts (id, username, created_at, outcome, method, score, reason, origin, fraud_blocked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.Username, a.Timestamp, string(a.Outcome), a.Method, a.Score, a.Reason, a.Origin, a.FraudBlocked)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, username string, since time.Time, limit int) ([]*Attempt, error) {
	query := `
		SELECT id, username, created_at, outcome, method, score, reason, origin, fraud_blocked
		FROM login_attempts
		WHERE username = $1 AND created_at >= $2
		ORDER BY created_at DESC`
	args := []any{username, since}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Attempt
	for rows.Next() {
		a := &Attempt{}
		var outcome string
		var score sql.NullFloat64
		if err := rows.Scan(&a.ID, &a.Username, &a.Timestamp, &outcome, &a.Method,
			&score, &a.Reason, &a.Origin, &a.FraudBlocked); err != nil {
			return nil, err
		}
		a.Outcome = Outcome(outcome)
		if score.Valid {
			v := score.Float64
			a.Score = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteUser(ctx context.Context, username string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE username = $1`, username)
	if err != nil {
		return 0, fmt.Errorf("failed to delete attempts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
