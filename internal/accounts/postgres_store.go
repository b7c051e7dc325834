package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PostgresStore persists accounts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the accounts table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			username             VARCHAR(64) PRIMARY KEY,
			device_id            VARCHAR(255) NOT NULL,
			enrolled             BOOLEAN NOT NULL DEFAULT FALSE,
			password_hash        VARCHAR(128) NOT NULL DEFAULT '',
			password_salt        VARCHAR(64) NOT NULL DEFAULT '',
			password_iterations  INTEGER NOT NULL DEFAULT 0,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, a *Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (username, device_id, enrolled, password_hash, password_salt, password_iterations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.Username, a.DeviceID, a.Enrolled, a.PasswordHash, a.PasswordSalt, a.PasswordIterations, a.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, username string) (*Account, error) {
	a := &Account{}
	err := s.db.QueryRowContext(ctx, `
		SELECT username, device_id, enrolled, password_hash, password_salt, password_iterations, created_at
		FROM accounts WHERE username = $1
	`, username).Scan(
		&a.Username, &a.DeviceID, &a.Enrolled,
		&a.PasswordHash, &a.PasswordSalt, &a.PasswordIterations, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) SetEnrolled(ctx context.Context, username string, enrolled bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET enrolled = $2 WHERE username = $1
	`, username, enrolled)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
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

func (s *PostgresStore) Delete(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
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
