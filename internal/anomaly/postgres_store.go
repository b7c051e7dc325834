package anomaly

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore persists profiles as one JSONB document per identity.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the identity_profiles table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS identity_profiles (
			identity    VARCHAR(64) PRIMARY KEY,
			version     INTEGER NOT NULL,
			profile     JSONB NOT NULL,
			samples     INTEGER NOT NULL,
			trained_at  TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, identity string) (*Profile, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT profile FROM identity_profiles WHERE identity = $1
	`, identity).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &p, nil
}

// Put replaces the stored document in a single statement.
func (s *PostgresStore) Put(ctx context.Context, p *Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO identity_profiles (identity, version, profile, samples, trained_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identity) DO UPDATE SET
			version    = EXCLUDED.version,
			profile    = EXCLUDED.profile,
			samples    = EXCLUDED.samples,
			trained_at = EXCLUDED.trained_at
	`, p.Identity, p.Version, raw, p.Samples, p.TrainedAt)
	if err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, identity string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM identity_profiles WHERE identity = $1`, identity)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrProfileNotFound
	}
	return nil
}
