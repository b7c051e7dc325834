package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore persists licenses in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed license store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the licenses table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS licenses (
			token         VARCHAR(32) PRIMARY KEY,
			owner         VARCHAR(255) NOT NULL,
			tier          VARCHAR(20) NOT NULL DEFAULT 'basic',
			max_users     INTEGER NOT NULL CHECK (max_users >= 1),
			active_users  TEXT[] NOT NULL DEFAULT '{}',
			total_logins  BIGINT NOT NULL DEFAULT 0,
			active        BOOLEAN NOT NULL DEFAULT TRUE,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at    TIMESTAMPTZ,
			CHECK (cardinality(active_users) <= max_users)
		);

		CREATE INDEX IF NOT EXISTS idx_licenses_owner ON licenses (LOWER(owner));
	`)
	return err
}

const licenseColumns = `token, owner, tier, max_users, active_users, total_logins, active, created_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*License, error) {
	var l License
	var expiresAt sql.NullTime
	err := row.Scan(&l.Token, &l.Owner, &l.Tier, &l.MaxUsers, pq.Array(&l.ActiveUsers),
		&l.TotalLogins, &l.Active, &l.CreatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		l.ExpiresAt = &t
	}
	if l.ActiveUsers == nil {
		l.ActiveUsers = []string{}
	}
	return &l, nil
}

func (s *PostgresStore) Create(ctx context.Context, l *License) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO licenses (`+licenseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		l.Token, l.Owner, string(l.Tier), l.MaxUsers, pq.Array(l.ActiveUsers),
		l.TotalLogins, l.Active, l.CreatedAt, l.ExpiresAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateToken
		}
		return fmt.Errorf("failed to create license: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, token string) (*License, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE token = $1`, token)
	l, err := scanLicense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license: %w", err)
	}
	return l, nil
}

// Update locks the row for the duration of fn so concurrent updates to the
// same token queue behind each other.
func (s *PostgresStore) Update(ctx context.Context, token string, fn UpdateFunc) (*License, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE token = $1 FOR UPDATE`, token)
	l, err := scanLicense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock license: %w", err)
	}

	if err := fn(l); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE licenses SET
			owner = $2, tier = $3, max_users = $4, active_users = $5,
			total_logins = $6, active = $7, expires_at = $8
		WHERE token = $1
	`,
		l.Token, l.Owner, string(l.Tier), l.MaxUsers, pq.Array(l.ActiveUsers),
		l.TotalLogins, l.Active, l.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update license: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit license update: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) Delete(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM licenses WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to delete license: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*License, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+licenseColumns+` FROM licenses ORDER BY created_at, token`)
	if err != nil {
		return nil, fmt.Errorf("failed to list licenses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
