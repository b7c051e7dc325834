package fraud

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists blocked assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the fraud_assessments table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fraud_assessments (
			id            VARCHAR(36) PRIMARY KEY,
			origin        VARCHAR(255) NOT NULL,
			user_agent    TEXT NOT NULL DEFAULT '',
			fraud_score   NUMERIC(4,3) NOT NULL CHECK (fraud_score >= 0 AND fraud_score <= 1),
			bot_score     NUMERIC(4,3) NOT NULL CHECK (bot_score >= 0 AND bot_score <= 1),
			risk_level    VARCHAR(10) NOT NULL CHECK (risk_level IN ('Low', 'Medium', 'High')),
			should_block  BOOLEAN NOT NULL,
			signals       JSONB NOT NULL DEFAULT '{}',
			evaluated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_fraud_assessments_origin
			ON fraud_assessments (origin, evaluated_at DESC);
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	signals, err := json.Marshal(a.Signals)
	if err != nil {
		return fmt.Errorf("failed to marshal signals: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fraud_assessments
			(id, origin, user_agent, fraud_score, bot_score, risk_level, should_block, signals, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		a.ID,
		a.Origin,
		a.UserAgent,
		a.FraudScore,
		a.BotScore,
		string(a.RiskLevel),
		a.ShouldBlock,
		signals,
		a.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record fraud assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByOrigin(ctx context.Context, origin string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, origin, user_agent, fraud_score, bot_score, risk_level, should_block, signals, evaluated_at
		FROM fraud_assessments
		WHERE origin = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`, origin, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list fraud assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var a Assessment
		var signals []byte
		if err := rows.Scan(&a.ID, &a.Origin, &a.UserAgent, &a.FraudScore, &a.BotScore,
			&a.RiskLevel, &a.ShouldBlock, &signals, &a.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fraud assessment: %w", err)
		}
		_ = json.Unmarshal(signals, &a.Signals)
		result = append(result, &a)
	}
	return result, rows.Err()
}
