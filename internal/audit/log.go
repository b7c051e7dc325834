package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SummaryWindow is how far back summaries and security scores look.
const SummaryWindow = 30 * 24 * time.Hour

// Log records attempts and answers activity queries.
type Log struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewLog creates an attempt log backed by store.
func NewLog(store Store, logger *slog.Logger) *Log {
	return &Log{store: store, logger: logger, now: time.Now}
}

// WithClock replaces the wall clock.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Record appends a. ID and Timestamp are filled in when empty.
func (l *Log) Record(ctx context.Context, a *Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = l.now().UTC()
	}
	if err := l.store.Append(ctx, a); err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	attemptsTotal.WithLabelValues(string(a.Outcome)).Inc()
	return nil
}

// History returns up to limit attempts for username, most recent first.
func (l *Log) History(ctx context.Context, username string, limit int) ([]*Attempt, error) {
	return l.store.ListByUser(ctx, username, time.Time{}, limit)
}

// Summary aggregates the attempts inside SummaryWindow.
func (l *Log) Summary(ctx context.Context, username string) (*Summary, error) {
	since := l.now().Add(-SummaryWindow).UTC()
	attempts, err := l.store.ListByUser(ctx, username, since, 0)
	if err != nil {
		return nil, err
	}
	return Summarize(username, since, attempts), nil
}

// Forget deletes every attempt recorded for username.
func (l *Log) Forget(ctx context.Context, username string) error {
	n, err := l.store.DeleteUser(ctx, username)
	if err != nil {
		return err
	}
	l.logger.Info("login history deleted", "username", username, "attempts", n)
	return nil
}
