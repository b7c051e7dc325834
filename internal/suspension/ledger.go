package suspension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SentinelX-Auth/SentinelX/internal/retry"
	"github.com/SentinelX-Auth/SentinelX/internal/syncutil"
)

// Ledger is the suspension service.
type Ledger struct {
	store  Store
	locks  syncutil.KeyLock
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger creates a ledger backed by store.
func NewLedger(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the wall clock.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// Suspend places a hold on subject until the given time. An existing
// longer hold is kept.
func (l *Ledger) Suspend(ctx context.Context, ns Namespace, subject string, until time.Time, reason string) error {
	subject, err := checkKey(ns, subject)
	if err != nil {
		return err
	}
	unlock := l.locks.Lock(lockKey(ns, subject))
	defer unlock()

	r := &Record{
		Namespace: ns,
		Subject:   subject,
		Until:     until.UTC(),
		Reason:    reason,
		CreatedAt: l.now().UTC(),
	}
	err = retry.Do(ctx, retry.Storage, func(ctx context.Context) error {
		return l.store.Put(ctx, r)
	})
	if err != nil {
		return fmt.Errorf("store suspension: %w", err)
	}
	suspensionsTotal.WithLabelValues(string(ns)).Inc()
	l.logger.Info("subject suspended", "namespace", ns, "subject", subject, "until", r.Until, "reason", reason)
	return nil
}

// SuspendAccount holds an account for d.
func (l *Ledger) SuspendAccount(ctx context.Context, username string, d time.Duration, reason string) (time.Time, error) {
	until := l.now().Add(d)
	return until, l.Suspend(ctx, NamespaceAccount, username, until, reason)
}

// BanDevice holds a device for d.
func (l *Ledger) BanDevice(ctx context.Context, deviceID string, d time.Duration, reason string) (time.Time, error) {
	until := l.now().Add(d)
	return until, l.Suspend(ctx, NamespaceDevice, deviceID, until, reason)
}

// IsSuspended reports whether subject is held and until when. An expired
// record is deleted on the way out, unless a newer hold replaced it
// concurrently.
func (l *Ledger) IsSuspended(ctx context.Context, ns Namespace, subject string) (time.Time, bool, error) {
	subject, err := checkKey(ns, subject)
	if err != nil {
		return time.Time{}, false, err
	}

	r, err := l.store.Get(ctx, ns, subject)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load suspension: %w", err)
	}
	if r.Active(l.now()) {
		return r.Until, true, nil
	}

	unlock := l.locks.Lock(lockKey(ns, subject))
	defer unlock()
	cleared, err := l.store.DeleteIfUntil(ctx, ns, subject, r.Until)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("clear expired suspension: %w", err)
	}
	if cleared {
		expiredTotal.WithLabelValues(string(ns)).Inc()
		l.logger.Debug("expired suspension cleared", "namespace", ns, "subject", subject)
		return time.Time{}, false, nil
	}

	// Replaced between the read and the delete; report the newer hold.
	r, err = l.store.Get(ctx, ns, subject)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load suspension: %w", err)
	}
	if r.Active(l.now()) {
		return r.Until, true, nil
	}
	return time.Time{}, false, nil
}

// Clear lifts any hold on subject.
func (l *Ledger) Clear(ctx context.Context, ns Namespace, subject string) error {
	subject, err := checkKey(ns, subject)
	if err != nil {
		return err
	}
	unlock := l.locks.Lock(lockKey(ns, subject))
	defer unlock()

	err = l.store.Delete(ctx, ns, subject)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("clear suspension: %w", err)
	}
	return nil
}

// Purge deletes every expired record and returns how many were removed.
func (l *Ledger) Purge(ctx context.Context) (int, error) {
	n, err := l.store.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("purge suspensions: %w", err)
	}
	return n, nil
}

func checkKey(ns Namespace, subject string) (string, error) {
	if !ns.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", ErrInvalidSubject
	}
	return subject, nil
}

func lockKey(ns Namespace, subject string) string {
	return string(ns) + ":" + subject
}
