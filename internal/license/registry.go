package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SentinelX-Auth/SentinelX/internal/idgen"
	"github.com/SentinelX-Auth/SentinelX/internal/traces"
)

// IssueRequest describes a new license.
type IssueRequest struct {
	Owner         string `json:"owner" binding:"required"`
	MaxUsers      int    `json:"max_users"`
	ExpiresInDays *int   `json:"expires_in_days"`
	Tier          Tier   `json:"tier"`
}

// Registry is the license service.
type Registry struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the wall clock.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Issue creates a new active license with no seats assigned. A nil or
// non-positive ExpiresInDays means the license never expires.
func (r *Registry) Issue(ctx context.Context, req IssueRequest) (*License, error) {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}
	if req.MaxUsers == 0 {
		req.MaxUsers = 1
	}
	if req.MaxUsers < 1 {
		return nil, fmt.Errorf("%w: max_users must be at least 1", ErrInvalidRequest)
	}
	if req.Tier == "" {
		req.Tier = TierBasic
	}
	if !req.Tier.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidRequest, req.Tier)
	}

	now := r.now().UTC()
	l := &License{
		Token:       NewToken(),
		Owner:       owner,
		Tier:        req.Tier,
		MaxUsers:    req.MaxUsers,
		ActiveUsers: []string{},
		Active:      true,
		CreatedAt:   now,
	}
	if req.ExpiresInDays != nil && *req.ExpiresInDays > 0 {
		exp := now.AddDate(0, 0, *req.ExpiresInDays)
		l.ExpiresAt = &exp
	}

	if err := r.store.Create(ctx, l); err != nil {
		observeOp("issue", err)
		return nil, fmt.Errorf("create license: %w", err)
	}
	observeOp("issue", nil)
	r.logger.Info("license issued", "owner", owner, "tier", l.Tier, "max_users", l.MaxUsers)
	return l, nil
}

// Validate returns nil for a usable license, or ErrNotFound, ErrInactive or
// ErrExpired, checked in that order.
func (r *Registry) Validate(ctx context.Context, token string) error {
	l, err := r.store.Get(ctx, normalizeToken(token))
	if err != nil {
		return err
	}
	return r.usable(l)
}

func (r *Registry) usable(l *License) error {
	if !l.Active {
		return ErrInactive
	}
	if l.Expired(r.now()) {
		return ErrExpired
	}
	return nil
}

// Authorize assigns a seat to user. Re-authorizing a seat holder succeeds
// without consuming capacity.
func (r *Registry) Authorize(ctx context.Context, token, user string) (retErr error) {
	ctx, span := traces.StartSpan(ctx, "license.Authorize", traces.Identity(user))
	defer func() {
		traces.End(span, retErr)
		observeOp("authorize", retErr)
	}()

	user = strings.TrimSpace(user)
	if user == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidRequest)
	}
	_, err := r.store.Update(ctx, normalizeToken(token), func(l *License) error {
		return grantSeat(l, user)
	})
	return err
}

func grantSeat(l *License, user string) error {
	if l.HasUser(user) {
		return nil
	}
	if len(l.ActiveUsers) >= l.MaxUsers {
		return ErrCapacityExceeded
	}
	l.ActiveUsers = append(l.ActiveUsers, user)
	return nil
}

// IsAuthorized reports whether user may use the license.
//
// Side effect: when user holds no seat and capacity remains, a seat is
// granted as part of the check, exactly as Authorize would. Inactive and
// expired licenses authorize nobody and are never modified.
func (r *Registry) IsAuthorized(ctx context.Context, user, token string) (bool, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return false, nil
	}
	_, err := r.store.Update(ctx, normalizeToken(token), func(l *License) error {
		if err := r.usable(l); err != nil {
			return err
		}
		return grantSeat(l, user)
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInactive),
		errors.Is(err, ErrExpired), errors.Is(err, ErrCapacityExceeded):
		return false, nil
	default:
		return false, err
	}
}

// Revoke deactivates the license. Seats are kept so that Reactivate restores
// the previous state.
func (r *Registry) Revoke(ctx context.Context, token string) error {
	_, err := r.store.Update(ctx, normalizeToken(token), func(l *License) error {
		l.Active = false
		return nil
	})
	observeOp("revoke", err)
	if err == nil {
		r.logger.Info("license revoked", "token", mask(token))
	}
	return err
}

// Reactivate reverses Revoke.
func (r *Registry) Reactivate(ctx context.Context, token string) error {
	_, err := r.store.Update(ctx, normalizeToken(token), func(l *License) error {
		l.Active = true
		return nil
	})
	observeOp("reactivate", err)
	return err
}

// Delete removes the license permanently.
func (r *Registry) Delete(ctx context.Context, token string) error {
	err := r.store.Delete(ctx, normalizeToken(token))
	observeOp("delete", err)
	if err == nil {
		r.logger.Info("license deleted", "token", mask(token))
	}
	return err
}

// RecordLogin increments the login counter.
func (r *Registry) RecordLogin(ctx context.Context, token string) error {
	_, err := r.store.Update(ctx, normalizeToken(token), func(l *License) error {
		l.TotalLogins++
		return nil
	})
	return err
}

// RemoveUser frees user's seat. Removing a user without a seat is a no-op.
func (r *Registry) RemoveUser(ctx context.Context, token, user string) error {
	user = strings.TrimSpace(user)
	_, err := r.store.Update(ctx, normalizeToken(token), func(l *License) error {
		kept := l.ActiveUsers[:0]
		for _, u := range l.ActiveUsers {
			if u != user {
				kept = append(kept, u)
			}
		}
		l.ActiveUsers = kept
		return nil
	})
	observeOp("remove_user", err)
	return err
}

// Info returns the license with its current validity and seat usage.
func (r *Registry) Info(ctx context.Context, token string) (*Info, error) {
	l, err := r.store.Get(ctx, normalizeToken(token))
	if err != nil {
		return nil, err
	}
	return r.info(l), nil
}

func (r *Registry) info(l *License) *Info {
	n := len(l.ActiveUsers)
	return &Info{
		License:        *l,
		Valid:          r.usable(l) == nil,
		UsersCount:     n,
		RemainingUsers: l.MaxUsers - n,
	}
}

// List returns every license, or only those whose owner equals owner
// case-insensitively after trimming when owner is non-empty.
func (r *Registry) List(ctx context.Context, owner string) ([]*License, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return all, nil
	}
	out := make([]*License, 0, len(all))
	for _, l := range all {
		if strings.EqualFold(strings.TrimSpace(l.Owner), owner) {
			out = append(out, l)
		}
	}
	return out, nil
}

// NewToken returns a fresh token: the prefix plus 24 upper-case hex digits.
func NewToken() string {
	return TokenPrefix + strings.ToUpper(idgen.Hex(12))
}

func normalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

// mask keeps only the tail of a token for log lines.
func mask(token string) string {
	token = normalizeToken(token)
	if len(token) <= 8 {
		return "****"
	}
	return "****" + token[len(token)-6:]
}
