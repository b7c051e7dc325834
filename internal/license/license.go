// Package license manages shareable access tokens with seat capacity,
// expiry and revocation.
//
// Every mutation goes through Store.Update, which applies a function to the
// current record as one atomic read-modify-write. Two concurrent
// authorizations against the last free seat therefore cannot both succeed.
package license

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	ErrNotFound         = errors.New("license: not found")
	ErrInactive         = errors.New("license: inactive")
	ErrExpired          = errors.New("license: expired")
	ErrCapacityExceeded = errors.New("license: maximum users reached")
	ErrUnauthorized     = errors.New("license: user not authorized")
	ErrInvalidRequest   = errors.New("license: invalid request")
	ErrDuplicateToken   = errors.New("license: token already exists")
)

// TokenPrefix marks every issued token.
const TokenPrefix = "LIC-"

// Tier is a commercial plan label.
type Tier string

const (
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierBasic, TierPro, TierEnterprise:
		return true
	}
	return false
}

// License is one issued token and its seat assignments.
type License struct {
	Token       string     `json:"token"`
	Owner       string     `json:"owner"`
	Tier        Tier       `json:"tier"`
	MaxUsers    int        `json:"max_users"`
	ActiveUsers []string   `json:"active_users"`
	TotalLogins int64      `json:"total_logins"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// HasUser reports whether user holds a seat.
func (l *License) HasUser(user string) bool {
	return slices.Contains(l.ActiveUsers, user)
}

// Expired reports whether the license has an expiry strictly before now.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// Clone returns a deep copy.
func (l *License) Clone() *License {
	cp := *l
	cp.ActiveUsers = slices.Clone(l.ActiveUsers)
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

// Info is a License annotated with its current validity and seat usage.
type Info struct {
	License
	Valid          bool `json:"valid"`
	UsersCount     int  `json:"users_count"`
	RemainingUsers int  `json:"remaining_users"`
}

// UpdateFunc mutates a license in place. Returning an error aborts the
// update and leaves the stored record unchanged.
type UpdateFunc func(l *License) error

// Store persists licenses. Update must apply fn atomically with respect to
// every other Update on the same token.
type Store interface {
	Create(ctx context.Context, l *License) error
	Get(ctx context.Context, token string) (*License, error)
	Update(ctx context.Context, token string, fn UpdateFunc) (*License, error)
	Delete(ctx context.Context, token string) error
	List(ctx context.Context) ([]*License, error)
}
