// Package accounts stores user accounts and verifies their passwords.
//
// Passwords are hashed with PBKDF2-HMAC-SHA256 and a per-account random salt.
// Accounts created through a license login carry no password and can only
// sign in with a license token.
package accounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("accounts: account not found")
	ErrExists          = errors.New("accounts: account already exists")
	ErrInvalidPassword = errors.New("accounts: invalid password")
	ErrInvalidUsername = errors.New("accounts: invalid username")
)

// Account is a registered user.
type Account struct {
	Username           string    `json:"username"`
	DeviceID           string    `json:"device_id"`
	Enrolled           bool      `json:"enrolled"`
	CreatedAt          time.Time `json:"created_at"`
	PasswordHash       string    `json:"-"`
	PasswordSalt       string    `json:"-"`
	PasswordIterations int       `json:"-"`
}

// HasPassword reports whether the account can sign in with a password.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// Store persists accounts keyed by normalized username.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, username string) (*Account, error)
	SetEnrolled(ctx context.Context, username string, enrolled bool) error
	Delete(ctx context.Context, username string) error
}

// DeviceProvider assigns device identities to new accounts. The rest of the
// system treats device ids as opaque strings.
type DeviceProvider interface {
	DeviceID(ctx context.Context, username string) (string, error)
}

// RandomDevices assigns a random UUID to each new account.
type RandomDevices struct{}

func (RandomDevices) DeviceID(context.Context, string) (string, error) {
	return uuid.NewString(), nil
}

// NormalizeUsername trims and lower-cases a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
