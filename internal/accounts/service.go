package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,63}$`)

// dummy* equalize the cost of a lookup miss with a real verification.
const (
	dummyHash = "00000000000000000000000000000000"
	dummySalt = "00000000000000000000000000000000"
)

// Service manages accounts.
type Service struct {
	store   Store
	hasher  *Hasher
	devices DeviceProvider
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates an account service.
func NewService(store Store, hasher *Hasher, devices DeviceProvider, logger *slog.Logger) *Service {
	if devices == nil {
		devices = RandomDevices{}
	}
	return &Service{
		store:   store,
		hasher:  hasher,
		devices: devices,
		logger:  logger,
		now:     time.Now,
	}
}

// ValidUsername reports whether a normalized username is acceptable.
func ValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Register creates a password-protected account. deviceID may be empty, in
// which case the device provider assigns one.
func (s *Service) Register(ctx context.Context, username, password, deviceID string) (*Account, error) {
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidPassword)
	}
	a, err := s.newAccount(ctx, username, deviceID)
	if err != nil {
		return nil, err
	}
	a.PasswordHash, a.PasswordSalt, err = s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	a.PasswordIterations = s.hasher.Iterations()

	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("account registered", "username", a.Username)
	return a, nil
}

// Provision returns the account for username, creating a password-less one
// if none exists yet.
func (s *Service) Provision(ctx context.Context, username, deviceID string) (*Account, error) {
	username = NormalizeUsername(username)
	a, err := s.store.Get(ctx, username)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	a, err = s.newAccount(ctx, username, deviceID)
	if err != nil {
		return nil, err
	}
	err = s.store.Create(ctx, a)
	if errors.Is(err, ErrExists) {
		// Lost a race with another provision.
		return s.store.Get(ctx, username)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("account provisioned", "username", a.Username)
	return a, nil
}

func (s *Service) newAccount(ctx context.Context, username, deviceID string) (*Account, error) {
	username = NormalizeUsername(username)
	if !ValidUsername(username) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		id, err := s.devices.DeviceID(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("assign device id: %w", err)
		}
		deviceID = id
	}
	return &Account{
		Username:  username,
		DeviceID:  deviceID,
		CreatedAt: s.now().UTC(),
	}, nil
}

// Verify checks a password and returns the account. It returns ErrNotFound
// for an unknown user and ErrInvalidPassword for a mismatch or an account
// without a password.
func (s *Service) Verify(ctx context.Context, username, password string) (*Account, error) {
	a, err := s.store.Get(ctx, NormalizeUsername(username))
	if errors.Is(err, ErrNotFound) {
		s.hasher.Verify(password, dummyHash, dummySalt, s.hasher.Iterations())
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !a.HasPassword() {
		return nil, ErrInvalidPassword
	}
	if !s.hasher.Verify(password, a.PasswordHash, a.PasswordSalt, a.PasswordIterations) {
		return nil, ErrInvalidPassword
	}
	return a, nil
}

// Get returns the account for username.
func (s *Service) Get(ctx context.Context, username string) (*Account, error) {
	return s.store.Get(ctx, NormalizeUsername(username))
}

// MarkEnrolled records that username has a trained behavioral profile.
func (s *Service) MarkEnrolled(ctx context.Context, username string) error {
	return s.store.SetEnrolled(ctx, NormalizeUsername(username), true)
}

// Delete removes the account.
func (s *Service) Delete(ctx context.Context, username string) error {
	username = NormalizeUsername(username)
	if err := s.store.Delete(ctx, username); err != nil {
		return err
	}
	s.logger.Info("account deleted", "username", username)
	return nil
}
