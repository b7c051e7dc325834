// Package access is the login decision pipeline.
//
// Every attempt moves through the same stages in order:
//
//	fraud -> suspension -> credential -> behavioral -> granted | denied | suspended
//
// A stage that cannot reach its store fails closed: the attempt is never
// granted, and the Decision carries OutcomeError so the caller can tell an
// outage from a rejection.
package access

import (
	"errors"
	"net/http"
	"time"

	"github.com/SentinelX-Auth/SentinelX/internal/anomaly"
	"github.com/SentinelX-Auth/SentinelX/internal/fraud"
)

var (
	ErrStorage  = errors.New("access: storage unavailable")
	ErrNotFound = errors.New("access: identity not found")
)

// Outcome is the terminal state of a decision.
type Outcome string

const (
	OutcomeGranted   Outcome = "granted"
	OutcomeDenied    Outcome = "denied"
	OutcomeSuspended Outcome = "suspended"
	OutcomeError     Outcome = "error"
)

// Stage names the pipeline step that produced a decision.
type Stage string

const (
	StageValidation Stage = "validation"
	StageFraud      Stage = "fraud"
	StageSuspension Stage = "suspension"
	StageCredential Stage = "credential"
	StageBehavioral Stage = "behavioral"
	StageComplete   Stage = "complete"
	StageDeadline   Stage = "deadline"
	StageInternal   Stage = "internal"
)

const (
	MethodPassword = "password"
	MethodLicense  = "license"
	MethodBehavior = "behavior"
)

// Credential is the proof a login presents. It is implemented only by
// PasswordCredential and LicenseCredential.
type Credential interface {
	method() string
}

// PasswordCredential proves identity with the account password.
type PasswordCredential struct {
	Secret string `json:"-"`
}

func (PasswordCredential) method() string { return MethodPassword }

// LicenseCredential proves entitlement with a shared license token.
type LicenseCredential struct {
	Token string `json:"-"`
}

func (LicenseCredential) method() string { return MethodLicense }

// BehaviorSummary is the behavioral verdict attached to a decision.
type BehaviorSummary struct {
	Score     float64       `json:"score"` // confidence 0..100
	Label     anomaly.Label `json:"label"`
	Authentic bool          `json:"authentic"`
}

// Decision is the result of one access attempt.
type Decision struct {
	Outcome  Outcome           `json:"outcome"`
	Stage    Stage             `json:"stage"`
	Reason   string            `json:"reason"`
	Username string            `json:"username,omitempty"`
	Method   string            `json:"method,omitempty"`
	Until    *time.Time        `json:"until,omitempty"`
	Behavior *BehaviorSummary  `json:"behavior,omitempty"`
	Fraud    *fraud.Assessment `json:"fraud,omitempty"`
	Err      error             `json:"-"`
}

// Granted reports whether a session may be issued.
func (d *Decision) Granted() bool {
	return d.Outcome == OutcomeGranted
}

// Status maps the decision to an HTTP status code.
func (d *Decision) Status() int {
	switch d.Outcome {
	case OutcomeGranted:
		return http.StatusOK
	case OutcomeSuspended:
		return http.StatusForbidden
	case OutcomeError:
		if errors.Is(d.Err, ErrStorage) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	}
	switch d.Stage {
	case StageValidation:
		return http.StatusBadRequest
	case StageCredential:
		return http.StatusUnauthorized
	case StageDeadline:
		return http.StatusServiceUnavailable
	case StageInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}
