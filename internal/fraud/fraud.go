// Package fraud screens access attempts for rate abuse, automation tooling
// and robotic interaction telemetry before any credential is examined.
//
// The only shared state is a short sliding window of request times per
// origin address. Everything else is a pure function of the request.
package fraud

import (
	"context"
	"time"
)

// RiskLevel buckets the combined fraud score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Score contributions.
const (
	weightRateLimited = 0.8
	weightBadAgent    = 0.4
	missingMetricsBot = 0.2

	flagZeroVariance  = 0.6
	flagFastTyping    = 0.5
	flagFastPointer   = 0.4
	flagInstantSubmit = 0.6

	botThreshold    = 0.7
	highThreshold   = 0.8
	mediumThreshold = 0.4
)

// Signals explains which checks fired.
type Signals struct {
	RateLimited    bool   `json:"rate_limited"`
	BadUserAgent   bool   `json:"bad_user_agent"`
	BotDetected    bool   `json:"ai_bot_detected"`
	BlockedNetwork bool   `json:"blocked_network"`
	UAReason       string `json:"ua_reason"`
	BotReason      string `json:"bot_reason"`
}

// Assessment is the evaluator's verdict on one request.
type Assessment struct {
	ID          string    `json:"id"`
	Origin      string    `json:"origin"`
	UserAgent   string    `json:"user_agent"`
	FraudScore  float64   `json:"fraud_score"`
	BotScore    float64   `json:"bot_score"`
	RiskLevel   RiskLevel `json:"risk_level"`
	ShouldBlock bool      `json:"should_block"`
	Signals     Signals   `json:"signals"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Store persists blocked assessments for the audit trail.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	ListByOrigin(ctx context.Context, origin string, limit int) ([]*Assessment, error)
}
