// Package audit keeps the append-only history of login attempts and derives
// per-user activity summaries from it.
package audit

import (
	"context"
	"time"
)

// Outcome is the terminal state of one attempt.
type Outcome string

const (
	OutcomeGranted   Outcome = "granted"
	OutcomeDenied    Outcome = "denied"
	OutcomeSuspended Outcome = "suspended"
	OutcomeError     Outcome = "error"
)

// Fixed risk markers recorded for credential failures, where no behavioral
// score exists.
const (
	MarkerInvalidLicense      = 0.5
	MarkerUnauthorizedLicense = 0.6
	MarkerUnknownUser         = 0.9
	MarkerBadPassword         = 0.7
)

// Attempt is one login or re-authentication attempt.
type Attempt struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Timestamp    time.Time `json:"timestamp"`
	Outcome      Outcome   `json:"outcome"`
	Method       string    `json:"method,omitempty"`
	Score        *float64  `json:"score,omitempty"` // behavioral risk in [0,1], lower is better
	Reason       string    `json:"reason,omitempty"`
	Origin       string    `json:"origin,omitempty"`
	FraudBlocked bool      `json:"fraud_blocked"`
}

// Success reports whether the attempt was granted.
func (a *Attempt) Success() bool {
	return a.Outcome == OutcomeGranted
}

// Store persists attempts.
type Store interface {
	Append(ctx context.Context, a *Attempt) error
	// ListByUser returns attempts at or after since, most recent first.
	// limit <= 0 means no limit.
	ListByUser(ctx context.Context, username string, since time.Time, limit int) ([]*Attempt, error)
	DeleteUser(ctx context.Context, username string) (int, error)
}

// Summary aggregates a user's recent attempts.
type Summary struct {
	Username     string    `json:"username"`
	Since        time.Time `json:"since"`
	Total        int       `json:"total_login_attempts"`
	Successful   int       `json:"successful_logins"`
	Failed       int       `json:"failed_logins"`
	FraudBlocks  int       `json:"fraud_blocks"`
	SuccessRate  float64   `json:"success_rate"` // percent
	AverageScore *float64  `json:"average_behavioral_score,omitempty"`
	LastAttempt  *Attempt  `json:"last_attempt,omitempty"`
}

// Summarize builds a summary from attempts ordered most recent first.
func Summarize(username string, since time.Time, attempts []*Attempt) *Summary {
	s := &Summary{Username: username, Since: since, Total: len(attempts)}
	var sum float64
	var scored int
	for _, a := range attempts {
		if a.Success() {
			s.Successful++
		} else {
			s.Failed++
		}
		if a.FraudBlocked {
			s.FraudBlocks++
		}
		if a.Score != nil {
			sum += *a.Score
			scored++
		}
	}
	s.SuccessRate = float64(s.Successful) / float64(max(1, s.Total)) * 100
	if scored > 0 {
		avg := sum / float64(scored)
		s.AverageScore = &avg
	}
	if len(attempts) > 0 {
		s.LastAttempt = attempts[0]
	}
	return s
}

// SecurityScore rates a summary from 0 to 100, higher is better. A user with
// no history scores 50.
func (s *Summary) SecurityScore() float64 {
	score := 50.0
	score += s.SuccessRate * 0.3
	score -= float64(s.Failed) * 5
	if s.AverageScore != nil {
		score += (1 - *s.AverageScore) * 30
	}
	return min(100, max(0, score))
}
