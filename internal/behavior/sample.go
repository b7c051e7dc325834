// Package behavior turns raw keystroke and pointer telemetry into the fixed
// 23-field feature vector consumed by the anomaly model.
//
// A Sample is one collection session. Timestamps are seconds (fractional)
// on the client's clock, inter-key intervals are milliseconds and pointer
// velocities are pixels per second. Samples are never persisted; they live
// for the duration of the request that carried them.
package behavior

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrNonMonotonic  = errors.New("behavior: event timestamps must be non-decreasing")
	ErrInvalidValue  = errors.New("behavior: event contains a negative or non-finite value")
	ErrTooManyEvents = errors.New("behavior: sample exceeds the event limit")
)

// MaxEvents caps each event list in a single sample.
const MaxEvents = 10000

// KeystrokeEvent is a single key press.
type KeystrokeEvent struct {
	Key       string   `json:"key"`
	Timestamp float64  `json:"timestamp"`
	IKI       *float64 `json:"iki,omitempty"` // ms since the previous press; nil for the first
}

// PointerEvent is a single pointer movement or click.
type PointerEvent struct {
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Timestamp float64  `json:"timestamp"`
	Distance  *float64 `json:"distance,omitempty"` // px from the previous event
	Velocity  *float64 `json:"velocity,omitempty"` // px/s from the previous event
	Click     bool     `json:"click,omitempty"`
}

// Sample is one behavioral collection session.
type Sample struct {
	Keystrokes []KeystrokeEvent `json:"keystrokes"`
	Pointer    []PointerEvent   `json:"pointer"`
	Duration   float64          `json:"duration"` // seconds
}

// NewSample builds a validated sample.
func NewSample(keys []KeystrokeEvent, pointer []PointerEvent, duration float64) (*Sample, error) {
	s := &Sample{Keystrokes: keys, Pointer: pointer, Duration: duration}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks ordering and value sanity. Extraction itself never fails;
// Validate is the boundary check applied to untrusted input.
func (s *Sample) Validate() error {
	if len(s.Keystrokes) > MaxEvents || len(s.Pointer) > MaxEvents {
		return ErrTooManyEvents
	}
	if !finiteNonNegative(s.Duration) {
		return fmt.Errorf("%w: duration", ErrInvalidValue)
	}

	prev := math.Inf(-1)
	for i, k := range s.Keystrokes {
		if !finiteNonNegative(k.Timestamp) {
			return fmt.Errorf("%w: keystroke %d timestamp", ErrInvalidValue, i)
		}
		if k.Timestamp < prev {
			return fmt.Errorf("%w: keystroke %d", ErrNonMonotonic, i)
		}
		prev = k.Timestamp
		if k.IKI != nil && !finiteNonNegative(*k.IKI) {
			return fmt.Errorf("%w: keystroke %d interval", ErrInvalidValue, i)
		}
	}

	prev = math.Inf(-1)
	for i, p := range s.Pointer {
		if !finiteNonNegative(p.Timestamp) {
			return fmt.Errorf("%w: pointer %d timestamp", ErrInvalidValue, i)
		}
		if p.Timestamp < prev {
			return fmt.Errorf("%w: pointer %d", ErrNonMonotonic, i)
		}
		prev = p.Timestamp
		if p.Distance != nil && !finiteNonNegative(*p.Distance) {
			return fmt.Errorf("%w: pointer %d distance", ErrInvalidValue, i)
		}
		if p.Velocity != nil && !finiteNonNegative(*p.Velocity) {
			return fmt.Errorf("%w: pointer %d velocity", ErrInvalidValue, i)
		}
	}
	return nil
}

// Empty reports whether the sample carries no events at all.
func (s *Sample) Empty() bool {
	return s == nil || (len(s.Keystrokes) == 0 && len(s.Pointer) == 0)
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// Float returns a pointer to v, for building optional event fields.
func Float(v float64) *float64 {
	return &v
}
