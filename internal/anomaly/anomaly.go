// Package anomaly learns a per-identity behavioral baseline and scores live
// samples against it.
//
// Enrollment fits a feature scaler and an isolation forest over a handful of
// samples and stores both as one IdentityProfile document. Scoring
// standardizes the live feature vector with the stored scaler, runs it
// through the forest and maps the offset-adjusted score to a 0-100
// confidence. A profile is servable only when it is fully trained; there is
// no partially-trained state.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/SentinelX-Auth/SentinelX/internal/behavior"
)

var (
	ErrInsufficientSamples = errors.New("anomaly: not enough enrollment samples")
	ErrModelNotTrained     = errors.New("anomaly: no trained profile for identity")
	ErrProfileNotFound     = errors.New("anomaly: profile not found")
	ErrInvalidSample       = errors.New("anomaly: invalid behavioral sample")
	ErrInvalidThreshold    = errors.New("anomaly: invalid threshold")
)

// Decision boundary presets for confidence mapping.
const (
	ThresholdDefault = -0.5
	ThresholdStrict  = -0.3
	ThresholdLenient = -0.7
)

// Enrollment sizing.
const (
	DefaultMinSamples        = 3
	DefaultEnrollmentSamples = 5
)

// ProfileVersion identifies the feature layout a profile was trained on.
const ProfileVersion = 1

// Label is the detector's binary verdict.
type Label string

const (
	LabelInlier  Label = "inlier"
	LabelOutlier Label = "outlier"
)

// Profile is a trained per-identity baseline. It is stored and replaced as a
// single document.
type Profile struct {
	Identity  string           `json:"identity"`
	Version   int              `json:"version"`
	Scaler    Scaler           `json:"scaler"`
	Forest    *IsolationForest `json:"forest"`
	Trained   bool             `json:"trained"`
	Samples   int              `json:"samples"`
	TrainedAt time.Time        `json:"trained_at"`
}

// Servable reports whether the profile can score samples.
func (p *Profile) Servable() bool {
	return p != nil && p.Trained && p.Version == ProfileVersion &&
		p.Forest != nil && len(p.Forest.Trees) > 0 &&
		p.Scaler.Dims() == behavior.VectorLen
}

// Result is the outcome of scoring one sample.
type Result struct {
	Label      Label   `json:"label"`
	Authentic  bool    `json:"authentic"`
	RawScore   float64 `json:"raw_score"`  // offset-adjusted; >= 0 is inlier
	PathScore  float64 `json:"path_score"` // unadjusted, in [-1, 0)
	Confidence float64 `json:"confidence"` // 0..100
	Threshold  float64 `json:"threshold"`
}

// ProfileStore persists identity profiles. Put must replace the whole
// profile atomically.
type ProfileStore interface {
	Get(ctx context.Context, identity string) (*Profile, error)
	Put(ctx context.Context, p *Profile) error
	Delete(ctx context.Context, identity string) error
}

// ParseThreshold accepts a preset name or a float literal.
func ParseThreshold(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return ThresholdDefault, nil
	case "strict":
		return ThresholdStrict, nil
	case "lenient":
		return ThresholdLenient, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < -1 || v > 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidThreshold, s)
	}
	return v, nil
}
