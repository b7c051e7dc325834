package anomaly

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SentinelX-Auth/SentinelX/internal/behavior"
	"github.com/SentinelX-Auth/SentinelX/internal/retry"
	"github.com/SentinelX-Auth/SentinelX/internal/stats"
	"github.com/SentinelX-Auth/SentinelX/internal/traces"
)

// Model enrolls identities and scores samples against their profiles.
type Model struct {
	store      ProfileStore
	forest     ForestConfig
	minSamples int
	threshold  float64
	now        func() time.Time
}

// NewModel creates a model backed by the given profile store.
func NewModel(store ProfileStore) *Model {
	return &Model{
		store:      store,
		forest:     DefaultForestConfig(),
		minSamples: DefaultMinSamples,
		threshold:  ThresholdDefault,
		now:        time.Now,
	}
}

// WithThreshold overrides the confidence decision boundary.
func (m *Model) WithThreshold(t float64) *Model {
	m.threshold = t
	return m
}

// WithMinSamples overrides the minimum enrollment size.
func (m *Model) WithMinSamples(n int) *Model {
	if n > 0 {
		m.minSamples = n
	}
	return m
}

// WithForestConfig overrides forest training parameters.
func (m *Model) WithForestConfig(cfg ForestConfig) *Model {
	m.forest = cfg
	return m
}

// Threshold returns the configured decision boundary.
func (m *Model) Threshold() float64 {
	return m.threshold
}

// MinSamples returns the minimum enrollment size.
func (m *Model) MinSamples() int {
	return m.minSamples
}

// Enroll trains and stores a profile for identity. The previous profile, if
// any, is replaced only after training succeeds; a cancelled or failed
// enrollment leaves it untouched.
func (m *Model) Enroll(ctx context.Context, identity string, samples []*behavior.Sample) (_ *Profile, retErr error) {
	ctx, span := traces.StartSpan(ctx, "anomaly.Enroll",
		traces.Identity(identity),
		traces.Samples(len(samples)),
	)
	defer func() { traces.End(span, retErr) }()

	identity = normalizeIdentity(identity)
	if identity == "" {
		return nil, fmt.Errorf("%w: empty identity", ErrInvalidSample)
	}
	if len(samples) < m.minSamples {
		return nil, fmt.Errorf("%w: need %d, got %d", ErrInsufficientSamples, m.minSamples, len(samples))
	}

	start := time.Now()
	rows := make([][]float64, len(samples))
	for i, s := range samples {
		if s == nil {
			return nil, fmt.Errorf("%w: sample %d is missing", ErrInvalidSample, i)
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%w: sample %d: %v", ErrInvalidSample, i, err)
		}
		v := behavior.Extract(s)
		rows[i] = v.Slice()
	}

	scaler := FitScaler(rows)
	forest, err := FitForest(ctx, scaler.TransformAll(rows), m.forest)
	if err != nil {
		enrollmentsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("fit forest: %w", err)
	}

	// Last chance to honor cancellation before the old profile is replaced.
	if err := ctx.Err(); err != nil {
		enrollmentsTotal.WithLabelValues("cancelled").Inc()
		return nil, err
	}

	p := &Profile{
		Identity:  identity,
		Version:   ProfileVersion,
		Scaler:    scaler,
		Forest:    forest,
		Trained:   true,
		Samples:   len(samples),
		TrainedAt: m.now().UTC(),
	}
	err = retry.Do(ctx, retry.Storage, func(ctx context.Context) error {
		return m.store.Put(ctx, p)
	})
	if err != nil {
		enrollmentsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("store profile: %w", err)
	}

	enrollmentsTotal.WithLabelValues("trained").Inc()
	trainingDuration.Observe(time.Since(start).Seconds())
	return p, nil
}

// Score evaluates sample against identity's profile.
func (m *Model) Score(ctx context.Context, identity string, sample *behavior.Sample) (_ *Result, retErr error) {
	ctx, span := traces.StartSpan(ctx, "anomaly.Score", traces.Identity(identity))
	defer func() { traces.End(span, retErr) }()

	p, err := m.profile(ctx, identity)
	if err != nil {
		return nil, err
	}
	if sample != nil {
		if err := sample.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSample, err)
		}
	}

	v := behavior.Extract(sample)
	x := p.Scaler.Transform(v.Slice())
	path := p.Forest.ScoreSamples(x)
	raw := path - p.Forest.Offset

	res := &Result{
		Label:      LabelOutlier,
		RawScore:   raw,
		PathScore:  path,
		Confidence: stats.Clamp((raw-m.threshold)*100, 0, 100),
		Threshold:  m.threshold,
	}
	if raw >= 0 {
		res.Label = LabelInlier
		res.Authentic = true
	}

	scoresTotal.WithLabelValues(string(res.Label)).Inc()
	span.SetAttributes(traces.Verdict(string(res.Label), res.Confidence)...)
	return res, nil
}

// Trained reports whether identity has a servable profile.
func (m *Model) Trained(ctx context.Context, identity string) (bool, error) {
	_, err := m.profile(ctx, identity)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrModelNotTrained):
		return false, nil
	default:
		return false, err
	}
}

// Profile returns the stored profile for identity.
func (m *Model) Profile(ctx context.Context, identity string) (*Profile, error) {
	return m.profile(ctx, identity)
}

// Delete removes identity's profile. Deleting a missing profile is not an
// error.
func (m *Model) Delete(ctx context.Context, identity string) error {
	err := m.store.Delete(ctx, normalizeIdentity(identity))
	if errors.Is(err, ErrProfileNotFound) {
		return nil
	}
	return err
}

func (m *Model) profile(ctx context.Context, identity string) (*Profile, error) {
	p, err := m.store.Get(ctx, normalizeIdentity(identity))
	if errors.Is(err, ErrProfileNotFound) {
		return nil, ErrModelNotTrained
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if !p.Servable() {
		return nil, ErrModelNotTrained
	}
	return p, nil
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
