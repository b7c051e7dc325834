package behavior

import (
	"errors"
	"math"
	"testing"
)

func literalSample() *Sample {
	return &Sample{
		Keystrokes: []KeystrokeEvent{
			{Key: "a", Timestamp: 0.0},
			{Key: "b", Timestamp: 0.1, IKI: Float(100)},
			{Key: "c", Timestamp: 0.3, IKI: Float(200)},
			{Key: "a", Timestamp: 0.6, IKI: Float(300)},
		},
		Pointer: []PointerEvent{
			{Timestamp: 1.0},
			{Timestamp: 1.5, Distance: Float(10), Velocity: Float(20)},
			{Timestamp: 2.0, Distance: Float(30), Velocity: Float(60)},
			{Timestamp: 4.0, Distance: Float(20), Velocity: Float(10)},
		},
		Duration: 4.0,
	}
}

func TestExtract_LiteralSample(t *testing.T) {
	v := Extract(literalSample())

	want := map[string]float64{
		"iki_mean":         200,
		"iki_std":          math.Sqrt(20000.0 / 3),
		"iki_min":          100,
		"iki_max":          300,
		"iki_median":       200,
		"iki_q25":          150,
		"iki_q75":          250,
		"total_keystrokes": 4,
		"keystroke_rate":   4,
		"unique_keys":      3,
		"distance_mean":    20,
		"distance_std":     math.Sqrt(200.0 / 3),
		"distance_min":     10,
		"distance_max":     30,
		"distance_median":  20,
		"distance_total":   60,
		"velocity_mean":    30,
		"velocity_std":     math.Sqrt(1400.0 / 3),
		"velocity_min":     10,
		"velocity_max":     60,
		"velocity_median":  20,
		"total_movements":  4,
		"movement_rate":    4.0 / 3.0,
	}

	got := v.Map()
	if len(got) != VectorLen {
		t.Fatalf("expected %d fields, got %d", VectorLen, len(got))
	}
	for name, w := range want {
		if math.Abs(got[name]-w) > 1e-9 {
			t.Errorf("%s = %v, want %v", name, got[name], w)
		}
	}
}

func TestExtract_Deterministic(t *testing.T) {
	a := Extract(literalSample())
	b := Extract(literalSample())
	if a != b {
		t.Errorf("extraction is not deterministic:\n%v\n%v", a, b)
	}
}

func TestExtract_FieldOrder(t *testing.T) {
	if len(FeatureNames) != 23 {
		t.Fatalf("expected 23 feature names, got %d", len(FeatureNames))
	}
	if FeatureNames[0] != "iki_mean" || FeatureNames[9] != "unique_keys" {
		t.Errorf("keystroke block out of order: %v", FeatureNames[:KeystrokeFeatures])
	}
	if FeatureNames[10] != "distance_mean" || FeatureNames[22] != "movement_rate" {
		t.Errorf("pointer block out of order: %v", FeatureNames[KeystrokeFeatures:])
	}

	v := Extract(literalSample())
	if v[8] != 4 {
		t.Errorf("keystroke_rate should be at index 8, got %v", v[8])
	}
}

func TestExtract_EmptySample(t *testing.T) {
	var zero Vector
	if got := Extract(&Sample{}); got != zero {
		t.Errorf("empty sample should yield zero vector, got %v", got)
	}
	if got := Extract(nil); got != zero {
		t.Errorf("nil sample should yield zero vector, got %v", got)
	}
}

func TestExtract_SingleKeystrokeUsesSentinel(t *testing.T) {
	s := &Sample{Keystrokes: []KeystrokeEvent{{Key: "x", Timestamp: 3}}}
	v := Extract(s)

	for i := 0; i < 7; i++ {
		if v[i] != 0 {
			t.Errorf("%s should fall back to 0, got %v", FeatureNames[i], v[i])
		}
	}
	if v[7] != 1 {
		t.Errorf("total_keystrokes = %v, want 1", v[7])
	}
	if v[8] != 0 {
		t.Errorf("keystroke_rate for a single event = %v, want 0", v[8])
	}
	if v[9] != 1 {
		t.Errorf("unique_keys = %v, want 1", v[9])
	}
}

func TestExtract_RateFloorsElapsedAtOneSecond(t *testing.T) {
	s := &Sample{Keystrokes: []KeystrokeEvent{
		{Key: "a", Timestamp: 0},
		{Key: "b", Timestamp: 0.01, IKI: Float(10)},
		{Key: "c", Timestamp: 0.02, IKI: Float(10)},
	}}
	if rate := Extract(s)[8]; rate != 3 {
		t.Errorf("keystroke_rate = %v, want 3", rate)
	}
}

func TestSampleValidate(t *testing.T) {
	tests := []struct {
		name    string
		sample  Sample
		wantErr error
	}{
		{"valid", *literalSample(), nil},
		{
			name: "keystrokes out of order",
			sample: Sample{Keystrokes: []KeystrokeEvent{
				{Key: "a", Timestamp: 2},
				{Key: "b", Timestamp: 1},
			}},
			wantErr: ErrNonMonotonic,
		},
		{
			name:    "negative interval",
			sample:  Sample{Keystrokes: []KeystrokeEvent{{Key: "a", Timestamp: 1, IKI: Float(-5)}}},
			wantErr: ErrInvalidValue,
		},
		{
			name:    "nan velocity",
			sample:  Sample{Pointer: []PointerEvent{{Timestamp: 1, Velocity: Float(math.NaN())}}},
			wantErr: ErrInvalidValue,
		},
		{
			name:    "negative duration",
			sample:  Sample{Duration: -1},
			wantErr: ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sample.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewSample_RejectsInvalid(t *testing.T) {
	_, err := NewSample([]KeystrokeEvent{{Key: "a", Timestamp: 5}, {Key: "b", Timestamp: 4}}, nil, 1)
	if !errors.Is(err, ErrNonMonotonic) {
		t.Errorf("expected ErrNonMonotonic, got %v", err)
	}
}
