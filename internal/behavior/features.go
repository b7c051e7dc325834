package behavior

import (
	"math"

	"github.com/SentinelX-Auth/SentinelX/internal/stats"
)

// Field counts of the feature vector. The order of FeatureNames is a wire
// contract with stored identity profiles: never reorder, only append with a
// profile version bump.
const (
	KeystrokeFeatures = 10
	PointerFeatures   = 13
	VectorLen         = KeystrokeFeatures + PointerFeatures
)

// FeatureNames lists the vector fields in order.
var FeatureNames = [VectorLen]string{
	"iki_mean", "iki_std", "iki_min", "iki_max", "iki_median", "iki_q25", "iki_q75",
	"total_keystrokes", "keystroke_rate", "unique_keys",
	"distance_mean", "distance_std", "distance_min", "distance_max",
	"distance_median", "distance_total", "velocity_mean", "velocity_std",
	"velocity_min", "velocity_max", "velocity_median", "total_movements", "movement_rate",
}

// Vector is the fixed-length numeric fingerprint of a sample.
type Vector [VectorLen]float64

// Slice returns the vector as a fresh slice.
func (v Vector) Slice() []float64 {
	out := make([]float64, VectorLen)
	copy(out, v[:])
	return out
}

// Map returns the vector keyed by feature name.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, VectorLen)
	for i, name := range FeatureNames {
		m[name] = v[i]
	}
	return m
}

// Extract computes the feature vector of s. It never fails: a nil sample or
// empty event lists produce zeros for the affected block.
func Extract(s *Sample) Vector {
	var v Vector
	if s == nil {
		return v
	}
	keystrokeBlock(s.Keystrokes, v[:KeystrokeFeatures])
	pointerBlock(s.Pointer, v[KeystrokeFeatures:])
	return v
}

func keystrokeBlock(events []KeystrokeEvent, out []float64) {
	if len(events) == 0 {
		return
	}

	ikis := make([]float64, 0, len(events))
	keys := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e.IKI != nil {
			ikis = append(ikis, *e.IKI)
		}
		keys[e.Key] = struct{}{}
	}
	if len(ikis) == 0 {
		ikis = []float64{0}
	}

	out[0] = stats.Mean(ikis)
	out[1] = stats.StdDev(ikis)
	out[2] = stats.Min(ikis)
	out[3] = stats.Max(ikis)
	out[4] = stats.Median(ikis)
	out[5] = stats.Percentile(ikis, 25)
	out[6] = stats.Percentile(ikis, 75)
	out[7] = float64(len(events))
	out[8] = eventRate(len(events), events[0].Timestamp, events[len(events)-1].Timestamp)
	out[9] = float64(len(keys))
}

func pointerBlock(events []PointerEvent, out []float64) {
	if len(events) == 0 {
		return
	}

	distances := make([]float64, 0, len(events))
	velocities := make([]float64, 0, len(events))
	for _, e := range events {
		if e.Distance != nil {
			distances = append(distances, *e.Distance)
		}
		if e.Velocity != nil {
			velocities = append(velocities, *e.Velocity)
		}
	}
	if len(distances) == 0 {
		distances = []float64{0}
	}
	if len(velocities) == 0 {
		velocities = []float64{0}
	}

	out[0] = stats.Mean(distances)
	out[1] = stats.StdDev(distances)
	out[2] = stats.Min(distances)
	out[3] = stats.Max(distances)
	out[4] = stats.Median(distances)
	out[5] = stats.Sum(distances)
	out[6] = stats.Mean(velocities)
	out[7] = stats.StdDev(velocities)
	out[8] = stats.Min(velocities)
	out[9] = stats.Max(velocities)
	out[10] = stats.Median(velocities)
	out[11] = float64(len(events))
	out[12] = eventRate(len(events), events[0].Timestamp, events[len(events)-1].Timestamp)
}

// eventRate is count over elapsed seconds with a one-second floor on the
// denominator. A single event has no rate.
func eventRate(count int, first, last float64) float64 {
	if count < 2 {
		return 0
	}
	return float64(count) / math.Max(1, last-first)
}
