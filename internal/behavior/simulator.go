package behavior

import (
	"math"
	"math/rand/v2"
)

// Typist parameterizes a synthetic operator.
type Typist struct {
	Text           string  // characters typed, one event per rune
	MeanIKI        float64 // ms
	JitterIKI      float64 // ms, standard deviation
	Movements      int     // pointer events after typing
	MeanVelocity   float64 // px/s
	JitterVelocity float64 // px/s, standard deviation
	ClickEvery     int     // every n-th pointer event is a click; 0 disables clicks
}

// HumanTypist is a plausible human operator.
var HumanTypist = Typist{
	Text:           "the quick brown fox jumps over the lazy dog",
	MeanIKI:        160,
	JitterIKI:      35,
	Movements:      40,
	MeanVelocity:   650,
	JitterVelocity: 120,
	ClickEvery:     10,
}

// Simulator generates synthetic behavioral samples from a seeded source.
//
// It is a simulation mode for tests and load drills. Nothing on the access
// decision path constructs a Simulator: a missing or failed capture is a
// denial, never a reason to substitute generated data.
type Simulator struct {
	rng    *rand.Rand
	typist Typist
}

// NewSimulator returns a deterministic simulator for the given seed.
func NewSimulator(seed uint64, t Typist) *Simulator {
	return &Simulator{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		typist: t,
	}
}

// Sample generates one collection session.
func (s *Simulator) Sample() *Sample {
	t := s.typist
	out := &Sample{}
	now := 0.0

	for i, r := range t.Text {
		ev := KeystrokeEvent{Key: string(r)}
		if i > 0 {
			iki := math.Max(1, t.MeanIKI+t.JitterIKI*s.rng.NormFloat64())
			now += iki / 1000
			ev.IKI = Float(iki)
		}
		ev.Timestamp = now
		out.Keystrokes = append(out.Keystrokes, ev)
	}

	x, y := 400.0, 300.0
	for i := 0; i < t.Movements; i++ {
		dt := 0.016 + 0.004*s.rng.Float64()
		now += dt
		ev := PointerEvent{Timestamp: now, Click: t.ClickEvery > 0 && (i+1)%t.ClickEvery == 0}
		if i > 0 {
			v := math.Max(0, t.MeanVelocity+t.JitterVelocity*s.rng.NormFloat64())
			d := v * dt
			angle := s.rng.Float64() * 2 * math.Pi
			x += d * math.Cos(angle)
			y += d * math.Sin(angle)
			ev.Distance = Float(d)
			ev.Velocity = Float(v)
		}
		ev.X, ev.Y = x, y
		out.Pointer = append(out.Pointer, ev)
	}

	out.Duration = now
	return out
}

// Samples generates n sessions.
func (s *Simulator) Samples(n int) []*Sample {
	out := make([]*Sample, n)
	for i := range out {
		out[i] = s.Sample()
	}
	return out
}
