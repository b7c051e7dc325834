package behavior

import "github.com/SentinelX-Auth/SentinelX/internal/stats"

// Metrics is the pre-aggregated behavioral summary a client may send instead
// of (or alongside) a full sample. Every field is optional; the fraud
// evaluator only flags the fields that are present.
type Metrics struct {
	IKIMean       *float64 `json:"iki_mean,omitempty"`
	IKIStd        *float64 `json:"iki_std,omitempty"`
	KeystrokeRate *float64 `json:"keystroke_rate,omitempty"`
	MouseVelocity *float64 `json:"mouse_velocity,omitempty"`
	ClickRate     *float64 `json:"click_rate,omitempty"`
	TotalTime     *float64 `json:"total_time,omitempty"` // ms
}

// Empty reports whether no metric is present.
func (m *Metrics) Empty() bool {
	return m == nil || (m.IKIMean == nil && m.IKIStd == nil && m.KeystrokeRate == nil &&
		m.MouseVelocity == nil && m.ClickRate == nil && m.TotalTime == nil)
}

// Get returns the named metric or def when absent.
func (m *Metrics) Get(name string, def float64) float64 {
	if m == nil {
		return def
	}
	var p *float64
	switch name {
	case "iki_mean":
		p = m.IKIMean
	case "iki_std":
		p = m.IKIStd
	case "keystroke_rate":
		p = m.KeystrokeRate
	case "mouse_velocity":
		p = m.MouseVelocity
	case "click_rate":
		p = m.ClickRate
	case "total_time":
		p = m.TotalTime
	}
	if p == nil {
		return def
	}
	return *p
}

// Summarize derives Metrics from a full sample. It returns nil for an empty
// sample so that callers treat it as "no metrics supplied".
func Summarize(s *Sample) *Metrics {
	if s.Empty() {
		return nil
	}

	m := &Metrics{TotalTime: Float(s.Duration * 1000)}

	if len(s.Keystrokes) > 0 {
		ikis := make([]float64, 0, len(s.Keystrokes))
		for _, k := range s.Keystrokes {
			if k.IKI != nil {
				ikis = append(ikis, *k.IKI)
			}
		}
		if len(ikis) > 0 {
			m.IKIMean = Float(stats.Mean(ikis))
			m.IKIStd = Float(stats.StdDev(ikis))
		}
		first, last := s.Keystrokes[0].Timestamp, s.Keystrokes[len(s.Keystrokes)-1].Timestamp
		m.KeystrokeRate = Float(eventRate(len(s.Keystrokes), first, last))
	}

	if len(s.Pointer) > 0 {
		var velocities []float64
		clicks := 0
		for _, p := range s.Pointer {
			if p.Velocity != nil {
				velocities = append(velocities, *p.Velocity)
			}
			if p.Click {
				clicks++
			}
		}
		if len(velocities) > 0 {
			m.MouseVelocity = Float(stats.Mean(velocities))
		}
		seconds := s.Duration
		if seconds < 1 {
			seconds = 1
		}
		m.ClickRate = Float(float64(clicks) / seconds)
	}

	return m
}
