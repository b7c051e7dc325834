package fraud

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidPolicy = errors.New("fraud: invalid policy")

// Policy holds the evaluator's tunable limits.
type Policy struct {
	MaxRequestsPerMinute int      `yaml:"max_requests_per_minute" json:"max_requests_per_minute"`
	WindowSeconds        int      `yaml:"window_seconds" json:"window_seconds"`
	MaxKeystrokeRate     float64  `yaml:"max_keystroke_rate" json:"max_keystroke_rate"`           // keys/s
	MaxMouseVelocity     float64  `yaml:"max_mouse_velocity" json:"max_mouse_velocity"`           // px/s
	MinInteractionTime   float64  `yaml:"min_interaction_time_ms" json:"min_interaction_time_ms"` // ms
	BlockedNetworks      []string `yaml:"blocked_networks" json:"blocked_networks"`
	TrustedNetworks      []string `yaml:"trusted_networks" json:"trusted_networks"`
}

// DefaultPolicy returns the built-in limits.
func DefaultPolicy() Policy {
	return Policy{
		MaxRequestsPerMinute: 20,
		WindowSeconds:        60,
		MaxKeystrokeRate:     20,
		MaxMouseVelocity:     5000,
		MinInteractionTime:   50,
	}
}

// LoadPolicy reads a YAML policy file. Keys absent from the file keep their
// default values.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return p, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Validate checks that every limit is usable.
func (p Policy) Validate() error {
	switch {
	case p.MaxRequestsPerMinute < 1:
		return fmt.Errorf("%w: max_requests_per_minute must be positive", ErrInvalidPolicy)
	case p.WindowSeconds < 1:
		return fmt.Errorf("%w: window_seconds must be positive", ErrInvalidPolicy)
	case p.MaxKeystrokeRate <= 0:
		return fmt.Errorf("%w: max_keystroke_rate must be positive", ErrInvalidPolicy)
	case p.MaxMouseVelocity <= 0:
		return fmt.Errorf("%w: max_mouse_velocity must be positive", ErrInvalidPolicy)
	case p.MinInteractionTime < 0:
		return fmt.Errorf("%w: min_interaction_time_ms must not be negative", ErrInvalidPolicy)
	}
	return nil
}

// Window returns the rate window length.
func (p Policy) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}
