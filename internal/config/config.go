// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint     string  // OTLP gRPC collector; tracing is disabled when empty
	TraceSampleRatio float64 // share of new traces exported, in (0, 1]

	// HTTP rate limiting
	RateLimitRPM int

	// Fraud screening
	FraudMaxRequestsPerMinute int
	FraudPolicyFile           string // optional YAML policy; env overrides its rate ceiling

	// Behavioral model
	AnomalyThreshold     string // "default", "strict", "lenient" or a float
	AnomalyContamination float64
	EnrollmentMinSamples int
	EnrollWorkers        int

	// Credentials
	PasswordIterations int

	// Decision policy
	EscalationFloor  float64
	LoginSuspension  time.Duration
	ReauthSuspension time.Duration
	DecisionTimeout  time.Duration

	// Security
	AdminSecret        string   // Admin API secret; admin routes are closed when empty
	CORSAllowedOrigins []string // "*" allows any origin without credentials
	TrustedProxies     []string // IPs or CIDRs allowed to set X-Forwarded-For; none when empty
}

const (
	DefaultPort                 = "8080"
	DefaultEnv                  = "development"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "json"
	DefaultRateLimitRPM         = 120
	DefaultFraudMaxRequests     = 20
	DefaultAnomalyThreshold     = "default"
	DefaultAnomalyContamination = 0.1
	DefaultEnrollmentMinSamples = 5
	DefaultEnrollWorkers        = 2
	DefaultPasswordIterations   = 100000
	DefaultEscalationFloor      = 30.0
	DefaultLoginSuspension      = 24 * time.Hour
	DefaultReauthSuspension     = time.Minute
	DefaultDecisionTimeout      = 5 * time.Second
	DefaultCORSAllowedOrigins   = "*"
	DefaultTraceSampleRatio     = 1.0
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                      getEnv("PORT", DefaultPort),
		Env:                       getEnv("ENV", DefaultEnv),
		LogLevel:                  getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:                 getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		OTLPEndpoint:              os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:          getEnvFloat("TRACE_SAMPLE_RATIO", DefaultTraceSampleRatio),
		RateLimitRPM:              getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		FraudMaxRequestsPerMinute: getEnvInt("FRAUD_MAX_REQUESTS_PER_MINUTE", DefaultFraudMaxRequests),
		FraudPolicyFile:           os.Getenv("FRAUD_POLICY_FILE"),
		AnomalyThreshold:          getEnv("ANOMALY_THRESHOLD", DefaultAnomalyThreshold),
		AnomalyContamination:      getEnvFloat("ANOMALY_CONTAMINATION", DefaultAnomalyContamination),
		EnrollmentMinSamples:      getEnvInt("ENROLLMENT_MIN_SAMPLES", DefaultEnrollmentMinSamples),
		EnrollWorkers:             getEnvInt("ENROLL_WORKERS", DefaultEnrollWorkers),
		PasswordIterations:        getEnvInt("PASSWORD_ITERATIONS", DefaultPasswordIterations),
		EscalationFloor:           getEnvFloat("ESCALATION_FLOOR", DefaultEscalationFloor),
		LoginSuspension:           getEnvDuration("LOGIN_SUSPENSION", DefaultLoginSuspension),
		ReauthSuspension:          getEnvDuration("REAUTH_SUSPENSION", DefaultReauthSuspension),
		DecisionTimeout:           getEnvDuration("DECISION_TIMEOUT", DefaultDecisionTimeout),
		AdminSecret:               os.Getenv("ADMIN_SECRET"),
		CORSAllowedOrigins:        getEnvList("CORS_ALLOWED_ORIGINS", DefaultCORSAllowedOrigins),
		TrustedProxies:            getEnvList("TRUSTED_PROXIES", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that every setting is usable
func (c *Config) Validate() error {
	switch {
	case c.Port == "":
		return fmt.Errorf("PORT is required")
	case c.LogFormat != "json" && c.LogFormat != "text":
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	case c.RateLimitRPM < 1:
		return fmt.Errorf("RATE_LIMIT_RPM must be at least 1")
	case c.FraudMaxRequestsPerMinute < 1:
		return fmt.Errorf("FRAUD_MAX_REQUESTS_PER_MINUTE must be at least 1")
	case c.AnomalyContamination <= 0 || c.AnomalyContamination > 0.5:
		return fmt.Errorf("ANOMALY_CONTAMINATION must be in (0, 0.5]")
	case c.EnrollmentMinSamples < 2:
		return fmt.Errorf("ENROLLMENT_MIN_SAMPLES must be at least 2")
	case c.EnrollWorkers < 1:
		return fmt.Errorf("ENROLL_WORKERS must be at least 1")
	case c.PasswordIterations < 10000:
		return fmt.Errorf("PASSWORD_ITERATIONS must be at least 10000")
	case c.EscalationFloor < 0 || c.EscalationFloor > 100:
		return fmt.Errorf("ESCALATION_FLOOR must be between 0 and 100")
	case c.LoginSuspension <= 0, c.ReauthSuspension <= 0:
		return fmt.Errorf("suspension durations must be positive")
	case c.DecisionTimeout <= 0:
		return fmt.Errorf("DECISION_TIMEOUT must be positive")
	case c.TraceSampleRatio <= 0 || c.TraceSampleRatio > 1:
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be in (0, 1]")
	}

	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDuration accepts Go duration syntax ("90s", "24h") or a bare number
// of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
