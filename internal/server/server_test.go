package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SentinelX-Auth/SentinelX/internal/access"
	"github.com/SentinelX-Auth/SentinelX/internal/config"
	"github.com/SentinelX-Auth/SentinelX/internal/logging"
	"github.com/SentinelX-Auth/SentinelX/internal/security"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	adminSecret = "s3cret-admin"
	browserUA   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15"
)

// testConfig returns a minimal in-memory config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                      "0",
		Env:                       "test",
		LogLevel:                  "error",
		LogFormat:                 "text",
		RateLimitRPM:              60000,
		FraudMaxRequestsPerMinute: 1000,
		AnomalyThreshold:          "default",
		EnrollWorkers:             1,
		PasswordIterations:        1000,
		EscalationFloor:           config.DefaultEscalationFloor,
		LoginSuspension:           config.DefaultLoginSuspension,
		ReauthSuspension:          config.DefaultReauthSuspension,
		DecisionTimeout:           config.DefaultDecisionTimeout,
		AdminSecret:               adminSecret,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg, WithLogger(logging.Discard()), WithDrainDelay(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func do(s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", browserUA)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func admin() map[string]string {
	return map[string]string{security.AdminHeader: adminSecret}
}

func TestNew_InvalidThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.AnomalyThreshold = "paranoid"
	_, err := New(cfg, WithLogger(logging.Discard()))
	assert.Error(t, err)
}

func TestNew_MissingPolicyFile(t *testing.T) {
	cfg := testConfig()
	cfg.FraudPolicyFile = filepath.Join(t.TempDir(), "absent.yaml")
	_, err := New(cfg, WithLogger(logging.Discard()))
	assert.Error(t, err)
}

func TestNew_PolicyFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_requests_per_minute: 2\n"), 0o600))

	cfg := testConfig()
	cfg.FraudPolicyFile = path
	cfg.FraudMaxRequestsPerMinute = 0
	s := newTestServer(t, cfg)

	// Ceiling of 2 from the file: the third attempt from one origin is blocked.
	for i := 0; i < 2; i++ {
		w := do(s, http.MethodPost, "/v1/login", map[string]any{"username": "ghost", "password": "pw"}, nil)
		assert.NotEqual(t, http.StatusForbidden, w.Code, w.Body.String())
	}
	w := do(s, http.MethodPost, "/v1/login", map[string]any{"username": "ghost", "password": "pw"}, nil)
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	var got struct {
		Decision access.Decision `json:"decision"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, access.StageFraud, got.Decision.Stage)

	w = do(s, http.MethodGet, "/v1/admin/fraud/policy", nil, admin())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"max_requests_per_minute":2`)

	// Blocks are recorded in the background; httptest requests originate
	// from 192.0.2.1.
	require.Eventually(t, func() bool {
		w := do(s, http.MethodGet, "/v1/admin/fraud/assessments?origin=192.0.2.1", nil, admin())
		return w.Code == http.StatusOK && strings.Contains(w.Body.String(), `"rate_limited":true`)
	}, 2*time.Second, 10*time.Millisecond)
}

func loginFrom(s *Server, forwardedFor string) *httptest.ResponseRecorder {
	return do(s, http.MethodPost, "/v1/login",
		map[string]any{"username": "ghost", "password": "wrong password"},
		map[string]string{"X-Forwarded-For": forwardedFor})
}

func TestForwardedForIgnoredWithoutTrustedProxies(t *testing.T) {
	cfg := testConfig()
	cfg.FraudMaxRequestsPerMinute = 3
	s := newTestServer(t, cfg)

	// Each attempt claims a new client address; all come from 192.0.2.1.
	blocked := 0
	for i := 0; i < 10; i++ {
		w := loginFrom(s, fmt.Sprintf("203.0.113.%d", i+1))
		if w.Code == http.StatusForbidden {
			blocked++
		}
	}
	assert.Equal(t, 7, blocked)

	require.Eventually(t, func() bool {
		w := do(s, http.MethodGet, "/v1/admin/fraud/assessments?origin=192.0.2.1", nil, admin())
		return w.Code == http.StatusOK && strings.Contains(w.Body.String(), `"rate_limited":true`)
	}, 2*time.Second, 10*time.Millisecond)
	w := do(s, http.MethodGet, "/v1/admin/fraud/assessments?origin=203.0.113.1", nil, admin())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestForwardedForHonoredFromTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.FraudMaxRequestsPerMinute = 3
	cfg.TrustedProxies = []string{"192.0.2.0/24"}
	s := newTestServer(t, cfg)

	for i := 0; i < 10; i++ {
		w := loginFrom(s, fmt.Sprintf("203.0.113.%d", i+1))
		assert.NotEqual(t, http.StatusForbidden, w.Code, w.Body.String())
	}

	// One real client behind the proxy still hits its own ceiling.
	var last int
	for i := 0; i < 4; i++ {
		last = loginFrom(s, "198.51.100.7").Code
	}
	assert.Equal(t, http.StatusForbidden, last)
}

func TestNew_InvalidTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.TrustedProxies = []string{"not-an-address"}
	_, err := New(cfg, WithLogger(logging.Discard()))
	assert.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(s, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(s, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "workers not started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	require.Eventually(t, func() bool {
		return do(s, http.MethodGet, "/health", nil, nil).Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	w = do(s, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body HealthResponse
	w = do(s, http.MethodGet, "/health", nil, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, Version, body.Version)
	assert.Len(t, body.Checks, 4)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())
	do(s, http.MethodGet, "/health/live", nil, nil)

	w := do(s, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sentinelx_http_requests_total")
}

func TestMiddlewareHeaders(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, http.MethodGet, "/health/live", nil, map[string]string{logging.RequestIDHeader: "trace-me"})
	assert.Equal(t, "trace-me", w.Header().Get(logging.RequestIDHeader))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPM = 1
	s := newTestServer(t, cfg)

	var last int
	for i := 0; i < 11; i++ {
		last = do(s, http.MethodGet, "/health/live", nil, nil).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestAdminRoutesRequireSecret(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, http.MethodGet, "/v1/admin/licenses", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(s, http.MethodGet, "/v1/admin/licenses", nil, map[string]string{security.AdminHeader: "wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(s, http.MethodGet, "/v1/admin/licenses", nil, admin())
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(s, http.MethodGet, "/v1/admin/identities/a/activity", nil, admin())
	assert.Equal(t, http.StatusBadRequest, w.Code, "username below minimum length")
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	cfg := testConfig()
	cfg.AdminSecret = ""
	s := newTestServer(t, cfg)

	w := do(s, http.MethodGet, "/v1/admin/licenses", nil, admin())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEndToEnd_RegisterLicenseLogin(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, http.MethodPost, "/v1/register", map[string]any{
		"username":  "Carol",
		"password":  "correct horse",
		"device_id": "laptop-1",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// An admin-issued team license; the first login claims a seat.
	w = do(s, http.MethodPost, "/v1/admin/licenses", map[string]any{"owner": "acme", "max_users": 2, "tier": "pro"}, admin())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var issued struct {
		License struct {
			Token string `json:"token"`
		} `json:"license"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	token := issued.License.Token
	require.NotEmpty(t, token)

	w = do(s, http.MethodPost, "/v1/login", map[string]any{"username": "carol", "license_key": token}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(s, http.MethodGet, "/v1/admin/licenses/"+token, nil, admin())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"carol"`)

	w = do(s, http.MethodPost, "/v1/login", map[string]any{"username": "carol", "password": "correct horse"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(s, http.MethodGet, "/v1/admin/identities/carol/activity", nil, admin())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var act access.Activity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &act))
	assert.Equal(t, "carol", act.Username)
	assert.Equal(t, 2, act.Summary.Total)

	w = do(s, http.MethodDelete, "/v1/admin/identities/carol", nil, admin())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(s, http.MethodGet, "/v1/admin/licenses/"+token, nil, admin())
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"carol"`)

	w = do(s, http.MethodPost, "/v1/login", map[string]any{"username": "carol", "password": "correct horse"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMaskDSN(t *testing.T) {
	masked := maskDSN("postgres://app:hunter2@db:5432/sentinelx")
	assert.NotContains(t, masked, "hunter2")
	assert.Contains(t, masked, "app:")
	assert.Equal(t, "postgres://db:5432/sentinelx", maskDSN("postgres://db:5432/sentinelx"))
}
