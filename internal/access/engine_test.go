package access

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SentinelX-Auth/SentinelX/internal/accounts"
	"github.com/SentinelX-Auth/SentinelX/internal/anomaly"
	"github.com/SentinelX-Auth/SentinelX/internal/audit"
	"github.com/SentinelX-Auth/SentinelX/internal/behavior"
	"github.com/SentinelX-Auth/SentinelX/internal/circuitbreaker"
	"github.com/SentinelX-Auth/SentinelX/internal/fraud"
	"github.com/SentinelX-Auth/SentinelX/internal/license"
	"github.com/SentinelX-Auth/SentinelX/internal/suspension"
)

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	engine      *Engine
	clock       *testClock
	accounts    *accounts.Service
	licenses    *license.Registry
	suspensions *suspension.Ledger
	model       *anomaly.Model
	enroller    *anomaly.Enroller
	audit       *audit.Log
}

type fixtureOpts struct {
	suspensionStore suspension.Store
	cfg             Config
}

func newFixture(t *testing.T, opts ...func(*fixtureOpts)) *fixture {
	t.Helper()
	o := fixtureOpts{suspensionStore: suspension.NewMemoryStore()}
	for _, fn := range opts {
		fn(&o)
	}

	logger := slog.New(slog.DiscardHandler)
	clock := newTestClock()

	policy := fraud.DefaultPolicy()
	policy.MaxRequestsPerMinute = 1000
	evaluator, err := fraud.NewEvaluator(policy, nil)
	require.NoError(t, err)

	f := &fixture{
		clock:       clock,
		accounts:    accounts.NewService(accounts.NewMemoryStore(), accounts.NewHasher(1000), accounts.RandomDevices{}, logger),
		licenses:    license.NewRegistry(license.NewMemoryStore(), logger).WithClock(clock.Now),
		suspensions: suspension.NewLedger(o.suspensionStore, logger).WithClock(clock.Now),
		model:       anomaly.NewModel(anomaly.NewMemoryStore()),
		audit:       audit.NewLog(audit.NewMemoryStore(), logger).WithClock(clock.Now),
	}
	f.enroller = anomaly.NewEnroller(f.model, 1, logger)
	f.engine = NewEngine(Deps{
		Fraud:       evaluator,
		Licenses:    f.licenses,
		Suspensions: f.suspensions,
		Model:       f.model,
		Enroller:    f.enroller,
		Accounts:    f.accounts,
		Audit:       f.audit,
		Logger:      logger,
	}, o.cfg)
	f.enroller.WithOnTrained(f.engine.OnTrained)
	return f
}

func withSuspensionStore(s suspension.Store) func(*fixtureOpts) {
	return func(o *fixtureOpts) { o.suspensionStore = s }
}

func withTimeout(d time.Duration) func(*fixtureOpts) {
	return func(o *fixtureOpts) { o.cfg.DecisionTimeout = d }
}

func (f *fixture) register(t *testing.T, username, password, device string) {
	t.Helper()
	_, err := f.accounts.Register(context.Background(), username, password, device)
	require.NoError(t, err)
}

// enroll trains a profile for username and returns a sample the profile
// accepts as genuine.
func (f *fixture) enroll(t *testing.T, username string) *behavior.Sample {
	t.Helper()
	ctx := context.Background()
	samples := make([]*behavior.Sample, anomaly.DefaultEnrollmentSamples)
	for i := range samples {
		samples[i] = behavior.NewSimulator(uint64(i+1), behavior.HumanTypist).Sample()
	}
	p, err := f.model.Enroll(ctx, username, samples)
	require.NoError(t, err)
	require.NoError(t, f.engine.OnTrained(ctx, p))

	best, bestScore := samples[0], -2.0
	for _, s := range samples {
		score := p.Forest.ScoreSamples(p.Scaler.Transform(behavior.Extract(s).Slice()))
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	return best
}

func (f *fixture) history(t *testing.T, username string) []*audit.Attempt {
	t.Helper()
	h, err := f.audit.History(context.Background(), username, 50)
	require.NoError(t, err)
	return h
}

// scriptedBot types far faster than HumanTypist with no variance and drives
// the pointer at a constant, inhuman velocity.
func scriptedBot() behavior.Typist {
	t := behavior.HumanTypist
	t.Text = "pack my box with five dozen liquor jugs while the quick brown fox jumps over the lazy dog again and again"
	t.MeanIKI = 16
	t.JitterIKI = 0
	t.MeanVelocity = 9000
	t.JitterVelocity = 0
	return t
}

// humanMetrics are declared client metrics that pass every fraud check.
func humanMetrics() *behavior.Metrics {
	return &behavior.Metrics{
		IKIMean:       behavior.Float(160),
		IKIStd:        behavior.Float(35),
		KeystrokeRate: behavior.Float(6),
		MouseVelocity: behavior.Float(650),
		TotalTime:     behavior.Float(7000),
	}
}

func passwordLogin(username, password string, sample *behavior.Sample) LoginRequest {
	return LoginRequest{
		Origin:     "203.0.113.10",
		UserAgent:  browserUA,
		Username:   username,
		Credential: PasswordCredential{Secret: password},
		Sample:     sample,
	}
}

func TestLogin_PasswordNotEnrolledGranted(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "hunter22", "dev-1")

	d := f.engine.Login(context.Background(), passwordLogin("Alice", "hunter22", nil))
	assert.Equal(t, OutcomeGranted, d.Outcome)
	assert.Equal(t, StageComplete, d.Stage)
	assert.Equal(t, "alice", d.Username)
	assert.Equal(t, MethodPassword, d.Method)
	assert.Nil(t, d.Behavior)
	assert.Equal(t, http.StatusOK, d.Status())

	h := f.history(t, "alice")
	require.Len(t, h, 1)
	assert.Equal(t, audit.OutcomeGranted, h[0].Outcome)
}

func TestLogin_PasswordFailuresDoNotLeak(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "hunter22", "dev-1")
	ctx := context.Background()

	unknown := f.engine.Login(ctx, passwordLogin("mallory", "whatever", nil))
	wrong := f.engine.Login(ctx, passwordLogin("alice", "nope", nil))

	for _, d := range []*Decision{unknown, wrong} {
		assert.Equal(t, OutcomeDenied, d.Outcome)
		assert.Equal(t, StageCredential, d.Stage)
		assert.Equal(t, "invalid username or password", d.Reason)
		assert.Equal(t, http.StatusUnauthorized, d.Status())
	}

	h := f.history(t, "mallory")
	require.Len(t, h, 1)
	require.NotNil(t, h[0].Score)
	assert.Equal(t, audit.MarkerUnknownUser, *h[0].Score)

	h = f.history(t, "alice")
	require.Len(t, h, 1)
	require.NotNil(t, h[0].Score)
	assert.Equal(t, audit.MarkerBadPassword, *h[0].Score)
}

func TestLogin_GenuineBehaviorGranted(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "hunter22", "dev-1")
	genuine := f.enroll(t, "alice")

	d := f.engine.Login(context.Background(), passwordLogin("alice", "hunter22", genuine))
	require.Equal(t, OutcomeGranted, d.Outcome, d.Reason)
	require.NotNil(t, d.Behavior)
	assert.True(t, d.Behavior.Authentic)
	assert.Greater(t, d.Behavior.Score, 50.0)

	h := f.history(t, "alice")
	require.Len(t, h, 1)
	require.NotNil(t, h[0].Score)
	assert.InDelta(t, 1-d.Behavior.Score/100, *h[0].Score, 1e-9)
}

func TestLogin_EnrolledWithoutSampleDenied(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "hunter22", "dev-1")
	f.enroll(t, "alice")

	d := f.engine.Login(context.Background(), passwordLogin("alice", "hunter22", nil))
	assert.Equal(t, OutcomeDenied, d.Outcome)
	assert.Equal(t, StageBehavioral, d.Stage)
	assert.Equal(t, "behavioral sample required", d.Reason)
}

func TestLogin_LowConfidenceEscalates(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "hunter22", "dev-1")
	f.enroll(t, "alice")
	ctx := context.Background()

	req := passwordLogin("alice", "hunter22", behavior.NewSimulator(7, scriptedBot()).Sample())
	req.Metrics = humanMetrics()
	req.DeviceID = "dev-2"

	d := f.engine.Login(ctx, req)
	require.Equal(t, OutcomeSuspended, d.Outcome, d.Reason)
	assert.Equal(t, StageBehavioral, d.Stage)
	require.NotNil(t, d.Until)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), *d.Until)
	require.NotNil(t, d.Behavior)
	assert.Less(t, d.Behavior.Score, 30.0)
	assert.Equal(t, http.StatusForbidden, d.Status())

	// Account, requesting device and registered device are all held.
	for _, k := range []struct {
		ns      suspension.Namespace
		subject string
	}{
		{suspension.NamespaceAccount, "alice"},
		{suspension.NamespaceDevice, "dev-1"},
		{suspension.NamespaceDevice, "dev-2"},
	} {
		until, held, err := f.suspensions.IsSuspended(ctx, k.ns, k.subject)
		require.NoError(t, err)
		assert.True(t, held, "%s/%s", k.ns, k.subject)
		assert.Equal(t, *d.Until, until)
	}

	// Even the right password is now refused at the suspension stage.
	again := f.engine.Login(ctx, passwordLogin("alice", "hunter22", nil))
	assert.Equal(t, OutcomeSuspended, again.Outcome)
	assert.Equal(t, StageSuspension, again.Stage)
}

func TestLogin_SuspensionExpires(t *testing.T) {
	f := newFixture(t)
	f.register(t, "carol", "s3cret!!", "dev-c")
	ctx := context.Background()

	until := f.clock.Now().Add(60 * time.Second)
	require.NoError(t, f.suspensions.Suspend(ctx, suspension.NamespaceAccount, "carol", until, "manual"))

	f.clock.Advance(10 * time.Second)
	d := f.engine.Login(ctx, passwordLogin("carol", "s3cret!!", nil))
	assert.Equal(t, OutcomeSuspended, d.Outcome)
	assert.Equal(t, StageSuspension, d.Stage)
	require.NotNil(t, d.Until)
	assert.Equal(t, until, *d.Until)

	// A wrong password is still reported as suspended, not as a bad password.
	d = f.engine.Login(ctx, passwordLogin("carol", "wrong", nil))
	assert.Equal(t, OutcomeSuspended, d.Outcome)

	f.clock.Advance(51 * time.Second)
	d = f.engine.Login(ctx, passwordLogin("carol", "s3cret!!", nil))
	assert.Equal(t, OutcomeGranted, d.Outcome, d.Reason)

	_, held, err := f.suspensions.IsSuspended(ctx, suspension.NamespaceAccount, "carol")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestLogin_DeviceBanBlocksAccount(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "hunter22", "dev-1")
	ctx := context.Background()

	_, err := f.suspensions.BanDevice(ctx, "dev-1", time.Hour, "stolen")
	require.NoError(t, err)

	d := f.engine.Login(ctx, passwordLogin("alice", "hunter22", nil))
	assert.Equal(t, OutcomeSuspended, d.Outcome)
	assert.Contains(t, d.Reason, "device suspended")
}

func TestLogin_License(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lic, err := f.licenses.Issue(ctx, license.IssueRequest{Owner: "acme", MaxUsers: 1})
	require.NoError(t, err)

	login := func(username, token string) *Decision {
		return f.engine.Login(ctx, LoginRequest{
			Origin:     "203.0.113.10",
			UserAgent:  browserUA,
			Username:   username,
			DeviceID:   "dev-" + username,
			Credential: LicenseCredential{Token: token},
		})
	}

	t.Run("first user takes the seat and is provisioned", func(t *testing.T) {
		d := login("dave", lic.Token)
		assert.Equal(t, OutcomeGranted, d.Outcome, d.Reason)
		assert.Equal(t, MethodLicense, d.Method)

		acct, err := f.accounts.Get(ctx, "dave")
		require.NoError(t, err)
		assert.Equal(t, "dev-dave", acct.DeviceID)
		assert.False(t, acct.HasPassword())

		info, err := f.licenses.Info(ctx, lic.Token)
		require.NoError(t, err)
		assert.Equal(t, int64(1), info.TotalLogins)
	})

	t.Run("second user is over capacity", func(t *testing.T) {
		d := login("erin", lic.Token)
		assert.Equal(t, OutcomeDenied, d.Outcome)
		assert.Equal(t, StageCredential, d.Stage)
		h := f.history(t, "erin")
		require.Len(t, h, 1)
		require.NotNil(t, h[0].Score)
		assert.Equal(t, audit.MarkerUnauthorizedLicense, *h[0].Score)
	})

	t.Run("unknown token", func(t *testing.T) {
		d := login("frank", "SX-DOESNOTEXIST")
		assert.Equal(t, OutcomeDenied, d.Outcome)
		assert.Equal(t, "invalid license: license not found", d.Reason)
		h := f.history(t, "frank")
		require.Len(t, h, 1)
		require.NotNil(t, h[0].Score)
		assert.Equal(t, audit.MarkerInvalidLicense, *h[0].Score)
	})

	t.Run("revoked", func(t *testing.T) {
		require.NoError(t, f.licenses.Revoke(ctx, lic.Token))
		d := login("dave", lic.Token)
		assert.Equal(t, OutcomeDenied, d.Outcome)
		assert.Equal(t, "invalid license: license has been revoked", d.Reason)
	})
}

func TestLogin_FraudBlocked(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "hunter22", "dev-1")

	req := passwordLogin("alice", "hunter22", behavior.NewSimulator(3, scriptedBot()).Sample())
	req.UserAgent = "python-requests/2.31"

	d := f.engine.Login(context.Background(), req)
	assert.Equal(t, OutcomeDenied, d.Outcome)
	assert.Equal(t, StageFraud, d.Stage)
	require.NotNil(t, d.Fraud)
	assert.True(t, d.Fraud.ShouldBlock)
	assert.True(t, d.Fraud.Signals.BotDetected)

	h := f.history(t, "alice")
	require.Len(t, h, 1)
	assert.True(t, h[0].FraudBlocked)
	require.NotNil(t, h[0].Score)
	assert.Equal(t, d.Fraud.FraudScore, *h[0].Score)
}

func TestLogin_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   LoginRequest
		field string
	}{
		{"missing username", LoginRequest{Credential: PasswordCredential{Secret: "x"}}, "username"},
		{"missing credential", LoginRequest{Username: "alice"}, "credential"},
		{"bad characters", LoginRequest{Username: "al ice!", Credential: PasswordCredential{Secret: "x"}}, "username"},
		{"bad sample", LoginRequest{
			Username:   "alice",
			Credential: PasswordCredential{Secret: "x"},
			Sample:     &behavior.Sample{Duration: -1},
		}, "sample"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := f.engine.Login(ctx, tt.req)
			assert.Equal(t, OutcomeDenied, d.Outcome)
			assert.Equal(t, StageValidation, d.Stage)
			assert.Equal(t, http.StatusBadRequest, d.Status())
			var verr *ValidationError
			require.ErrorAs(t, d.Err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

// brokenStore fails every suspension operation.
type brokenStore struct{}

var errConnRefused = errors.New("dial tcp 10.0.0.5:5432: connection refused")

func (brokenStore) Get(context.Context, suspension.Namespace, string) (*suspension.Record, error) {
	return nil, errConnRefused
}
func (brokenStore) Put(context.Context, *suspension.Record) error { return errConnRefused }
func (brokenStore) Delete(context.Context, suspension.Namespace, string) error {
	return errConnRefused
}
func (brokenStore) DeleteIfUntil(context.Context, suspension.Namespace, string, time.Time) (bool, error) {
	return false, errConnRefused
}
func (brokenStore) DeleteExpired(context.Context, time.Time) (int, error) { return 0, errConnRefused }

// stalledStore blocks every read until the caller gives up.
type stalledStore struct{ brokenStore }

func (stalledStore) Get(ctx context.Context, _ suspension.Namespace, _ string) (*suspension.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLogin_StorageFailureFailsClosed(t *testing.T) {
	f := newFixture(t, withSuspensionStore(brokenStore{}))
	f.register(t, "alice", "hunter22", "dev-1")

	d := f.engine.Login(context.Background(), passwordLogin("alice", "hunter22", nil))
	assert.Equal(t, OutcomeError, d.Outcome)
	assert.False(t, d.Granted())
	assert.Equal(t, StageSuspension, d.Stage)
	assert.ErrorIs(t, d.Err, ErrStorage)
	assert.ErrorIs(t, d.Err, errConnRefused)
	assert.Equal(t, http.StatusServiceUnavailable, d.Status())
}

func TestLogin_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t, withSuspensionStore(brokenStore{}))
	f.register(t, "alice", "hunter22", "dev-1")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.engine.Login(ctx, passwordLogin("alice", "hunter22", nil))
	}
	assert.Equal(t, circuitbreaker.StateOpen, f.engine.StoreState(storeSuspensions))

	d := f.engine.Login(ctx, passwordLogin("alice", "hunter22", nil))
	assert.Equal(t, OutcomeError, d.Outcome)
	assert.Contains(t, d.Err.Error(), "circuit open")
}

func TestLogin_TimeoutDenies(t *testing.T) {
	f := newFixture(t, withSuspensionStore(stalledStore{}), withTimeout(20*time.Millisecond))
	f.register(t, "alice", "hunter22", "dev-1")

	d := f.engine.Login(context.Background(), passwordLogin("alice", "hunter22", nil))
	assert.Equal(t, OutcomeDenied, d.Outcome)
	assert.Equal(t, StageDeadline, d.Stage)
	assert.ErrorIs(t, d.Err, context.DeadlineExceeded)
	assert.Equal(t, http.StatusServiceUnavailable, d.Status())
}

func TestReauthenticate(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "hunter22", "dev-1")
	genuine := f.enroll(t, "alice")
	ctx := context.Background()

	reauth := func(sample *behavior.Sample, m *behavior.Metrics) *Decision {
		return f.engine.Reauthenticate(ctx, ReauthRequest{
			Origin:    "203.0.113.10",
			UserAgent: browserUA,
			Username:  "alice",
			Sample:    sample,
			Metrics:   m,
		})
	}

	d := reauth(genuine, nil)
	assert.Equal(t, OutcomeGranted, d.Outcome, d.Reason)
	assert.Equal(t, MethodBehavior, d.Method)

	d = reauth(behavior.NewSimulator(7, scriptedBot()).Sample(), humanMetrics())
	require.Equal(t, OutcomeSuspended, d.Outcome, d.Reason)
	require.NotNil(t, d.Until)
	assert.Equal(t, f.clock.Now().Add(time.Minute), *d.Until)

	// Re-auth escalation holds the account only.
	_, held, err := f.suspensions.IsSuspended(ctx, suspension.NamespaceDevice, "dev-1")
	require.NoError(t, err)
	assert.False(t, held)

	f.clock.Advance(61 * time.Second)
	d = reauth(genuine, nil)
	assert.Equal(t, OutcomeGranted, d.Outcome, d.Reason)
}

func TestReauthenticate_RequiresProfile(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "hunter22", "dev-1")
	sample := behavior.NewSimulator(1, behavior.HumanTypist).Sample()
	ctx := context.Background()

	d := f.engine.Reauthenticate(ctx, ReauthRequest{UserAgent: browserUA, Username: "alice", Sample: sample})
	assert.Equal(t, OutcomeDenied, d.Outcome)
	assert.Equal(t, StageBehavioral, d.Stage)

	d = f.engine.Reauthenticate(ctx, ReauthRequest{UserAgent: browserUA, Username: "nobody", Sample: sample})
	assert.Equal(t, OutcomeDenied, d.Outcome)
	assert.Equal(t, StageCredential, d.Stage)

	d = f.engine.Reauthenticate(ctx, ReauthRequest{UserAgent: browserUA, Username: "alice"})
	assert.Equal(t, StageValidation, d.Stage)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.engine.Register(ctx, RegisterRequest{
		UserAgent: browserUA,
		Username:  " Alice ",
		Password:  "hunter22",
		DeviceID:  "dev-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", reg.Account.Username)
	require.NotNil(t, reg.License)
	assert.Equal(t, "alice", reg.License.Owner)
	assert.Equal(t, 1, reg.License.MaxUsers)

	ok, err := f.licenses.IsAuthorized(ctx, "alice", reg.License.Token)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.engine.Register(ctx, RegisterRequest{UserAgent: browserUA, Username: "alice", Password: "other"})
	assert.ErrorIs(t, err, accounts.ErrExists)

	_, err = f.engine.Register(ctx, RegisterRequest{UserAgent: browserUA, Username: "bob"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "password", verr.Field)
}

func TestRegister_BlockedNetwork(t *testing.T) {
	f := newFixture(t)
	policy := fraud.DefaultPolicy()
	policy.BlockedNetworks = []string{"198.51.100.0/24"}
	evaluator, err := fraud.NewEvaluator(policy, nil)
	require.NoError(t, err)
	f.engine.fraud = evaluator

	_, err = f.engine.Register(context.Background(), RegisterRequest{
		Origin:    "198.51.100.7",
		UserAgent: browserUA,
		Username:  "alice",
		Password:  "hunter22",
	})
	assert.ErrorIs(t, err, ErrBlocked)

	_, err = f.accounts.Get(context.Background(), "alice")
	assert.ErrorIs(t, err, accounts.ErrNotFound)
}

func TestEnroll(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "hunter22", "dev-1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.enroller.Start(ctx)
	defer f.enroller.Stop()

	samples := behavior.NewSimulator(11, behavior.HumanTypist).Samples(anomaly.DefaultEnrollmentSamples)
	job, err := f.engine.Enroll(ctx, EnrollRequest{Username: "alice", Samples: samples})
	require.NoError(t, err)
	assert.Equal(t, "alice", job.Identity)

	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()
	done, err := f.enroller.Wait(waitCtx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, anomaly.JobSucceeded, done.State, done.Error)

	status, err := f.engine.EnrollmentStatus(job.ID)
	require.NoError(t, err)
	assert.Equal(t, anomaly.JobSucceeded, status.State)

	acct, err := f.accounts.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acct.Enrolled)

	_, err = f.engine.Enroll(ctx, EnrollRequest{Username: "nobody", Samples: samples})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.EnrollmentStatus("missing")
	assert.ErrorIs(t, err, anomaly.ErrJobNotFound)
}

func TestDeleteIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.engine.Register(ctx, RegisterRequest{UserAgent: browserUA, Username: "alice", Password: "hunter22", DeviceID: "dev-1"})
	require.NoError(t, err)
	f.enroll(t, "alice")
	f.engine.Login(ctx, passwordLogin("alice", "wrong", nil))
	_, err = f.suspensions.BanDevice(ctx, "dev-1", time.Hour, "test")
	require.NoError(t, err)

	require.NoError(t, f.engine.DeleteIdentity(ctx, "Alice"))

	_, err = f.accounts.Get(ctx, "alice")
	assert.ErrorIs(t, err, accounts.ErrNotFound)
	trained, err := f.model.Trained(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, trained)
	_, held, err := f.suspensions.IsSuspended(ctx, suspension.NamespaceDevice, "dev-1")
	require.NoError(t, err)
	assert.False(t, held)
	assert.Empty(t, f.history(t, "alice"))
	info, err := f.licenses.Info(ctx, reg.License.Token)
	require.NoError(t, err)
	assert.Zero(t, info.UsersCount)

	assert.ErrorIs(t, f.engine.DeleteIdentity(ctx, "alice"), ErrNotFound)
}

func TestActivity(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "hunter22", "dev-1")
	ctx := context.Background()

	f.engine.Login(ctx, passwordLogin("alice", "hunter22", nil))
	f.clock.Advance(time.Minute)
	f.engine.Login(ctx, passwordLogin("alice", "wrong", nil))

	act, err := f.engine.Activity(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, "alice", act.Username)
	assert.False(t, act.Enrolled)
	assert.Equal(t, 2, act.Summary.Total)
	assert.Equal(t, 1, act.Summary.Successful)
	assert.Equal(t, 1, act.Summary.Failed)
	require.Len(t, act.History, 2)
	assert.Equal(t, audit.OutcomeDenied, act.History[0].Outcome)
	assert.Equal(t, act.Summary.SecurityScore(), act.SecurityScore)

	act, err = f.engine.Activity(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, act.History, 1)

	_, err = f.engine.Activity(ctx, "nobody", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
