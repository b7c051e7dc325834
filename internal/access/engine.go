package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/SentinelX-Auth/SentinelX/internal/accounts"
	"github.com/SentinelX-Auth/SentinelX/internal/anomaly"
	"github.com/SentinelX-Auth/SentinelX/internal/audit"
	"github.com/SentinelX-Auth/SentinelX/internal/behavior"
	"github.com/SentinelX-Auth/SentinelX/internal/circuitbreaker"
	"github.com/SentinelX-Auth/SentinelX/internal/fraud"
	"github.com/SentinelX-Auth/SentinelX/internal/license"
	"github.com/SentinelX-Auth/SentinelX/internal/logging"
	"github.com/SentinelX-Auth/SentinelX/internal/suspension"
	"github.com/SentinelX-Auth/SentinelX/internal/traces"
)

// Breaker keys, one per backing store.
const (
	storeAccounts    = "accounts"
	storeLicenses    = "licenses"
	storeProfiles    = "profiles"
	storeSuspensions = "suspensions"
)

const reasonEscalation = "behavioral escalation"

// Config holds the decision policy.
type Config struct {
	EscalationFloor  float64       // confidence below this suspends
	LoginSuspension  time.Duration // hold placed by a failed login
	ReauthSuspension time.Duration // hold placed by a failed re-authentication
	DecisionTimeout  time.Duration
	HistoryLimit     int
}

// DefaultConfig returns the standard policy.
func DefaultConfig() Config {
	return Config{
		EscalationFloor:  30,
		LoginSuspension:  24 * time.Hour,
		ReauthSuspension: time.Minute,
		DecisionTimeout:  5 * time.Second,
		HistoryLimit:     20,
	}
}

// Deps are the services the engine orchestrates. Enroller may be nil when
// background enrollment is not offered.
type Deps struct {
	Fraud       *fraud.Evaluator
	Licenses    *license.Registry
	Suspensions *suspension.Ledger
	Model       *anomaly.Model
	Enroller    *anomaly.Enroller
	Accounts    *accounts.Service
	Audit       *audit.Log
	Logger      *slog.Logger
}

// Engine makes access decisions. It owns no state of its own.
type Engine struct {
	fraud       *fraud.Evaluator
	licenses    *license.Registry
	suspensions *suspension.Ledger
	model       *anomaly.Model
	enroller    *anomaly.Enroller
	accounts    *accounts.Service
	audit       *audit.Log
	logger      *slog.Logger
	cfg         Config
	breaker     *circuitbreaker.Breaker
}

// NewEngine creates a decision engine.
func NewEngine(d Deps, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.EscalationFloor <= 0 {
		cfg.EscalationFloor = def.EscalationFloor
	}
	if cfg.LoginSuspension <= 0 {
		cfg.LoginSuspension = def.LoginSuspension
	}
	if cfg.ReauthSuspension <= 0 {
		cfg.ReauthSuspension = def.ReauthSuspension
	}
	if cfg.DecisionTimeout <= 0 {
		cfg.DecisionTimeout = def.DecisionTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := circuitbreaker.New(5, 30*time.Second)
	b.OnTransition(func(key string, from, to circuitbreaker.State) {
		logger.Warn("store circuit changed state", "store", key, "from", from.String(), "to", to.String())
	})
	return &Engine{
		fraud:       d.Fraud,
		licenses:    d.Licenses,
		suspensions: d.Suspensions,
		model:       d.Model,
		enroller:    d.Enroller,
		accounts:    d.Accounts,
		audit:       d.Audit,
		logger:      logger,
		cfg:         cfg,
		breaker:     b,
	}
}

// Config returns the active policy.
func (e *Engine) Config() Config {
	return e.cfg
}

// Login runs the full decision pipeline for one attempt. It never returns
// nil and never grants on error or timeout.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (d *Decision) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "access.Login",
		traces.Identity(req.Username),
		traces.Origin(req.Origin),
	)
	defer func() {
		e.finish(ctx, span, "login", d, start)
	}()

	if err := req.Validate(); err != nil {
		return invalid(err)
	}
	username, err := normalizeUsername(req.Username)
	if err != nil {
		return invalid(err)
	}
	return e.withDeadline(ctx, func(ctx context.Context) *Decision {
		return e.login(ctx, username, &req)
	})
}

func (e *Engine) login(ctx context.Context, username string, req *LoginRequest) *Decision {
	if d := e.screen(ctx, username, req.Origin, req.UserAgent, req.Metrics, req.Sample); d != nil {
		return d
	}

	acct, err := e.lookupAccount(ctx, username)
	if err != nil {
		return e.fail(username, StageSuspension, err)
	}
	devices := deviceIDs(req.DeviceID, acct)
	if d := e.checkSuspended(ctx, username, devices, req.Origin); d != nil {
		return d
	}

	method, acct, d := e.checkCredential(ctx, username, req)
	if d != nil {
		return d
	}
	devices = deviceIDs(req.DeviceID, acct)

	return e.checkBehavior(ctx, username, method, devices, req.Origin, req.Sample, e.cfg.LoginSuspension)
}

// screen runs the fraud stage. It returns nil when the request may proceed.
func (e *Engine) screen(ctx context.Context, username, origin, userAgent string, m *behavior.Metrics, s *behavior.Sample) *Decision {
	if m.Empty() {
		m = behavior.Summarize(s)
	}
	a := e.fraud.Evaluate(ctx, fraud.Request{Origin: origin, UserAgent: userAgent, Metrics: m})
	if !a.ShouldBlock {
		return nil
	}
	reason := a.Signals.BotReason
	if !a.Signals.BotDetected {
		reason = string(a.RiskLevel) + " fraud risk"
	}
	e.record(ctx, &audit.Attempt{
		Username:     username,
		Outcome:      audit.OutcomeDenied,
		Score:        &a.FraudScore,
		Reason:       "fraud: " + reason,
		Origin:       origin,
		FraudBlocked: true,
	})
	return &Decision{
		Outcome:  OutcomeDenied,
		Stage:    StageFraud,
		Reason:   "request blocked due to suspicious activity",
		Username: username,
		Fraud:    a,
	}
}

// checkSuspended joins the account hold and every known device ban. It
// returns nil when no hold is active.
func (e *Engine) checkSuspended(ctx context.Context, username string, devices []string, origin string) *Decision {
	type subject struct {
		ns   suspension.Namespace
		id   string
		noun string
	}
	subjects := []subject{{suspension.NamespaceAccount, username, "account"}}
	for _, id := range devices {
		subjects = append(subjects, subject{suspension.NamespaceDevice, id, "device"})
	}

	for _, s := range subjects {
		var until time.Time
		var held bool
		err := e.call(storeSuspensions, func() error {
			var err error
			until, held, err = e.suspensions.IsSuspended(ctx, s.ns, s.id)
			return err
		})
		if err != nil {
			return e.fail(username, StageSuspension, err)
		}
		if !held {
			continue
		}
		e.record(ctx, &audit.Attempt{
			Username: username,
			Outcome:  audit.OutcomeSuspended,
			Reason:   s.noun + " suspended",
			Origin:   origin,
		})
		u := until.UTC()
		return &Decision{
			Outcome:  OutcomeSuspended,
			Stage:    StageSuspension,
			Reason:   fmt.Sprintf("%s suspended until %s", s.noun, u.Format(time.RFC3339)),
			Username: username,
			Until:    &u,
		}
	}
	return nil
}

// checkCredential runs whichever credential arm the request carries.
func (e *Engine) checkCredential(ctx context.Context, username string, req *LoginRequest) (string, *accounts.Account, *Decision) {
	switch cred := req.Credential.(type) {
	case LicenseCredential:
		acct, d := e.checkLicense(ctx, username, cred.Token, req)
		return MethodLicense, acct, d
	case *LicenseCredential:
		acct, d := e.checkLicense(ctx, username, cred.Token, req)
		return MethodLicense, acct, d
	case PasswordCredential:
		acct, d := e.checkPassword(ctx, username, cred.Secret, req.Origin)
		return MethodPassword, acct, d
	case *PasswordCredential:
		acct, d := e.checkPassword(ctx, username, cred.Secret, req.Origin)
		return MethodPassword, acct, d
	default:
		return "", nil, invalid(&ValidationError{Field: "credential", Message: "is required"})
	}
}

func (e *Engine) checkLicense(ctx context.Context, username, token string, req *LoginRequest) (*accounts.Account, *Decision) {
	err := e.call(storeLicenses, func() error {
		return e.licenses.Validate(ctx, token)
	}, license.ErrNotFound, license.ErrInactive, license.ErrExpired)
	if err != nil {
		if isStoreFailure(err) {
			return nil, e.fail(username, StageCredential, err)
		}
		e.record(ctx, &audit.Attempt{
			Username: username,
			Outcome:  audit.OutcomeDenied,
			Method:   MethodLicense,
			Score:    marker(audit.MarkerInvalidLicense),
			Reason:   "invalid license",
			Origin:   req.Origin,
		})
		return nil, deny(username, StageCredential, "invalid license: "+licenseReason(err))
	}

	var ok bool
	err = e.call(storeLicenses, func() error {
		var err error
		ok, err = e.licenses.IsAuthorized(ctx, username, token)
		return err
	})
	if err != nil {
		return nil, e.fail(username, StageCredential, err)
	}
	if !ok {
		e.record(ctx, &audit.Attempt{
			Username: username,
			Outcome:  audit.OutcomeDenied,
			Method:   MethodLicense,
			Score:    marker(audit.MarkerUnauthorizedLicense),
			Reason:   "user not authorized for license",
			Origin:   req.Origin,
		})
		return nil, deny(username, StageCredential, "user not authorized for this license")
	}

	var acct *accounts.Account
	err = e.call(storeAccounts, func() error {
		var err error
		acct, err = e.accounts.Provision(ctx, username, req.DeviceID)
		return err
	})
	if err != nil {
		return nil, e.fail(username, StageCredential, err)
	}

	if err := e.licenses.RecordLogin(ctx, token); err != nil {
		logging.L(ctx).Warn("failed to record license login", "username", username, "error", err)
	}
	return acct, nil
}

func (e *Engine) checkPassword(ctx context.Context, username, secret, origin string) (*accounts.Account, *Decision) {
	var acct *accounts.Account
	err := e.call(storeAccounts, func() error {
		var err error
		acct, err = e.accounts.Verify(ctx, username, secret)
		return err
	}, accounts.ErrNotFound, accounts.ErrInvalidPassword)

	switch {
	case err == nil:
		return acct, nil
	case errors.Is(err, accounts.ErrNotFound):
		e.record(ctx, &audit.Attempt{
			Username: username,
			Outcome:  audit.OutcomeDenied,
			Method:   MethodPassword,
			Score:    marker(audit.MarkerUnknownUser),
			Reason:   "unknown user",
			Origin:   origin,
		})
	case errors.Is(err, accounts.ErrInvalidPassword):
		e.record(ctx, &audit.Attempt{
			Username: username,
			Outcome:  audit.OutcomeDenied,
			Method:   MethodPassword,
			Score:    marker(audit.MarkerBadPassword),
			Reason:   "incorrect password",
			Origin:   origin,
		})
	default:
		return nil, e.fail(username, StageCredential, err)
	}
	return nil, deny(username, StageCredential, "invalid username or password")
}

// checkBehavior scores the sample against the identity's profile and
// escalates low confidence into a suspension of hold length.
func (e *Engine) checkBehavior(ctx context.Context, username, method string, devices []string, origin string, sample *behavior.Sample, hold time.Duration) *Decision {
	var res *anomaly.Result
	var err error
	if sample.Empty() {
		var trained bool
		err = e.call(storeProfiles, func() error {
			var err error
			trained, err = e.model.Trained(ctx, username)
			return err
		})
		if err == nil && trained {
			e.record(ctx, &audit.Attempt{
				Username: username,
				Outcome:  audit.OutcomeDenied,
				Method:   method,
				Reason:   "behavioral sample missing",
				Origin:   origin,
			})
			return deny(username, StageBehavioral, "behavioral sample required")
		}
		if err == nil {
			err = anomaly.ErrModelNotTrained
		}
	} else {
		err = e.call(storeProfiles, func() error {
			var err error
			res, err = e.model.Score(ctx, username, sample)
			return err
		}, anomaly.ErrModelNotTrained)
	}

	if errors.Is(err, anomaly.ErrModelNotTrained) {
		e.record(ctx, &audit.Attempt{
			Username: username,
			Outcome:  audit.OutcomeGranted,
			Method:   method,
			Reason:   "not enrolled",
			Origin:   origin,
		})
		return &Decision{
			Outcome:  OutcomeGranted,
			Stage:    StageComplete,
			Reason:   "authenticated",
			Username: username,
			Method:   method,
		}
	}
	if err != nil {
		return e.fail(username, StageBehavioral, err)
	}

	summary := &BehaviorSummary{Score: res.Confidence, Label: res.Label, Authentic: res.Authentic}
	risk := 1 - res.Confidence/100

	if res.Confidence < e.cfg.EscalationFloor {
		until, d := e.escalate(ctx, username, devices, hold)
		if d != nil {
			return d
		}
		e.record(ctx, &audit.Attempt{
			Username: username,
			Outcome:  audit.OutcomeSuspended,
			Method:   method,
			Score:    &risk,
			Reason:   reasonEscalation,
			Origin:   origin,
		})
		return &Decision{
			Outcome:  OutcomeSuspended,
			Stage:    StageBehavioral,
			Reason:   fmt.Sprintf("behavioral verification failed (confidence %.1f%%); suspended until %s", res.Confidence, until.Format(time.RFC3339)),
			Username: username,
			Method:   method,
			Until:    &until,
			Behavior: summary,
		}
	}

	e.record(ctx, &audit.Attempt{
		Username: username,
		Outcome:  audit.OutcomeGranted,
		Method:   method,
		Score:    &risk,
		Reason:   "authenticated",
		Origin:   origin,
	})
	return &Decision{
		Outcome:  OutcomeGranted,
		Stage:    StageComplete,
		Reason:   "authenticated",
		Username: username,
		Method:   method,
		Behavior: summary,
	}
}

// escalate suspends the account and every known device for hold.
func (e *Engine) escalate(ctx context.Context, username string, devices []string, hold time.Duration) (time.Time, *Decision) {
	until := e.suspensions.Now().Add(hold).UTC()
	err := e.call(storeSuspensions, func() error {
		return e.suspensions.Suspend(ctx, suspension.NamespaceAccount, username, until, reasonEscalation)
	})
	if err != nil {
		return time.Time{}, e.fail(username, StageBehavioral, err)
	}
	for _, id := range devices {
		err := e.call(storeSuspensions, func() error {
			return e.suspensions.Suspend(ctx, suspension.NamespaceDevice, id, until, reasonEscalation)
		})
		if err != nil {
			return time.Time{}, e.fail(username, StageBehavioral, err)
		}
	}
	escalationsTotal.Inc()
	return until, nil
}

func (e *Engine) lookupAccount(ctx context.Context, username string) (*accounts.Account, error) {
	var acct *accounts.Account
	err := e.call(storeAccounts, func() error {
		var err error
		acct, err = e.accounts.Get(ctx, username)
		return err
	}, accounts.ErrNotFound)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil, nil
	}
	return acct, err
}

// withDeadline runs fn under the decision timeout. A timeout, a cancelled
// caller or a panic all deny.
func (e *Engine) withDeadline(ctx context.Context, fn func(context.Context) *Decision) *Decision {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DecisionTimeout)
	defer cancel()

	result := make(chan *Decision, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("panic in access decision", "panic", fmt.Sprint(r))
				result <- &Decision{
					Outcome: OutcomeDenied,
					Stage:   StageInternal,
					Reason:  "internal error",
					Err:     fmt.Errorf("panic: %v", r),
				}
			}
		}()
		result <- fn(ctx)
	}()

	select {
	case d := <-result:
		return d
	case <-ctx.Done():
		return timedOut(ctx.Err())
	}
}

// finish closes the span, records metrics and logs the decision.
func (e *Engine) finish(ctx context.Context, span trace.Span, flow string, d *Decision, start time.Time) {
	span.SetAttributes(traces.Outcome(string(d.Outcome)), traces.Stage(string(d.Stage)))
	if d.Method != "" {
		span.SetAttributes(traces.Method(d.Method))
	}
	traces.End(span, d.Err)

	observeDecision(flow, d, time.Since(start))

	log := logging.L(ctx)
	switch {
	case d.Outcome == OutcomeError, d.Stage == StageInternal:
		log.Error("access decision failed closed", "flow", flow, "username", d.Username, "stage", d.Stage, "error", d.Err)
	default:
		log.Info("access decision", "flow", flow, "username", d.Username, "outcome", d.Outcome, "stage", d.Stage, "method", d.Method)
	}
}

// record appends an audit entry. Audit failures are logged, never fatal.
func (e *Engine) record(ctx context.Context, a *audit.Attempt) {
	if err := e.audit.Record(context.WithoutCancel(ctx), a); err != nil {
		logging.L(ctx).Warn("failed to record login attempt", "username", a.Username, "error", err)
	}
}

// fail converts an error into a closed decision.
func (e *Engine) fail(username string, stage Stage, err error) *Decision {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		d := timedOut(err)
		d.Username = username
		return d
	case errors.Is(err, ErrStorage):
		return &Decision{
			Outcome:  OutcomeError,
			Stage:    stage,
			Reason:   "service temporarily unavailable",
			Username: username,
			Err:      err,
		}
	default:
		return &Decision{
			Outcome:  OutcomeDenied,
			Stage:    StageInternal,
			Reason:   "internal error",
			Username: username,
			Err:      err,
		}
	}
}

func deny(username string, stage Stage, reason string) *Decision {
	return &Decision{Outcome: OutcomeDenied, Stage: stage, Reason: reason, Username: username}
}

func invalid(err error) *Decision {
	return &Decision{Outcome: OutcomeDenied, Stage: StageValidation, Reason: err.Error(), Err: err}
}

func timedOut(err error) *Decision {
	return &Decision{Outcome: OutcomeDenied, Stage: StageDeadline, Reason: "decision timed out", Err: err}
}

func normalizeUsername(raw string) (string, error) {
	username := accounts.NormalizeUsername(raw)
	if !accounts.ValidUsername(username) {
		return "", &ValidationError{Field: "username", Message: "must be 2-64 characters of letters, digits, '.', '_' or '-'"}
	}
	return username, nil
}

func deviceIDs(requested string, acct *accounts.Account) []string {
	var out []string
	if requested != "" {
		out = append(out, requested)
	}
	if acct != nil && acct.DeviceID != "" && acct.DeviceID != requested {
		out = append(out, acct.DeviceID)
	}
	return out
}

func licenseReason(err error) string {
	switch {
	case errors.Is(err, license.ErrNotFound):
		return "license not found"
	case errors.Is(err, license.ErrInactive):
		return "license has been revoked"
	case errors.Is(err, license.ErrExpired):
		return "license expired"
	default:
		return "license rejected"
	}
}

func marker(v float64) *float64 {
	return &v
}
