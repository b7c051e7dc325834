package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SentinelX-Auth/SentinelX/internal/accounts"
	"github.com/SentinelX-Auth/SentinelX/internal/anomaly"
	"github.com/SentinelX-Auth/SentinelX/internal/audit"
	"github.com/SentinelX-Auth/SentinelX/internal/fraud"
	"github.com/SentinelX-Auth/SentinelX/internal/license"
	"github.com/SentinelX-Auth/SentinelX/internal/logging"
	"github.com/SentinelX-Auth/SentinelX/internal/suspension"
	"github.com/SentinelX-Auth/SentinelX/internal/traces"
)

var (
	ErrBlocked           = errors.New("access: request blocked due to suspicious activity")
	ErrEnrollUnavailable = errors.New("access: background enrollment is not configured")
)

// Reauthenticate re-checks the behavior of a user who already holds a
// session. Low confidence suspends the account for the short re-auth hold.
func (e *Engine) Reauthenticate(ctx context.Context, req ReauthRequest) (d *Decision) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "access.Reauthenticate",
		traces.Identity(req.Username),
		traces.Origin(req.Origin),
	)
	defer func() {
		e.finish(ctx, span, "reauth", d, start)
	}()

	if err := req.Validate(); err != nil {
		return invalid(err)
	}
	username, err := normalizeUsername(req.Username)
	if err != nil {
		return invalid(err)
	}
	return e.withDeadline(ctx, func(ctx context.Context) *Decision {
		return e.reauth(ctx, username, &req)
	})
}

func (e *Engine) reauth(ctx context.Context, username string, req *ReauthRequest) *Decision {
	if d := e.screen(ctx, username, req.Origin, req.UserAgent, req.Metrics, req.Sample); d != nil {
		return d
	}

	acct, err := e.lookupAccount(ctx, username)
	if err != nil {
		return e.fail(username, StageSuspension, err)
	}
	if acct == nil {
		return deny(username, StageCredential, "identity not found")
	}
	if d := e.checkSuspended(ctx, username, deviceIDs(req.DeviceID, acct), req.Origin); d != nil {
		return d
	}

	var res *anomaly.Result
	err = e.call(storeProfiles, func() error {
		var err error
		res, err = e.model.Score(ctx, username, req.Sample)
		return err
	}, anomaly.ErrModelNotTrained)
	if errors.Is(err, anomaly.ErrModelNotTrained) {
		return deny(username, StageBehavioral, "identity is not enrolled")
	}
	if err != nil {
		return e.fail(username, StageBehavioral, err)
	}

	summary := &BehaviorSummary{Score: res.Confidence, Label: res.Label, Authentic: res.Authentic}
	risk := 1 - res.Confidence/100

	if res.Confidence < e.cfg.EscalationFloor {
		until, d := e.escalate(ctx, username, nil, e.cfg.ReauthSuspension)
		if d != nil {
			return d
		}
		e.record(ctx, &audit.Attempt{
			Username: username,
			Outcome:  audit.OutcomeSuspended,
			Method:   MethodBehavior,
			Score:    &risk,
			Reason:   reasonEscalation,
			Origin:   req.Origin,
		})
		return &Decision{
			Outcome:  OutcomeSuspended,
			Stage:    StageBehavioral,
			Reason:   fmt.Sprintf("low confidence (%.1f%%); account suspended until %s", res.Confidence, until.Format(time.RFC3339)),
			Username: username,
			Method:   MethodBehavior,
			Until:    &until,
			Behavior: summary,
		}
	}

	outcome := audit.OutcomeGranted
	if !res.Authentic {
		outcome = audit.OutcomeDenied
	}
	e.record(ctx, &audit.Attempt{
		Username: username,
		Outcome:  outcome,
		Method:   MethodBehavior,
		Score:    &risk,
		Reason:   "re-authentication",
		Origin:   req.Origin,
	})
	return &Decision{
		Outcome:  OutcomeGranted,
		Stage:    StageComplete,
		Reason:   "behavior verified",
		Username: username,
		Method:   MethodBehavior,
		Behavior: summary,
	}
}

// Registration is the result of Register.
type Registration struct {
	Account *accounts.Account `json:"account"`
	License *license.License  `json:"license,omitempty"`
}

// Register creates a password account and issues it a single-seat basic
// license. A license failure is logged and leaves License nil; the account
// is still usable with its password.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*Registration, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	username, err := normalizeUsername(req.Username)
	if err != nil {
		return nil, err
	}

	a := e.fraud.Evaluate(ctx, fraud.Request{Origin: req.Origin, UserAgent: req.UserAgent})
	if a.ShouldBlock {
		logging.L(ctx).Warn("registration blocked", "username", username, "origin", req.Origin, "risk", a.RiskLevel)
		return nil, ErrBlocked
	}

	acct, err := e.accounts.Register(ctx, username, req.Password, req.DeviceID)
	if err != nil {
		return nil, err
	}
	reg := &Registration{Account: acct}

	lic, err := e.licenses.Issue(ctx, license.IssueRequest{Owner: username, MaxUsers: 1, Tier: license.TierBasic})
	if err == nil {
		err = e.licenses.Authorize(ctx, lic.Token, username)
		lic.ActiveUsers = []string{username}
	}
	if err != nil {
		logging.L(ctx).Warn("failed to issue registration license", "username", username, "error", err)
		return reg, nil
	}
	reg.License = lic
	return reg, nil
}

// Enroll queues background training for an existing account and returns the
// job snapshot. Poll EnrollmentStatus or wait on the enroller for completion.
func (e *Engine) Enroll(ctx context.Context, req EnrollRequest) (*anomaly.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if e.enroller == nil {
		return nil, ErrEnrollUnavailable
	}
	username, err := normalizeUsername(req.Username)
	if err != nil {
		return nil, err
	}
	if _, err := e.accounts.Get(ctx, username); err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
		}
		return nil, err
	}

	id, err := e.enroller.Submit(username, req.Samples)
	if err != nil {
		return nil, err
	}
	return e.enroller.Status(id)
}

// EnrollmentStatus returns a snapshot of an enrollment job.
func (e *Engine) EnrollmentStatus(id string) (*anomaly.Job, error) {
	if e.enroller == nil {
		return nil, ErrEnrollUnavailable
	}
	return e.enroller.Status(id)
}

// OnTrained marks the profile's account as enrolled. It is registered as the
// enroller's completion hook.
func (e *Engine) OnTrained(ctx context.Context, p *anomaly.Profile) error {
	return e.accounts.MarkEnrolled(ctx, p.Identity)
}

// DeleteIdentity removes an account together with its profile, holds, seats
// and login history.
func (e *Engine) DeleteIdentity(ctx context.Context, username string) error {
	username = accounts.NormalizeUsername(username)
	acct, err := e.accounts.Get(ctx, username)
	if errors.Is(err, accounts.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	if err != nil {
		return err
	}

	if err := e.model.Delete(ctx, username); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if err := e.suspensions.Clear(ctx, suspension.NamespaceAccount, username); err != nil {
		return err
	}
	if acct.DeviceID != "" {
		if err := e.suspensions.Clear(ctx, suspension.NamespaceDevice, acct.DeviceID); err != nil {
			return err
		}
	}
	if err := e.releaseSeats(ctx, username); err != nil {
		return err
	}
	if err := e.audit.Forget(ctx, username); err != nil {
		return err
	}
	return e.accounts.Delete(ctx, username)
}

func (e *Engine) releaseSeats(ctx context.Context, username string) error {
	all, err := e.licenses.List(ctx, "")
	if err != nil {
		return fmt.Errorf("list licenses: %w", err)
	}
	for _, l := range all {
		if !l.HasUser(username) {
			continue
		}
		if err := e.licenses.RemoveUser(ctx, l.Token, username); err != nil && !errors.Is(err, license.ErrNotFound) {
			return fmt.Errorf("release seat: %w", err)
		}
	}
	return nil
}

// Activity is a user's recent access history.
type Activity struct {
	Username      string           `json:"username"`
	Enrolled      bool             `json:"enrolled"`
	Summary       *audit.Summary   `json:"summary"`
	SecurityScore float64          `json:"security_score"`
	History       []*audit.Attempt `json:"login_history"`
}

// Activity returns the summary, security score and latest attempts for
// username. limit <= 0 selects the configured history length.
func (e *Engine) Activity(ctx context.Context, username string, limit int) (*Activity, error) {
	username = accounts.NormalizeUsername(username)
	acct, err := e.accounts.Get(ctx, username)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = e.cfg.HistoryLimit
	}

	summary, err := e.audit.Summary(ctx, username)
	if err != nil {
		return nil, err
	}
	history, err := e.audit.History(ctx, username, limit)
	if err != nil {
		return nil, err
	}
	return &Activity{
		Username:      username,
		Enrolled:      acct.Enrolled,
		Summary:       summary,
		SecurityScore: summary.SecurityScore(),
		History:       history,
	}, nil
}
