package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/SentinelX-Auth/SentinelX/internal/behavior"
	"github.com/SentinelX-Auth/SentinelX/internal/idgen"
)

// windowCapFactor bounds each origin window to a multiple of the ceiling.
const windowCapFactor = 5

var badAgentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bot|crawler|spider|scraper|python|curl|wget|httpclient|postman`),
	regexp.MustCompile(`(?i)headless|phantomjs|puppeteer|selenium`),
}

// Request carries the per-attempt inputs.
type Request struct {
	Origin    string
	UserAgent string
	Metrics   *behavior.Metrics
}

// Evaluator scores requests against a Policy.
type Evaluator struct {
	windows sync.Map // map[string]*originWindow
	policy  Policy
	blocked *networkList
	trusted *networkList
	store   Store
	logger  *slog.Logger
	now     func() time.Time
}

type originWindow struct {
	mu   sync.Mutex
	hits []time.Time
	dead bool // set once the janitor has dropped this window
}

// NewEvaluator creates an evaluator. store may be nil.
func NewEvaluator(p Policy, store Store) (*Evaluator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	blocked, err := newNetworkList(p.BlockedNetworks)
	if err != nil {
		return nil, err
	}
	trusted, err := newNetworkList(p.TrustedNetworks)
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		policy:  p,
		blocked: blocked,
		trusted: trusted,
		store:   store,
		logger:  slog.Default(),
		now:     time.Now,
	}, nil
}

// WithClock replaces the wall clock, for simulated time in tests.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// WithLogger sets the logger used for audit persistence failures.
func (e *Evaluator) WithLogger(l *slog.Logger) *Evaluator {
	e.logger = l
	return e
}

// Policy returns the active policy.
func (e *Evaluator) Policy() Policy {
	return e.policy
}

// Evaluate screens one request. It records the request in the origin's rate
// window, so call it exactly once per decision.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) *Assessment {
	now := e.now()

	var sig Signals
	if e.blocked.contains(req.Origin) {
		sig.BlockedNetwork = true
	}
	if !e.trusted.contains(req.Origin) {
		sig.RateLimited = e.checkRate(req.Origin, now)
	}
	sig.BadUserAgent, sig.UAReason = checkUserAgent(req.UserAgent)

	var botScore float64
	if req.Metrics.Empty() {
		botScore = missingMetricsBot
	} else {
		sig.BotDetected, sig.BotReason, botScore = e.checkBehavior(req.Metrics)
	}

	total := botScore
	if sig.RateLimited {
		total += weightRateLimited
	}
	if sig.BadUserAgent {
		total += weightBadAgent
	}
	total = round3(total)

	level := RiskLow
	switch {
	case total >= highThreshold:
		level = RiskHigh
	case total >= mediumThreshold:
		level = RiskMedium
	}

	a := &Assessment{
		ID:          idgen.WithPrefix("fa_"),
		Origin:      req.Origin,
		UserAgent:   req.UserAgent,
		FraudScore:  math.Min(total, 1),
		BotScore:    botScore,
		RiskLevel:   level,
		ShouldBlock: sig.RateLimited || sig.BotDetected || level == RiskHigh || sig.BlockedNetwork,
		Signals:     sig,
		EvaluatedAt: now,
	}
	observe(a)

	// Persist blocks asynchronously (best-effort audit trail)
	if a.ShouldBlock && e.store != nil {
		go func() {
			if err := e.store.Record(context.WithoutCancel(ctx), a); err != nil {
				e.logger.Warn("failed to record fraud assessment", "origin", a.Origin, "error", err)
			}
		}()
	}
	return a
}

// checkRate appends now to origin's window and reports whether the window
// exceeds the ceiling.
func (e *Evaluator) checkRate(origin string, now time.Time) bool {
	for {
		w := e.getWindow(origin)
		w.mu.Lock()
		if w.dead {
			w.mu.Unlock()
			continue
		}
		e.evict(w, now)
		w.hits = append(w.hits, now)
		if limit := e.policy.MaxRequestsPerMinute * windowCapFactor; len(w.hits) > limit {
			w.hits = w.hits[len(w.hits)-limit:]
		}
		limited := len(w.hits) > e.policy.MaxRequestsPerMinute
		w.mu.Unlock()
		return limited
	}
}

func (e *Evaluator) getWindow(origin string) *originWindow {
	v, _ := e.windows.LoadOrStore(origin, &originWindow{})
	return v.(*originWindow)
}

// evict drops hits older than the window (caller holds lock).
func (e *Evaluator) evict(w *originWindow, now time.Time) {
	window := e.policy.Window()
	start := 0
	for start < len(w.hits) && now.Sub(w.hits[start]) > window {
		start++
	}
	if start > 0 {
		w.hits = w.hits[start:]
	}
}

// PruneIdle drops windows with no hits inside the rate window and returns
// how many were removed.
func (e *Evaluator) PruneIdle() int {
	now := e.now()
	removed := 0
	e.windows.Range(func(key, value any) bool {
		w := value.(*originWindow)
		w.mu.Lock()
		e.evict(w, now)
		if len(w.hits) == 0 {
			w.dead = true
			e.windows.Delete(key)
			removed++
		}
		w.mu.Unlock()
		return true
	})
	return removed
}

func checkUserAgent(ua string) (bool, string) {
	if strings.TrimSpace(ua) == "" {
		return true, "Missing User-Agent header"
	}
	for _, p := range badAgentPatterns {
		if p.MatchString(ua) {
			return true, fmt.Sprintf("Suspicious User-Agent detected: %.30s...", ua)
		}
	}
	return false, ""
}

// checkBehavior accumulates independent red flags from declared metrics.
func (e *Evaluator) checkBehavior(m *behavior.Metrics) (bool, string, float64) {
	var score float64
	var reasons []string

	if m.Get("iki_std", -1) == 0 {
		score += flagZeroVariance
		reasons = append(reasons, "Zero variance in typing speed (perfect rhythm).")
	}
	if rate := m.Get("keystroke_rate", 0); rate > e.policy.MaxKeystrokeRate {
		score += flagFastTyping
		reasons = append(reasons, fmt.Sprintf("Superhuman typing speed (%.1f keys/sec).", rate))
	}
	if v := m.Get("mouse_velocity", 0); v > e.policy.MaxMouseVelocity {
		score += flagFastPointer
		reasons = append(reasons, fmt.Sprintf("Unnatural mouse velocity (%.1f px/sec).", v))
	}
	if t := m.Get("total_time", -1); t >= 0 && t < e.policy.MinInteractionTime {
		score += flagInstantSubmit
		reasons = append(reasons, "Form completed near-instantaneously.")
	}

	score = round3(score)
	isBot := score >= botThreshold
	reason := "Behavior looks human"
	if isBot {
		reason = strings.Join(reasons, " | ")
	}
	return isBot, reason, math.Min(score, 1)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
