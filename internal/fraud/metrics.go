package fraud

import "github.com/prometheus/client_golang/prometheus"

var (
	evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinelx",
		Subsystem: "fraud",
		Name:      "evaluations_total",
		Help:      "Fraud evaluations by risk level.",
	}, []string{"risk_level"})

	blocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinelx",
		Subsystem: "fraud",
		Name:      "blocks_total",
		Help:      "Blocked requests by firing signal.",
	}, []string{"signal"}) // "rate_limited", "bad_user_agent", "ai_bot_detected", "blocked_network"

	botScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinelx",
		Subsystem: "fraud",
		Name:      "bot_score",
		Help:      "Distribution of behavioral bot scores.",
		Buckets:   []float64{0.1, 0.2, 0.4, 0.6, 0.7, 0.8, 1},
	})
)

func init() {
	prometheus.MustRegister(
		evaluationsTotal,
		blocksTotal,
		botScore,
	)
}

func observe(a *Assessment) {
	evaluationsTotal.WithLabelValues(string(a.RiskLevel)).Inc()
	botScore.Observe(a.BotScore)
	if !a.ShouldBlock {
		return
	}
	if a.Signals.RateLimited {
		blocksTotal.WithLabelValues("rate_limited").Inc()
	}
	if a.Signals.BadUserAgent {
		blocksTotal.WithLabelValues("bad_user_agent").Inc()
	}
	if a.Signals.BotDetected {
		blocksTotal.WithLabelValues("ai_bot_detected").Inc()
	}
	if a.Signals.BlockedNetwork {
		blocksTotal.WithLabelValues("blocked_network").Inc()
	}
}
