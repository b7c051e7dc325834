package access

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinelx",
		Subsystem: "access",
		Name:      "decisions_total",
		Help:      "Access decisions by flow, outcome and deciding stage.",
	}, []string{"flow", "outcome", "stage"})

	decisionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sentinelx",
		Subsystem: "access",
		Name:      "decision_duration_seconds",
		Help:      "Time to reach an access decision.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"flow"})

	escalationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinelx",
		Subsystem: "access",
		Name:      "behavioral_escalations_total",
		Help:      "Low-confidence attempts escalated into suspensions.",
	})
)

func init() {
	prometheus.MustRegister(
		decisionsTotal,
		decisionDuration,
		escalationsTotal,
	)
}

func observeDecision(flow string, d *Decision, elapsed time.Duration) {
	decisionsTotal.WithLabelValues(flow, string(d.Outcome), string(d.Stage)).Inc()
	decisionDuration.WithLabelValues(flow).Observe(elapsed.Seconds())
}
