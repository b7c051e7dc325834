package audit

import "github.com/prometheus/client_golang/prometheus"

var attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinelx",
	Subsystem: "audit",
	Name:      "attempts_recorded_total",
	Help:      "Login attempts recorded, by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(attemptsTotal)
}
