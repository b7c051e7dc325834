package suspension

import "github.com/prometheus/client_golang/prometheus"

var (
	suspensionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinelx",
		Subsystem: "suspension",
		Name:      "placed_total",
		Help:      "Suspensions placed, by namespace.",
	}, []string{"namespace"})

	expiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinelx",
		Subsystem: "suspension",
		Name:      "expired_cleared_total",
		Help:      "Expired suspensions cleared on read, by namespace.",
	}, []string{"namespace"})

	purgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinelx",
		Subsystem: "suspension",
		Name:      "purged_total",
		Help:      "Expired suspensions removed by the sweeper.",
	})
)

func init() {
	prometheus.MustRegister(
		suspensionsTotal,
		expiredTotal,
		purgedTotal,
	)
}
