package anomaly

import "github.com/prometheus/client_golang/prometheus"

var (
	enrollmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinelx",
		Subsystem: "anomaly",
		Name:      "enrollments_total",
		Help:      "Enrollment attempts by outcome.",
	}, []string{"outcome"}) // "trained", "failed", "cancelled"

	scoresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinelx",
		Subsystem: "anomaly",
		Name:      "scores_total",
		Help:      "Samples scored by detector label.",
	}, []string{"label"})

	trainingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinelx",
		Subsystem: "anomaly",
		Name:      "training_duration_seconds",
		Help:      "Time spent fitting a profile.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	enrollQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinelx",
		Subsystem: "anomaly",
		Name:      "enroll_queue_depth",
		Help:      "Enrollment jobs waiting for a worker.",
	})
)

func init() {
	prometheus.MustRegister(
		enrollmentsTotal,
		scoresTotal,
		trainingDuration,
		enrollQueueDepth,
	)
}
