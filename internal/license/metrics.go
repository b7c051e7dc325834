package license

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinelx",
	Subsystem: "license",
	Name:      "operations_total",
	Help:      "License registry operations by result.",
}, []string{"op", "result"})

func init() {
	prometheus.MustRegister(operationsTotal)
}

func observeOp(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrCapacityExceeded):
		result = "capacity_exceeded"
	case errors.Is(err, ErrInvalidRequest):
		result = "invalid"
	default:
		result = "error"
	}
	operationsTotal.WithLabelValues(op, result).Inc()
}
