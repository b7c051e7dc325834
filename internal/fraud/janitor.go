package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Janitor periodically drops idle origin windows so the window map does not
// grow with every address ever seen.
type Janitor struct {
	evaluator *Evaluator
	interval  time.Duration
	logger    *slog.Logger
	stop      chan struct{}
	running   atomic.Bool
}

// NewJanitor creates a janitor for e.
func NewJanitor(e *Evaluator, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		evaluator: e,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}, 1),
	}
}

// Running reports whether the janitor loop is active.
func (j *Janitor) Running() bool {
	return j.running.Load()
}

// Start runs the sweep loop. Call in a goroutine.
func (j *Janitor) Start(ctx context.Context) {
	j.running.Store(true)
	defer j.running.Store(false)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stop:
			return
		case <-ticker.C:
			j.safeSweep()
		}
	}
}

// Stop signals the janitor to stop.
func (j *Janitor) Stop() {
	select {
	case j.stop <- struct{}{}:
	default:
	}
}

func (j *Janitor) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("panic in fraud window janitor", "panic", fmt.Sprint(r))
		}
	}()
	if n := j.evaluator.PruneIdle(); n > 0 {
		j.logger.Debug("pruned idle rate windows", "count", n)
	}
}
