package anomaly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/SentinelX-Auth/SentinelX/internal/behavior"
	"github.com/SentinelX-Auth/SentinelX/internal/syncutil"
)

var (
	ErrJobNotFound    = errors.New("anomaly: enrollment job not found")
	ErrQueueFull      = errors.New("anomaly: enrollment queue is full")
	ErrEnrollerClosed = errors.New("anomaly: enroller is not accepting jobs")
)

// JobState is the lifecycle of a background enrollment.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Done reports whether the state is terminal.
func (s JobState) Done() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// Job is a snapshot of one enrollment request.
type Job struct {
	ID          string     `json:"id"`
	Identity    string     `json:"identity"`
	State       JobState   `json:"state"`
	Samples     int        `json:"samples"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

type job struct {
	Job
	samples []*behavior.Sample
	cancel  context.CancelFunc
	done    chan struct{}
}

// TrainedFunc is invoked after a job stores a new profile.
type TrainedFunc func(ctx context.Context, p *Profile) error

// Enroller trains profiles on a bounded pool of background workers so that
// request handlers never block on training. Jobs for the same identity run
// one at a time, each on its own samples, and the last one to finish owns
// the stored profile.
type Enroller struct {
	model     *Model
	logger    *slog.Logger
	workers   int
	retention time.Duration
	onTrained TrainedFunc

	queue chan *job
	locks syncutil.KeyLock

	mu     sync.RWMutex
	jobs   map[string]*job
	closed bool

	stop    chan struct{}
	running atomic.Bool
}

// NewEnroller creates an enroller with the given worker count.
func NewEnroller(model *Model, workers int, logger *slog.Logger) *Enroller {
	if workers <= 0 {
		workers = 1
	}
	return &Enroller{
		model:     model,
		logger:    logger,
		workers:   workers,
		retention: time.Hour,
		queue:     make(chan *job, workers*16),
		jobs:      make(map[string]*job),
		stop:      make(chan struct{}, 1),
	}
}

// WithOnTrained registers a callback run after each successful enrollment.
func (e *Enroller) WithOnTrained(fn TrainedFunc) *Enroller {
	e.onTrained = fn
	return e
}

// Running reports whether the worker pool is active.
func (e *Enroller) Running() bool {
	return e.running.Load()
}

// Start runs the worker pool until ctx is done or Stop is called. Call in a
// goroutine. Jobs submitted before Start wait in the queue. Once Start
// returns, queued jobs are cancelled and Submit fails with ErrEnrollerClosed
// until Start is called again.
func (e *Enroller) Start(ctx context.Context) {
	e.mu.Lock()
	e.closed = false
	e.mu.Unlock()
	e.running.Store(true)
	defer e.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.work(ctx)
		}()
	}

	select {
	case <-ctx.Done():
	case <-e.stop:
	}
	cancel()
	wg.Wait()

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.drain()
}

// Stop signals the worker pool to stop.
func (e *Enroller) Stop() {
	select {
	case e.stop <- struct{}{}:
	default:
	}
}

// Submit queues an enrollment and returns its job id.
func (e *Enroller) Submit(identity string, samples []*behavior.Sample) (string, error) {
	identity = normalizeIdentity(identity)
	if identity == "" {
		return "", fmt.Errorf("%w: empty identity", ErrInvalidSample)
	}
	if len(samples) < e.model.MinSamples() {
		return "", fmt.Errorf("%w: need %d, got %d", ErrInsufficientSamples, e.model.MinSamples(), len(samples))
	}

	j := &job{
		Job: Job{
			ID:          uuid.NewString(),
			Identity:    identity,
			State:       JobQueued,
			Samples:     len(samples),
			SubmittedAt: time.Now().UTC(),
		},
		samples: samples,
		done:    make(chan struct{}),
	}

	// Enqueue under e.mu so a job cannot slip in behind drain.
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEnrollerClosed
	}
	select {
	case e.queue <- j:
		enrollQueueDepth.Inc()
	default:
		e.mu.Unlock()
		return "", ErrQueueFull
	}
	e.pruneLocked()
	e.jobs[j.ID] = j
	e.mu.Unlock()

	e.logger.Info("enrollment queued", "job", j.ID, "identity", identity, "samples", len(samples))
	return j.ID, nil
}

// Status returns a snapshot of the job.
func (e *Enroller) Status(id string) (*Job, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	j, ok := e.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	snap := j.Job
	return &snap, nil
}

// Wait blocks until the job finishes or ctx is done.
func (e *Enroller) Wait(ctx context.Context, id string) (*Job, error) {
	e.mu.RLock()
	j, ok := e.jobs[id]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}

	select {
	case <-j.done:
		return e.Status(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel aborts a queued or running job. The identity's previous profile,
// if any, is left intact.
func (e *Enroller) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	switch j.State {
	case JobQueued:
		e.finishLocked(j, JobCancelled, context.Canceled)
	case JobRunning:
		j.cancel()
	}
	return nil
}

func (e *Enroller) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.queue:
			enrollQueueDepth.Dec()
			e.safeRun(ctx, j)
		}
	}
}

func (e *Enroller) safeRun(ctx context.Context, j *job) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in enrollment worker", "job", j.ID, "panic", fmt.Sprint(r))
			e.mu.Lock()
			e.finishLocked(j, JobFailed, fmt.Errorf("panic: %v", r))
			e.mu.Unlock()
		}
	}()
	e.run(ctx, j)
}

func (e *Enroller) run(ctx context.Context, j *job) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if j.State != JobQueued {
		e.mu.Unlock()
		return
	}
	j.State = JobRunning
	j.cancel = cancel
	e.mu.Unlock()

	start := time.Now()
	p, err := e.train(jobCtx, j)

	state := JobSucceeded
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		state = JobCancelled
	default:
		state = JobFailed
	}

	e.mu.Lock()
	e.finishLocked(j, state, err)
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("enrollment finished without a profile",
			"job", j.ID, "identity", j.Identity, "state", state, "error", err)
		return
	}
	e.logger.Info("enrollment complete",
		"job", j.ID,
		"identity", j.Identity,
		"samples", p.Samples,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// train fits and stores j's profile while holding the identity's lock, so a
// later job for the same identity cannot interleave its write or hook.
func (e *Enroller) train(ctx context.Context, j *job) (*Profile, error) {
	unlock, err := e.locks.LockContext(ctx, j.Identity)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := e.model.Enroll(ctx, j.Identity, j.samples)
	if err != nil {
		return nil, err
	}
	if e.onTrained != nil {
		if cbErr := e.onTrained(ctx, p); cbErr != nil {
			e.logger.Warn("post-enrollment hook failed", "identity", j.Identity, "error", cbErr)
		}
	}
	return p, nil
}

// finishLocked moves j to a terminal state. Caller holds e.mu.
func (e *Enroller) finishLocked(j *job, state JobState, err error) {
	if j.State.Done() {
		return
	}
	now := time.Now().UTC()
	j.State = state
	j.FinishedAt = &now
	if err != nil {
		j.Error = err.Error()
	}
	close(j.done)
}

// drain cancels whatever is left in the queue after the workers exit.
func (e *Enroller) drain() {
	for {
		select {
		case j := <-e.queue:
			enrollQueueDepth.Dec()
			e.mu.Lock()
			e.finishLocked(j, JobCancelled, ErrEnrollerClosed)
			e.mu.Unlock()
		default:
			return
		}
	}
}

func (e *Enroller) pruneLocked() {
	cutoff := time.Now().Add(-e.retention)
	for id, j := range e.jobs {
		if j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(e.jobs, id)
		}
	}
}
