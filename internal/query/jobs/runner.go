package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/engine"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/result"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/metrics"
)

// Querier runs one query to completion.
type Querier interface {
	RunQuery(ctx context.Context, text string, opts engine.Options) (*result.QueryResult, error)
}

// Runner executes jobs on an ants pool and keeps the most recent ones for
// inspection.
type Runner struct {
	querier Querier
	pool    *ants.Pool
	retain  int
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu    sync.Mutex
	jobs  map[string]*Job
	order []string
}

// NewRunner creates a Runner with cfg.JobPoolSize workers. m may be nil.
// Submissions beyond the pool's capacity fail instead of blocking.
func NewRunner(q Querier, cfg config.QueryConfig, m *metrics.Metrics) (*Runner, error) {
	size := cfg.JobPoolSize
	if size < 1 {
		size = 1
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("creating job pool: %w", err)
	}
	retain := cfg.JobRetain
	if retain < 1 {
		retain = 1
	}
	return &Runner{
		querier: q,
		pool:    pool,
		retain:  retain,
		metrics: m,
		jobs:    make(map[string]*Job),
		logger:  slog.Default().With("component", "job-runner"),
	}, nil
}

// Submit queues a query as a named job. The job outlives ctx but inherits
// its request-scoped values.
func (r *Runner) Submit(ctx context.Context, name, text string, opts engine.Options, cb Callbacks) (*Job, error) {
	id := uuid.NewString()
	jobCtx, cancel := context.WithCancel(logger.WithJobID(context.WithoutCancel(ctx), id))
	job := &Job{
		ID:        id,
		Name:      name,
		Query:     text,
		Options:   opts,
		callbacks: cb,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    StatusQueued,
		createdAt: time.Now(),
	}

	r.mu.Lock()
	r.jobs[id] = job
	r.order = append(r.order, id)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.JobsInFlight.Inc()
	}
	if err := r.pool.Submit(func() { r.execute(jobCtx, job) }); err != nil {
		cancel()
		r.forget(id)
		if r.metrics != nil {
			r.metrics.JobsInFlight.Dec()
		}
		if errors.Is(err, ants.ErrPoolOverload) {
			return nil, fmt.Errorf("%w: %d jobs running", apperrors.ErrPoolExhausted, r.pool.Cap())
		}
		return nil, fmt.Errorf("submitting job: %w", err)
	}
	r.mu.Lock()
	r.evictLocked()
	r.mu.Unlock()
	logger.FromContext(jobCtx).Info("job submitted", "name", name, "query", text)
	return job, nil
}

func (r *Runner) execute(ctx context.Context, job *Job) {
	log := logger.FromContext(ctx).With("component", "job-runner")
	defer func() {
		job.cancel()
		if r.metrics != nil {
			r.metrics.JobsInFlight.Dec()
			r.metrics.JobsTotal.WithLabelValues(string(job.Status())).Inc()
		}
	}()

	if err := ctx.Err(); err != nil {
		job.finish(StatusCancelled, nil, apperrors.Cancellation(err))
		log.Info("job cancelled before start")
		return
	}
	job.transition(StatusRunning)
	start := time.Now()
	res, err := r.querier.RunQuery(ctx, job.Query, job.Options)
	switch {
	case err == nil:
		job.finish(StatusSucceeded, res, nil)
		log.Info("job succeeded", "rows", res.Len(), "duration_ms", time.Since(start).Milliseconds())
	case errors.Is(err, apperrors.ErrQueryCancelled):
		job.finish(StatusCancelled, nil, err)
		log.Info("job cancelled", "duration_ms", time.Since(start).Milliseconds())
	default:
		job.finish(StatusFailed, nil, err)
		log.Warn("job failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
	}
}

// evictLocked drops the oldest finished jobs beyond the retention limit.
func (r *Runner) evictLocked() {
	excess := len(r.order) - r.retain
	if excess <= 0 {
		return
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if excess > 0 && r.jobs[id].Status().Terminal() {
			delete(r.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

func (r *Runner) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
}

func (r *Runner) Get(id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrJobNotFound, id)
	}
	return job, nil
}

func (r *Runner) Cancel(id string) error {
	job, err := r.Get(id)
	if err != nil {
		return err
	}
	job.Cancel()
	return nil
}

// List returns the retained jobs, oldest first.
func (r *Runner) List() []Info {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.order))
	for _, id := range r.order {
		jobs = append(jobs, r.jobs[id])
	}
	r.mu.Unlock()
	infos := make([]Info, len(jobs))
	for i, j := range jobs {
		infos[i] = j.Info()
	}
	return infos
}

// Running returns the number of busy workers.
func (r *Runner) Running() int {
	return r.pool.Running()
}

// Close cancels every job and waits up to timeout for workers to exit.
func (r *Runner) Close(timeout time.Duration) error {
	r.mu.Lock()
	for _, job := range r.jobs {
		job.Cancel()
	}
	pending := len(r.jobs)
	r.mu.Unlock()
	r.logger.Info("closing job runner", "retained_jobs", pending, "running", r.pool.Running())
	if err := r.pool.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("releasing job pool: %w", err)
	}
	return nil
}
