// Package jobs runs queries as named background jobs on a bounded worker
// pool. Each job can be cancelled, waited on and inspected, and reports
// progress and its outcome through callbacks.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/engine"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/result"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Callbacks observe a job. Any of them may be nil. They run on the worker
// goroutine and must not block.
type Callbacks struct {
	OnProgress func(job *Job, status Status)
	OnResult   func(job *Job, res *result.QueryResult)
	OnError    func(job *Job, err error)
}

type Job struct {
	ID      string
	Name    string
	Query   string
	Options engine.Options

	callbacks Callbacks
	cancel    context.CancelFunc
	done      chan struct{}

	mu         sync.Mutex
	status     Status
	result     *result.QueryResult
	err        error
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

// Info is a point-in-time view of a job.
type Info struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Query      string     `json:"query"`
	Status     Status     `json:"status"`
	Rows       int        `json:"rows"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) Info() Info {
	j.mu.Lock()
	defer j.mu.Unlock()
	info := Info{
		ID:        j.ID,
		Name:      j.Name,
		Query:     j.Query,
		Status:    j.status,
		CreatedAt: j.createdAt,
	}
	if j.result != nil {
		info.Rows = j.result.Len()
	}
	if j.err != nil {
		info.Error = j.err.Error()
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		info.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		info.FinishedAt = &t
	}
	return info
}

// Result returns the outcome of a finished job. Before that it returns
// nil, nil.
func (j *Job) Result() (*result.QueryResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// Cancel asks the job to stop. A queued job never starts.
func (j *Job) Cancel() {
	j.cancel()
}

// Done is closed once the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends.
func (j *Job) Wait(ctx context.Context) (*result.QueryResult, error) {
	select {
	case <-j.done:
		return j.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (j *Job) transition(status Status) {
	j.mu.Lock()
	j.status = status
	if status == StatusRunning {
		j.startedAt = time.Now()
	}
	j.mu.Unlock()
	if j.callbacks.OnProgress != nil {
		j.callbacks.OnProgress(j, status)
	}
}

func (j *Job) finish(status Status, res *result.QueryResult, err error) {
	j.mu.Lock()
	j.status = status
	j.result = res
	j.err = err
	j.finishedAt = time.Now()
	j.mu.Unlock()

	if j.callbacks.OnProgress != nil {
		j.callbacks.OnProgress(j, status)
	}
	if err != nil {
		if j.callbacks.OnError != nil {
			j.callbacks.OnError(j, err)
		}
	} else if j.callbacks.OnResult != nil {
		j.callbacks.OnResult(j, res)
	}
	close(j.done)
}
