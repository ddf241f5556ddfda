package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/jobs"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/result"
	apperrors "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/proto"
)

var errJobsDisabled = apperrors.New(apperrors.ErrInternal, http.StatusServiceUnavailable, "background jobs are disabled")

// SubmitJob starts a query in the background and returns its initial
// status. The job keeps running after ctx ends.
func (s *Service) SubmitJob(ctx context.Context, req proto.JobRequest) (*proto.JobStatus, error) {
	if s.runner == nil {
		return nil, errJobsDisabled
	}
	if err := check(s.validate, req); err != nil {
		return nil, err
	}
	opts, err := s.Options(req.Options)
	if err != nil {
		return nil, err
	}
	// Reject unparsable queries up front instead of failing the job.
	if _, err := s.engine.Prepare(req.Query); err != nil {
		return nil, err
	}
	job, err := s.runner.Submit(ctx, req.Name, req.Query, opts, s.jobCallbacks(ctx))
	if err != nil {
		return nil, err
	}
	return jobStatus(job.Info()), nil
}

func (s *Service) jobCallbacks(ctx context.Context) jobs.Callbacks {
	finished := func(job *jobs.Job, res *result.QueryResult, err error) {
		info := job.Info()
		var elapsed time.Duration
		if info.StartedAt != nil && info.FinishedAt != nil {
			elapsed = info.FinishedAt.Sub(*info.StartedAt)
		}
		plan, _ := s.engine.Prepare(job.Query)
		s.track(ctx, analytics.EventJob, job.Query, plan, res, err, false, elapsed, job.ID)
	}
	return jobs.Callbacks{
		OnResult: func(job *jobs.Job, res *result.QueryResult) { finished(job, res, nil) },
		OnError:  func(job *jobs.Job, err error) { finished(job, nil, err) },
	}
}

// Job reports a job's status, with its rows when requested and available.
func (s *Service) Job(_ context.Context, ref proto.JobRef) (*proto.JobStatus, error) {
	if s.runner == nil {
		return nil, errJobsDisabled
	}
	if err := check(s.validate, ref); err != nil {
		return nil, err
	}
	job, err := s.runner.Get(ref.ID)
	if err != nil {
		return nil, err
	}
	status := jobStatus(job.Info())
	if ref.IncludeRows && job.Status() == jobs.StatusSucceeded {
		res, _ := job.Result()
		shaped, err := s.shape(job.Query, res, "", ref.Limit)
		if err != nil {
			return nil, err
		}
		status.Result = shaped
	}
	return status, nil
}

// CancelJob asks a job to stop. Cancelling a finished job is a no-op.
func (s *Service) CancelJob(ctx context.Context, ref proto.JobRef) (*proto.JobStatus, error) {
	if s.runner == nil {
		return nil, errJobsDisabled
	}
	if err := check(s.validate, ref); err != nil {
		return nil, err
	}
	if err := s.runner.Cancel(ref.ID); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("job cancel requested", "job_id", ref.ID)
	job, err := s.runner.Get(ref.ID)
	if err != nil {
		return nil, fmt.Errorf("reading cancelled job: %w", err)
	}
	return jobStatus(job.Info()), nil
}

// Jobs lists the retained jobs, oldest first.
func (s *Service) Jobs(context.Context) ([]proto.JobStatus, error) {
	if s.runner == nil {
		return nil, errJobsDisabled
	}
	infos := s.runner.List()
	out := make([]proto.JobStatus, len(infos))
	for i, info := range infos {
		out[i] = *jobStatus(info)
	}
	return out, nil
}

func jobStatus(info jobs.Info) *proto.JobStatus {
	return &proto.JobStatus{
		ID:         info.ID,
		Name:       info.Name,
		Query:      info.Query,
		Status:     string(info.Status),
		Rows:       info.Rows,
		Error:      info.Error,
		CreatedAt:  info.CreatedAt,
		StartedAt:  info.StartedAt,
		FinishedAt: info.FinishedAt,
	}
}
