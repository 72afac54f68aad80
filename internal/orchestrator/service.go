package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"edgecast/internal/jobs"
	"edgecast/internal/platform/metrics"
)

// ErrInvalidRequest is returned when a submission is missing a required field.
var ErrInvalidRequest = errors.New("invalid request")

// Service turns API requests into jobs and hands them to a job backend.
type Service struct {
	submit  jobs.Submitter
	metrics *metrics.Metrics
}

// NewService returns a Service submitting to submit. Metrics may be nil.
func NewService(submit jobs.Submitter, m *metrics.Metrics) *Service {
	return &Service{submit: submit, metrics: m}
}

// SubmitManifest queues a rewrite of the manifest at path. The job kind
// follows the file extension; anything but .mpd and .m3u8 is rejected with
// jobs.ErrUnknownKind.
func (s *Service) SubmitManifest(ctx context.Context, path string) (jobs.Job, error) {
	if path == "" {
		return jobs.Job{}, fmt.Errorf("%w: path is required", ErrInvalidRequest)
	}
	job, err := jobs.ForManifest(path)
	if err != nil {
		return jobs.Job{}, err
	}
	return job, s.enqueue(ctx, job)
}

// SubmitPush queues a push of the file at path to boxID.
func (s *Service) SubmitPush(ctx context.Context, boxID, path string) (jobs.Job, error) {
	if boxID == "" || path == "" {
		return jobs.Job{}, fmt.Errorf("%w: box_id and path are required", ErrInvalidRequest)
	}
	job := jobs.Push(boxID, path)
	return job, s.enqueue(ctx, job)
}

func (s *Service) enqueue(ctx context.Context, job jobs.Job) error {
	if err := s.submit.Submit(ctx, job); err != nil {
		return fmt.Errorf("submit %s job: %w", job.Kind, err)
	}
	s.metrics.IncJobsSubmitted(string(job.Kind))
	return nil
}
