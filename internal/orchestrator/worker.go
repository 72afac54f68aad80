package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"edgecast/internal/jobs"
	"edgecast/internal/platform/metrics"
	"edgecast/internal/push"
	"edgecast/internal/registry"
)

// Rewriter rewrites one manifest. *manifest.DASHRewriter and
// *manifest.HLSRewriter implement it.
type Rewriter interface {
	Rewrite(ctx context.Context, store registry.Store, manifestPath string) error
}

// Pusher sends one segment file to one box. *push.Publisher implements it.
type Pusher interface {
	Push(ctx context.Context, boxID, path string) error
}

// Worker executes jobs from either job backend against the shared registry.
type Worker struct {
	store   registry.Store
	dash    Rewriter
	hls     Rewriter
	pusher  Pusher
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewWorker returns a Worker. Metrics may be nil.
func NewWorker(store registry.Store, dash, hls Rewriter, pusher Pusher, log *slog.Logger, m *metrics.Metrics) *Worker {
	return &Worker{store: store, dash: dash, hls: hls, pusher: pusher, log: log, metrics: m}
}

// Run implements jobs.Handler. Failures are logged and counted; a missing
// push file is expected and not reported as a failure.
func (w *Worker) Run(ctx context.Context, job jobs.Job) error {
	err := w.dispatch(ctx, job)
	if errors.Is(err, push.ErrFileNotFound) {
		return nil
	}
	if err != nil {
		w.metrics.IncJobsFailed(string(job.Kind))
		w.log.Error("job failed",
			slog.String("job_id", job.ID),
			slog.String("kind", string(job.Kind)),
			slog.String("path", job.Path),
			slog.String("error", err.Error()))
	}
	return err
}

func (w *Worker) dispatch(ctx context.Context, job jobs.Job) error {
	switch job.Kind {
	case jobs.KindPush:
		return w.pusher.Push(ctx, job.BoxID, job.Path)
	case jobs.KindDASH:
		return w.dash.Rewrite(ctx, w.store, job.Path)
	case jobs.KindHLS:
		return w.hls.Rewrite(ctx, w.store, job.Path)
	default:
		return fmt.Errorf("%w: %q", jobs.ErrUnknownKind, job.Kind)
	}
}
