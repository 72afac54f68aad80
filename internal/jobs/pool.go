package jobs

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool runs jobs on a fixed number of goroutines fed by a buffered channel.
type Pool struct {
	handler Handler
	log     *slog.Logger
	workers int
	queue   chan Job

	mu     sync.RWMutex
	closed bool
}

// NewPool returns a pool of workers goroutines with room for buffer queued jobs.
func NewPool(h Handler, workers, buffer int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Pool{
		handler: h,
		log:     log,
		workers: workers,
		queue:   make(chan Job, buffer),
	}
}

// Submit queues job without waiting for a worker. It never blocks: a full
// buffer yields ErrQueueFull. Jobs run by the pool may submit to it.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Queued returns the number of jobs waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.queue)
}

// Run starts the workers and blocks until ctx is cancelled or the pool is
// closed and drained.
func (p *Pool) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case job, ok := <-p.queue:
					if !ok {
						return nil
					}
					p.run(ctx, i, job)
				case <-ctx.Done():
					return nil
				}
			}
		})
	}
	return g.Wait()
}

// Close stops accepting jobs. Workers finish what is already queued.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}

func (p *Pool) run(ctx context.Context, worker int, job Job) {
	p.log.Debug("job started",
		slog.Int("worker", worker),
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("path", job.Path))

	if err := p.handler.Run(ctx, job); err != nil {
		p.log.Warn("job failed",
			slog.String("job_id", job.ID),
			slog.String("kind", string(job.Kind)),
			slog.String("path", job.Path),
			slog.String("error", err.Error()))
	}
}
