package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultQueueGroup is the NATS queue group workers join; each job is
// delivered to one member of the group.
const DefaultQueueGroup = "edgecast-workers"

// Queue distributes jobs between processes over NATS. Jobs are published to
// <subject>.<kind> and consumed by a queue group, so any worker process may
// run any job. Delivery is at most once.
type Queue struct {
	nc      *nats.Conn
	subject string
	group   string
	log     *slog.Logger
}

// NewQueue returns a queue publishing under subject.
func NewQueue(nc *nats.Conn, subject string, log *slog.Logger) *Queue {
	return &Queue{nc: nc, subject: subject, group: DefaultQueueGroup, log: log}
}

// Submit implements Submitter.
func (q *Queue) Submit(_ context.Context, job Job) error {
	data, err := msgpack.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := q.nc.Publish(q.subject+"."+string(job.Kind), data); err != nil {
		return fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	return nil
}

// Consume joins the queue group and forwards every received job to sink
// until ctx is cancelled. Pairing it with a Pool gives the process its own
// concurrency while the group spreads jobs across processes.
func (q *Queue) Consume(ctx context.Context, sink Submitter) error {
	sub, err := q.nc.QueueSubscribe(q.subject+".>", q.group, func(msg *nats.Msg) {
		var job Job
		if err := msgpack.Unmarshal(msg.Data, &job); err != nil {
			q.log.Warn("dropping undecodable job",
				slog.String("subject", msg.Subject),
				slog.String("error", err.Error()))
			return
		}
		if err := sink.Submit(ctx, job); err != nil {
			q.log.Warn("dropping job",
				slog.String("job_id", job.ID),
				slog.String("kind", string(job.Kind)),
				slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", q.subject, err)
	}

	<-ctx.Done()
	return sub.Drain()
}
