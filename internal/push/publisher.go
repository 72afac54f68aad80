// Package push delivers segment files to boxes over the publish/subscribe
// fan-out. A push is addressed by subject: each box subscribes to the
// subject equal to its own id.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"edgecast/internal/platform/metrics"
)

// DefaultSettleDelay is how long a fresh connection waits before publishing.
const DefaultSettleDelay = 50 * time.Millisecond

// Header names carrying the message parts besides the payload.
const (
	HeaderBoxID = "Edgecast-Box-Id"
	HeaderPath  = "Edgecast-Segment-Path"
)

var (
	// ErrFileNotFound is returned when the segment to push does not exist.
	ErrFileNotFound = errors.New("push: segment file not found")

	// ErrMalformedMessage is returned by Decode for messages missing a part.
	ErrMalformedMessage = errors.New("push: malformed segment message")
)

// Message is one pushed segment.
type Message struct {
	BoxID string
	Path  string
	Data  []byte
}

// Encode builds the wire message: subject = box id, headers = box id and
// segment path, payload = raw segment bytes.
func Encode(m Message) *nats.Msg {
	msg := nats.NewMsg(m.BoxID)
	msg.Header.Set(HeaderBoxID, m.BoxID)
	msg.Header.Set(HeaderPath, m.Path)
	msg.Data = m.Data
	return msg
}

// Decode parses a message received by a box.
func Decode(msg *nats.Msg) (Message, error) {
	m := Message{
		BoxID: msg.Header.Get(HeaderBoxID),
		Path:  msg.Header.Get(HeaderPath),
		Data:  msg.Data,
	}
	if m.BoxID == "" || m.Path == "" {
		return Message{}, ErrMalformedMessage
	}
	return m, nil
}

// Publisher sends segments to boxes. Each Push opens and closes its own
// connection, so it can run in any worker process.
type Publisher struct {
	url     string
	settle  time.Duration
	options []nats.Option
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewPublisher returns a publisher connecting to the fan-out at url.
// Metrics may be nil.
func NewPublisher(url string, settle time.Duration, log *slog.Logger, m *metrics.Metrics, opts ...nats.Option) *Publisher {
	return &Publisher{
		url:     url,
		settle:  settle,
		options: append([]nats.Option{nats.Name("edgecast-push")}, opts...),
		log:     log,
		metrics: m,
	}
}

// Push publishes the file at path to boxID. Nothing acknowledges the
// message; a missing file is reported and not retried.
func (p *Publisher) Push(ctx context.Context, boxID, path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		p.log.Warn("segment file not found, push abandoned",
			slog.String("box_id", boxID),
			slog.String("path", path))
		p.metrics.IncPush(metrics.PushMissing)
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	nc, err := nats.Connect(p.url, p.options...)
	if err != nil {
		p.metrics.IncPush(metrics.PushFailed)
		return fmt.Errorf("connect to %s: %w", p.url, err)
	}
	defer nc.Close()

	// Subscribers that are still completing their handshake would miss
	// the message.
	select {
	case <-time.After(p.settle):
	case <-ctx.Done():
		return ctx.Err()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		p.log.Warn("cannot read segment file",
			slog.String("path", path),
			slog.String("error", err.Error()))
		p.metrics.IncPush(metrics.PushFailed)
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := nc.PublishMsg(Encode(Message{BoxID: boxID, Path: path, Data: data})); err != nil {
		p.metrics.IncPush(metrics.PushFailed)
		return fmt.Errorf("publish %s to %s: %w", path, boxID, err)
	}
	if err := nc.Flush(); err != nil {
		p.metrics.IncPush(metrics.PushFailed)
		return fmt.Errorf("flush %s to %s: %w", path, boxID, err)
	}

	p.log.Debug("segment pushed",
		slog.String("box_id", boxID),
		slog.String("path", path),
		slog.Int("bytes", len(data)))
	p.metrics.IncPush(metrics.PushSent)
	return nil
}
