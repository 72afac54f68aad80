// Package jobs describes the units of work the service runs in the
// background and the backends that execute them.
//
// Submission is fire-and-forget: Submit returns once a job is handed to a
// backend, and nothing downstream reports back. Jobs are attempted at most
// once.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Kind names the work a job performs.
type Kind string

const (
	// KindPush sends one segment file to one box.
	KindPush Kind = "push"
	// KindDASH rewrites a DASH manifest (.mpd).
	KindDASH Kind = "dash"
	// KindHLS rewrites an HLS playlist (.m3u8).
	KindHLS Kind = "hls"
)

var (
	// ErrUnknownKind is returned for manifests that are neither .mpd nor .m3u8,
	// and for jobs of an unrecognised kind.
	ErrUnknownKind = errors.New("jobs: unknown job kind")

	// ErrPoolClosed is returned when submitting to a closed pool.
	ErrPoolClosed = errors.New("jobs: pool closed")

	// ErrQueueFull is returned when the local queue has no room for a job.
	ErrQueueFull = errors.New("jobs: queue full")
)

// Job is a serialisable description of background work.
type Job struct {
	ID    string `json:"id" msgpack:"id"`
	Kind  Kind   `json:"kind" msgpack:"kind"`
	BoxID string `json:"box_id,omitempty" msgpack:"box_id,omitempty"`
	Path  string `json:"path" msgpack:"path"`
}

// Push returns a job that sends the file at path to boxID.
func Push(boxID, path string) Job {
	return Job{ID: uuid.NewString(), Kind: KindPush, BoxID: boxID, Path: path}
}

// ForManifest returns the rewrite job matching the manifest's extension.
func ForManifest(path string) (Job, error) {
	var kind Kind
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mpd":
		kind = KindDASH
	case ".m3u8":
		kind = KindHLS
	default:
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownKind, path)
	}
	return Job{ID: uuid.NewString(), Kind: kind, Path: path}, nil
}

// Submitter accepts jobs for asynchronous execution.
type Submitter interface {
	Submit(ctx context.Context, job Job) error
}

// Handler executes a job.
type Handler interface {
	Run(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, job Job) error { return f(ctx, job) }
