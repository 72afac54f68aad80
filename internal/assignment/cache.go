// Package assignment records which box a segment was sent to.
//
// A record is tentative while pushes are still being attempted and final
// once it may be embedded in a manifest as-is. Resolving a tentative or
// missing record dispatches a push to the next scheduled box and reports the
// segment as pending; only a final record yields an address. Records expire
// TTL after their last write.
//
// Reads and writes are separate registry operations. Two jobs resolving the
// same segment at once may both dispatch pushes, to different boxes; the
// record then holds whichever write landed last.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"edgecast/internal/jobs"
	"edgecast/internal/platform/metrics"
	"edgecast/internal/registry"
)

// TTL is how long a record lives after its last write.
const TTL = 60 * time.Second

// Record fields and CHECK values.
const (
	fieldIP    = "IP"
	fieldPort  = "PORT"
	fieldCheck = "CHECK"

	checkFinal     = "True"
	checkTentative = "False"
)

// ErrCorruptAssignment is returned when a stored record is neither tentative
// nor final.
var ErrCorruptAssignment = errors.New("assignment: corrupt assignment record")

// Address is a host and port segments can be fetched from.
type Address struct {
	IP   string
	Port string
}

// Record is a stored segment assignment.
type Record struct {
	Address
	Final bool
}

// Picker supplies the next box to push to. *scheduler.Scheduler implements it.
type Picker interface {
	Next(ctx context.Context) (registry.Box, error)
}

// Cache resolves segment paths to addresses, dispatching pushes as a side effect.
type Cache struct {
	submit  jobs.Submitter
	log     *slog.Logger
	metrics *metrics.Metrics
	ttl     time.Duration
}

// NewCache returns a cache submitting push jobs to submit. Metrics may be nil.
func NewCache(submit jobs.Submitter, log *slog.Logger, m *metrics.Metrics) *Cache {
	return &Cache{submit: submit, log: log, metrics: m, ttl: TTL}
}

// Lookup returns the stored record for segmentPath. ok is false when there is none.
func (c *Cache) Lookup(ctx context.Context, store registry.Store, segmentPath string) (Record, bool, error) {
	fields, err := store.HGetAll(ctx, registry.AssignmentKey(segmentPath))
	if err != nil {
		return Record{}, false, fmt.Errorf("read assignment %s: %w", segmentPath, err)
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}

	rec := Record{Address: Address{IP: fields[fieldIP], Port: fields[fieldPort]}}
	switch fields[fieldCheck] {
	case checkFinal:
		rec.Final = true
	case checkTentative:
	default:
		return Record{}, false, fmt.Errorf("%w: %s has CHECK=%q", ErrCorruptAssignment, segmentPath, fields[fieldCheck])
	}
	if rec.Final && (rec.IP == "" || rec.Port == "") {
		return Record{}, false, fmt.Errorf("%w: %s is final without an address", ErrCorruptAssignment, segmentPath)
	}
	return rec, true, nil
}

// Resolve returns the final address for segmentPath. When the segment has no
// record or only a tentative one, it draws the next box from picker, submits
// a push of the segment to it and returns ok=false. Scheduling errors also
// yield ok=false; callers own reporting them. Errors are returned only for corrupt
// records and registry failures.
func (c *Cache) Resolve(ctx context.Context, store registry.Store, picker Picker, segmentPath string) (Address, bool, error) {
	rec, found, err := c.Lookup(ctx, store, segmentPath)
	if err != nil {
		if errors.Is(err, ErrCorruptAssignment) {
			c.log.Error("corrupt assignment record",
				slog.String("segment", segmentPath),
				slog.String("error", err.Error()))
		}
		return Address{}, false, err
	}
	if found && rec.Final {
		return rec.Address, true, nil
	}

	box, err := picker.Next(ctx)
	if err != nil {
		c.log.Debug("no box for segment",
			slog.String("segment", segmentPath),
			slog.String("error", err.Error()))
		return Address{}, false, nil
	}

	job := jobs.Push(box.ID, segmentPath)
	if err := c.submit.Submit(ctx, job); err != nil {
		c.log.Warn("push not submitted",
			slog.String("segment", segmentPath),
			slog.String("box_id", box.ID),
			slog.String("error", err.Error()))
	} else {
		c.metrics.IncJobsSubmitted(string(jobs.KindPush))
	}

	key := registry.AssignmentKey(segmentPath)
	if !found || rec.IP != box.IP || rec.Port != box.Port {
		if err := store.HSet(ctx, key, map[string]string{
			fieldIP:    box.IP,
			fieldPort:  box.Port,
			fieldCheck: checkTentative,
		}); err != nil {
			return Address{}, false, fmt.Errorf("write assignment %s: %w", segmentPath, err)
		}
	}
	if err := store.Expire(ctx, key, c.ttl); err != nil {
		return Address{}, false, fmt.Errorf("expire assignment %s: %w", segmentPath, err)
	}
	return Address{}, false, nil
}

// Pin writes a final record for segmentPath pointing at addr.
func (c *Cache) Pin(ctx context.Context, store registry.Store, segmentPath string, addr Address) error {
	key := registry.AssignmentKey(segmentPath)
	if err := store.HSet(ctx, key, map[string]string{
		fieldIP:    addr.IP,
		fieldPort:  addr.Port,
		fieldCheck: checkFinal,
	}); err != nil {
		return fmt.Errorf("pin assignment %s: %w", segmentPath, err)
	}
	if err := store.Expire(ctx, key, c.ttl); err != nil {
		return fmt.Errorf("expire assignment %s: %w", segmentPath, err)
	}
	return nil
}
