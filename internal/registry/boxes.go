package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/google/uuid"
)

// Box record fields, as written by the box process when it registers.
const (
	FieldIP   = "IP"
	FieldPort = "PORT"
)

const (
	DefaultBoxPrefix      = "box"
	DefaultListAttempts   = 5
	DefaultListRetryDelay = time.Second
)

var (
	// ErrNoBoxes is returned when no box is registered after every discovery attempt.
	ErrNoBoxes = errors.New("registry: no box registered")

	// ErrBoxNotFound is returned when a box record is missing.
	ErrBoxNotFound = errors.New("registry: box not found")
)

// Box is an edge node as seen through the registry.
type Box struct {
	ID   string
	IP   string
	Port string
}

// NewBoxID returns an identifier in the form boxes register under.
func NewBoxID() string {
	return DefaultBoxPrefix + "-" + uuid.NewString()
}

// BoxReader is a read-only view of registered boxes. Liveness is key
// existence; a box that is registered but unresponsive still counts.
type BoxReader struct {
	Prefix     string
	Attempts   uint
	RetryDelay time.Duration
}

// NewBoxReader returns a reader with the default discovery policy of five
// attempts spaced one second apart.
func NewBoxReader(prefix string) BoxReader {
	if prefix == "" {
		prefix = DefaultBoxPrefix
	}
	return BoxReader{
		Prefix:     prefix,
		Attempts:   DefaultListAttempts,
		RetryDelay: DefaultListRetryDelay,
	}
}

// List returns the ids of every registered box. An empty registry is retried
// because boxes may be mid-registration; ErrNoBoxes is returned once the
// attempts are spent. Store errors are returned immediately.
func (r BoxReader) List(ctx context.Context, s Store) ([]string, error) {
	attempts := r.Attempts
	if attempts == 0 {
		attempts = 1
	}

	var ids []string
	err := retry.Do(
		func() error {
			keys, err := s.Keys(ctx, r.Prefix)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("list boxes: %w", err))
			}
			if len(keys) == 0 {
				return ErrNoBoxes
			}
			ids = keys
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(r.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Address returns the box's registered address.
func (r BoxReader) Address(ctx context.Context, s Store, boxID string) (Box, error) {
	fields, err := s.HGetAll(ctx, boxID)
	if err != nil {
		return Box{}, fmt.Errorf("read box %s: %w", boxID, err)
	}
	ip, port := fields[FieldIP], fields[FieldPort]
	if ip == "" && port == "" {
		return Box{}, fmt.Errorf("%w: %s", ErrBoxNotFound, boxID)
	}
	return Box{ID: boxID, IP: ip, Port: port}, nil
}

// Register writes a box record. Boxes call this on startup; the rewrite core never does.
func Register(ctx context.Context, s Store, b Box) error {
	return s.HSet(ctx, b.ID, map[string]string{FieldIP: b.IP, FieldPort: b.Port})
}
