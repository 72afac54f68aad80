// Package registry is the shared key/value and scored-set state that boxes,
// schedulers and rewrite jobs coordinate through.
//
// The registry is a black box to the rest of the system: components only use
// the primitives on Store, and every operation receives the Store it should
// talk to rather than holding a connection of its own.
package registry

import (
	"context"
	"errors"
	"time"
)

// ErrWrongType is returned when a key holds a value of a different kind than
// the operation expects (e.g. a set read as a hash).
var ErrWrongType = errors.New("registry: operation against a key holding the wrong kind of value")

// Store is the set of registry primitives consumed by the scheduling and
// rewrite core. Reads and writes are separate round-trips; no operation here
// is transactional with any other.
type Store interface {
	// Keys lists every key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Exists reports whether key is present and not expired.
	Exists(ctx context.Context, key string) (bool, error)
	// Expire sets a time-to-live on key. Missing keys are ignored.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// HGetAll returns every field of the hash at key; an absent key yields an empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HSet writes the given fields into the hash at key.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// ZAddNX adds member with score unless it is already in the sorted set.
	ZAddNX(ctx context.Context, key, member string, score float64) error
	// ZIncrBy adds delta to member's score and returns the new score.
	ZIncrBy(ctx context.Context, key, member string, delta float64) (float64, error)
	// ZLowest returns the member with the lowest score. ok is false for an empty set.
	ZLowest(ctx context.Context, key string) (member string, score float64, ok bool, err error)
	// ZRem removes member from the sorted set.
	ZRem(ctx context.Context, key, member string) error

	// SIsMember reports whether member belongs to the set at key.
	SIsMember(ctx context.Context, key, member string) (bool, error)
	// SAdd adds member to the set at key.
	SAdd(ctx context.Context, key, member string) error
}

// Key prefixes for state owned by the rewrite jobs. Box records live under
// the configurable box prefix and are written by the boxes themselves.
const (
	LoadSetPrefix    = "lb:"
	AssignmentPrefix = "seg:"
	DedupPrefix      = "dedup:"
)

// LoadSetKey is the sorted set holding per-box assignment counts for a stream directory.
func LoadSetKey(streamPath string) string { return LoadSetPrefix + streamPath }

// AssignmentKey is the hash holding the assignment record for a segment path.
func AssignmentKey(segmentPath string) string { return AssignmentPrefix + segmentPath }

// DedupKey is the set of timing tokens already pushed for a DASH stream directory.
func DedupKey(streamPath string) string { return DedupPrefix + streamPath }
