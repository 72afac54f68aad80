// Package scheduler hands out boxes for a stream, least-loaded first.
//
// Each stream directory owns a sorted set in the registry whose scores count
// the assignments made to each box for that stream. Next always picks a
// lowest-score member and increments it, so load spreads evenly over time
// and boxes that join mid-stream catch up before they are passed over.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"edgecast/internal/registry"
)

// DefaultBoxAmount caps how many boxes are seeded into a stream's rotation per Open.
const DefaultBoxAmount = 10

// ErrNoAvailableBox is returned when every member of the stream's load set
// has been pruned.
var ErrNoAvailableBox = errors.New("scheduler: no available box")

// Scheduler yields box assignments for one stream. It is not safe for
// concurrent use; concurrent schedulers over the same stream share the
// registry state without coordination.
type Scheduler struct {
	store  registry.Store
	boxes  registry.BoxReader
	stream string
	key    string
}

// Open lists the registered boxes and seeds the stream's load set with up to
// desired randomly chosen boxes at score zero. Boxes already in the set keep
// their score. Open fails with registry.ErrNoBoxes when discovery finds nothing.
func Open(ctx context.Context, store registry.Store, boxes registry.BoxReader, streamPath string, desired int) (*Scheduler, error) {
	if desired <= 0 {
		desired = DefaultBoxAmount
	}

	ids, err := boxes.List(ctx, store)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		store:  store,
		boxes:  boxes,
		stream: streamPath,
		key:    registry.LoadSetKey(streamPath),
	}

	candidates := append([]string(nil), ids...)
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > desired {
		candidates = candidates[:desired]
	}
	for _, id := range candidates {
		if err := store.ZAddNX(ctx, s.key, id, 0); err != nil {
			return nil, fmt.Errorf("seed load set %s: %w", s.key, err)
		}
	}
	return s, nil
}

// Stream returns the stream directory this scheduler balances.
func (s *Scheduler) Stream() string { return s.stream }

// Next returns the least-loaded box of the stream and records one more
// assignment against it. Members whose box record has disappeared are removed
// from the set before selection is retried.
func (s *Scheduler) Next(ctx context.Context) (registry.Box, error) {
	for {
		id, _, ok, err := s.store.ZLowest(ctx, s.key)
		if err != nil {
			return registry.Box{}, fmt.Errorf("select from %s: %w", s.key, err)
		}
		if !ok {
			return registry.Box{}, fmt.Errorf("%w for %s", ErrNoAvailableBox, s.stream)
		}

		alive, err := s.store.Exists(ctx, id)
		if err != nil {
			return registry.Box{}, fmt.Errorf("check box %s: %w", id, err)
		}
		if !alive {
			if err := s.prune(ctx, id); err != nil {
				return registry.Box{}, err
			}
			continue
		}

		if _, err := s.store.ZIncrBy(ctx, s.key, id, 1); err != nil {
			return registry.Box{}, fmt.Errorf("record assignment for %s: %w", id, err)
		}

		box, err := s.boxes.Address(ctx, s.store, id)
		if errors.Is(err, registry.ErrBoxNotFound) {
			// Deregistered between the existence check and the read.
			if err := s.prune(ctx, id); err != nil {
				return registry.Box{}, err
			}
			continue
		}
		if err != nil {
			return registry.Box{}, err
		}
		return box, nil
	}
}

// Touch refreshes the expiry of the stream's load set.
func (s *Scheduler) Touch(ctx context.Context, ttl time.Duration) error {
	return s.store.Expire(ctx, s.key, ttl)
}

func (s *Scheduler) prune(ctx context.Context, id string) error {
	if err := s.store.ZRem(ctx, s.key, id); err != nil {
		return fmt.Errorf("prune %s from %s: %w", id, s.key, err)
	}
	return nil
}
