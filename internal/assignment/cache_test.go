package assignment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgecast/internal/jobs"
	"edgecast/internal/registry"
	"edgecast/internal/scheduler"
	"edgecast/internal/testutil"
)

const segment = "/origin/live/s1/42.ts"

type captureSubmitter struct {
	mu   sync.Mutex
	jobs []jobs.Job
}

func (c *captureSubmitter) Submit(_ context.Context, job jobs.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
	return nil
}

func (c *captureSubmitter) Jobs() []jobs.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]jobs.Job(nil), c.jobs...)
}

type failingPicker struct{ err error }

func (p failingPicker) Next(context.Context) (registry.Box, error) { return registry.Box{}, p.err }

type fixture struct {
	mr    *miniredis.Miniredis
	store *registry.RedisStore
	sched *scheduler.Scheduler
	sub   *captureSubmitter
	cache *Cache
}

func newFixture(t *testing.T, boxes ...registry.Box) *fixture {
	t.Helper()
	f := &fixture{sub: &captureSubmitter{}}
	mr, rdb := testutil.StartRedis(t)
	f.mr, f.store = mr, registry.NewRedisStore(rdb)
	for _, b := range boxes {
		require.NoError(t, registry.Register(context.Background(), f.store, b))
	}
	reader := registry.NewBoxReader("box")
	reader.RetryDelay = time.Millisecond
	if len(boxes) > 0 {
		s, err := scheduler.Open(context.Background(), f.store, reader, "/origin/live/s1", 10)
		require.NoError(t, err)
		f.sched = s
	}
	f.cache = NewCache(f.sub, testutil.DiscardLogger(), nil)
	return f
}

var (
	boxA = registry.Box{ID: "box-a", IP: "10.0.0.5", Port: "9000"}
	boxB = registry.Box{ID: "box-b", IP: "10.0.0.6", Port: "9000"}
)

func TestResolve_pendingDispatchesOnePushPerCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, boxA, boxB)

	for i := 1; i <= 4; i++ {
		_, ok, err := f.cache.Resolve(ctx, f.store, f.sched, segment)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Len(t, f.sub.Jobs(), i)
	}

	// Least-loaded rotation alternates boxes between retries.
	got := f.sub.Jobs()
	assert.NotEqual(t, got[0].BoxID, got[1].BoxID)
	for _, j := range got {
		assert.Equal(t, jobs.KindPush, j.Kind)
		assert.Equal(t, segment, j.Path)
	}

	rec, found, err := f.cache.Lookup(ctx, f.store, segment)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, rec.Final)
}

func TestResolve_recordsTentativeWithTTL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, boxA)

	_, ok, err := f.cache.Resolve(ctx, f.store, f.sched, segment)
	require.NoError(t, err)
	require.False(t, ok)

	rec, found, err := f.cache.Lookup(ctx, f.store, segment)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, Record{Address: Address{IP: "10.0.0.5", Port: "9000"}}, rec)

	f.mr.FastForward(59 * time.Second)
	_, ok, err = f.cache.Resolve(ctx, f.store, f.sched, segment)
	require.NoError(t, err)
	require.False(t, ok)

	// The re-check extended the TTL even though the record was not rewritten.
	f.mr.FastForward(59 * time.Second)
	_, found, err = f.cache.Lookup(ctx, f.store, segment)
	require.NoError(t, err)
	assert.True(t, found)

	f.mr.FastForward(time.Second)
	_, found, err = f.cache.Lookup(ctx, f.store, segment)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolve_finalReturnsAddressWithoutPush(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, boxA)
	origin := Address{IP: "192.168.1.1", Port: "8080"}

	require.NoError(t, f.cache.Pin(ctx, f.store, segment, origin))
	for i := 0; i < 3; i++ {
		addr, ok, err := f.cache.Resolve(ctx, f.store, f.sched, segment)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, origin, addr)
	}
	assert.Empty(t, f.sub.Jobs())

	f.mr.FastForward(TTL)
	_, ok, err := f.cache.Resolve(ctx, f.store, f.sched, segment)
	require.NoError(t, err)
	assert.False(t, ok, "final record must lapse with its TTL")
	assert.Len(t, f.sub.Jobs(), 1)
}

func TestResolve_schedulerErrorIsPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, ok, err := f.cache.Resolve(ctx, f.store, failingPicker{err: scheduler.ErrNoAvailableBox}, segment)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.sub.Jobs())

	_, found, err := f.cache.Lookup(ctx, f.store, segment)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolve_corruptRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, boxA)

	require.NoError(t, f.store.HSet(ctx, registry.AssignmentKey(segment), map[string]string{
		"IP": "10.0.0.5", "PORT": "9000", "CHECK": "maybe",
	}))
	_, _, err := f.cache.Resolve(ctx, f.store, f.sched, segment)
	assert.ErrorIs(t, err, ErrCorruptAssignment)
	assert.Empty(t, f.sub.Jobs())
}

func TestResolve_finalWithoutAddressIsCorrupt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, boxA)

	require.NoError(t, f.store.HSet(ctx, registry.AssignmentKey(segment), map[string]string{"CHECK": "True"}))
	_, _, err := f.cache.Resolve(ctx, f.store, f.sched, segment)
	assert.ErrorIs(t, err, ErrCorruptAssignment)
}

func TestResolve_registryErrorPropagates(t *testing.T) {
	f := newFixture(t, boxA)
	f.mr.SetError("ERR connection reset")

	_, _, err := f.cache.Resolve(context.Background(), f.store, f.sched, segment)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCorruptAssignment)
	assert.Empty(t, f.sub.Jobs())
}
