package manifest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"edgecast/internal/jobs"
	"edgecast/internal/registry"
	"edgecast/internal/testutil"
)

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

// pushed returns "box|path" for every submitted push.
func (c *captureSubmitter) pushed() []string {
	var out []string
	for _, j := range c.Jobs() {
		out = append(out, j.BoxID+"|"+j.Path)
	}
	return out
}

func newStore(t *testing.T) (*registry.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, rdb := testutil.StartRedis(t)
	return registry.NewRedisStore(rdb), mr
}

func fastReader() registry.BoxReader {
	r := registry.NewBoxReader("box")
	r.RetryDelay = time.Millisecond
	return r
}

// writeManifest writes content to <root>/live/<stream>/<name> and returns its path.
func writeManifest(t *testing.T, root, stream, name, content string) string {
	t.Helper()
	dir := filepath.Join(root, "live", stream)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}
