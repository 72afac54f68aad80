package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"

	"edgecast/internal/assignment"
	"edgecast/internal/platform/metrics"
	"edgecast/internal/registry"
	"edgecast/internal/scheduler"
)

const (
	DefaultSegmentSuffix    = ".ts"
	DefaultResolveAttempts  = 5
	DefaultResolveDelay     = 100 * time.Millisecond
	DefaultLookAheadSegment = 3
)

var errPending = errors.New("assignment pending")

// HLSConfig configures the HLS rewriter.
type HLSConfig struct {
	// WriteDir is the root rewritten playlists are written under.
	WriteDir string
	// GetDir is the path segment boxes and origin serve segments under.
	GetDir string
	// OriginIP and OriginPort address the origin server segments fall back to.
	OriginIP   string
	OriginPort string
	// BoxAmount caps the boxes seeded into a stream's rotation.
	BoxAmount int
	// LookAhead is how many segments, starting at the first one listed, are
	// resolved ahead of the playlist walk.
	LookAhead int
	// Attempts and RetryDelay bound how long a segment may stay pending
	// before it is pinned to the origin.
	Attempts   uint
	RetryDelay time.Duration
	// Suffix identifies segment lines.
	Suffix string
}

func (c *HLSConfig) setDefaults() {
	if c.Suffix == "" {
		c.Suffix = DefaultSegmentSuffix
	}
	if c.Attempts == 0 {
		c.Attempts = DefaultResolveAttempts
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultResolveDelay
	}
	if c.LookAhead < 0 {
		c.LookAhead = 0
	}
}

// HLSRewriter rewrites .m3u8 playlists so each segment URI is an absolute
// URL on the box it was assigned to, or on the origin when no box took it
// in time.
type HLSRewriter struct {
	cfg     HLSConfig
	boxes   registry.BoxReader
	cache   *assignment.Cache
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHLSRewriter returns an HLS rewriter. Metrics may be nil.
func NewHLSRewriter(cfg HLSConfig, boxes registry.BoxReader, cache *assignment.Cache, log *slog.Logger, m *metrics.Metrics) *HLSRewriter {
	cfg.setDefaults()
	return &HLSRewriter{cfg: cfg, boxes: boxes, cache: cache, log: log, metrics: m}
}

// noBoxes is the picker used when the registry has no boxes at all; every
// segment then ends up on the origin.
type noBoxes struct{ err error }

func (p noBoxes) Next(context.Context) (registry.Box, error) { return registry.Box{}, p.err }

// capacityWatch remembers the first scheduling failure of a rewrite so it is
// reported once, not once per resolve attempt.
type capacityWatch struct {
	picker assignment.Picker
	err    error
}

func (w *capacityWatch) Next(ctx context.Context) (registry.Box, error) {
	box, err := w.picker.Next(ctx)
	if err != nil && w.err == nil {
		w.err = err
	}
	return box, err
}

// Rewrite processes the playlist at manifestPath.
func (r *HLSRewriter) Rewrite(ctx context.Context, store registry.Store, manifestPath string) error {
	loc := locate(manifestPath)

	in, err := openInput(manifestPath)
	if err != nil {
		r.log.Warn("manifest unavailable", slog.String("path", manifestPath), slog.String("error", err.Error()))
		return err
	}
	defer in.Close()

	watch := &capacityWatch{}
	sched, err := scheduler.Open(ctx, store, r.boxes, loc.dir, r.cfg.BoxAmount)
	switch {
	case err == nil:
		watch.picker = sched
	case errors.Is(err, registry.ErrNoBoxes):
		watch.picker = noBoxes{err: err}
	default:
		return fmt.Errorf("open scheduler for %s: %w", loc.dir, err)
	}

	out, err := createOutput(r.cfg.WriteDir, loc)
	if err != nil {
		return err
	}

	first := true
	err = forEachLine(in, func(text string) error {
		seg, ok := ClassifyHLS(text, r.cfg.Suffix).(SegmentLine)
		if !ok {
			return out.WriteString(text)
		}
		if first {
			first = false
			if err := r.lookAhead(ctx, store, watch, loc, seg.Name); err != nil {
				return err
			}
		}
		addr, err := r.resolve(ctx, store, watch, loc.segmentPath(seg.Name))
		if err != nil {
			return err
		}
		_, eol := splitEOL(seg.Text)
		return out.WriteString(r.segmentURL(addr, loc.stream, seg.Name) + eol)
	})
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("rewrite %s: %w", manifestPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("finish %s: %w", manifestPath, err)
	}
	if sched != nil {
		if err := sched.Touch(ctx, LoadSetTTL); err != nil {
			return fmt.Errorf("expire load set for %s: %w", loc.dir, err)
		}
	}
	if watch.err != nil {
		r.metrics.IncNoCapacity()
		r.log.Warn("no box for segments, pending ones fall back to origin",
			slog.String("path", manifestPath),
			slog.String("error", watch.err.Error()))
	}

	r.metrics.IncManifestsRewritten("hls")
	r.log.Debug("hls playlist rewritten", slog.String("path", manifestPath))
	return nil
}

// lookAhead resolves the LookAhead segments numbered from the first listed
// one, so their pushes are in flight before players ask for them. Results
// are discarded.
func (r *HLSRewriter) lookAhead(ctx context.Context, store registry.Store, picker assignment.Picker, loc location, first string) error {
	token, _, _ := strings.Cut(first, ".")
	head, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		r.log.Debug("segment name is not numbered, skipping look-ahead", slog.String("segment", first))
		return nil
	}
	for i := 0; i < r.cfg.LookAhead; i++ {
		name := fmt.Sprintf("%0*d%s", len(token), head+int64(i), r.cfg.Suffix)
		_, _, err := r.cache.Resolve(ctx, store, picker, loc.segmentPath(name))
		if err != nil && !errors.Is(err, assignment.ErrCorruptAssignment) {
			return err
		}
	}
	return nil
}

// resolve waits for segmentPath to get a final address, pinning it to the
// origin once the attempts are spent.
func (r *HLSRewriter) resolve(ctx context.Context, store registry.Store, picker assignment.Picker, segmentPath string) (assignment.Address, error) {
	var addr assignment.Address
	err := retry.Do(
		func() error {
			a, ok, err := r.cache.Resolve(ctx, store, picker, segmentPath)
			switch {
			case errors.Is(err, assignment.ErrCorruptAssignment):
				return err
			case err != nil:
				return retry.Unrecoverable(err)
			case !ok:
				return errPending
			}
			addr = a
			return nil
		},
		retry.Attempts(r.cfg.Attempts),
		retry.Delay(r.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err == nil {
		return addr, nil
	}
	if !errors.Is(err, errPending) && !errors.Is(err, assignment.ErrCorruptAssignment) {
		return assignment.Address{}, err
	}

	origin := assignment.Address{IP: r.cfg.OriginIP, Port: r.cfg.OriginPort}
	if err := r.cache.Pin(ctx, store, segmentPath, origin); err != nil {
		return assignment.Address{}, err
	}
	r.metrics.IncOriginFallbacks()
	r.log.Info("segment pinned to origin",
		slog.String("segment", segmentPath),
		slog.Int("attempts", int(r.cfg.Attempts)))
	return origin, nil
}

func (r *HLSRewriter) segmentURL(addr assignment.Address, stream, name string) string {
	return proxyPrefix("http://"+net.JoinHostPort(addr.IP, addr.Port), r.cfg.GetDir, stream) + name
}
