package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"edgecast/internal/jobs"
	"edgecast/internal/platform/metrics"
	"edgecast/internal/registry"
	"edgecast/internal/scheduler"
)

const (
	// DedupTTL bounds how long a pushed timing token suppresses repeat pushes.
	DedupTTL = 200 * time.Second
	// LoadSetTTL is the expiry refreshed on a stream's load set after each rewrite.
	LoadSetTTL = 30 * time.Second
)

// DASHConfig configures the DASH rewriter.
type DASHConfig struct {
	// WriteDir is the root rewritten manifests are written under.
	WriteDir string
	// GetDir is the path segment under ProxyURL manifests are served from.
	GetDir string
	// ProxyURL is this service's manifest-serving endpoint, e.g. http://10.0.0.1:8080.
	ProxyURL string
	// BoxAmount caps the boxes seeded into a stream's rotation.
	BoxAmount int
}

// DASHRewriter rewrites .mpd manifests. Media and initialization templates
// are pointed at the manifest proxy. The segment pair of the first timeline
// entry and the initialization segments are pushed to a scheduled box ahead
// of requests.
type DASHRewriter struct {
	cfg     DASHConfig
	boxes   registry.BoxReader
	submit  jobs.Submitter
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewDASHRewriter returns a DASH rewriter. Metrics may be nil.
func NewDASHRewriter(cfg DASHConfig, boxes registry.BoxReader, submit jobs.Submitter, log *slog.Logger, m *metrics.Metrics) *DASHRewriter {
	return &DASHRewriter{cfg: cfg, boxes: boxes, submit: submit, log: log, metrics: m}
}

type dashSection int

const (
	videoSection dashSection = iota
	audioSection
)

// dashRun is the state of one rewrite.
type dashRun struct {
	r      *DASHRewriter
	store  registry.Store
	sched  *scheduler.Scheduler
	loc    location
	prefix string

	section    dashSection
	seenTiming bool
	box        *registry.Box
	boxErr     error
}

// Rewrite processes the manifest at manifestPath. A missing manifest or an
// empty box registry aborts the job before any output is written.
func (r *DASHRewriter) Rewrite(ctx context.Context, store registry.Store, manifestPath string) error {
	loc := locate(manifestPath)

	in, err := openInput(manifestPath)
	if err != nil {
		r.log.Warn("manifest unavailable", slog.String("path", manifestPath), slog.String("error", err.Error()))
		return err
	}
	defer in.Close()

	sched, err := scheduler.Open(ctx, store, r.boxes, loc.dir, r.cfg.BoxAmount)
	if err != nil {
		r.metrics.IncNoCapacity()
		r.log.Warn("dash rewrite aborted, no box to push to",
			slog.String("path", manifestPath),
			slog.String("error", err.Error()))
		return fmt.Errorf("open scheduler for %s: %w", loc.dir, err)
	}

	out, err := createOutput(r.cfg.WriteDir, loc)
	if err != nil {
		return err
	}

	run := &dashRun{
		r:      r,
		store:  store,
		sched:  sched,
		loc:    loc,
		prefix: proxyPrefix(r.cfg.ProxyURL, r.cfg.GetDir, loc.stream),
	}
	err = forEachLine(in, func(text string) error {
		rewritten, err := run.line(ctx, ClassifyDASH(text))
		if err != nil {
			return err
		}
		return out.WriteString(rewritten)
	})
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("rewrite %s: %w", manifestPath, err)
	}

	if err := store.Expire(ctx, registry.DedupKey(loc.dir), DedupTTL); err != nil {
		_ = out.Close()
		return fmt.Errorf("expire dedup set for %s: %w", loc.dir, err)
	}
	if err := sched.Touch(ctx, LoadSetTTL); err != nil {
		_ = out.Close()
		return fmt.Errorf("expire load set for %s: %w", loc.dir, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("finish %s: %w", manifestPath, err)
	}

	r.metrics.IncManifestsRewritten("dash")
	r.log.Debug("dash manifest rewritten", slog.String("path", manifestPath))
	return nil
}

func (d *dashRun) line(ctx context.Context, l Line) (string, error) {
	switch l := l.(type) {
	case TimingLine:
		if d.seenTiming {
			return l.Text, nil
		}
		d.seenTiming = true
		return l.Text, d.pushPair(ctx, l.Token)
	case MediaAttrLine:
		return d.rewriteTemplates(l.Text), nil
	case InitAttrLine:
		name := "init.m4v"
		if d.section == audioSection {
			name = "init.m4a"
		}
		d.push(ctx, d.loc.segmentPath(name))
		return d.rewriteTemplates(l.Text), nil
	case SectionMarkerLine:
		d.section = audioSection
		return l.Text, nil
	default:
		return l.Raw(), nil
	}
}

// pushPair pushes the video and audio segments for token unless they were
// pushed within the dedup window.
func (d *dashRun) pushPair(ctx context.Context, token string) error {
	key := registry.DedupKey(d.loc.dir)
	seen, err := d.store.SIsMember(ctx, key, token)
	if err != nil {
		return fmt.Errorf("check dedup set %s: %w", key, err)
	}
	if seen {
		return nil
	}

	box, ok := d.target(ctx)
	if !ok {
		return nil
	}
	d.submit(ctx, box, d.loc.segmentPath(token+".m4v"))
	d.submit(ctx, box, d.loc.segmentPath(token+".m4a"))

	if err := d.store.SAdd(ctx, key, token); err != nil {
		return fmt.Errorf("record %s in %s: %w", token, key, err)
	}
	return d.store.Expire(ctx, key, DedupTTL)
}

// push submits a push of path to the box drawn for this run.
func (d *dashRun) push(ctx context.Context, path string) {
	if box, ok := d.target(ctx); ok {
		d.submit(ctx, box, path)
	}
}

func (d *dashRun) submit(ctx context.Context, box registry.Box, path string) {
	if err := d.r.submit.Submit(ctx, jobs.Push(box.ID, path)); err != nil {
		d.r.log.Warn("push not submitted",
			slog.String("path", path),
			slog.String("box_id", box.ID),
			slog.String("error", err.Error()))
		return
	}
	d.r.metrics.IncJobsSubmitted(string(jobs.KindPush))
}

// target draws one box from the scheduler on first use; every push in the
// same rewrite goes to it. A failed draw is logged once and not retried.
func (d *dashRun) target(ctx context.Context) (registry.Box, bool) {
	if d.box == nil && d.boxErr == nil {
		box, err := d.sched.Next(ctx)
		if err != nil {
			d.r.metrics.IncNoCapacity()
			d.r.log.Warn("dash pushes skipped, no box",
				slog.String("stream", d.loc.dir),
				slog.String("error", err.Error()))
			d.boxErr = err
		} else {
			d.box = &box
		}
	}
	if d.boxErr != nil {
		return registry.Box{}, false
	}
	return *d.box, true
}

func (d *dashRun) rewriteTemplates(text string) string {
	text = prefixAttr(text, mediaAttr, d.prefix)
	return prefixAttr(text, initAttr, d.prefix)
}

// proxyPrefix is <proxy>/<get-dir>/<stream>/ with duplicate slashes collapsed.
func proxyPrefix(proxyURL, getDir, stream string) string {
	parts := []string{strings.TrimRight(proxyURL, "/")}
	if d := strings.Trim(getDir, "/"); d != "" {
		parts = append(parts, d)
	}
	parts = append(parts, stream)
	return strings.Join(parts, "/") + "/"
}
