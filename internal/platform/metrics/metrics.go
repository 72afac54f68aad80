package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Push outcomes recorded by IncPush.
const (
	PushSent    = "sent"
	PushMissing = "missing_file"
	PushFailed  = "failed"
)

// Metrics holds Prometheus counters and gauges for the service.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	requestDuration     *prometheus.HistogramVec
	jobsSubmittedTotal  *prometheus.CounterVec
	jobsFailedTotal     *prometheus.CounterVec
	jobsQueued          prometheus.Gauge
	pushesTotal         *prometheus.CounterVec
	manifestsTotal      *prometheus.CounterVec
	originFallbackTotal prometheus.Counter
	noCapacityTotal     prometheus.Counter
}

// New creates and registers Prometheus metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edgecast_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edgecast_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edgecast_request_duration_seconds",
		Help:    "HTTP request latency, by chi route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	jobsSubmittedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edgecast_jobs_submitted_total",
		Help: "Jobs accepted for background execution, by kind",
	}, []string{"kind"})
	jobsFailedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edgecast_jobs_failed_total",
		Help: "Jobs that returned an error, by kind",
	}, []string{"kind"})
	jobsQueued := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "edgecast_jobs_queued",
		Help: "Jobs waiting for a local worker",
	})
	pushesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edgecast_pushes_total",
		Help: "Segment pushes to boxes, by result",
	}, []string{"result"})
	manifestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edgecast_manifests_rewritten_total",
		Help: "Manifests rewritten, by protocol",
	}, []string{"protocol"})
	originFallbackTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edgecast_origin_fallbacks_total",
		Help: "HLS segments pinned to the origin server after assignment retries ran out",
	})
	noCapacityTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edgecast_no_capacity_total",
		Help: "Scheduling attempts that found no box",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		requestDuration,
		jobsSubmittedTotal,
		jobsFailedTotal,
		jobsQueued,
		pushesTotal,
		manifestsTotal,
		originFallbackTotal,
		noCapacityTotal,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		errorsTotal:         errorsTotal,
		requestDuration:     requestDuration,
		jobsSubmittedTotal:  jobsSubmittedTotal,
		jobsFailedTotal:     jobsFailedTotal,
		jobsQueued:          jobsQueued,
		pushesTotal:         pushesTotal,
		manifestsTotal:      manifestsTotal,
		originFallbackTotal: originFallbackTotal,
		noCapacityTotal:     noCapacityTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// ObserveRequest records the latency of a request served by route.
func (m *Metrics) ObserveRequest(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// IncJobsSubmitted counts a job handed to a backend.
func (m *Metrics) IncJobsSubmitted(kind string) {
	if m == nil {
		return
	}
	m.jobsSubmittedTotal.WithLabelValues(kind).Inc()
}

// IncJobsFailed counts a job that returned an error.
func (m *Metrics) IncJobsFailed(kind string) {
	if m == nil {
		return
	}
	m.jobsFailedTotal.WithLabelValues(kind).Inc()
}

// SetJobsQueued sets the queued jobs gauge.
func (m *Metrics) SetJobsQueued(n int) {
	if m == nil {
		return
	}
	m.jobsQueued.Set(float64(n))
}

// IncPush counts a push attempt with one of the Push* results.
func (m *Metrics) IncPush(result string) {
	if m == nil {
		return
	}
	m.pushesTotal.WithLabelValues(result).Inc()
}

// IncManifestsRewritten counts a completed rewrite for protocol ("dash" or "hls").
func (m *Metrics) IncManifestsRewritten(protocol string) {
	if m == nil {
		return
	}
	m.manifestsTotal.WithLabelValues(protocol).Inc()
}

// IncOriginFallbacks counts a segment pinned to the origin server.
func (m *Metrics) IncOriginFallbacks() {
	if m == nil {
		return
	}
	m.originFallbackTotal.Inc()
}

// IncNoCapacity counts a scheduling attempt that found no box.
func (m *Metrics) IncNoCapacity() {
	if m == nil {
		return
	}
	m.noCapacityTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. queued jobs).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
