// Package metrics exposes Prometheus counters for capture and transcode activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decode error reasons.
const (
	ReasonEnvelope = "envelope"
	ReasonPayload  = "payload"
)

// Metrics holds the registry and collectors for one process.
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry          *prometheus.Registry
	framesReceived    prometheus.Counter
	chunksWritten     prometheus.Counter
	bytesWritten      prometheus.Counter
	decodeErrors      *prometheus.CounterVec
	jobs              *prometheus.CounterVec
	activeCaptures    prometheus.Gauge
	transcodeDuration prometheus.Histogram
	cleanupErrors     prometheus.Counter
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgrab_frames_received_total",
			Help: "Frames received on direct endpoint connections",
		}),
		chunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgrab_chunks_written_total",
			Help: "Decoded payload chunks appended to capture sinks",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgrab_bytes_written_total",
			Help: "Decoded payload bytes appended to capture sinks",
		}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgrab_decode_errors_total",
			Help: "Frames or entries skipped because they could not be decoded",
		}, []string{"reason"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgrab_jobs_total",
			Help: "Finished jobs by outcome",
		}, []string{"outcome"}),
		activeCaptures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamgrab_active_captures",
			Help: "Capture loops currently running",
		}),
		transcodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamgrab_transcode_duration_seconds",
			Help:    "Wall time spent in the external transcoder",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		cleanupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgrab_cleanup_errors_total",
			Help: "Temporary files that could not be removed",
		}),
	}

	registry.MustRegister(
		m.framesReceived,
		m.chunksWritten,
		m.bytesWritten,
		m.decodeErrors,
		m.jobs,
		m.activeCaptures,
		m.transcodeDuration,
		m.cleanupErrors,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// IncFrames counts one received frame.
func (m *Metrics) IncFrames() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

// AddChunk counts one appended chunk of n bytes.
func (m *Metrics) AddChunk(n int) {
	if m == nil {
		return
	}
	m.chunksWritten.Inc()
	m.bytesWritten.Add(float64(n))
}

// IncDecodeErrors counts a skipped frame or entry.
func (m *Metrics) IncDecodeErrors(reason string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(reason).Inc()
}

// IncJobs counts a finished job by outcome ("done" or a failure kind).
func (m *Metrics) IncJobs(outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
}

// CaptureStarted increments the active capture gauge and returns a func that decrements it.
func (m *Metrics) CaptureStarted() func() {
	if m == nil {
		return func() {}
	}
	m.activeCaptures.Inc()
	return m.activeCaptures.Dec
}

// ObserveTranscode records how long a transcoder run took.
func (m *Metrics) ObserveTranscode(d time.Duration) {
	if m == nil {
		return
	}
	m.transcodeDuration.Observe(d.Seconds())
}

// IncCleanupErrors counts a failed temp file removal.
func (m *Metrics) IncCleanupErrors() {
	if m == nil {
		return
	}
	m.cleanupErrors.Inc()
}

// Router returns a chi router serving /metrics and /healthz.
func (m *Metrics) Router() http.Handler {
	r := chi.NewRouter()
	m.Register(r)
	return r
}

// Register mounts /healthz, and /metrics when m is non-nil, on r.
func (m *Metrics) Register(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	}
}
