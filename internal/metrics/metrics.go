package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "novelverse"

// Metrics contains all Prometheus metrics for the audio delivery service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsStarted *prometheus.CounterVec
	SessionOutcomes *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	SessionDuration prometheus.Histogram
	FramesSent      *prometheus.CounterVec
	AudioBytesSent  prometheus.Counter

	// Object store metrics
	StoreRequests *prometheus.CounterVec
	StoreLatency  *prometheus.HistogramVec

	// Transcode metrics
	TranscodesActive   prometheus.Gauge
	TranscodesRejected prometheus.Counter
	TranscodeFailures  prometheus.Counter

	// Fallback metrics
	FallbackJobs    *prometheus.CounterVec
	FallbackRetries prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all metrics on a private registry that also carries the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Stream sessions by resolution path",
		}, []string{"path"}),
		SessionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_outcomes_total",
			Help:      "Stream sessions by terminal state",
		}, []string{"outcome"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Stream sessions currently open",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of stream sessions",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17 minutes
		}),
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to clients by kind",
		}, []string{"kind"}),
		AudioBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Decoded audio bytes carried by chunk frames",
		}),

		StoreRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_requests_total",
			Help:      "Object store requests by operation and result",
		}, []string{"op", "result"}),
		StoreLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_request_duration_seconds",
			Help:      "Object store time to first byte",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"op"}),

		TranscodesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcodes_active",
			Help:      "ffmpeg processes currently running",
		}),
		TranscodesRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcodes_rejected_total",
			Help:      "Sessions refused because no transcode slot freed up in time",
		}),
		TranscodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcode_failures_total",
			Help:      "ffmpeg processes that exited with an error",
		}),

		FallbackJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_jobs_total",
			Help:      "Generation worker runs by mode and result",
		}, []string{"mode", "result"}),
		FallbackRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_retries_total",
			Help:      "Generation jobs resubmitted after a no-progress timeout",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration including streamed bodies",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the registry for tests and status output.
func (m *Metrics) Gather() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// RecordSessionStarted counts a session by resolution path (hit or miss).
func (m *Metrics) RecordSessionStarted(path string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(path).Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionFinished records the terminal state and duration of a session.
func (m *Metrics) RecordSessionFinished(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionOutcomes.WithLabelValues(outcome).Inc()
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordFrame counts one frame written to a client.
func (m *Metrics) RecordFrame(kind string, audioBytes int) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(kind).Inc()
	if audioBytes > 0 {
		m.AudioBytesSent.Add(float64(audioBytes))
	}
}

// RecordStoreRequest records one object store call.
func (m *Metrics) RecordStoreRequest(op, result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StoreRequests.WithLabelValues(op, result).Inc()
	m.StoreLatency.WithLabelValues(op).Observe(durationSeconds)
}

// SetTranscodesActive sets the number of running ffmpeg processes.
func (m *Metrics) SetTranscodesActive(count int) {
	if m == nil {
		return
	}
	m.TranscodesActive.Set(float64(count))
}

// RecordTranscodeRejected counts a session refused for lack of capacity.
func (m *Metrics) RecordTranscodeRejected() {
	if m == nil {
		return
	}
	m.TranscodesRejected.Inc()
}

// RecordTranscodeFailure counts an ffmpeg process that failed.
func (m *Metrics) RecordTranscodeFailure() {
	if m == nil {
		return
	}
	m.TranscodeFailures.Inc()
}

// RecordFallbackJob records the result of one fallback relay.
func (m *Metrics) RecordFallbackJob(mode, result string) {
	if m == nil {
		return
	}
	m.FallbackJobs.WithLabelValues(mode, result).Inc()
}

// RecordFallbackRetry counts a job resubmission.
func (m *Metrics) RecordFallbackRetry() {
	if m == nil {
		return
	}
	m.FallbackRetries.Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
