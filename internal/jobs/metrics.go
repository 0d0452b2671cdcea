package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the job service. A nil
// *Metrics records nothing.
type Metrics struct {
	JobsSubmitted     prometheus.Counter
	JobsCompleted     prometheus.Counter
	JobsFailed        prometheus.Counter
	JobsInFlight      prometheus.Gauge
	SynthesisDuration prometheus.Histogram
	ArtifactsExpired  prometheus.Counter

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "tts_jobs_submitted_total",
			Help: "Total number of synthesis jobs accepted",
		}),
		JobsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "tts_jobs_completed_total",
			Help: "Total number of synthesis jobs that produced an artifact",
		}),
		JobsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "tts_jobs_failed_total",
			Help: "Total number of synthesis jobs that failed",
		}),
		JobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "tts_jobs_in_flight",
			Help: "Number of synthesis jobs not yet finished",
		}),
		SynthesisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tts_synthesis_duration_seconds",
			Help:    "Time spent in the synthesis backend per job",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		ArtifactsExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "tts_artifacts_expired_total",
			Help: "Total number of artifacts removed by the expiry sweeper",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tts_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tts_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

func (m *Metrics) recordSubmitted() {
	if m == nil {
		return
	}
	m.JobsSubmitted.Inc()
	m.JobsInFlight.Inc()
}

func (m *Metrics) recordFinished(ok bool, seconds float64) {
	if m == nil {
		return
	}
	m.JobsInFlight.Dec()
	if ok {
		m.JobsCompleted.Inc()
		m.SynthesisDuration.Observe(seconds)
	} else {
		m.JobsFailed.Inc()
	}
}

func (m *Metrics) recordExpired(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ArtifactsExpired.Add(float64(n))
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(seconds)
}
