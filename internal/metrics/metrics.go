// Package metrics exposes Prometheus instrumentation for the CoinJam service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. Construct once per
// process and pass by reference; re-registration panics by design in the
// underlying library.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	inFlight     prometheus.Gauge

	sessionsCreated  prometheus.Counter
	participantJoins *prometheus.CounterVec
	pipelineRuns     *prometheus.CounterVec
	deployAttempts   prometheus.Counter
	transfersIssued  *prometheus.CounterVec
}

// New creates and registers the service collectors on a private registry.
func New(service string) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "HTTP requests by method, path and status.",
			ConstLabels: labels,
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "path"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "http_requests_in_flight",
			Help:        "Requests currently being served.",
			ConstLabels: labels,
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "coinjam_sessions_created_total",
			Help:        "Sessions created.",
			ConstLabels: labels,
		}),
		participantJoins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "coinjam_participant_joins_total",
			Help:        "Join attempts by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "coinjam_pipeline_runs_total",
			Help:        "Metadata/deployment pipeline runs by stage and outcome.",
			ConstLabels: labels,
		}, []string{"stage", "outcome"}),
		deployAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "coinjam_deploy_attempts_total",
			Help:        "On-chain deployment attempts including retries.",
			ConstLabels: labels,
		}),
		transfersIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "coinjam_transfers_total",
			Help:        "Distribution transfers by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.httpRequests, m.httpDuration, m.inFlight,
		m.sessionsCreated, m.participantJoins, m.pipelineRuns,
		m.deployAttempts, m.transfersIssued,
	)
	return m
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncrementInFlight marks a request in flight.
func (m *Metrics) IncrementInFlight() { m.inFlight.Inc() }

// DecrementInFlight unmarks a request in flight.
func (m *Metrics) DecrementInFlight() { m.inFlight.Dec() }

// RecordSessionCreated counts a created session.
func (m *Metrics) RecordSessionCreated() { m.sessionsCreated.Inc() }

// RecordJoin counts a join attempt outcome (accepted, rejected, denied).
func (m *Metrics) RecordJoin(outcome string) {
	m.participantJoins.WithLabelValues(outcome).Inc()
}

// RecordPipeline counts a pipeline stage outcome.
func (m *Metrics) RecordPipeline(stage, outcome string) {
	m.pipelineRuns.WithLabelValues(stage, outcome).Inc()
}

// RecordDeployAttempt counts one deployment attempt.
func (m *Metrics) RecordDeployAttempt() { m.deployAttempts.Inc() }

// RecordTransfer counts a distribution transfer outcome (sent, failed, skipped).
func (m *Metrics) RecordTransfer(outcome string) {
	m.transfersIssued.WithLabelValues(outcome).Inc()
}
