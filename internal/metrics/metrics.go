package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"approvaldesk/internal/approval"
)

// Metrics owns its registry so tests and multiple servers never collide on
// the default one.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	intentsTotal        *prometheus.CounterVec
	decisionsTotal      *prometheus.CounterVec
	conflictsTotal      *prometheus.CounterVec
	searchBackend       *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approvaldesk_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "approvaldesk_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		intentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approvaldesk_intents_total",
				Help: "Create, edit and delete intents by outcome",
			},
			[]string{"request_type", "outcome"},
		),
		decisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approvaldesk_decisions_total",
				Help: "Approval requests finalized by status",
			},
			[]string{"request_type", "status"},
		),
		conflictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approvaldesk_pending_conflicts_total",
				Help: "Intents refused because the target already had a pending request",
			},
			[]string{"request_type"},
		),
		searchBackend: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approvaldesk_search_queries_total",
				Help: "Review-queue searches by backend",
			},
			[]string{"backend"},
		),
	}
}

func (m *Metrics) IntentHandled(requestType approval.RequestType, outcome approval.Outcome) {
	m.intentsTotal.WithLabelValues(string(requestType), string(outcome)).Inc()
}

func (m *Metrics) RequestDecided(requestType approval.RequestType, status approval.Status) {
	m.decisionsTotal.WithLabelValues(string(requestType), string(status)).Inc()
}

func (m *Metrics) ConflictRejected(requestType approval.RequestType) {
	m.conflictsTotal.WithLabelValues(string(requestType)).Inc()
}

func (m *Metrics) SearchServed(backend string) {
	m.searchBackend.WithLabelValues(backend).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ approval.Metrics = (*Metrics)(nil)
