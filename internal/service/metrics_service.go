package service

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService exposes the application's Prometheus collectors.
type MetricsService struct {
	registry        *prometheus.Registry
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	approvalActions *prometheus.CounterVec
}

// NewMetricsService registers collectors on the given registry.
func NewMetricsService(reg *prometheus.Registry) *MetricsService {
	m := &MetricsService{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agraria_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agraria_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agraria_approval_transitions_total",
			Help: "Approval instance state transitions.",
		}, []string{"approvable_type", "from", "to"}),
		approvalActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agraria_approval_actions_total",
			Help: "Approval actions recorded, by action type.",
		}, []string{"approvable_type", "action"}),
	}
	reg.MustRegister(m.httpRequests, m.httpDuration, m.transitions, m.approvalActions)
	return m
}

// Handler serves the Prometheus exposition endpoint for this registry.
func (m *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request.
func (m *MetricsService) ObserveRequest(method, route, status string, seconds float64) {
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(seconds)
}

// ObserveTransition records a state change on an approval instance.
func (m *MetricsService) ObserveTransition(approvableType, from, to string) {
	m.transitions.WithLabelValues(approvableType, from, to).Inc()
}

// ObserveAction records an actor decision on a step.
func (m *MetricsService) ObserveAction(approvableType, action string) {
	m.approvalActions.WithLabelValues(approvableType, action).Inc()
}
