package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	adminActions    *prometheus.CounterVec
	loginRejections prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modtok",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modtok",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		adminActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modtok",
			Name:      "admin_actions_total",
			Help:      "Audited admin mutations by action and target type.",
		}, []string{"action_type", "target_type"}),
		loginRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modtok",
			Name:      "login_rate_limited_total",
			Help:      "Login attempts rejected by the rate limiter.",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.latency,
		m.adminActions,
		m.loginRejections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(route, method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, status).Inc()
	m.latency.WithLabelValues(route, method).Observe(seconds)
}

func (m *Metrics) AdminAction(actionType, targetType string) {
	if m == nil {
		return
	}
	m.adminActions.WithLabelValues(actionType, targetType).Inc()
}

func (m *Metrics) LoginRejected() {
	if m == nil {
		return
	}
	m.loginRejections.Inc()
}
