// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gateway decision outcomes.
const (
	OutcomeAllowed         = "allowed"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeForbidden       = "forbidden"
)

// Metrics holds the service collectors.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	GatewayDecisions    *prometheus.CounterVec
	UploadedBytes       *prometheus.CounterVec
	AuditFailures       prometheus.Counter
	AllowListReplaced   prometheus.Counter
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cineflow_admin_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cineflow_admin_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		GatewayDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cineflow_admin_gateway_decisions_total",
				Help: "Admin gateway decisions by outcome",
			},
			[]string{"outcome"},
		),
		UploadedBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cineflow_admin_uploaded_bytes_total",
				Help: "Bytes accepted into artifact slots",
			},
			[]string{"kind"},
		),
		AuditFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cineflow_admin_audit_append_failures_total",
				Help: "Audit entries that could not be stored",
			},
		),
		AllowListReplaced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cineflow_admin_allow_list_replacements_total",
				Help: "Successful administrator allow-list replacements",
			},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GatewayDecisions,
		m.UploadedBytes,
		m.AuditFailures,
		m.AllowListReplaced,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveGateway counts one gateway decision.
func (m *Metrics) ObserveGateway(outcome string) {
	m.GatewayDecisions.WithLabelValues(outcome).Inc()
}

// Middleware records request counts and latency keyed by the matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
