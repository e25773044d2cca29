// Package metrics exposes Prometheus collectors for HTTP traffic and review operations.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the service records.
type Metrics struct {
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	gatewayDuration  *prometheus.HistogramVec
	statusUpdates    *prometheus.CounterVec
	messagesAppended *prometheus.CounterVec
	exports          *prometheus.CounterVec
	gatherer         prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg uses a fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		gatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_gateway_duration_seconds",
				Help:    "Duration of relational store calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		statusUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_status_updates_total",
				Help: "Conversation status updates by target status and result",
			},
			[]string{"status", "result"},
		),
		messagesAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_messages_appended_total",
				Help: "Messages appended to conversations by author",
			},
			[]string{"author"},
		),
		exports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_exports_total",
				Help: "Transcript exports by format",
			},
			[]string{"format"},
		),
		gatherer: reg,
	}
	reg.MustRegister(
		m.requests,
		m.requestDuration,
		m.gatewayDuration,
		m.statusUpdates,
		m.messagesAppended,
		m.exports,
	)
	return m
}

// ObserveGateway records how long a store operation took.
func (m *Metrics) ObserveGateway(op string, started time.Time) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) StatusUpdate(status string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.statusUpdates.WithLabelValues(status, result).Inc()
}

func (m *Metrics) MessageAppended(isAI bool) {
	if m == nil {
		return
	}
	author := "client"
	if isAI {
		author = "ai"
	}
	m.messagesAppended.WithLabelValues(author).Inc()
}

func (m *Metrics) Export(format string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(format).Inc()
}

// Middleware records request count and latency per route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			statusStr := strconv.Itoa(status)
			m.requests.WithLabelValues(c.Request().Method, path, statusStr).Inc()
			m.requestDuration.WithLabelValues(c.Request().Method, path, statusStr).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
