// Package monitoring exposes Prometheus metrics for the portal endpoints
// and the outbound CMS traffic.
package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// Portal-facing HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Outbound CMS traffic
	CMSRequestsTotal   *prometheus.CounterVec
	CMSRequestDuration *prometheus.HistogramVec
	CMSTransportErrors prometheus.Counter

	// Relay state
	LoginAttempts  *prometheus.CounterVec
	CSRFRetries    prometheus.Counter
	SessionsActive prometheus.Gauge

	registry *prometheus.Registry
}

// New creates metrics on a private registry so tests can instantiate
// multiple servers in one process.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rexrelay_http_requests_total",
			Help: "Portal HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rexrelay_http_request_duration_seconds",
			Help:    "Portal HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		CMSRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rexrelay_cms_requests_total",
			Help: "Outbound CMS requests by method and status code.",
		}, []string{"method", "status"}),
		CMSRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rexrelay_cms_request_duration_seconds",
			Help:    "Outbound CMS request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		CMSTransportErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rexrelay_cms_transport_errors_total",
			Help: "Outbound CMS requests that failed below HTTP level.",
		}),
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rexrelay_login_attempts_total",
			Help: "CMS login attempts by result.",
		}, []string{"result"}),
		CSRFRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "rexrelay_csrf_retries_total",
			Help: "Requests resent after a CSRF token mismatch.",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rexrelay_sessions_active",
			Help: "Portal sessions currently tracked.",
		}),
		registry: registry,
	}
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware instruments portal requests.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// ObserveCMSRequest records one outbound request. A status of 0 means the
// request failed before an HTTP status was received.
func (m *Metrics) ObserveCMSRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CMSRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.CMSRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	if status == 0 {
		m.CMSTransportErrors.Inc()
	}
}

// ObserveLogin records a login attempt outcome.
func (m *Metrics) ObserveLogin(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}

// ObserveCSRFRetry records one mismatch-triggered resend.
func (m *Metrics) ObserveCSRFRetry() {
	if m == nil {
		return
	}
	m.CSRFRetries.Inc()
}
