package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests that don't match a registered route, so
// arbitrary paths can't create unbounded label values.
const unmatchedRoute = "unmatched"

// Metrics contains HTTP server metrics labelled by route, such as
// '/v1/blobs/:hash' or '/v1/records'.
type Metrics struct {
	RequestsInFlight prometheus.Gauge
	RequestsTotal    *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec

	// RequestBodySize and ResponseBodySize track body sizes by route. Blob
	// routes carry whole snapshots so these show snapshot growth.
	RequestBodySize  *prometheus.HistogramVec
	ResponseBodySize *prometheus.HistogramVec
}

// NewMetrics returns HTTP metrics for the server with the given subsystem,
// such as 'hub' or 'admin'.
func NewMetrics(subsystem string) *Metrics {
	// 64 bytes to 16MB.
	sizeBuckets := prometheus.ExponentialBuckets(64, 4, 10)

	return &Metrics{
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "setdb",
				Subsystem: subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of requests currently handled by this server.",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "setdb",
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "Total requests.",
			},
			[]string{"route", "method", "status"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "setdb",
				Subsystem: subsystem,
				Name:      "http_request_latency_seconds",
				Help:      "Request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		RequestBodySize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "setdb",
				Subsystem: subsystem,
				Name:      "http_request_body_bytes",
				Help:      "Request body size.",
				Buckets:   sizeBuckets,
			},
			[]string{"route"},
		),
		ResponseBodySize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "setdb",
				Subsystem: subsystem,
				Name:      "http_response_body_bytes",
				Help:      "Response body size.",
				Buckets:   sizeBuckets,
			},
			[]string{"route"},
		),
	}
}

func (m *Metrics) Register(registry prometheus.Registerer) {
	registry.MustRegister(
		m.RequestsInFlight,
		m.RequestsTotal,
		m.RequestLatency,
		m.RequestBodySize,
		m.ResponseBodySize,
	)
}

// Handler returns middleware that records metrics for each request.
//
// Long lived requests, such as pub/sub websocket connections, are only
// recorded once they complete.
func (m *Metrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method

		m.RequestsTotal.WithLabelValues(
			route, method, strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.RequestLatency.WithLabelValues(route, method).Observe(
			time.Since(start).Seconds(),
		)

		if c.Request.ContentLength > 0 {
			m.RequestBodySize.WithLabelValues(route).Observe(
				float64(c.Request.ContentLength),
			)
		}
		// Size is -1 if no body was written.
		if size := c.Writer.Size(); size > 0 {
			m.ResponseBodySize.WithLabelValues(route).Observe(float64(size))
		}
	}
}
