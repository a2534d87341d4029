package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qr_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	qrRenders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qr_renders_total",
			Help: "QR images rendered by format and cache outcome",
		},
		[]string{"format", "cached"},
	)
	authAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qr_auth_attempts_total",
			Help: "Auth attempts by method and outcome",
		},
		[]string{"method", "success"},
	)
)

// Prometheus records request duration labelled by the matched route template.
func Prometheus() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func RecordRender(format string, cached bool) {
	qrRenders.WithLabelValues(format, strconv.FormatBool(cached)).Inc()
}

func RecordAuthAttempt(method string, success bool) {
	authAttempts.WithLabelValues(method, strconv.FormatBool(success)).Inc()
}
