package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// HTTPMetrics holds the per-route collectors for one service.
type HTTPMetrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	requestBytes *prometheus.HistogramVec
	inFlight     prometheus.Gauge
}

// NewHTTPMetrics registers the collectors under a service const label.
func NewHTTPMetrics(service string) *HTTPMetrics {
	labels := prometheus.Labels{"service": service}
	return &HTTPMetrics{
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "HTTP requests by route and status class",
			ConstLabels: labels,
		}, []string{"method", "route", "code"}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency by route",
			ConstLabels: labels,
			Buckets:     []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"method", "route"}),
		requestBytes: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_size_bytes",
			Help:        "Declared request body size by route",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(64, 4, 6),
		}, []string{"route"}),
		inFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "http_in_flight_requests",
			Help:        "HTTP requests currently being served",
			ConstLabels: labels,
		}),
	}
}

// Handler records one observation per request. Requests that match no route
// share the "unmatched" label so scanners cannot inflate cardinality.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.requests.WithLabelValues(method, route, statusClass(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if c.Request.ContentLength > 0 {
			m.requestBytes.WithLabelValues(route).Observe(float64(c.Request.ContentLength))
		}
	}
}

// statusClass folds a status code into 2xx, 4xx and so on.
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// CORSMiddleware lets the tracking snippet post from the listed origins.
// An empty list or "*" allows any origin.
func CORSMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0
	origins := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		origins[strings.ToLower(o)] = struct{}{}
	}
	return func(c *gin.Context) {
		h := c.Writer.Header()
		origin := c.GetHeader("Origin")
		if allowAll {
			h.Set("Access-Control-Allow-Origin", "*")
		} else if _, ok := origins[strings.ToLower(origin)]; ok && origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Max-Age", "600")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request. Health and metrics probes are logged at debug.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case path == "/healthz" || path == "/metrics":
			log.Debug("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
