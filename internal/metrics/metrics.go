// Package metrics exposes the Prometheus collectors shared by the HTTP
// server and the realtime router.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gapchat_ws_connections",
		Help: "Current number of open websocket connections",
	})
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gapchat_events_published_total",
		Help: "Events accepted by the fan-out router",
	}, []string{"type"})
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gapchat_events_dropped_total",
		Help: "Events or frames dropped because a buffer was full",
	}, []string{"type"})
	PushSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gapchat_push_notifications_total",
		Help: "Web push notifications by outcome",
	}, []string{"outcome"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, EventsPublished, EventsDropped, PushSent,
		HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware records request counts and latencies keyed by route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
