package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	ChatMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of messages appended to room logs",
	}, []string{"type"})
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_rooms_active",
		Help: "Current number of rooms in the store",
	})
	RoomsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_rooms_expired_total",
		Help: "Total number of rooms removed by the expiry reaper",
	})
	JoinDeniedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_join_denied_total",
		Help: "Total number of rejected join_room requests",
	}, []string{"reason"})
	ReaperTickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_reaper_tick_errors_total",
		Help: "Total number of failed expiry sweeps",
	})
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
	prometheus.MustRegister(
		WsConnections,
		ChatMessagesTotal,
		RoomsActive,
		RoomsExpiredTotal,
		JoinDeniedTotal,
		ReaperTickErrorsTotal,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
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
