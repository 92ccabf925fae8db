// Package admin serves the HTTP introspection surface of a running server.
package admin

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/andrei-cloud/sockframe/server"
)

// Source is the server state exposed over HTTP.
type Source interface {
	IsAlive() bool
	ActiveConns() int
	Connections() []server.ConnInfo
	RecentEvents() []server.Event
}

type connectionView struct {
	ID       uint64    `json:"id"`
	Remote   string    `json:"remote"`
	State    string    `json:"state"`
	Admitted time.Time `json:"admitted"`
	Age      string    `json:"age"`
}

// Metrics instruments admin HTTP requests.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics builds the HTTP collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admin",
				Name:      "requests_total",
				Help:      "Total admin HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "admin",
				Name:      "request_duration_seconds",
				Help:      "Admin HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

// NewRouter builds the admin router. gatherer backs /metrics.
func NewRouter(src Source, gatherer prometheus.Gatherer, metrics *Metrics, logger zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	if metrics != nil {
		r.Use(metrics.middleware())
	}

	started := time.Now()
	r.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		state := "ok"
		if !src.IsAlive() {
			status = http.StatusServiceUnavailable
			state = "stopped"
		}
		c.JSON(status, gin.H{
			"status": state,
			"uptime": time.Since(started).Round(time.Second).String(),
			"active": src.ActiveConns(),
		})
	})

	r.GET("/connections", func(c *gin.Context) {
		now := time.Now()
		infos := src.Connections()
		sort.Slice(infos, func(i, j int) bool { return infos[i].Conn.ID() < infos[j].Conn.ID() })

		views := make([]connectionView, 0, len(infos))
		for _, info := range infos {
			remote := ""
			if addr := info.Conn.RemoteAddr(); addr != nil {
				remote = addr.String()
			}
			views = append(views, connectionView{
				ID:       info.Conn.ID(),
				Remote:   remote,
				State:    info.Conn.State().String(),
				Admitted: info.Admitted,
				Age:      now.Sub(info.Admitted).Round(time.Millisecond).String(),
			})
		}
		c.JSON(http.StatusOK, gin.H{"count": len(views), "connections": views})
	})

	r.GET("/events", func(c *gin.Context) {
		events := src.RecentEvents()
		if kind := c.Query("kind"); kind != "" {
			filtered := events[:0]
			for _, e := range events {
				if string(e.Kind) == kind {
					filtered = append(filtered, e)
				}
			}
			events = filtered
		}
		c.JSON(http.StatusOK, gin.H{"count": len(events), "events": events})
	})

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("admin_request")
	}
}

func (m *Metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := routePath(c)
		m.requests.WithLabelValues(c.Request.Method, path, status).Inc()
		m.duration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}
