package metrics

import (
	"guardian/models"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "guardian"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted   prometheus.Counter
	sessionsEnded     *prometheus.CounterVec
	sessionDuration   prometheus.Histogram
	activeSessions    prometheus.Gauge
	locationResults   *prometheus.CounterVec
	stepsCompleted    *prometheus.CounterVec
	initDuration      *prometheus.HistogramVec
	archivedIncidents *prometheus.CounterVec
	socketClients     prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_sessions_started_total",
			Help:      "Emergencies triggered.",
		}),
		sessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_sessions_ended_total",
			Help:      "Emergencies ended, by reason.",
		}, []string{"reason"}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "emergency_session_duration_seconds",
			Help:      "Time from trigger to end of an emergency.",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "emergency_sessions_active",
			Help:      "Emergencies currently running.",
		}),
		locationResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_results_total",
			Help:      "Location lookups, by outcome.",
		}, []string{"outcome", "kind"}),
		stepsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_steps_completed_total",
			Help:      "Simulated dispatch steps completed.",
		}, []string{"step"}),
		initDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "emergency_init_duration_seconds",
			Help:      "Time from trigger until the dispatch sequence starts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		archivedIncidents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_archived_total",
			Help:      "Incident records written, by result.",
		}, []string{"result"}),
		socketClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected device sockets.",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// =================== SEQUENCER ===================

func (m *Metrics) SessionStarted() {
	m.sessionsStarted.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) SessionEnded(reason string, duration time.Duration) {
	m.sessionsEnded.WithLabelValues(reason).Inc()
	m.sessionDuration.Observe(duration.Seconds())
	m.activeSessions.Dec()
}

func (m *Metrics) LocationResolved(fallback bool, kind string) {
	outcome := "acquired"
	if fallback {
		outcome = "fallback"
	}
	m.locationResults.WithLabelValues(outcome, kind).Inc()
}

func (m *Metrics) StepCompleted(step models.StepName) {
	m.stepsCompleted.WithLabelValues(string(step)).Inc()
}

func (m *Metrics) InitFinished(duration time.Duration, failed bool) {
	result := "ok"
	if failed {
		result = "error"
	}
	m.initDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// =================== ARCHIVE / SOCKETS ===================

func (m *Metrics) IncidentArchived(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.archivedIncidents.WithLabelValues(result).Inc()
}

func (m *Metrics) ClientConnected() {
	m.socketClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	m.socketClients.Dec()
}

// =================== HTTP ===================

// GinMiddleware records request counts and latency per matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method

		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
