package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. Names carry the cloud_browser_
// prefix for the scrape contract.
type Metrics struct {
	registry *prometheus.Registry

	SessionsTotal   prometheus.Counter
	SessionsToday   prometheus.Gauge
	ActiveSessions  prometheus.Gauge
	QueueLength     prometheus.Gauge
	PoolWarm        prometheus.Gauge
	PoolTarget      prometheus.Gauge
	SessionDuration prometheus.Histogram
	WSConnections   prometheus.Gauge
	SessionEnds     *prometheus.CounterVec
	RateLimited     prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "cloud_browser_sessions_total",
			Help: "Total number of sessions started",
		}),
		SessionsToday: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cloud_browser_sessions_today",
			Help: "Sessions started since local midnight",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cloud_browser_active_sessions",
			Help: "Currently active sessions",
		}),
		QueueLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cloud_browser_queue_length",
			Help: "Entries waiting in the admission queue",
		}),
		PoolWarm: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cloud_browser_pool_warm",
			Help: "Warm containers ready for allocation",
		}),
		PoolTarget: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cloud_browser_pool_target",
			Help: "Configured pool size target",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cloud_browser_session_duration_seconds",
			Help:    "Observed session durations",
			Buckets: []float64{15, 30, 60, 120, 180, 300, 600, 900, 1800},
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cloud_browser_ws_connections",
			Help: "Open realtime channel connections",
		}),
		SessionEnds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cloud_browser_session_ends_total",
			Help: "Session terminations by reason",
		}, []string{"reason"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "cloud_browser_rate_limited_total",
			Help: "Requests denied by the per-IP daily limit",
		}),
	}
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
