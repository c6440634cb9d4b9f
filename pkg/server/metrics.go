package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server. A nil *Metrics is
// valid and records nothing; tests run without a registry.
type Metrics struct {
	activeSessions       prometheus.Gauge
	sessionsCreated      prometheus.Counter
	sessionsDisconnected prometheus.Counter

	requestsReceived *prometheus.CounterVec // by request name
	requestsDropped  *prometheus.CounterVec // by drop reason
	responsesSent    prometheus.Counter

	broadcastFanout prometheus.Histogram
	poolWait        *prometheus.HistogramVec // by pool name
}

// NewMetrics creates and registers the server metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		activeSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cryptochat_active_sessions",
			Help: "Current number of live connections",
		}),
		sessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cryptochat_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		sessionsDisconnected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cryptochat_sessions_disconnected_total",
			Help: "Total number of sessions removed",
		}),
		requestsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptochat_requests_received_total",
			Help: "Validated requests dispatched, by request name",
		}, []string{"request"}),
		requestsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptochat_requests_dropped_total",
			Help: "Requests dropped without a response, by reason",
		}, []string{"reason"}),
		responsesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cryptochat_responses_sent_total",
			Help: "Direct responses queued for delivery",
		}),
		broadcastFanout: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "cryptochat_broadcast_fanout",
			Help:    "Number of members each room broadcast was queued for",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
		poolWait: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cryptochat_pool_wait_seconds",
			Help:    "Time spent waiting for a send-pool slot",
			Buckets: prometheus.DefBuckets,
		}, []string{"pool"}),
	}
}

func (m *Metrics) RecordActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) RecordSessionDisconnected() {
	if m == nil {
		return
	}
	m.sessionsDisconnected.Inc()
}

func (m *Metrics) RecordRequest(name string) {
	if m == nil {
		return
	}
	m.requestsReceived.WithLabelValues(name).Inc()
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.requestsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordResponseSent() {
	if m == nil {
		return
	}
	m.responsesSent.Inc()
}

func (m *Metrics) RecordBroadcastFanout(members int) {
	if m == nil {
		return
	}
	m.broadcastFanout.Observe(float64(members))
}

func (m *Metrics) RecordPoolWait(pool string, seconds float64) {
	if m == nil {
		return
	}
	m.poolWait.WithLabelValues(pool).Observe(seconds)
}
