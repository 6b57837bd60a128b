// Package metrics holds the Prometheus instruments of the sync core.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cotonestrum"

// Metrics holds Prometheus metrics for the client, reducer and registry.
type Metrics struct {
	framesReceived    *prometheus.CounterVec
	decodeErrors      prometheus.Counter
	pushesApplied     *prometheus.CounterVec
	unknownPushes     prometheus.Counter
	requestsSent      *prometheus.CounterVec
	responses         *prometheus.CounterVec
	orphanResponses   prometheus.Counter
	requestsAbandoned prometheus.Counter
	requestDuration   *prometheus.HistogramVec
	pendingRequests   prometheus.Gauge
	connectionState   prometheus.Gauge
	connectAttempts   *prometheus.CounterVec
	registryEntities  *prometheus.GaugeVec
}

// New creates the metrics and registers them with reg. A nil reg yields
// unregistered but working instruments.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "frames_received_total",
			Help:      "Total inbound frames by kind",
		}, []string{"kind"}),

		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "decode_errors_total",
			Help:      "Total inbound frames dropped because they could not be decoded",
		}),

		pushesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reducer",
			Name:      "pushes_total",
			Help:      "Total server pushes handled by op",
		}, []string{"op"}),

		unknownPushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reducer",
			Name:      "unknown_pushes_total",
			Help:      "Total pushes with an op the reducer does not know",
		}),

		requestsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "requests_sent_total",
			Help:      "Total requests sent by op",
		}, []string{"op"}),

		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "responses_total",
			Help:      "Total correlated responses by request op and status",
		}, []string{"op", "status"}),

		orphanResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "orphan_responses_total",
			Help:      "Total responses whose reqid matched no pending request",
		}),

		requestsAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "requests_abandoned_total",
			Help:      "Total pending requests failed because the connection closed",
		}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Request/response round-trip duration",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		}, []string{"op"}),

		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "pending_requests",
			Help:      "Requests awaiting a response",
		}),

		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "connection_state",
			Help:      "Connection state: 0 disconnected, 1 connecting, 2 connected",
		}),

		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "connect_attempts_total",
			Help:      "Total connect attempts by result",
		}, []string{"result"}),

		registryEntities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "entities",
			Help:      "Cached entities by kind",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.framesReceived,
			m.decodeErrors,
			m.pushesApplied,
			m.unknownPushes,
			m.requestsSent,
			m.responses,
			m.orphanResponses,
			m.requestsAbandoned,
			m.requestDuration,
			m.pendingRequests,
			m.connectionState,
			m.connectAttempts,
			m.registryEntities,
		)
	}

	return m
}

// FrameReceived counts an inbound frame of the given kind.
func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind).Inc()
}

// DecodeError counts a dropped malformed frame.
func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// PushApplied counts a handled push.
func (m *Metrics) PushApplied(op string) {
	if m == nil {
		return
	}
	m.pushesApplied.WithLabelValues(op).Inc()
}

// UnknownPush counts a push with an unrecognized op.
func (m *Metrics) UnknownPush() {
	if m == nil {
		return
	}
	m.unknownPushes.Inc()
}

// RequestSent counts an outgoing request and updates the pending gauge.
func (m *Metrics) RequestSent(op string) {
	if m == nil {
		return
	}
	m.requestsSent.WithLabelValues(op).Inc()
	m.pendingRequests.Inc()
}

// ResponseReceived records a correlated response.
func (m *Metrics) ResponseReceived(op, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(op, status).Inc()
	m.requestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	m.pendingRequests.Dec()
}

// OrphanResponse counts a response without a pending request.
func (m *Metrics) OrphanResponse() {
	if m == nil {
		return
	}
	m.orphanResponses.Inc()
}

// RequestsAbandoned counts n pending requests failed on disconnect.
func (m *Metrics) RequestsAbandoned(n int) {
	if m == nil || n == 0 {
		return
	}
	m.requestsAbandoned.Add(float64(n))
	m.pendingRequests.Sub(float64(n))
}

// RequestUnsent reverts RequestSent for a request that never left.
func (m *Metrics) RequestUnsent() {
	if m == nil {
		return
	}
	m.pendingRequests.Dec()
}

// ConnectionState records the current connection state.
func (m *Metrics) ConnectionState(state int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}

// ConnectAttempt counts a connect attempt with result "success" or "failure".
func (m *Metrics) ConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

// RegistrySize records the number of cached entities of a kind.
func (m *Metrics) RegistrySize(kind string, n int) {
	if m == nil {
		return
	}
	m.registryEntities.WithLabelValues(kind).Set(float64(n))
}
