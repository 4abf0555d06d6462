package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Bridge metrics
	EnvelopesSent      *prometheus.CounterVec
	EnvelopesReceived  *prometheus.CounterVec
	EnvelopesDropped   *prometheus.CounterVec
	Calls              *prometheus.CounterVec
	CallDuration       *prometheus.HistogramVec
	HandlerInvocations *prometheus.CounterVec
	PendingCalls       prometheus.Gauge
	Proxies            prometheus.Gauge

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Relay metrics
	WSConnections prometheus.Gauge
	RelayFrames   *prometheus.CounterVec
	RelayRooms    prometheus.Gauge

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ActiveConnections int64   `json:"active_connections"`
	ActiveRooms       int64   `json:"active_rooms"`
	FramesRelayed     int64   `json:"frames_relayed"`
	CallsCompleted    int64   `json:"calls_completed"`
	CallsFailed       int64   `json:"calls_failed"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// Bridge metrics
		EnvelopesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terabithia_envelopes_sent_total",
				Help: "Envelopes published to the channel",
			},
			[]string{"domain", "kind"},
		),
		EnvelopesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terabithia_envelopes_received_total",
				Help: "Envelopes accepted by the identity filter",
			},
			[]string{"domain", "kind"},
		),
		EnvelopesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terabithia_envelopes_dropped_total",
				Help: "Inbound frames dropped before dispatch",
			},
			[]string{"domain", "reason"},
		),
		Calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terabithia_calls_total",
				Help: "Outbound remote calls by outcome",
			},
			[]string{"domain", "outcome"},
		),
		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "terabithia_call_duration_seconds",
				Help:    "Remote call round trip in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"domain"},
		),
		HandlerInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terabithia_handler_invocations_total",
				Help: "Inbound invocations by outcome",
			},
			[]string{"domain", "outcome"},
		),
		PendingCalls: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "terabithia_pending_calls",
				Help: "Calls awaiting a response",
			},
		),
		Proxies: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "terabithia_proxies",
				Help: "Remote function proxies installed",
			},
		),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terabithia_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "terabithia_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// Relay metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "terabithia_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		RelayFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terabithia_relay_frames_total",
				Help: "Frames handled by the relay",
			},
			[]string{"direction"},
		),
		RelayRooms: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "terabithia_relay_rooms",
				Help: "Tabs with at least one connected domain",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "terabithia_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEnvelopeSent records an envelope published by an endpoint
func (m *Metrics) RecordEnvelopeSent(domain, kind string) {
	if m == nil {
		return
	}
	m.EnvelopesSent.WithLabelValues(domain, kind).Inc()
}

// RecordEnvelopeReceived records an envelope that passed filtering
func (m *Metrics) RecordEnvelopeReceived(domain, kind string) {
	if m == nil {
		return
	}
	m.EnvelopesReceived.WithLabelValues(domain, kind).Inc()
}

// RecordEnvelopeDropped records a frame the endpoint ignored
func (m *Metrics) RecordEnvelopeDropped(domain, reason string) {
	if m == nil {
		return
	}
	m.EnvelopesDropped.WithLabelValues(domain, reason).Inc()
}

// RecordCall records the outcome of an outbound call
func (m *Metrics) RecordCall(domain, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(domain, outcome).Inc()
	m.CallDuration.WithLabelValues(domain).Observe(duration.Seconds())

	m.mu.Lock()
	if outcome == "success" {
		m.snapshot.CallsCompleted++
	} else {
		m.snapshot.CallsFailed++
	}
	m.mu.Unlock()
}

// RecordHandlerInvocation records an inbound invocation
func (m *Metrics) RecordHandlerInvocation(domain, outcome string) {
	if m == nil {
		return
	}
	m.HandlerInvocations.WithLabelValues(domain, outcome).Inc()
}

// AddPending adjusts the pending call gauge
func (m *Metrics) AddPending(delta int) {
	if m == nil {
		return
	}
	m.PendingCalls.Add(float64(delta))
}

// AddProxies adjusts the proxy gauge
func (m *Metrics) AddProxies(delta int) {
	if m == nil {
		return
	}
	m.Proxies.Add(float64(delta))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordRelayFrame records a frame read from or fanned out to a socket
func (m *Metrics) RecordRelayFrame(direction string) {
	if m == nil {
		return
	}
	m.RelayFrames.WithLabelValues(direction).Inc()
	if direction == "in" {
		m.mu.Lock()
		m.snapshot.FramesRelayed++
		m.mu.Unlock()
	}
}

// SetRelayRooms sets the number of live rooms
func (m *Metrics) SetRelayRooms(count int) {
	if m == nil {
		return
	}
	m.RelayRooms.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveRooms = int64(count)
	m.mu.Unlock()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}
