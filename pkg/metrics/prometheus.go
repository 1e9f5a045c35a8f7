package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the call service. Everything is
// registered on a private registry so tests can construct instances freely.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket metrics
	wsConnections prometheus.Gauge
	wsMessages    *prometheus.CounterVec

	// Presence metrics
	usersOnline prometheus.Gauge

	// Call metrics
	callsTotal     *prometheus.CounterVec
	callsActive    prometheus.Gauge
	callDuration   prometheus.Histogram
	historyWritten prometheus.Counter
	historyFailed  prometheus.Counter

	// Signaling metrics
	roomsActive    prometheus.Gauge
	signalsRelayed *prometheus.CounterVec
	signalsDropped *prometheus.CounterVec

	// Fan-out metrics
	eventsDelivered *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec

	// Push metrics
	pushSent   prometheus.Counter
	pushFailed prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),
		wsConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "ws_connections",
				Help:        "Number of live WebSocket connections",
				ConstLabels: labels,
			},
		),
		wsMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ws_messages_total",
				Help:        "Total WebSocket messages by direction",
				ConstLabels: labels,
			},
			[]string{"direction"},
		),
		usersOnline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "users_online",
				Help:        "Number of users with at least one live connection",
				ConstLabels: labels,
			},
		),
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total calls that reached a terminal state",
				ConstLabels: labels,
			},
			[]string{"kind", "outcome"},
		),
		callsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of calls currently active",
				ConstLabels: labels,
			},
		),
		callDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Duration of ended calls in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 180, 600, 1800, 3600},
			},
		),
		historyWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "call_history_written_total",
				Help:        "Call history summaries written",
				ConstLabels: labels,
			},
		),
		historyFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "call_history_failed_total",
				Help:        "Call history writes that failed",
				ConstLabels: labels,
			},
		),
		roomsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "signaling_rooms_active",
				Help:        "Number of live signaling rooms",
				ConstLabels: labels,
			},
		),
		signalsRelayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signals_relayed_total",
				Help:        "Signaling payloads relayed by kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		signalsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signals_dropped_total",
				Help:        "Signaling payloads dropped by reason",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		eventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "events_delivered_total",
				Help:        "Events delivered to live connections by name",
				ConstLabels: labels,
			},
			[]string{"event"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "events_dropped_total",
				Help:        "Events that found no deliverable connection",
				ConstLabels: labels,
			},
			[]string{"event"},
		),
		pushSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "push_nudges_sent_total",
				Help:        "Push nudges sent for offline invitees",
				ConstLabels: labels,
			},
		),
		pushFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "push_nudges_failed_total",
				Help:        "Push nudges that failed to send",
				ConstLabels: labels,
			},
		),
	}

	reg.MustRegister(
		m.httpRequestsTotal, m.httpRequestDuration, m.httpRequestsInFlight,
		m.wsConnections, m.wsMessages, m.usersOnline,
		m.callsTotal, m.callsActive, m.callDuration,
		m.historyWritten, m.historyFailed,
		m.roomsActive, m.signalsRelayed, m.signalsDropped,
		m.eventsDelivered, m.eventsDropped,
		m.pushSent, m.pushFailed,
	)

	return m
}

// GetRegistry returns the private registry for the /metrics endpoint.
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// HTTP helpers

func (m *Metrics) IncrementHTTPRequestsInFlight() { m.httpRequestsInFlight.Inc() }
func (m *Metrics) DecrementHTTPRequestsInFlight() { m.httpRequestsInFlight.Dec() }

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// WebSocket helpers

func (m *Metrics) ConnectionOpened() { m.wsConnections.Inc() }
func (m *Metrics) ConnectionClosed() { m.wsConnections.Dec() }

func (m *Metrics) MessageReceived() { m.wsMessages.WithLabelValues("in").Inc() }
func (m *Metrics) MessageSent()     { m.wsMessages.WithLabelValues("out").Inc() }

// SetUsersOnline records the current online-user count.
func (m *Metrics) SetUsersOnline(n int) { m.usersOnline.Set(float64(n)) }

// Call helpers

func (m *Metrics) CallStarted() { m.callsActive.Inc() }

// CallFinished records a terminal transition and, for ended calls, the
// active duration.
func (m *Metrics) CallFinished(kind, outcome string, duration time.Duration, wasActive bool) {
	m.callsTotal.WithLabelValues(kind, outcome).Inc()
	if wasActive {
		m.callsActive.Dec()
		m.callDuration.Observe(duration.Seconds())
	}
}

func (m *Metrics) HistoryWritten()     { m.historyWritten.Inc() }
func (m *Metrics) HistoryWriteFailed() { m.historyFailed.Inc() }

// Signaling helpers

func (m *Metrics) SetRoomsActive(n int) { m.roomsActive.Set(float64(n)) }

func (m *Metrics) SignalRelayed(kind string)   { m.signalsRelayed.WithLabelValues(kind).Inc() }
func (m *Metrics) SignalDropped(reason string) { m.signalsDropped.WithLabelValues(reason).Inc() }

// Fan-out helpers

func (m *Metrics) EventDelivered(event string) { m.eventsDelivered.WithLabelValues(event).Inc() }
func (m *Metrics) EventDropped(event string)   { m.eventsDropped.WithLabelValues(event).Inc() }

// Push helpers

func (m *Metrics) PushSent()   { m.pushSent.Inc() }
func (m *Metrics) PushFailed() { m.pushFailed.Inc() }
