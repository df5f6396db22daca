package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lms_notifier"

// NotifierMetrics records connection and delivery health for the notifier.
// A nil *NotifierMetrics is valid and records nothing.
type NotifierMetrics struct {
	dials            *prometheus.CounterVec
	connected        prometheus.Gauge
	handshake        prometheus.Histogram
	events           *prometheus.CounterVec
	listenerFailures prometheus.Counter
	notifications    *prometheus.CounterVec
	unread           prometheus.Gauge
	sideChannel      *prometheus.CounterVec
	relay            *prometheus.CounterVec
}

// NewNotifierMetrics registers the notifier collectors on the provided registerer.
func NewNotifierMetrics(reg prometheus.Registerer) *NotifierMetrics {
	if reg == nil {
		return &NotifierMetrics{}
	}
	m := &NotifierMetrics{
		dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_attempts_total",
			Help:      "Transport dial attempts by result.",
		}, []string{"result"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the notification connection is established.",
		}),
		handshake: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time from dial to namespace connect acknowledgement.",
			Buckets:   prometheus.DefBuckets,
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Inbound server events by name.",
		}, []string{"event"}),
		listenerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_failures_total",
			Help:      "Listener invocations that returned an error or panicked.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Inbound notifications by outcome.",
		}, []string{"outcome"}),
		unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unread_notifications",
			Help:      "Unread notifications held for the current identity.",
		}),
		sideChannel: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_channel_failures_total",
			Help:      "Swallowed toast, desktop and sound failures.",
		}, []string{"channel"}),
		relay: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_publish_total",
			Help:      "Pub/Sub relay publishes by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.dials,
		m.connected,
		m.handshake,
		m.events,
		m.listenerFailures,
		m.notifications,
		m.unread,
		m.sideChannel,
		m.relay,
	)
	return m
}

func (m *NotifierMetrics) IncDial(success bool) {
	if m == nil || m.dials == nil {
		return
	}
	m.dials.WithLabelValues(resultLabel(success)).Inc()
}

func (m *NotifierMetrics) SetConnected(connected bool) {
	if m == nil || m.connected == nil {
		return
	}
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

func (m *NotifierMetrics) ObserveHandshake(d time.Duration) {
	if m == nil || m.handshake == nil {
		return
	}
	m.handshake.Observe(d.Seconds())
}

func (m *NotifierMetrics) IncEvent(name string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(name)).Inc()
}

func (m *NotifierMetrics) IncListenerFailure() {
	if m == nil || m.listenerFailures == nil {
		return
	}
	m.listenerFailures.Inc()
}

// IncNotification counts a notification outcome such as "stored" or "duplicate".
func (m *NotifierMetrics) IncNotification(outcome string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *NotifierMetrics) SetUnread(n int) {
	if m == nil || m.unread == nil {
		return
	}
	m.unread.Set(float64(n))
}

func (m *NotifierMetrics) IncSideChannelFailure(channel string) {
	if m == nil || m.sideChannel == nil {
		return
	}
	m.sideChannel.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *NotifierMetrics) IncRelay(success bool) {
	if m == nil || m.relay == nil {
		return
	}
	m.relay.WithLabelValues(resultLabel(success)).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
