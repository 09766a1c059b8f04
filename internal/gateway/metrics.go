package gateway

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type gatewayMetrics struct {
	connections   prometheus.Gauge
	rooms         prometheus.Gauge
	events        *prometheus.CounterVec
	broadcasts    prometheus.Counter
	notifications *prometheus.CounterVec
}

var (
	gatewayMetricsOnce sync.Once
	gatewayMetricsInst *gatewayMetrics
)

func globalGatewayMetrics() *gatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayMetricsInst = newGatewayMetrics()
	})
	return gatewayMetricsInst
}

func newGatewayMetrics() *gatewayMetrics {
	return &gatewayMetrics{
		connections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "lers",
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Currently open websocket connections",
		}),
		rooms: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "lers",
			Subsystem: "gateway",
			Name:      "rooms",
			Help:      "Request chat rooms with at least one member",
		}),
		events: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lers",
			Subsystem: "gateway",
			Name:      "events_total",
			Help:      "Inbound socket events, labeled by event name",
		}, []string{"event"}),
		broadcasts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "lers",
			Subsystem: "gateway",
			Name:      "broadcasts_total",
			Help:      "Frames fanned out to room or global audiences",
		}),
		notifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lers",
			Subsystem: "gateway",
			Name:      "notifications_total",
			Help:      "Notification pushes, labeled by delivery outcome",
		}, []string{"outcome"}),
	}
}

func (m *gatewayMetrics) recordEvent(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
}

func (m *gatewayMetrics) recordNotification(delivered bool) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if !delivered {
		outcome = "queued"
	}
	m.notifications.WithLabelValues(outcome).Inc()
}
