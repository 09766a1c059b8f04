package realtime

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type coreMetrics struct {
	reconnects    prometheus.Counter
	duplicates    prometheus.Counter
	notifications *prometheus.CounterVec
}

var (
	coreMetricsOnce sync.Once
	coreMetricsInst *coreMetrics
)

func globalCoreMetrics() *coreMetrics {
	coreMetricsOnce.Do(func() {
		coreMetricsInst = newCoreMetrics()
	})
	return coreMetricsInst
}

func newCoreMetrics() *coreMetrics {
	return &coreMetrics{
		reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "lers",
			Subsystem: "realtime",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts after unexpected disconnects",
		}),
		duplicates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "lers",
			Subsystem: "realtime",
			Name:      "duplicate_deliveries_total",
			Help:      "Redelivered frames absorbed by id-based dedup",
		}),
		notifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lers",
			Subsystem: "realtime",
			Name:      "notifications_dispatched_total",
			Help:      "Notifications dispatched to the UI, labeled by priority",
		}, []string{"priority"}),
	}
}

func (m *coreMetrics) recordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *coreMetrics) recordDuplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *coreMetrics) recordNotification(priority string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(priority).Inc()
}
