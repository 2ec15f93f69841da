// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_fired_total",
			Help: "Total number of event firings processed",
		},
		[]string{"event", "result"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Total number of notification records created at fan-out",
		},
		[]string{"kind"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Total number of delivery attempts by result",
		},
		[]string{"result"},
	)

	DeliveryAttemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "delivery_attempt_duration_seconds",
			Help: "Duration of a single delivery attempt in seconds",
		},
	)

	DeliveryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_queue_depth",
			Help: "Number of delivery jobs currently queued",
		},
	)
)
