package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Creator metrics
	NotificationsCreated   prometheus.Counter
	NotificationsDuplicate prometheus.Counter
	NotificationsDeleted   prometheus.Counter
	TemplateErrors         *prometheus.CounterVec

	// Delivery metrics
	DeliveriesSucceeded prometheus.Counter
	DeliveriesFailed    *prometheus.CounterVec
	DeadLettered        prometheus.Counter
	ClaimsLost          prometheus.Counter
	BatchLatency        prometheus.Histogram
	SendLatency         prometheus.Histogram

	// Orchestrator metrics
	RunDuration *prometheus.HistogramVec
	RunErrors   prometheus.Counter

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates all application metrics and registers them with reg.
// A nil reg uses the default prometheus registerer.
func NewMetrics(namespace, subsystem string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		NotificationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_created_total",
			Help:      "Total number of notifications enqueued by the creator",
		}),
		NotificationsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_duplicate_total",
			Help:      "Total number of enqueue attempts that hit an existing notification",
		}),
		NotificationsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_reset_deleted_total",
			Help:      "Total number of pending notifications removed by reset runs",
		}),
		TemplateErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "template_errors_total",
			Help:      "Total number of per-template and per-recipient creation errors",
		}, []string{"kind"}),

		DeliveriesSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "deliveries_succeeded_total",
			Help:      "Total number of notifications sent",
		}),
		DeliveriesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "deliveries_failed_total",
			Help:      "Total number of failed delivery attempts",
		}, []string{"reason"}),
		DeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "deliveries_dead_lettered_total",
			Help:      "Total number of notifications that exhausted their attempts",
		}),
		ClaimsLost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "claims_lost_total",
			Help:      "Total number of polled notifications claimed by another worker",
		}),
		BatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_duration_seconds",
			Help:      "Time spent processing one polled batch",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		SendLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "send_duration_seconds",
			Help:      "Duration of external send calls",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "run_duration_seconds",
			Help:      "Duration of orchestrator runs",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"phase"}),
		RunErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "run_errors_total",
			Help:      "Total number of errors reported by orchestrator runs",
		}),

		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// New returns metrics registered on a private registry, for tests and tools.
func New(namespace string) *Metrics {
	return NewMetrics(namespace, "", prometheus.NewRegistry())
}
