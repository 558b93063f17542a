// Package metrics exposes Prometheus instrumentation for the sync engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkUnitsDispatched counts work units handed to the job queue
	WorkUnitsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bramble",
		Name:      "work_units_dispatched_total",
		Help:      "Total work units dispatched by the scheduler",
	}, []string{"integration", "entity_type", "trigger"})

	// WorkUnitsCompleted counts terminal work unit outcomes
	WorkUnitsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bramble",
		Name:      "work_units_completed_total",
		Help:      "Total work units that reached a terminal state",
	}, []string{"integration", "entity_type", "status"})

	// SyncDuration observes end-to-end sync job duration
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bramble",
		Name:      "sync_duration_seconds",
		Help:      "Duration of sync job execution",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"integration", "entity_type"})

	// EntitiesReconciled counts entity writes by action
	EntitiesReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bramble",
		Name:      "entities_reconciled_total",
		Help:      "Entity reconciliation outcomes",
	}, []string{"integration", "entity_type", "action"})

	// RelationshipsReconciled counts relationship writes by action
	RelationshipsReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bramble",
		Name:      "relationships_reconciled_total",
		Help:      "Relationship reconciliation outcomes",
	}, []string{"integration", "action"})

	// AlertsProcessed counts alert dedup outcomes
	AlertsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bramble",
		Name:      "alerts_processed_total",
		Help:      "Alert deduplication outcomes",
	}, []string{"integration", "action"})

	// DLQDepth tracks the current dead letter queue length
	DLQDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bramble",
		Name:      "dlq_depth",
		Help:      "Number of jobs in the dead letter queue",
	})

	// QueueDepth tracks the current job stream length
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bramble",
		Name:      "queue_depth",
		Help:      "Number of jobs in the sync job stream",
	})

	// FanOutsScheduled counts child work units created by the fan-out policy
	FanOutsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bramble",
		Name:      "fanouts_scheduled_total",
		Help:      "Child work units created from processed parent scopes",
	}, []string{"integration", "entity_type"})

	// CompletionFinalized counts fan-in completions
	CompletionFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bramble",
		Name:      "completions_finalized_total",
		Help:      "Sync completions finalized by the tracker",
	}, []string{"integration"})
)

// RecordDispatch records a dispatched work unit
func RecordDispatch(integration, entityType, trigger string) {
	WorkUnitsDispatched.WithLabelValues(integration, entityType, trigger).Inc()
}

// RecordCompletion records a terminal work unit outcome with its duration
func RecordCompletion(integration, entityType, status string, d time.Duration) {
	WorkUnitsCompleted.WithLabelValues(integration, entityType, status).Inc()
	SyncDuration.WithLabelValues(integration, entityType).Observe(d.Seconds())
}

// RecordEntityAction records an entity reconciliation outcome
func RecordEntityAction(integration, entityType, action string, n int) {
	EntitiesReconciled.WithLabelValues(integration, entityType, action).Add(float64(n))
}

// RecordRelationshipAction records a relationship reconciliation outcome
func RecordRelationshipAction(integration, action string, n int) {
	RelationshipsReconciled.WithLabelValues(integration, action).Add(float64(n))
}

// RecordAlertAction records an alert dedup outcome
func RecordAlertAction(integration, action string, n int) {
	AlertsProcessed.WithLabelValues(integration, action).Add(float64(n))
}

// RecordFanOut records a fan-out child scheduled
func RecordFanOut(integration, entityType string) {
	FanOutsScheduled.WithLabelValues(integration, entityType).Inc()
}
