package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	counterApprovalActions        = "approval_actions_total"
	counterCommitOutcomes         = "commit_outcomes_total"
	counterTasksSwept             = "completed_tasks_swept_total"
	counterOperationDurationMilli = "operation_duration_milliseconds"
)

const (
	counterDescriptionApprovalActions        = "Number of approve, revoke and lifecycle actions, by action and result"
	counterDescriptionCommitOutcomes         = "Number of deferred commit runs, by outcome"
	counterDescriptionTasksSwept             = "Number of completed tasks removed by the retention sweeper"
	counterDescriptionOperationDurationMilli = "Histogram/sum/count of operation time, by name"
)

const (
	namespace   = "taskflow"
	actionLabel = "action"
	resultLabel = "result"
	outcome     = "outcome"
	operation   = "operation"
)

// API is what the services report.
type API interface {
	ApprovalAction(action, result string)
	CommitOutcome(outcome string)
	TasksSwept(n int64)
	Duration(operation string, duration time.Duration)
}

type MetricsManager struct {
	registry prometheus.Registerer

	serviceLogicApprovalActions   *prometheus.CounterVec
	serviceLogicCommitOutcomes    *prometheus.CounterVec
	serviceLogicTasksSwept        prometheus.Counter
	serviceLogicOperationDuration *prometheus.HistogramVec
}

var _ API = &MetricsManager{}

func NewMetricsManager(registry prometheus.Registerer) *MetricsManager {
	m := &MetricsManager{
		registry: registry,

		serviceLogicApprovalActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      counterApprovalActions,
				Help:      counterDescriptionApprovalActions,
			}, []string{actionLabel, resultLabel}),

		serviceLogicCommitOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      counterCommitOutcomes,
				Help:      counterDescriptionCommitOutcomes,
			}, []string{outcome}),

		serviceLogicTasksSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      counterTasksSwept,
				Help:      counterDescriptionTasksSwept,
			}),

		serviceLogicOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      counterOperationDurationMilli,
			Help:      counterDescriptionOperationDurationMilli,
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{operation}),
	}

	registry.MustRegister(
		m.serviceLogicApprovalActions,
		m.serviceLogicCommitOutcomes,
		m.serviceLogicTasksSwept,
		m.serviceLogicOperationDuration,
	)
	return m
}

func (m *MetricsManager) ApprovalAction(action, result string) {
	m.serviceLogicApprovalActions.WithLabelValues(action, result).Inc()
}

func (m *MetricsManager) CommitOutcome(o string) {
	m.serviceLogicCommitOutcomes.WithLabelValues(o).Inc()
}

func (m *MetricsManager) TasksSwept(n int64) {
	if n > 0 {
		m.serviceLogicTasksSwept.Add(float64(n))
	}
}

func (m *MetricsManager) Duration(op string, duration time.Duration) {
	m.serviceLogicOperationDuration.WithLabelValues(op).Observe(float64(duration.Milliseconds()))
}

// Noop discards everything.
type Noop struct{}

func (Noop) ApprovalAction(string, string)  {}
func (Noop) CommitOutcome(string)           {}
func (Noop) TasksSwept(int64)               {}
func (Noop) Duration(string, time.Duration) {}
