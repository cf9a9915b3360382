package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricTasksTotal      = "appaudit.tasks.total"
	metricTaskDuration    = "appaudit.task.duration.seconds"
	metricInflightTasks   = "appaudit.tasks.inflight"
	metricSubtasksTotal   = "appaudit.subtasks.total"
	metricSubtaskDuration = "appaudit.subtask.duration.seconds"
	metricLeasesSwept     = "appaudit.leases.swept.total"

	attrStatus    = "status"
	attrAnalyzer  = "service"
	attrErrorKind = "error_kind"
)

// durationBucketBoundaries covers 100ms to 1800s: validation failures
// finish in well under a second while dynamic scans run for many minutes.
var durationBucketBoundaries = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 900, 1800}

// EngineMetrics holds the OTel instruments for the dispatcher. It
// satisfies the dispatcher's Metrics interface.
type EngineMetrics struct {
	tasksTotal      metric.Int64Counter
	taskDuration    metric.Float64Histogram
	inflightTasks   metric.Int64UpDownCounter
	subtasksTotal   metric.Int64Counter
	subtaskDuration metric.Float64Histogram
	leasesSwept     metric.Int64Counter
}

// NewEngineMetrics creates the engine metric instruments from the given
// meter.
func NewEngineMetrics(mt metric.Meter) (*EngineMetrics, error) {
	b := newMetricBuilder(mt)

	em := &EngineMetrics{
		tasksTotal:      b.counter(metricTasksTotal, "Total tasks finished by terminal status", "{task}"),
		taskDuration:    b.histogram(metricTaskDuration, "Task duration in seconds", "s", durationBucketBoundaries...),
		inflightTasks:   b.upDownCounter(metricInflightTasks, "Number of tasks currently being processed", "{task}"),
		subtasksTotal:   b.counter(metricSubtasksTotal, "Total subtasks finished by service and error kind", "{subtask}"),
		subtaskDuration: b.histogram(metricSubtaskDuration, "Subtask duration in seconds", "s", durationBucketBoundaries...),
		leasesSwept:     b.counter(metricLeasesSwept, "Total expired leases reclaimed by the sweep", "{lease}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return em, nil
}

// TaskStarted increments the in-flight gauge.
func (em *EngineMetrics) TaskStarted() {
	em.inflightTasks.Add(context.Background(), 1)
}

// TaskFinished records one terminal task.
func (em *EngineMetrics) TaskFinished(status string, duration time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String(attrStatus, status))

	em.inflightTasks.Add(ctx, -1)
	em.tasksTotal.Add(ctx, 1, attrs)
	em.taskDuration.Record(ctx, duration.Seconds(), attrs)
}

// SubtaskFinished records one completed service call. errorKind is empty
// on success.
func (em *EngineMetrics) SubtaskFinished(service, errorKind string, duration time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String(attrAnalyzer, service),
		attribute.String(attrErrorKind, errorKind),
	)

	em.subtasksTotal.Add(ctx, 1, attrs)
	em.subtaskDuration.Record(ctx, duration.Seconds(), attrs)
}

// LeasesSwept records leases reclaimed by one sweep pass.
func (em *EngineMetrics) LeasesSwept(count int) {
	em.leasesSwept.Add(context.Background(), int64(count))
}
