package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	taskOpsCounter      metric.Int64Counter
	commitsCounter      metric.Int64Counter
	messagesCounter     metric.Int64Counter
	uploadsCounter      metric.Int64Counter
	sseConnectionsGauge metric.Int64ObservableGauge
	sseEventsCounter    metric.Int64Counter
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		taskOpsCounter, err = m.Int64Counter("bridge_task_operations_total", metric.WithDescription("Total task operations (create, claim, start, complete, block, etc.)"))
		if err != nil {
			return
		}
		commitsCounter, err = m.Int64Counter("bridge_commits_total", metric.WithDescription("Total commits appended across repositories"))
		if err != nil {
			return
		}
		messagesCounter, err = m.Int64Counter("bridge_messages_total", metric.WithDescription("Total messages posted (direct and group)"))
		if err != nil {
			return
		}
		uploadsCounter, err = m.Int64Counter("bridge_file_uploads_total", metric.WithDescription("Total files uploaded"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("bridge_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("bridge_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordTaskOp records a task operation (create, claim, start, complete, block, etc.).
func RecordTaskOp(ctx context.Context, op string, status string) {
	if taskOpsCounter == nil {
		return
	}
	taskOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		AttrStatus.String(status),
	))
}

// RecordCommit records one commit appended to a repository.
func RecordCommit(ctx context.Context, repo string) {
	if commitsCounter != nil {
		commitsCounter.Add(ctx, 1, metric.WithAttributes(AttrRepo.String(repo)))
	}
}

// RecordMessage records one message posted. kind is "dm" or "group".
func RecordMessage(ctx context.Context, kind string) {
	if messagesCounter != nil {
		messagesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// RecordUpload records one file upload.
func RecordUpload(ctx context.Context, agent string) {
	if uploadsCounter != nil {
		uploadsCounter.Add(ctx, 1, metric.WithAttributes(AttrAgent.String(agent)))
	}
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}

// TaskCountFunc returns (open, claimed, inProgress, blocked, done) counts.
// Used for the bridge_tasks_total gauge.
type TaskCountFunc func() (open, claimed, inProgress, blocked, done int64)

// InitMetricsWithTaskCount creates instruments and optionally registers a callback for task gauges.
// Call after InitMeterProvider. If taskCount is nil, task gauges are not reported.
func InitMetricsWithTaskCount(ctx context.Context, taskCount TaskCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if taskCount == nil {
		return nil
	}
	m := Meter()
	tasksGauge, err := m.Float64ObservableGauge("bridge_tasks_total", metric.WithDescription("Number of tasks by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		open, claimed, inProgress, blocked, done := taskCount()
		o.ObserveFloat64(tasksGauge, float64(open), metric.WithAttributes(AttrStatus.String("open")))
		o.ObserveFloat64(tasksGauge, float64(claimed), metric.WithAttributes(AttrStatus.String("claimed")))
		o.ObserveFloat64(tasksGauge, float64(inProgress), metric.WithAttributes(AttrStatus.String("in_progress")))
		o.ObserveFloat64(tasksGauge, float64(blocked), metric.WithAttributes(AttrStatus.String("blocked")))
		o.ObserveFloat64(tasksGauge, float64(done), metric.WithAttributes(AttrStatus.String("done")))
		return nil
	}, tasksGauge)
	return err
}
