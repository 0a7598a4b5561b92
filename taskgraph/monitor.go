package taskgraph

import (
	"context"
	"log/slog"
	"time"

	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/internal/ctxlog"
)

// Monitor observes task lifecycle transitions. Implementations must be safe
// for concurrent use: TaskStarted, TaskCompleted, and TaskFailed are called
// from the goroutine running the task.
type Monitor interface {
	TaskStarted(ctx context.Context, id string)
	TaskCompleted(ctx context.Context, id string, elapsed time.Duration)
	TaskFailed(ctx context.Context, id string, err error)
	TaskSkipped(ctx context.Context, id string, err error)
}

// NoopMonitor ignores every transition.
type NoopMonitor struct{}

func (NoopMonitor) TaskStarted(context.Context, string)                  {}
func (NoopMonitor) TaskCompleted(context.Context, string, time.Duration) {}
func (NoopMonitor) TaskFailed(context.Context, string, error)            {}
func (NoopMonitor) TaskSkipped(context.Context, string, error)           {}

// LogMonitor writes transitions to the context logger.
type LogMonitor struct{}

func (LogMonitor) TaskStarted(ctx context.Context, id string) {
	ctxlog.FromContext(ctx).Debug("Task started.", "taskID", id)
}

func (LogMonitor) TaskCompleted(ctx context.Context, id string, elapsed time.Duration) {
	ctxlog.FromContext(ctx).Debug("Task completed.", "taskID", id, "elapsed", elapsed)
}

func (LogMonitor) TaskFailed(ctx context.Context, id string, err error) {
	ctxlog.FromContext(ctx).Warn("Task failed.", "taskID", id, slog.Any("error", err))
}

func (LogMonitor) TaskSkipped(ctx context.Context, id string, err error) {
	ctxlog.FromContext(ctx).Warn("Skipping task due to upstream failure.", "taskID", id, slog.Any("error", err))
}

// Monitors fans transitions out to every non-nil monitor in order.
type Monitors []Monitor

func (m Monitors) TaskStarted(ctx context.Context, id string) {
	for _, monitor := range m {
		if monitor != nil {
			monitor.TaskStarted(ctx, id)
		}
	}
}

func (m Monitors) TaskCompleted(ctx context.Context, id string, elapsed time.Duration) {
	for _, monitor := range m {
		if monitor != nil {
			monitor.TaskCompleted(ctx, id, elapsed)
		}
	}
}

func (m Monitors) TaskFailed(ctx context.Context, id string, err error) {
	for _, monitor := range m {
		if monitor != nil {
			monitor.TaskFailed(ctx, id, err)
		}
	}
}

func (m Monitors) TaskSkipped(ctx context.Context, id string, err error) {
	for _, monitor := range m {
		if monitor != nil {
			monitor.TaskSkipped(ctx, id, err)
		}
	}
}

// EventMonitor publishes transitions as task events on one stream. Publish
// failures are logged and otherwise ignored.
type EventMonitor struct {
	StreamID string
	Sink     agent.EventSink
}

func (m EventMonitor) TaskStarted(ctx context.Context, id string) {
	m.publish(ctx, agent.Event{Type: agent.EventTypeTaskStarted, TaskID: id})
}

func (m EventMonitor) TaskCompleted(ctx context.Context, id string, elapsed time.Duration) {
	m.publish(ctx, agent.Event{Type: agent.EventTypeTaskCompleted, TaskID: id, Description: elapsed.String()})
}

func (m EventMonitor) TaskFailed(ctx context.Context, id string, err error) {
	m.publish(ctx, agent.Event{Type: agent.EventTypeTaskFailed, TaskID: id, Description: errorText(err)})
}

func (m EventMonitor) TaskSkipped(ctx context.Context, id string, err error) {
	m.publish(ctx, agent.Event{Type: agent.EventTypeTaskSkipped, TaskID: id, Description: errorText(err)})
}

func (m EventMonitor) publish(ctx context.Context, event agent.Event) {
	if m.Sink == nil {
		return
	}
	event.StreamID = m.StreamID
	if err := m.Sink.Publish(context.WithoutCancel(ctx), event); err != nil {
		ctxlog.FromContext(ctx).Debug("Dropped task event.", "type", event.Type, "taskID", event.TaskID, slog.Any("error", err))
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
