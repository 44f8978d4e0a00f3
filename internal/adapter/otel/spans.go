package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentmesh"

// StartSpawnSpan starts a span for an agent spawn.
func StartSpawnSpan(ctx context.Context, agentID, template string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "spawn",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("agent.template", template),
		),
	)
}

// StartTaskSpan starts a span for task dispatch and execution.
func StartTaskSpan(ctx context.Context, taskID, agentID, taskType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("agent.id", agentID),
			attribute.String("task.type", taskType),
		),
	)
}

// StartSnapshotSpan starts a span for snapshot capture or restore.
func StartSnapshotSpan(ctx context.Context, agentID, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "snapshot",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("snapshot.op", op),
		),
	)
}
