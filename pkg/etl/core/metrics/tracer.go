package metrics

import (
	"context"
)

// Tracer opens spans around pipeline work.
type Tracer interface {
	// StartTaskSpan starts the span of pipeline task index bound to service.
	// The returned function ends the span, recording err when it is not nil.
	StartTaskSpan(ctx context.Context, runID string, index int, service string) (context.Context, func(err error))

	// RecordEvent adds an event to the span carried by ctx, if any.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}

// NoopTracer opens no span.
type NoopTracer struct{}

var _ Tracer = NoopTracer{}

func (NoopTracer) StartTaskSpan(ctx context.Context, _ string, _ int, _ string) (context.Context, func(err error)) {
	return ctx, func(error) {}
}

func (NoopTracer) RecordEvent(context.Context, string, map[string]interface{}) {}
