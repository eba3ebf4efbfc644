package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	metrics "github.com/tigerroll/statickg/pkg/etl/core/metrics"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

// InstrumentationName is the OpenTelemetry instrumentation scope of the pipeline.
const InstrumentationName = "github.com/tigerroll/statickg/pkg/etl"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)

// NewOpenTelemetryTracer creates a tracer from tp. A nil tp means the global provider.
func NewOpenTelemetryTracer(tp trace.TracerProvider) *OpenTelemetryTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &OpenTelemetryTracer{tracer: tp.Tracer(InstrumentationName)}
}

// StartTaskSpan starts a span named "task <index> <service>".
func (t *OpenTelemetryTracer) StartTaskSpan(ctx context.Context, runID string, index int, service string) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("task %d %s", index, service),
		trace.WithAttributes(
			attribute.String("statickg.run_id", runID),
			attribute.Int("statickg.task.index", index),
			attribute.String("statickg.task.service", service),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// RecordEvent adds an event to the span carried by ctx.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
	logger.Debugf("Tracer: event %s %v", name, attributes)
}
