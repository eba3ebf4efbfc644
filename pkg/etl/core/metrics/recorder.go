// Package metrics defines the metric and tracing contracts of the pipeline.
package metrics

import (
	"context"
	"time"
)

// MetricRecorder records pipeline metrics. Implementations must be safe for concurrent use.
type MetricRecorder interface {
	// RecordFileProcessed records one input file transformed or loaded by service.
	RecordFileProcessed(ctx context.Context, service string)
	// RecordFileSkipped records one input file skipped because its cache record was reusable.
	RecordFileSkipped(ctx context.Context, service string)
	// RecordFileRemoved records one stale output deleted by the change reconciler.
	RecordFileRemoved(ctx context.Context, service string)
	// RecordBatchLoaded records one store load batch of files files.
	RecordBatchLoaded(ctx context.Context, service string, files int)
	// RecordGeneration records the store generation service is loading into.
	RecordGeneration(ctx context.Context, service string, version int)
	// RecordTaskDuration records the duration of one pipeline task.
	// status is "success" or "failure".
	RecordTaskDuration(ctx context.Context, service string, status string, duration time.Duration)
}

// NoopRecorder discards every metric.
type NoopRecorder struct{}

var _ MetricRecorder = NoopRecorder{}

func (NoopRecorder) RecordFileProcessed(context.Context, string)                       {}
func (NoopRecorder) RecordFileSkipped(context.Context, string)                         {}
func (NoopRecorder) RecordFileRemoved(context.Context, string)                         {}
func (NoopRecorder) RecordBatchLoaded(context.Context, string, int)                    {}
func (NoopRecorder) RecordGeneration(context.Context, string, int)                     {}
func (NoopRecorder) RecordTaskDuration(context.Context, string, string, time.Duration) {}
