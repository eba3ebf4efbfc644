package metrics_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tigerroll/statickg/pkg/etl/infrastructure/metrics"
)

func TestPrometheusRecorder(t *testing.T) {
	r := metrics.NewPrometheusRecorder()
	ctx := context.Background()

	r.RecordFileProcessed(ctx, "copy")
	r.RecordFileProcessed(ctx, "copy")
	r.RecordFileSkipped(ctx, "copy")
	r.RecordFileRemoved(ctx, "copy")
	r.RecordBatchLoaded(ctx, "fuseki", 2)
	r.RecordGeneration(ctx, "fuseki", 3)
	r.RecordTaskDuration(ctx, "copy", "success", 20*time.Millisecond)

	n, err := testutil.GatherAndCount(r.GetRegistry(), "statickg_files_processed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	path := filepath.Join(t.TempDir(), "logs", "metrics.prom")
	require.NoError(t, r.WriteTextfile(path))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `statickg_files_processed_total{service="copy"} 2`)
	assert.Contains(t, string(content), `statickg_store_generation{service="fuseki"} 3`)
}

func TestOpenTelemetryTracer(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := metrics.NewOpenTelemetryTracer(tp)

	ctx, end := tracer.StartTaskSpan(context.Background(), "run-1", 0, "copy")
	tracer.RecordEvent(ctx, "file_removed", map[string]interface{}{"path": "a.csv", "count": 1})
	end(nil)

	_, end = tracer.StartTaskSpan(context.Background(), "run-1", 1, "fuseki")
	end(errors.New("status 500"))

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "task 0 copy", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "file_removed", spans[0].Events()[0].Name)

	assert.Equal(t, "task 1 fuseki", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "status 500", spans[1].Status().Description)
}
