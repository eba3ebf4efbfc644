// Package metrics implements the pipeline metric recorder with Prometheus and the tracer
// with OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	metrics "github.com/tigerroll/statickg/pkg/etl/core/metrics"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.MetricRecorder.
// Metrics live in a private registry that is dumped to a text file at the end of a run.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	filesProcessed *prometheus.CounterVec
	filesSkipped   *prometheus.CounterVec
	filesRemoved   *prometheus.CounterVec
	batchesLoaded  *prometheus.CounterVec
	batchFiles     *prometheus.HistogramVec
	generation     *prometheus.GaugeVec
	taskDuration   *prometheus.HistogramVec
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		filesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statickg_files_processed_total",
			Help: "Input files transformed or loaded.",
		}, []string{"service"}),
		filesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statickg_files_skipped_total",
			Help: "Input files skipped because their cache record was reusable.",
		}, []string{"service"}),
		filesRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statickg_files_removed_total",
			Help: "Stale outputs deleted by the change reconciler.",
		}, []string{"service"}),
		batchesLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statickg_store_batches_loaded_total",
			Help: "Store load batches completed.",
		}, []string{"service"}),
		batchFiles: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "statickg_store_batch_files",
			Help:    "Number of files per store load batch.",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}, []string{"service"}),
		generation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "statickg_store_generation",
			Help: "Store generation currently being loaded.",
		}, []string{"service"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "statickg_task_duration_seconds",
			Help:    "Duration of pipeline tasks.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "status"}),
	}

	r.registry.MustRegister(
		r.filesProcessed,
		r.filesSkipped,
		r.filesRemoved,
		r.batchesLoaded,
		r.batchFiles,
		r.generation,
		r.taskDuration,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) RecordFileProcessed(_ context.Context, service string) {
	r.filesProcessed.WithLabelValues(service).Inc()
}

func (r *PrometheusRecorder) RecordFileSkipped(_ context.Context, service string) {
	r.filesSkipped.WithLabelValues(service).Inc()
}

func (r *PrometheusRecorder) RecordFileRemoved(_ context.Context, service string) {
	r.filesRemoved.WithLabelValues(service).Inc()
}

func (r *PrometheusRecorder) RecordBatchLoaded(_ context.Context, service string, files int) {
	r.batchesLoaded.WithLabelValues(service).Inc()
	r.batchFiles.WithLabelValues(service).Observe(float64(files))
}

func (r *PrometheusRecorder) RecordGeneration(_ context.Context, service string, version int) {
	r.generation.WithLabelValues(service).Set(float64(version))
}

// RecordTaskDuration records the duration of one pipeline task.
func (r *PrometheusRecorder) RecordTaskDuration(_ context.Context, service string, status string, duration time.Duration) {
	r.taskDuration.WithLabelValues(service, status).Observe(duration.Seconds())
	logger.Debugf("Metrics: task of service '%s' ended (%s). Duration: %.3fs", service, status, duration.Seconds())
}

// WriteTextfile writes the registry in the Prometheus text format to path,
// in the layout expected by the node exporter textfile collector.
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
