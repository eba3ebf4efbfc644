package metrics

import (
	"go.uber.org/fx"

	metrics "github.com/tigerroll/statickg/pkg/etl/core/metrics"
)

// Module provides the Prometheus recorder (both as itself and as metrics.MetricRecorder)
// and an OpenTelemetry tracer over the global provider.
var Module = fx.Options(
	fx.Provide(NewPrometheusRecorder),
	fx.Provide(func(r *PrometheusRecorder) metrics.MetricRecorder { return r }),
	fx.Provide(fx.Annotate(
		func() *OpenTelemetryTracer { return NewOpenTelemetryTracer(nil) },
		fx.As(new(metrics.Tracer)),
	)),
)
