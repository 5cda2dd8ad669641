package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/llmgw/internal/pipeline"

// Metrics provides OpenTelemetry metrics for pipeline runs.
type Metrics struct {
	runsTotal     metric.Int64Counter
	attemptsTotal metric.Int64Counter
	runDuration   metric.Float64Histogram
}

// NewMetrics creates pipeline metrics on meter. If meter is nil, uses the
// global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.runsTotal, err = meter.Int64Counter(
		"pipeline.runs.total",
		metric.WithDescription("Total number of pipeline runs by status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.attemptsTotal, err = meter.Int64Counter(
		"pipeline.attempts.total",
		metric.WithDescription("Total number of phase attempts by phase and outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.runDuration, err = meter.Float64Histogram(
		"pipeline.run.duration.seconds",
		metric.WithDescription("Duration of pipeline runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordRun(ctx context.Context, r *Result, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("status", string(r.Status)),
		attribute.String("error_kind", string(r.ErrorKind)),
	)
	m.runsTotal.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) recordAttempt(ctx context.Context, a Attempt) {
	if m == nil {
		return
	}
	outcome := "valid"
	if a.ErrorKind != "" {
		outcome = string(a.ErrorKind)
	}
	m.attemptsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", string(a.Phase)),
		attribute.String("outcome", outcome),
		attribute.Bool("cache_hit", a.CacheHit),
	))
}

// Tracer returns the pipeline tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
