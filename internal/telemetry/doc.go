// Package telemetry wires OpenTelemetry tracing and metrics for llmgw.
//
// Spans and metrics are exported over OTLP (gRPC or HTTP) to a collector.
// Telemetry is off by default; when it is off, Tracer and Meter return the
// global no-op implementations.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	metrics, err := pipeline.NewMetrics(tel.Meter(pipeline.InstrumentationName))
//
// Tests use NewTestTelemetry, which records spans with a tracetest span
// recorder and metrics with a manual reader.
package telemetry
