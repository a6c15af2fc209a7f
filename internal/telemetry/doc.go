// Package telemetry provides OpenTelemetry tracing and metrics for eventforge.
//
// Telemetry is disabled by default. When enabled, traces and metrics are
// exported over OTLP (grpc or http/protobuf) and the global providers are
// replaced so otel-instrumented packages pick them up. Exporter failures never
// stop the daemon; the instance reports itself degraded instead.
//
//	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version), logger)
//	defer tel.Shutdown(context.Background())
//	tracer := tel.Tracer("eventforge/delivery")
package telemetry
