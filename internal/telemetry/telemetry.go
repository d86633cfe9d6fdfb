// Package telemetry wires up OpenTelemetry tracing for the archive
// executor's per-job, per-period spans, per spec §4.8. Grounded on the
// teacher's internal/tracing package (its own per-turn agent-loop tracer),
// generalized here to otel since the executor's loop has the same
// cooperative-iteration shape.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls exporter setup.
type Config struct {
	Enabled     bool
	Endpoint    string
	Protocol    string // "grpc" or "http"
	Insecure    bool
	ServiceName string
}

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

// noopShutdown satisfies Shutdown when tracing is disabled.
func noopShutdown(context.Context) error { return nil }

// Init configures the global otel tracer provider per cfg. When cfg is
// disabled, the global no-op tracer remains in place.
func Init(ctx context.Context, cfg Config) (Shutdown, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	var exp sdktrace.SpanExporter
	var err error
	switch cfg.Protocol {
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	default:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "archivekeeper"
	}
	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the executor's named tracer.
func Tracer() trace.Tracer {
	return otel.Tracer("archivekeeper/executor")
}
