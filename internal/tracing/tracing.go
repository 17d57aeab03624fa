// Package tracing configures the OpenTelemetry tracer provider.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Exporter names accepted by Processors.
const (
	ExporterNone = "none"
	ExporterLog  = "log"
)

// Setup installs a global tracer provider whose resource carries
// service.name = serviceName. Span processors, e.g. from Processors, are
// attached as given. The returned function flushes and shuts the provider
// down.
func Setup(serviceName string, processors ...sdktrace.SpanProcessor) (trace.Tracer, func(context.Context) error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName))),
	}
	for _, processor := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(processor))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Tracer(serviceName), tp.Shutdown
}
