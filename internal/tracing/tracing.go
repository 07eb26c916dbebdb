// Package tracing sets up the process's OpenTelemetry tracer provider
// and a StartSpan helper, using a stdout exporter rather than an OTLP
// collector since this is a local-first service with no assumed
// telemetry backend. The engine query, AI call, and report file I/O
// paths do not call StartSpan, so no spans are recorded around them.
//
// Grounded on gomind's pkg/telemetry/otel.go (`NewAutoOTEL`'s
// resource-then-provider construction, `OTEL_SDK_DISABLED` opt-out,
// "no endpoint configured" falling back to a local-only provider), with
// the batching OTLP-gRPC exporter replaced by `stdouttrace` and the
// capability-specific span helpers dropped in favor of plain named
// spans.
package tracing

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the process-lifetime tracer provider.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Setup configures the global tracer provider for serviceName. Honors
// OTEL_SDK_DISABLED the same way the teacher's auto-configuration does.
func Setup(serviceName string) (*Provider, error) {
	if os.Getenv("OTEL_SDK_DISABLED") == "true" {
		tracer := otel.Tracer("noop")
		return &Provider{tracer: tracer}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			attribute.String("nalyze.component", "core"),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, tracer: tp.Tracer("nalyze")}, nil
}

// Shutdown flushes and stops the tracer provider, if one was started.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// StartSpan opens a span named name under ctx; the caller ends it with
// span.End().
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}
