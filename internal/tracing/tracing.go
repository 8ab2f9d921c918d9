// Package tracing wraps Server.Preprocess and Server.Response in
// OpenTelemetry spans. A span is only actually started when the incoming
// context already
// carries a valid parent span, so instrumentation costs nothing on a
// call path nobody is tracing.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// NewTracerProvider builds a TracerProvider backed by the given exporter
// kind: "stdout" for a human-readable local exporter, "otlp" for OTLP over
// gRPC, or "jaeger" for a Jaeger collector (endpoint taken from the
// exporter's own OTEL_EXPORTER_JAEGER_* environment variables, the same
// way otlptracegrpc.New reads OTEL_EXPORTER_OTLP_ENDPOINT). Any other value
// returns an error. The new provider is also installed as the global
// TracerProvider, so tracers obtained through Tracer use it.
func NewTracerProvider(ctx context.Context, exporterKind string) (*sdktrace.TracerProvider, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)

	switch exporterKind {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		exporter, err = otlptracegrpc.New(ctx)
	case "jaeger":
		exporter, err = jaeger.New(jaeger.WithCollectorEndpoint())
	default:
		return nil, &unknownExporterError{Kind: exporterKind}
	}
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp, nil
}

type unknownExporterError struct{ Kind string }

func (e *unknownExporterError) Error() string {
	return "tracing: unknown exporter kind " + e.Kind
}

// StartSpan starts a span named name using tracer, but only if ctx already
// carries a valid span context — an untraced call tree stays untraced
// rather than growing a root span per Preprocess/Response call. It returns
// the (possibly updated) context, the span (nil if none was started), and a
// function to end the span with an optional error.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span, func(error)) {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return ctx, nil, func(error) {}
	}

	spanCtx, span := tracer.Start(ctx, name)
	end := func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
	return spanCtx, span, end
}

// Tracer returns the named tracer from the global TracerProvider, matching
// the convention otel.Tracer(name) gives access to whichever provider was
// last installed with otel.SetTracerProvider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
