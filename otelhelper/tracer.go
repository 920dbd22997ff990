// Package otelhelper sets up OpenTelemetry tracing for flow runs.
package otelhelper

import (
	"context"

	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "github.com/warriorguo/flowgraph"

	RunIDKey       = "flowgraph.run.id"
	SnapshotIDKey  = "flowgraph.snapshot.id"
	FlowIDKey      = "flowgraph.flow.id"
	NodeKeyKey     = "flowgraph.node.key"
	NodeTypeKey    = "flowgraph.node.type"
	AttemptKey     = "flowgraph.node.attempt"
	RunStatusKey   = "flowgraph.run.status"
	NodeStatusKey  = "flowgraph.node.status"
	PartialFailKey = "flowgraph.run.partial_failure"
)

// Tracer returns the flowgraph tracer of the global provider, a no-op one
// unless NewTracer (or the host application) installed a provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// NewTracer installs a global provider exporting over OTLP/HTTP, configured by
// the standard OTEL_EXPORTER_OTLP_* environment variables. The returned
// function flushes and stops the provider.
func NewTracer(ctx context.Context, serviceName string) (trace.Tracer, func(context.Context) error, error) {
	provider, err := newTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}

	return provider.Tracer(TracerName), provider.Shutdown, nil
}

func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func newTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, errors.Annotate(err, "merge resource")
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "create otlp exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
