// Package otel sets up OpenTelemetry tracing with X-Ray compatible trace IDs.
package otel

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/contrib/detectors/aws/ecs"
	otelxray "go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// SetupTracer installs a global tracer provider exporting to the OTLP
// collector at OTEL_EXPORTER_OTLP_ENDPOINT, or the default gRPC endpoint. The
// returned function flushes pending spans and must be called before the
// process exits.
func SetupTracer(ctx context.Context, svcName, instanceID string) (func(context.Context) error, error) {
	// The collector connection is established lazily, on the first export.
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("create otel trace exporter: %w", err)
	}

	r, err := newResource(ctx, svcName, instanceID)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithIDGenerator(otelxray.NewIDGenerator()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(otelxray.Propagator{})
	return tp.Shutdown, nil
}

// newResource describes this process. ECS task attributes are added when
// running on ECS.
func newResource(ctx context.Context, svcName, instanceID string) (*resource.Resource, error) {
	r, err := resource.New(ctx,
		resource.WithDetectors(ecs.NewResourceDetector()),
		resource.WithAttributes(
			semconv.ServiceName(svcName),
			semconv.ServiceInstanceID(instanceID),
		),
	)
	switch {
	case errors.Is(err, resource.ErrPartialResource), errors.Is(err, resource.ErrSchemaURLConflict):
		log.Printf("Incomplete otel resource: %s", err)
	case err != nil:
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	return r, nil
}

// XRayTraceID formats the span's trace ID the way X-Ray displays it.
func XRayTraceID(span trace.Span) string {
	id := span.SpanContext().TraceID().String()
	if len(id) < 9 {
		return id
	}

	return fmt.Sprintf("1-%s-%s", id[:8], id[8:])
}
