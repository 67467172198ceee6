package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName is the instrumentation scope and service.name of every span.
const ServiceName = "notification-gateway"

// GetTracer returns the tracer of the currently installed provider.
// It is resolved on every call so a provider installed after package
// init (or swapped in tests) is honoured.
//
//	ctx, span := tracing.GetTracer().Start(ctx, "operation-name")
//	defer span.End()
func GetTracer() trace.Tracer {
	return otel.Tracer(ServiceName)
}

// Config controls the SDK tracer provider installed by Setup.
type Config struct {
	Component string
	Version   string
	// SampleRatio is the fraction of root spans recorded; <= 0 disables
	// sampling of new traces, >= 1 records all of them.
	SampleRatio float64
	// Exporter receives finished spans. nil keeps spans in-process only,
	// which still yields trace ids for log correlation.
	Exporter sdktrace.SpanExporter
}

// Setup installs a global SDK tracer provider and W3C propagators.
// The returned function flushes and shuts the provider down.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.component", cfg.Component),
		attribute.String("service.version", cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}
	if cfg.Exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(cfg.Exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// EnvOTLPEndpoint names the collector URL; tracing export is off when unset.
const EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"

// NewOTLPExporter returns an OTLP/HTTP span exporter for endpoint, or nil
// when endpoint is empty.
func NewOTLPExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint == "" {
		return nil, nil
	}
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	return exp, nil
}
