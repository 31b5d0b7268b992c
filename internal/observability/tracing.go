package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/fast-fab/Seller-service/internal/config"
)

// Version is set at build time with -ldflags.
var Version = "dev"

const (
	tracesPath    = "/v1/traces"
	exportTimeout = 10 * time.Second
	maxQueueSize  = 2048
)

// Tracer is the tracer used for the service's own spans.
func Tracer() trace.Tracer {
	return otel.Tracer(config.ServiceName)
}

// SetupTracing installs the W3C trace-context propagator and, when
// OTEL_ENDPOINT is set, an OTLP/HTTP exporter behind a batch processor.
// Without an endpoint spans are still created but never exported.
func SetupTracing(ctx context.Context, cfg *config.Config) (shutdown func(context.Context) error, err error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	noop := func(context.Context) error { return nil }
	if cfg.OtelEndpoint == "" {
		return noop, nil
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(Version),
	)

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.OtelEndpoint),
		otlptracehttp.WithURLPath(tracesPath),
	}
	if cfg.OtelAuthHeader != "" {
		opts = append(opts, otlptracehttp.WithHeaders(map[string]string{"Authorization": cfg.OtelAuthHeader}))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return noop, fmt.Errorf("OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithExportTimeout(exportTimeout),
			sdktrace.WithMaxQueueSize(maxQueueSize),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
