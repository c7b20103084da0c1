// Package telemetry wires the memoization pipeline's tracing and
// metrics into an OTLP/gRPC collector. Until Start runs, Tracer and
// Meter are no-ops, so instrumented code never needs a nil check.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	noopm "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	noopt "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer and Meter are the globals every instrumented package in this
// module reaches for; Start replaces them with real OTLP-backed
// implementations once exporters are connected.
var (
	Tracer trace.Tracer = noopt.Tracer{}
	Meter  metric.Meter = noopm.Meter{}
)

// Option configures Start.
type Option func(*telemetryOptions)

type telemetryOptions struct {
	tracesEndpoint   string
	metricsEndpoint  string
	serviceName      string
	serviceVersion   string
	serviceNamespace string
}

// WithTracesEndpoint sets the host:port the trace exporter dials.
// Defaults to OTEL_EXPORTER_OTLP_TRACES_ENDPOINT, then
// OTEL_EXPORTER_OTLP_ENDPOINT, then "localhost:4317".
func WithTracesEndpoint(endpoint string) Option {
	return func(o *telemetryOptions) { o.tracesEndpoint = endpoint }
}

// WithMetricsEndpoint sets the host:port the metrics exporter dials.
// Defaults to OTEL_EXPORTER_OTLP_METRICS_ENDPOINT, then
// OTEL_EXPORTER_OTLP_ENDPOINT, then "localhost:4318".
func WithMetricsEndpoint(endpoint string) Option {
	return func(o *telemetryOptions) { o.metricsEndpoint = endpoint }
}

func defaultTelemetryOptions() *telemetryOptions {
	return &telemetryOptions{
		tracesEndpoint:   endpointFromEnv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "localhost:4317"),
		metricsEndpoint:  endpointFromEnv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "localhost:4318"),
		serviceName:      "memo",
		serviceVersion:   "v0.1.0",
		serviceNamespace: "trpc-memo-go",
	}
}

func endpointFromEnv(specific, fallback string) string {
	if v := os.Getenv(specific); v != "" {
		return v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		return v
	}
	return fallback
}

// Start connects OTLP/gRPC trace and metric exporters, installs them
// as the global providers, and points Tracer/Meter at them. The
// returned clean func flushes and closes both exporters; call it on
// shutdown.
func Start(ctx context.Context, opts ...Option) (clean func() error, err error) {
	o := defaultTelemetryOptions()
	for _, opt := range opts {
		opt(o)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNamespace(o.serviceNamespace),
		semconv.ServiceName(o.serviceName),
		semconv.ServiceVersion(o.serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tracesConn, err := dialCollector(o.tracesEndpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry: dial traces collector: %w", err)
	}
	shutdownTracing, err := buildTracerProvider(ctx, res, tracesConn)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build tracer provider: %w", err)
	}

	metricsConn := tracesConn
	if o.metricsEndpoint != o.tracesEndpoint {
		metricsConn, err = dialCollector(o.metricsEndpoint)
		if err != nil {
			return nil, fmt.Errorf("telemetry: dial metrics collector: %w", err)
		}
	}
	shutdownMetrics, err := buildMeterProvider(ctx, res, metricsConn)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build meter provider: %w", err)
	}

	Tracer = otel.Tracer("trpc-memo-go")
	Meter = otel.Meter("trpc-memo-go")

	return func() error {
		var errs error
		if e := shutdownTracing(ctx); e != nil {
			errs = errors.Join(errs, fmt.Errorf("shutdown tracer provider: %w", e))
		}
		if e := shutdownMetrics(ctx); e != nil {
			errs = errors.Join(errs, fmt.Errorf("shutdown meter provider: %w", e))
		}
		return errs
	}, nil
}

// buildTracerProvider registers a batching OTLP span processor as the
// global TracerProvider and returns its Shutdown func.
func buildTracerProvider(ctx context.Context, res *resource.Resource, conn *grpc.ClientConn) (func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return provider.Shutdown, nil
}

// buildMeterProvider registers a periodic-reader OTLP metric pipeline
// as the global MeterProvider and returns its Shutdown func.
func buildMeterProvider(ctx context.Context, res *resource.Resource, conn *grpc.ClientConn) (func(context.Context) error, error) {
	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("create metrics exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}

// dialCollector opens an insecure gRPC connection to an OTLP collector.
// TLS is recommended for anything beyond local development.
func dialCollector(endpoint string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return conn, nil
}
