package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	serviceName    = "mltrackr"
	serviceVersion = "1.0.0"
)

// Exporter pushes experiment operation metrics to an OTEL Collector.
type Exporter struct {
	provider   *sdkmetric.MeterProvider
	operations metric.Int64Counter
	latency    metric.Float64Histogram
}

// NewExporter creates an OTLP/gRPC exporter with a periodic reader.
func NewExporter(ctx context.Context, cfg Config) (*Exporter, error) {
	if !cfg.Active() {
		return nil, fmt.Errorf("OTEL exporter is disabled or endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	return newExporter(ctx, sdkmetric.NewPeriodicReader(exp))
}

// newExporter builds the instruments on top of any reader, so tests can use a
// manual reader instead of a collector.
func newExporter(ctx context.Context, reader sdkmetric.Reader) (*Exporter, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	operations, err := meter.Int64Counter(
		"mltrackr_experiment_operations_total",
		metric.WithDescription("Experiment service calls by operation and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating operations counter: %w", err)
	}

	latency, err := meter.Float64Histogram(
		"mltrackr_experiment_operation_duration_seconds",
		metric.WithDescription("Experiment service call latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating latency histogram: %w", err)
	}

	return &Exporter{
		provider:   provider,
		operations: operations,
		latency:    latency,
	}, nil
}

func (e *Exporter) RecordOperation(ctx context.Context, op, outcome string, elapsed time.Duration) {
	opt := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	e.operations.Add(ctx, 1, opt)
	e.latency.Record(ctx, elapsed.Seconds(), opt)
}

// Close shuts down the exporter and flushes any pending metrics.
func (e *Exporter) Close(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
