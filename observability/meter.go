package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/mkaratas/relaykit/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// ProviderMetrics bundles the instruments recorded by the provider layer.
type ProviderMetrics struct {
	callTotal          metric.Int64Counter
	callDuration       metric.Float64Histogram
	callActive         metric.Int64UpDownCounter
	retryTotal         metric.Int64Counter
	breakerTransitions metric.Int64Counter
	errorTotal         metric.Int64Counter
}

// NewProviderMetrics creates the provider instruments on the given meter.
func NewProviderMetrics(meter metric.Meter) (*ProviderMetrics, error) {
	callTotal, err := meter.Int64Counter("provider.call.total",
		metric.WithDescription("Total provider calls by provider, operation, and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating provider.call.total counter: %w", err)
	}

	callDuration, err := meter.Float64Histogram("provider.call.duration",
		metric.WithDescription("Duration of provider calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating provider.call.duration histogram: %w", err)
	}

	callActive, err := meter.Int64UpDownCounter("provider.call.active",
		metric.WithDescription("Number of in-flight provider calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating provider.call.active gauge: %w", err)
	}

	retryTotal, err := meter.Int64Counter("provider.retry.total",
		metric.WithDescription("Total retry attempts by provider and operation"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating provider.retry.total counter: %w", err)
	}

	breakerTransitions, err := meter.Int64Counter("provider.breaker.transition.total",
		metric.WithDescription("Circuit breaker state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating provider.breaker.transition.total counter: %w", err)
	}

	errorTotal, err := meter.Int64Counter("provider.error.total",
		metric.WithDescription("Total provider errors by code"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating provider.error.total counter: %w", err)
	}

	return &ProviderMetrics{
		callTotal:          callTotal,
		callDuration:       callDuration,
		callActive:         callActive,
		retryTotal:         retryTotal,
		breakerTransitions: breakerTransitions,
		errorTotal:         errorTotal,
	}, nil
}

// RecordCallStart increments the in-flight call count.
func (m *ProviderMetrics) RecordCallStart(ctx context.Context) {
	m.callActive.Add(ctx, 1)
}

// RecordCallEnd decrements in-flight calls and records the completed call.
func (m *ProviderMetrics) RecordCallEnd(ctx context.Context, provider, operation, status string, duration time.Duration) {
	m.callActive.Add(ctx, -1)
	m.callTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
	m.callDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	))
}

// RecordRetry records a retry attempt.
func (m *ProviderMetrics) RecordRetry(ctx context.Context, provider, operation string) {
	m.retryTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *ProviderMetrics) RecordBreakerTransition(ctx context.Context, name, from, to string) {
	m.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordError records a provider error by code.
func (m *ProviderMetrics) RecordError(ctx context.Context, provider, code string) {
	m.errorTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("code", code),
	))
}
