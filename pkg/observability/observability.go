// Package observability provides OpenTelemetry tracing and metrics for
// the vault: OTLP export, lifecycle counters (created, settled,
// violations detected), a TVL up-down counter, and operation duration
// histograms.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/commitlock/vault/pkg/contracts"
)

const instrumentationName = "commitlock.vault"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // e.g. "localhost:4317"
	SampleRate     float64 // 0.0 to 1.0
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "commitlock-vault",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider manages the trace and metric providers plus the vault's
// instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	commitmentsCreated metric.Int64Counter
	commitmentsSettled metric.Int64Counter
	violationsDetected metric.Int64Counter
	valueLocked        metric.Int64UpDownCounter
	durationHist       metric.Float64Histogram
}

// New creates an observability provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)
	if err := p.initVaultMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init vault metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initVaultMetrics() error {
	var err error

	p.commitmentsCreated, err = p.meter.Int64Counter("vault.commitments.created",
		metric.WithDescription("Total commitments created"),
		metric.WithUnit("{commitment}"),
	)
	if err != nil {
		return err
	}
	p.commitmentsSettled, err = p.meter.Int64Counter("vault.commitments.settled",
		metric.WithDescription("Total commitments settled"),
		metric.WithUnit("{commitment}"),
	)
	if err != nil {
		return err
	}
	p.violationsDetected, err = p.meter.Int64Counter("vault.violations.detected",
		metric.WithDescription("Total rule violations detected"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return err
	}
	p.valueLocked, err = p.meter.Int64UpDownCounter("vault.value.locked",
		metric.WithDescription("Total value locked across active commitments"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return err
	}
	p.durationHist, err = p.meter.Float64Histogram("vault.operation.duration",
		metric.WithDescription("Vault operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// StartSpan starts a span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordDuration records one vault operation's latency.
func (p *Provider) RecordDuration(ctx context.Context, operation string, duration time.Duration, err error) {
	if p.durationHist == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("vault.operation", operation),
		attribute.Bool("vault.error", err != nil),
	}
	p.durationHist.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// Emit implements the vault's event emitter: lifecycle events feed the
// counters, so the metrics pipeline sees exactly what the audit log
// sees.
func (p *Provider) Emit(event contracts.EventType, payload any) {
	ctx := context.Background()
	switch event {
	case contracts.EventCreated:
		if p.commitmentsCreated == nil {
			return
		}
		evt, ok := payload.(*contracts.CreatedEvent)
		if !ok {
			return
		}
		p.commitmentsCreated.Add(ctx, 1,
			metric.WithAttributes(attribute.String("vault.asset", evt.AssetID)))
		if p.valueLocked != nil {
			p.valueLocked.Add(ctx, evt.Amount)
		}
	case contracts.EventSettled:
		if p.commitmentsSettled == nil {
			return
		}
		evt, ok := payload.(*contracts.SettledEvent)
		if !ok {
			return
		}
		p.commitmentsSettled.Add(ctx, 1)
		if p.valueLocked != nil {
			p.valueLocked.Add(ctx, -evt.SettlementAmount)
		}
	case contracts.EventValueUpdated:
		if p.valueLocked == nil {
			return
		}
		evt, ok := payload.(*contracts.ValueUpdatedEvent)
		if !ok {
			return
		}
		p.valueLocked.Add(ctx, evt.NewValue-evt.OldValue)
	case contracts.EventViolated:
		if p.violationsDetected == nil {
			return
		}
		evt, ok := payload.(*contracts.ViolatedEvent)
		if !ok {
			return
		}
		p.violationsDetected.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("vault.loss_violated", evt.LossViolated),
			attribute.Bool("vault.duration_violated", evt.DurationViolated),
		))
	}
}
