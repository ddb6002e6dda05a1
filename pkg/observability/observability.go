// Package observability wires OpenTelemetry tracing and metrics for
// the kernel's execution paths.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "autonomy-kernel"

// Config configures the OpenTelemetry providers. Exporters are
// injected so the kernel itself stays transport agnostic: pass a span
// exporter and metric reader from the embedding process, or leave them
// nil to keep telemetry in-process only.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	SampleRate     float64
	Enabled        bool

	SpanExporter sdktrace.SpanExporter
	MetricReader sdkmetric.Reader
}

// DefaultConfig samples everything and exports nowhere.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "autonomy-kernel",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		SampleRate:     1.0,
		Enabled:        true,
	}
}

// Provider manages the trace and metric providers plus the kernel's
// execution metrics.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	executionCounter metric.Int64Counter
	failureCounter   metric.Int64Counter
	durationHist     metric.Float64Histogram
	activeExecutions metric.Int64UpDownCounter
}

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
		return nil, fmt.Errorf("observability: create resource: %w", err)
	}

	p.initTraceProvider(res)
	p.initMeterProvider(res)

	p.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initExecutionMetrics(); err != nil {
		return nil, fmt.Errorf("observability: init metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(res *resource.Resource) {
	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}
	if p.config.SpanExporter != nil {
		opts = append(opts, sdktrace.WithBatcher(p.config.SpanExporter))
	}
	p.tracerProvider = sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

func (p *Provider) initMeterProvider(res *resource.Resource) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if p.config.MetricReader != nil {
		opts = append(opts, sdkmetric.WithReader(p.config.MetricReader))
	}
	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
}

func (p *Provider) initExecutionMetrics() error {
	var err error

	p.executionCounter, err = p.meter.Int64Counter("kernel.executions.total",
		metric.WithDescription("Total tool executions started"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return err
	}

	p.failureCounter, err = p.meter.Int64Counter("kernel.failures.total",
		metric.WithDescription("Total failed tool executions"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return err
	}

	p.durationHist, err = p.meter.Float64Histogram("kernel.execution.duration",
		metric.WithDescription("Tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return err
	}

	p.activeExecutions, err = p.meter.Int64UpDownCounter("kernel.executions.active",
		metric.WithDescription("Currently executing tool calls"),
		metric.WithUnit("{execution}"),
	)
	return err
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "meter provider shutdown failed", "error", err)
		}
	}
	return nil
}

func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

func (p *Provider) RecordFailure(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	if p.failureCounter != nil {
		all := append(attrs, attribute.String("error.type", fmt.Sprintf("%T", err)))
		p.failureCounter.Add(ctx, 1, metric.WithAttributes(all...))
	}
}

// TrackExecution opens a span and counts the execution; the returned
// function closes the span and records duration and failure.
func (p *Provider) TrackExecution(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()

	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	if p.activeExecutions != nil {
		p.activeExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if p.executionCounter != nil {
		p.executionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return ctx, func(err error) {
		duration := time.Since(start)
		if p.activeExecutions != nil {
			p.activeExecutions.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		if p.durationHist != nil {
			p.durationHist.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
			p.RecordFailure(ctx, err, attrs...)
		}
		span.End()
	}
}
