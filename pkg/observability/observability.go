// Package observability provides OpenTelemetry tracing and RED metrics for
// ledger flows.
//
// A disabled provider still hands out the global (no-op by default) tracer
// and meter, so instrumented code never checks whether telemetry is on.
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

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
)

const instrumentationName = "tokenledger"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g. "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // how long spans are batched before export
	Enabled        bool
	Insecure       bool // plaintext gRPC, dev only
}

// DefaultConfig returns development defaults with telemetry disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "tokenledger",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider manages OpenTelemetry trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	shutdowns      []func(context.Context) error
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	// RED metrics
	requestCounter   metric.Int64Counter
	errorCounter     metric.Int64Counter
	durationHist     metric.Float64Histogram
	activeOperations metric.Int64UpDownCounter
}

// New creates a provider. With Enabled false it exports nothing.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.DebugContext(ctx, "observability disabled")
		return p, p.initREDMetrics()
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
	if err := p.initREDMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init RED metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

// NewWithProviders builds a provider over existing trace and meter
// providers. Tests use it with in-memory recorders.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	p := &Provider{
		config:         DefaultConfig(),
		tracerProvider: tp,
		meterProvider:  mp,
		logger:         slog.Default().With("component", "observability"),
	}
	p.tracer = tp.Tracer(instrumentationName)
	p.meter = mp.Meter(instrumentationName)
	return p, p.initREDMetrics()
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

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	p.tracerProvider = tp
	p.shutdowns = append(p.shutdowns, tp.Shutdown)
	p.tracer = tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(p.config.ServiceVersion))
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

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(mp)
	p.meterProvider = mp
	p.shutdowns = append(p.shutdowns, mp.Shutdown)
	p.meter = mp.Meter(instrumentationName, metric.WithInstrumentationVersion(p.config.ServiceVersion))
	return nil
}

func (p *Provider) initREDMetrics() error {
	meter := p.Meter()
	var err error

	p.requestCounter, err = meter.Int64Counter("ledger.flows.total",
		metric.WithDescription("Transition flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return err
	}
	p.errorCounter, err = meter.Int64Counter("ledger.flows.failed",
		metric.WithDescription("Transition flows that ended rejected"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return err
	}
	p.durationHist, err = meter.Float64Histogram("ledger.flow.duration",
		metric.WithDescription("Flow duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}
	p.activeOperations, err = meter.Int64UpDownCounter("ledger.flows.active",
		metric.WithDescription("Flows currently in progress"),
		metric.WithUnit("{flow}"),
	)
	return err
}

// Shutdown flushes and stops the exporting providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	for _, shutdown := range p.shutdowns {
		if err := shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown telemetry provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer, or the global one when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// Meter returns the configured meter, or the global one when disabled.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordRequest counts a started flow.
func (p *Provider) RecordRequest(ctx context.Context, attrs ...attribute.KeyValue) {
	p.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordError counts a failed flow, labelled with the ledger error kind when
// err carries one.
func (p *Provider) RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	kind := string(contracts.KindOf(err))
	if kind == "" {
		kind = fmt.Sprintf("%T", err)
	}
	all := append(append([]attribute.KeyValue{}, attrs...), AttrErrorKind.String(kind))
	p.errorCounter.Add(ctx, 1, metric.WithAttributes(all...))
}

// RecordDuration records how long a flow took.
func (p *Provider) RecordDuration(ctx context.Context, duration time.Duration, attrs ...attribute.KeyValue) {
	p.durationHist.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// TrackOperation tracks an operation from start to finish.
// Call the returned function with the operation's outcome.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	p.activeOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
	p.RecordRequest(ctx, attrs...)

	return ctx, func(err error) {
		p.activeOperations.Add(ctx, -1, metric.WithAttributes(attrs...))
		p.RecordDuration(ctx, time.Since(start), attrs...)
		if err != nil {
			span.RecordError(err)
			p.RecordError(ctx, err, attrs...)
		}
		span.End()
	}
}
