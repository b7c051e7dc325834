// Package traces wires OpenTelemetry tracing for the decision pipeline.
//
// Spans carry the process resource (service, version, deployment
// environment) plus sentinelx.* attributes, so a trace backend can filter
// decisions by identity, origin, stage and verdict.
package traces

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName      = "sentinelx"
	serviceNamespace = "auth"
	scope            = "github.com/SentinelX-Auth/SentinelX"
)

// Span attribute keys.
const (
	IdentityKey   = attribute.Key("sentinelx.identity")
	OriginKey     = attribute.Key("sentinelx.origin")
	MethodKey     = attribute.Key("sentinelx.auth.method")
	OutcomeKey    = attribute.Key("sentinelx.decision.outcome")
	StageKey      = attribute.Key("sentinelx.decision.stage")
	SamplesKey    = attribute.Key("sentinelx.enrollment.samples")
	LabelKey      = attribute.Key("sentinelx.anomaly.label")
	ConfidenceKey = attribute.Key("sentinelx.anomaly.confidence")
)

// Config describes the collector and this process.
type Config struct {
	Endpoint    string  // OTLP gRPC collector; tracing is off when empty
	Environment string  // deployment.environment
	Version     string  // service.version
	SampleRatio float64 // share of new root traces kept; outside (0,1) keeps all
}

// Init installs the global tracer provider and W3C propagators. With no
// endpoint it leaves the no-op provider in place. The returned function
// flushes and stops the exporter.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		logger.Info("tracing disabled", "reason", "OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return func(context.Context) error { return nil }, nil
	}

	res, err := Resource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("traces: resource: %w", err)
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("traces: exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing enabled",
		"endpoint", cfg.Endpoint,
		"environment", cfg.Environment,
		"sample_ratio", cfg.SampleRatio,
	)
	return tp.Shutdown, nil
}

// Resource identifies this process to the collector. OTEL_RESOURCE_ATTRIBUTES
// is applied last so operators can add or override attributes.
func Resource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceNamespace(serviceNamespace),
	}
	if cfg.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.Version))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
	)
}

// Sampler honors the caller's sampling decision and keeps ratio of new
// root traces.
func Sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan starts a span from the global provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(scope).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End marks span failed when err is non-nil and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func Identity(name string) attribute.KeyValue { return IdentityKey.String(name) }

func Origin(addr string) attribute.KeyValue { return OriginKey.String(addr) }

func Method(method string) attribute.KeyValue { return MethodKey.String(method) }

func Outcome(outcome string) attribute.KeyValue { return OutcomeKey.String(outcome) }

func Stage(stage string) attribute.KeyValue { return StageKey.String(stage) }

func Samples(n int) attribute.KeyValue { return SamplesKey.Int(n) }

// Verdict describes an anomaly score.
func Verdict(label string, confidence float64) []attribute.KeyValue {
	return []attribute.KeyValue{LabelKey.String(label), ConfidenceKey.Float64(confidence)}
}
