package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/duckmesh/sqlchat/internal/config"
)

var tracer = otel.Tracer("sqlchat")

const (
	SpanTurn       = "sqlchat.turn"
	SpanResolve    = "sqlchat.resolve"
	SpanAttempt    = "sqlchat.resolve.attempt"
	SpanSynthesize = "sqlchat.synthesize"
	SpanExecute    = "sqlchat.execute"
	SpanRespond    = "sqlchat.respond"
)

const (
	KeySessionID = "sqlchat.session.id"
	KeyAttempt   = "sqlchat.resolve.attempt"
	KeyOutcome   = "sqlchat.outcome"
	KeyTier      = "sqlchat.response.tier"
	KeyModel     = "sqlchat.model"
	KeyRows      = "sqlchat.result.rows"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// InitTracing installs a global tracer provider exporting over OTLP/HTTP
// when an endpoint is configured. Without one the otel no-op provider stays
// in place and the returned shutdown does nothing.
func InitTracing(ctx context.Context, cfg config.Config) (ShutdownFunc, error) {
	endpoint := strings.TrimSpace(cfg.Observability.OTLPEndpoint)
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{}
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint+"/v1/traces"), otlptracehttp.WithInsecure())
	case strings.HasPrefix(endpoint, "https://"):
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint+"/v1/traces"))
	default:
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.Service.Name),
			attribute.String("deployment.environment", string(cfg.Profile)),
		)),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if sessionID := SessionIDFromContext(ctx); sessionID != "" {
		attrs = append(attrs, attribute.String(KeySessionID, sessionID))
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func StartAttemptSpan(ctx context.Context, attempt int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanAttempt, attribute.Int(KeyAttempt, attempt))
}

// RecordError marks the span failed. A nil error is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err, trace.WithAttributes(
		attribute.String("exception.type", fmt.Sprintf("%T", err)),
	))
	span.SetStatus(codes.Error, err.Error())
}
