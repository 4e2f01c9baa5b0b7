// Package telemetry wires OpenTelemetry tracing the way TelemetryConfig
// describes: a no-op tracer provider when no OTLP endpoint is configured,
// an OTLP/HTTP exporter otherwise. This package opens no spans, and no
// other component calls StartSpan or Tracer, so enabling tracing sets up
// the provider and exporter only.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/sirouk/clawboard/internal/config"
)

// Provider wraps the configured tracer provider and its shutdown hook.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Init configures the global tracer provider from cfg.Telemetry. When
// Enabled is false or Endpoint is empty, the global provider is left at
// its default no-op implementation and Shutdown is a no-op.
func Init(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		slog.Info("telemetry: tracing disabled, using no-op provider")
		return &Provider{}, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "clawboard"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("telemetry: tracing enabled", "endpoint", cfg.Endpoint, "service", serviceName)
	return &Provider{tp: tp}, nil
}

// Shutdown flushes and closes the exporter; safe to call on a no-op Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns a named tracer off the global provider, so call sites
// don't need to thread a *Provider around.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan is a thin convenience wrapper that opens a span on the named
// tracer with the given attributes. No component calls it.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}
