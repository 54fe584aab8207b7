// Package observability installs the daemon's OpenTelemetry tracer and
// meter providers. It is additive and off by default: with both tracing
// and metrics disabled, every package-level otel.Tracer/otel.Meter call
// elsewhere in this module resolves to the SDK's no-op implementation.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config selects which signals to install and the resource attributes
// every span/metric the daemon emits is tagged with.
type Config struct {
	TracingEnabled bool
	MetricsEnabled bool
	ServiceName    string
}

// Provider owns whatever SDK providers New installed, so the daemon can
// flush and release them on shutdown.
type Provider struct {
	shutdownFuncs []func(context.Context) error
}

// New installs a stdouttrace tracer provider and/or a stdoutmetric meter
// provider as the process-wide otel globals, per cfg. Either or both may be
// left disabled, in which case the corresponding global stays the SDK's
// default no-op provider and this call has no effect on it.
func New(cfg Config) (*Provider, error) {
	p := &Provider{}

	if !cfg.TracingEnabled && !cfg.MetricsEnabled {
		return p, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "messaged"
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: building resource: %w", err)
	}

	if cfg.TracingEnabled {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(nopWriter{}))
		if err != nil {
			return nil, fmt.Errorf("observability: building trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		p.shutdownFuncs = append(p.shutdownFuncs, tp.Shutdown)
	}

	if cfg.MetricsEnabled {
		exp, err := stdoutmetric.New(stdoutmetric.WithEncoder(json.NewEncoder(io.Discard)))
		if err != nil {
			return nil, fmt.Errorf("observability: building metric exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)
	}

	return p, nil
}

// Shutdown flushes and releases every provider this Provider installed. Safe
// to call on a Provider that installed nothing.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// nopWriter discards exporter output. The daemon installs real collector
// export (OTLP endpoints, etc.) by swapping these exporters in deployments
// that need it; stdout export here exists to exercise the SDK wiring
// without requiring an external collector for local/dev use.
type nopWriter struct{}

func (nopWriter) Write(b []byte) (int, error) { return len(b), nil }
