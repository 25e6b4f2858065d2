// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry tracing and a Prometheus metrics
// endpoint for credkeeper.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config holds the configuration for OpenTelemetry instrumentation.
type Config struct {
	// ServiceName is the service name for telemetry
	ServiceName string `json:"serviceName" yaml:"service_name"`

	// ServiceVersion is the service version for telemetry
	ServiceVersion string `json:"serviceVersion" yaml:"service_version"`

	// Endpoint is the OTLP/HTTP endpoint traces are exported to.
	// Tracing is disabled when empty.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Insecure indicates whether to use HTTP instead of HTTPS for the OTLP endpoint
	Insecure bool `json:"insecure" yaml:"insecure"`

	// SamplingRate is the trace sampling rate (0.0-1.0)
	SamplingRate float64 `json:"samplingRate" yaml:"sampling_rate"`

	// EnablePrometheusMetricsPath controls whether metrics are collected and
	// exposed on /metrics
	EnablePrometheusMetricsPath bool `json:"enablePrometheusMetricsPath" yaml:"enable_prometheus_metrics_path"`
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:                 "credkeeper",
		ServiceVersion:              "dev",
		SamplingRate:                0.05,
		EnablePrometheusMetricsPath: true,
	}
}

// Provider encapsulates OpenTelemetry providers.
type Provider struct {
	tracerProvider    trace.TracerProvider
	meterProvider     metric.MeterProvider
	prometheusHandler http.Handler
	shutdownFuncs     []func(context.Context) error
}

// NewProvider creates the tracer and meter providers described by config.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource with service name '%s' and version '%s': %w",
			config.ServiceName, config.ServiceVersion, err)
	}

	p := &Provider{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  noop.NewMeterProvider(),
	}

	if config.EnablePrometheusMetricsPath {
		registry := prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(res),
		)
		p.meterProvider = mp
		p.prometheusHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)
	}

	if config.Endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.Endpoint)}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
		)
		p.tracerProvider = tp
		p.shutdownFuncs = append(p.shutdownFuncs, tp.Shutdown)
	}

	return p, nil
}

// TracerProvider returns the tracer provider
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tracerProvider
}

// MeterProvider returns the meter provider
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// PrometheusHandler returns the /metrics handler, or nil when metrics are disabled.
func (p *Provider) PrometheusHandler() http.Handler {
	return p.prometheusHandler
}

// Shutdown flushes and stops all providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
