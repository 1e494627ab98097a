// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the process-wide tracer provider. It never ships spans off
// the host: the only exporter it builds writes to stdout, and NewProvider
// rejects the "otlp" and "otlp-http" exporter types. That keeps tracing
// available for local debugging without breaking the zero-telemetry promise.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds a Provider from cfg. When cfg.Enabled is false the
// returned Provider uses a no-op tracer and Shutdown is a no-op.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		otel.SetTracerProvider(tp)
		return &Provider{tp: tp}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("merge resource: %w", err)
	}

	sampler := NewSampler(SamplerConfig{
		Enabled:            cfg.Sampling.Enabled,
		Rate:               cfg.Sampling.Rate,
		AlwaysSampleErrors: cfg.Sampling.AlwaysSampleErrors,
	})

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}

	exporters := cfg.Exporters
	if len(exporters) == 0 {
		exporters = []ExporterConfig{{Type: "console"}}
	}
	for _, exp := range exporters {
		exporter, err := buildExporter(exp)
		if err != nil {
			return nil, fmt.Errorf("build exporter %s: %w", exp.Type, err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(cfg.BatchSize),
			sdktrace.WithBatchTimeout(cfg.BatchInterval),
		))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(W3CPropagator())

	return &Provider{tp: tp}, nil
}

func buildExporter(cfg ExporterConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Type {
	case "console", "":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp", "otlp-http":
		return nil, fmt.Errorf("exporter type %q is not supported: spans are not sent off the host", cfg.Type)
	default:
		return nil, fmt.Errorf("unknown exporter type %q", cfg.Type)
	}
}

// Tracer returns a named tracer backed by this provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans and releases resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// ForceFlush exports all pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}

// MetricsHandler exposes the process's Prometheus registry. Domain metrics
// (cache hits, rate-limit rejections, tailer counts) register themselves
// against the default registry from internal/server; this handler just
// serves whatever has accumulated there.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
