// Package tracing sets up OpenTelemetry for the registration stages and the
// pipeline. Stages create spans through the global tracer provider, so a run
// without NewProvider costs nothing.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config selects where stage spans go.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is "file", "stdout" or "otlp".
	Exporter string `yaml:"exporter"`

	// FilePath is the JSON lines output of the file exporter.
	FilePath string `yaml:"file_path"`

	// OTLPEndpoint is the collector address of the otlp exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// SampleRate is the fraction of cases traced; 0 means all.
	SampleRate float64 `yaml:"sample_rate"`

	ServiceName string `yaml:"service_name"`
}

// DefaultConfig has tracing off, ready to write spans to a file.
func DefaultConfig() Config {
	return Config{
		Exporter:     "file",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   1.0,
		ServiceName:  instrumentation,
	}
}

// Provider owns the SDK tracer provider installed by NewProvider.
type Provider struct {
	sdk *sdktrace.TracerProvider
}

func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("tracing: the file exporter needs file_path")
		}
		return NewFileExporter(cfg.FilePath)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = DefaultConfig().OTLPEndpoint
		}
		return otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure())
	}
	return nil, fmt.Errorf("tracing: unsupported exporter %q", cfg.Exporter)
}

// NewProvider installs a batching tracer provider as the global one. A
// disabled config leaves the global no-op provider in place.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}
	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, err
	}

	service := cfg.ServiceName
	if service == "" {
		service = instrumentation
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1
	}
	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", service))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(sdk)
	return &Provider{sdk: sdk}, nil
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool { return p.sdk != nil }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}
