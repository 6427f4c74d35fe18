// Package observability wires OpenTelemetry tracing and metrics for sweeps.
// Telemetry is off unless OTEL_ENABLED is set; when off, no-op providers are installed
// so instrumented code paths behave the same.
package observability

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ca-srg/placesweep/internal/types"
)

const (
	defaultServiceName      = "placesweep"
	protocolHTTP            = "http/protobuf"
	protocolGRPC            = "grpc"
	resourceServiceNameKey  = "service.name"
	defaultMetricInterval   = 15 * time.Second
	samplerTraceIDRatio     = "traceidratio"
	samplerAlwaysOn         = "always_on"
	samplerAlwaysOff        = "always_off"
	samplerParentAlwaysOn   = "parentbased_always_on"
	instrumentationScope    = "github.com/ca-srg/placesweep"
	instrumentationScopeVer = "0.1.0"
)

// Config keeps OpenTelemetry runtime settings resolved from the sweep configuration.
type Config struct {
	Enabled              bool
	ServiceName          string
	ExporterEndpoint     string
	ExporterProtocol     string
	ResourceAttributes   map[string]string
	TracesSampler        string
	TracesSamplerArg     float64
	MetricExportInterval time.Duration
}

// LoadConfig resolves observability settings from the root config.
func LoadConfig(cfg *types.Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("observability: nil root configuration provided")
	}

	resourceAttributes, err := parseResourceAttributes(cfg.OTelResourceAttributes)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to parse resource attributes: %w", err)
	}

	otelCfg := &Config{
		Enabled:            cfg.OTelEnabled,
		ServiceName:        strings.TrimSpace(cfg.OTelServiceName),
		ExporterEndpoint:   strings.TrimSpace(cfg.OTelExporterOTLPEndpoint),
		ExporterProtocol:   cfg.OTelExporterOTLPProtocol,
		ResourceAttributes: resourceAttributes,
		TracesSampler:      strings.TrimSpace(cfg.OTelTracesSampler),
		TracesSamplerArg:   cfg.OTelTracesSamplerArg,
	}
	if err := otelCfg.Validate(); err != nil {
		return nil, err
	}
	return otelCfg, nil
}

// Validate fills defaults and checks the exporter settings when telemetry is enabled.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("observability: config is nil")
	}

	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	c.ExporterProtocol = strings.ToLower(strings.TrimSpace(c.ExporterProtocol))
	if c.ExporterProtocol == "" {
		c.ExporterProtocol = protocolHTTP
	}
	c.TracesSampler = strings.ToLower(c.TracesSampler)
	if c.TracesSampler == "" {
		c.TracesSampler = samplerAlwaysOn
	}
	if c.MetricExportInterval <= 0 {
		c.MetricExportInterval = defaultMetricInterval
	}
	if c.ResourceAttributes == nil {
		c.ResourceAttributes = make(map[string]string)
	}
	if _, ok := c.ResourceAttributes[resourceServiceNameKey]; !ok {
		c.ResourceAttributes[resourceServiceNameKey] = c.ServiceName
	}

	if !c.Enabled {
		return nil
	}

	if c.ExporterEndpoint == "" {
		return fmt.Errorf("observability: OTEL_EXPORTER_OTLP_ENDPOINT is required when OTEL_ENABLED is true")
	}
	if err := validateEndpoint(c.ExporterProtocol, c.ExporterEndpoint); err != nil {
		return err
	}

	switch c.TracesSampler {
	case samplerAlwaysOn, samplerAlwaysOff, samplerParentAlwaysOn:
	case samplerTraceIDRatio:
		if c.TracesSamplerArg <= 0 || c.TracesSamplerArg > 1 {
			return fmt.Errorf("observability: OTEL_TRACES_SAMPLER_ARG must be in (0, 1] for traceidratio")
		}
	default:
		return fmt.Errorf("observability: unsupported traces sampler %q", c.TracesSampler)
	}
	return nil
}

func validateEndpoint(protocol, endpoint string) error {
	switch protocol {
	case protocolHTTP:
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("observability: invalid OTLP exporter endpoint: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("observability: OTLP endpoint %q needs an http or https scheme for http/protobuf", endpoint)
		}
		if parsed.Host == "" {
			return fmt.Errorf("observability: OTLP endpoint %q has no host", endpoint)
		}
	case protocolGRPC:
		if _, _, err := parseGRPCEndpoint(endpoint); err != nil {
			return fmt.Errorf("observability: invalid OTLP gRPC endpoint: %w", err)
		}
	default:
		return fmt.Errorf("observability: unsupported OTLP exporter protocol %q", protocol)
	}
	return nil
}

// parseResourceAttributes reads the OTEL_RESOURCE_ATTRIBUTES format, key=value pairs separated by commas.
func parseResourceAttributes(input string) (map[string]string, error) {
	attributes := make(map[string]string)
	for _, pair := range strings.Split(input, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid resource attribute %q", pair)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("resource attribute key cannot be empty")
		}
		attributes[key] = strings.TrimSpace(value)
	}
	return attributes, nil
}

// Init installs the global tracer and meter providers and returns their shutdown hook.
// With telemetry disabled the globals stay no-op and the hook does nothing.
func Init(ctx context.Context, rootCfg *types.Config) (ShutdownFunc, error) {
	otelCfg, err := LoadConfig(rootCfg)
	if err != nil {
		return func(context.Context) error { return nil }, err
	}

	p, err := newProviders(ctx, otelCfg)
	if err != nil {
		return func(context.Context) error { return nil }, err
	}
	return NewShutdownFunc(p.tracer, p.meter, nil), nil
}
