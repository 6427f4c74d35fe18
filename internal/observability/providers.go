package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// providers holds the SDK providers installed as globals. Both are nil while
// telemetry is disabled, leaving the no-op globals in place.
type providers struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

func newProviders(ctx context.Context, cfg *Config) (*providers, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return &providers{}, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to build resource: %w", err)
	}

	spanExporter, err := newTraceExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to create trace exporter: %w", err)
	}
	metricExporter, err := newMetricExporter(ctx, cfg)
	if err != nil {
		_ = spanExporter.Shutdown(ctx)
		return nil, fmt.Errorf("observability: failed to create metric exporter: %w", err)
	}

	p := &providers{
		tracer: sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sampler(cfg)),
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(spanExporter),
		),
		meter: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
				sdkmetric.WithInterval(cfg.MetricExportInterval))),
		),
	}
	otel.SetTracerProvider(p.tracer)
	otel.SetMeterProvider(p.meter)
	return p, nil
}

var samplers = map[string]func(arg float64) sdktrace.Sampler{
	samplerAlwaysOff: func(float64) sdktrace.Sampler { return sdktrace.NeverSample() },
	samplerTraceIDRatio: func(arg float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(arg))
	},
	samplerParentAlwaysOn: func(float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	},
}

func sampler(cfg *Config) sdktrace.Sampler {
	if build, ok := samplers[cfg.TracesSampler]; ok {
		return build(cfg.TracesSamplerArg)
	}
	return sdktrace.AlwaysSample()
}

// newResource describes this process. ResourceAttributes always carries service.name.
func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	attributes := make([]attribute.KeyValue, 0, len(cfg.ResourceAttributes))
	for key, value := range cfg.ResourceAttributes {
		attributes = append(attributes, attribute.String(key, value))
	}
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attributes...),
	)
}
