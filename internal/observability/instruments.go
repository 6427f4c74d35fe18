package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ca-srg/placesweep/internal/types"
)

// Metric and span names.
const (
	MetricRequests      = "placesweep.requests"
	MetricRetries       = "placesweep.retries"
	MetricPlacesMerged  = "placesweep.places.merged"
	MetricPoints        = "placesweep.points"
	MetricPointDuration = "placesweep.point.duration"
	SpanPoint           = "sweep.point"
)

// SweepInstruments records request, retry and grid point telemetry. It satisfies
// places.Recorder so it can be handed straight to a Searcher.
type SweepInstruments struct {
	tracer        trace.Tracer
	requests      metric.Int64Counter
	retries       metric.Int64Counter
	merged        metric.Int64Counter
	points        metric.Int64Counter
	pointDuration metric.Float64Histogram
	area          attribute.KeyValue
}

// NewSweepInstruments creates instruments from the given providers, falling back to
// the global ones when nil. area labels every measurement.
func NewSweepInstruments(mp metric.MeterProvider, tp trace.TracerProvider, area string) (*SweepInstruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	meter := mp.Meter(instrumentationScope, metric.WithInstrumentationVersion(instrumentationScopeVer))
	inst := &SweepInstruments{
		tracer: tp.Tracer(instrumentationScope, trace.WithInstrumentationVersion(instrumentationScopeVer)),
		area:   attribute.String("placesweep.area", area),
	}

	var err error
	if inst.requests, err = meter.Int64Counter(MetricRequests,
		metric.WithDescription("Nearby search HTTP requests sent"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if inst.retries, err = meter.Int64Counter(MetricRetries,
		metric.WithDescription("Nearby search requests retried after a transient failure"),
		metric.WithUnit("{retry}")); err != nil {
		return nil, err
	}
	if inst.merged, err = meter.Int64Counter(MetricPlacesMerged,
		metric.WithDescription("Distinct places added to the result store"),
		metric.WithUnit("{place}")); err != nil {
		return nil, err
	}
	if inst.points, err = meter.Int64Counter(MetricPoints,
		metric.WithDescription("Grid points searched, by outcome"),
		metric.WithUnit("{point}")); err != nil {
		return nil, err
	}
	if inst.pointDuration, err = meter.Float64Histogram(MetricPointDuration,
		metric.WithDescription("Wall time of a full paginated search at one grid point"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return inst, nil
}

func (i *SweepInstruments) RecordRequest(ctx context.Context) {
	i.requests.Add(ctx, 1, metric.WithAttributes(i.area))
}

func (i *SweepInstruments) RecordRetry(ctx context.Context, err error) {
	i.retries.Add(ctx, 1, metric.WithAttributes(i.area))
	trace.SpanFromContext(ctx).AddEvent("retry", trace.WithAttributes(attribute.String("error", errString(err))))
}

// RecordMerged counts places newly admitted to the store.
func (i *SweepInstruments) RecordMerged(ctx context.Context, added int) {
	if added <= 0 {
		return
	}
	i.merged.Add(ctx, int64(added), metric.WithAttributes(i.area))
}

// StartPoint opens the span covering one grid point search.
func (i *SweepInstruments) StartPoint(ctx context.Context, index int, coordinate types.Coordinate) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, SpanPoint, trace.WithAttributes(
		i.area,
		attribute.Int("placesweep.point.index", index),
		attribute.Float64("placesweep.point.lat", coordinate.Latitude),
		attribute.Float64("placesweep.point.lng", coordinate.Longitude),
	))
}

// EndPoint records the point outcome and closes its span.
func (i *SweepInstruments) EndPoint(ctx context.Context, span trace.Span, outcome types.SearchOutcome, found int, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(i.area, attribute.String("placesweep.outcome", outcome.String()))
	i.points.Add(ctx, 1, attrs)
	i.pointDuration.Record(ctx, elapsed.Seconds(), attrs)

	span.SetAttributes(
		attribute.String("placesweep.outcome", outcome.String()),
		attribute.Int("placesweep.point.places", found),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
