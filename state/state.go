// Package state packs the process-wide pieces the interception core
// reads at runtime: the configured observability instances (tracer,
// meter), the monotonic call sequence counter and the record collector.
package state

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/callsight/callsight/exporter"
)

const providerName string = "io.callsight"

// OTEL defines the interface to obtain the observability instruments
// for a state.
type OTEL interface {
	Tracer() trace.Tracer
	Meter() metric.Meter
	Propagator() propagation.TextMapPropagator
	Shutdown(ctx context.Context)
	MeterProvider() metric.MeterProvider
	TracerProvider() trace.TracerProvider
}

// GetterFn defines a function that will return an [OTEL] instance.
type GetterFn func() OTEL

// OTELState is the basic implementation of an [OTEL] instance.
type OTELState struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	// we need not the interface, but the actual implementation
	// to be able to call shutdown:
	sdkMeterProvider  *sdkmetric.MeterProvider
	sdkTracerProvider *sdktrace.TracerProvider
	tracer            trace.Tracer
	meter             metric.Meter
}

// NewWithVersion creates a new OTELState for the instrumented service,
// with the provided metrics and traces exporters.
func NewWithVersion(serviceName string, version string,
	metricReportingPeriod int, traceSampleRate float64,
	me map[string]exporter.MetricReader, te map[string]exporter.SpanExporter,
) (*OTELState, error) {
	res := sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version))

	reportingPeriod := time.Duration(metricReportingPeriod) * time.Second
	metricOpts := make([]sdkmetric.Option, 0, len(me)+2)
	for name, pm := range me {
		if pm == nil {
			return nil, fmt.Errorf("nil metric exporter for %s", name)
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(pm.MetricReader(reportingPeriod)))
	}

	var meterProvider metric.MeterProvider = noopmetric.NewMeterProvider()
	var sdkMeterProvider *sdkmetric.MeterProvider
	if len(metricOpts) > 0 {
		metricOpts = append(metricOpts, sdkmetric.WithResource(res))
		sdkMeterProvider = sdkmetric.NewMeterProvider(metricOpts...)
		meterProvider = sdkMeterProvider
	}
	meter := meterProvider.Meter(providerName)

	traceOpts := make([]sdktrace.TracerProviderOption, 0, len(te)+2)
	for name, pt := range te {
		if pt == nil {
			return nil, fmt.Errorf("nil span exporter for %s", name)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(pt.SpanExporter()))
	}

	var tracerProvider trace.TracerProvider = nooptrace.NewTracerProvider()
	var sdkTracerProvider *sdktrace.TracerProvider
	if len(traceOpts) > 0 {
		samplerOpt := sdktrace.WithSampler(sdktrace.AlwaysSample())
		if traceSampleRate > 0.0 && traceSampleRate < 1.0 {
			samplerOpt = sdktrace.WithSampler(sdktrace.ParentBased(
				sdktrace.TraceIDRatioBased(traceSampleRate)))
		}
		traceOpts = append(traceOpts, samplerOpt, sdktrace.WithResource(res))
		sdkTracerProvider = sdktrace.NewTracerProvider(traceOpts...)
		tracerProvider = sdkTracerProvider
	}
	tracer := tracerProvider.Tracer(providerName)

	return &OTELState{
		meterProvider:     meterProvider,
		tracerProvider:    tracerProvider,
		sdkMeterProvider:  sdkMeterProvider,
		sdkTracerProvider: sdkTracerProvider,
		tracer:            tracer,
		meter:             meter,
	}, nil
}

// Tracer returns a tracer to start a span.
func (s *OTELState) Tracer() trace.Tracer {
	return s.tracer
}

// Meter returns a meter to create metric instruments.
func (s *OTELState) Meter() metric.Meter {
	return s.meter
}

func (s *OTELState) MeterProvider() metric.MeterProvider {
	return s.meterProvider
}

func (s *OTELState) TracerProvider() trace.TracerProvider {
	return s.tracerProvider
}

// Propagator returns the configured propagator to use.
func (s *OTELState) Propagator() propagation.TextMapPropagator {
	if s == nil {
		return nil
	}
	return otel.GetTextMapPropagator()
}

// Shutdown performs the clean shutdown to be able to
// flush pending traces and / or metrics.
func (s *OTELState) Shutdown(ctx context.Context) {
	if s.sdkTracerProvider != nil {
		s.sdkTracerProvider.Shutdown(ctx)
	}
	if s.sdkMeterProvider != nil {
		s.sdkMeterProvider.Shutdown(ctx)
	}
}
