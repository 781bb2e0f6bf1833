// Package capio implements the body capture accumulators used by the
// call tracker, with optional instrumentation of the read path.
package capio

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	csconfig "github.com/callsight/callsight/config"
)

// instruments holds the observability instruments for a body transfer:
// size in bytes, time in seconds, and errors.
type instruments struct {
	sizeHistogram metric.Int64Histogram
	timeHistogram metric.Float64Histogram
	errorsCount   metric.Int64Counter

	tracer            trace.Tracer
	traceName         string
	traceSizeAttrName string
	traceTimeAttrName string
	traceFixedAttrs   []attribute.KeyValue

	// attribute sets are precomputed to stay out of the read path
	metricAttrOpt          metric.MeasurementOption
	metricAttrWithErrorOpt metric.MeasurementOption
}

func newInstruments(prefix string,
	attrT []attribute.KeyValue, attrM []attribute.KeyValue,
	tracer trace.Tracer, meter metric.Meter,
) *instruments {
	if prefix == "" {
		prefix = "capture."
	}

	nopMeter := noopmetric.NewMeterProvider().Meter(prefix + "nop")
	sizeHistogram, _ := nopMeter.Int64Histogram(prefix + "size")
	timeHistogram, _ := nopMeter.Float64Histogram(prefix + "time")
	errorsCount, _ := nopMeter.Int64Counter(prefix + "errors")

	if meter != nil {
		if h, err := meter.Int64Histogram(prefix+"size", csconfig.SizeBucketsOpt, metric.WithUnit("b")); err == nil {
			sizeHistogram = h
		}
		if h, err := meter.Float64Histogram(prefix+"time", csconfig.TimeBucketsOpt, metric.WithUnit("s")); err == nil {
			timeHistogram = h
		}
		if c, err := meter.Int64Counter(prefix + "errors"); err == nil {
			errorsCount = c
		}
	}

	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(prefix + "tracker")
	}

	attrsWithErr := make([]attribute.KeyValue, len(attrM)+1)
	copy(attrsWithErr, attrM)
	attrsWithErr[len(attrM)] = attribute.String("error", "true")

	return &instruments{
		sizeHistogram:          sizeHistogram,
		timeHistogram:          timeHistogram,
		errorsCount:            errorsCount,
		tracer:                 tracer,
		traceName:              prefix + "tracker",
		traceSizeAttrName:      prefix + "size",
		traceTimeAttrName:      prefix + "time",
		traceFixedAttrs:        attrT,
		metricAttrOpt:          metric.WithAttributeSet(attribute.NewSet(attrM...)),
		metricAttrWithErrorOpt: metric.WithAttributeSet(attribute.NewSet(attrsWithErr...)),
	}
}
