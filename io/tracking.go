package capio

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DoneFn is notified exactly once when a tracked transfer terminates.
// complete is true only when the stream was fully consumed (io.EOF);
// an early Close or a read failure leaves it false. err carries any
// read failure other than io.EOF.
type DoneFn func(complete bool, err error)

// ioTracking follows one body transfer from the first byte to its
// terminal signal. The end of the transfer can be observed from more
// than one goroutine (a reader hitting EOF, a concurrent Close), so the
// single-fire guard is an atomic swap.
type ioTracking struct {
	instr    *instruments
	ctx      context.Context
	span     trace.Span
	started  time.Time
	finished atomic.Bool
	gotError error
	size     int64
	done     DoneFn
}

func (t *ioTracking) start() {
	if t.started.IsZero() {
		t.started = time.Now()
		t.ctx, t.span = t.instr.tracer.Start(t.ctx, t.instr.traceName)
		if len(t.instr.traceFixedAttrs) > 0 {
			t.span.SetAttributes(t.instr.traceFixedAttrs...)
		}
	}
}

func (t *ioTracking) incSize(size int64, err error) {
	t.size += size
	if err != nil {
		t.end(err)
	}
}

func (t *ioTracking) end(err error) {
	if !t.finished.CompareAndSwap(false, true) {
		return
	}
	if t.started.IsZero() {
		// closed before the first read
		t.started = time.Now()
		t.ctx, t.span = t.instr.tracer.Start(t.ctx, t.instr.traceName)
	}
	secs := float64(time.Since(t.started)) / float64(time.Second)

	if err != nil && err != io.EOF {
		t.gotError = err
	}

	var metricAttrOpt metric.MeasurementOption
	if t.gotError != nil {
		metricAttrOpt = t.instr.metricAttrWithErrorOpt
		t.instr.errorsCount.Add(t.ctx, 1, metricAttrOpt)
		t.span.RecordError(t.gotError)
		t.span.SetStatus(codes.Error, t.gotError.Error())
	} else {
		metricAttrOpt = t.instr.metricAttrOpt
		t.span.SetStatus(codes.Ok, "")
	}

	t.instr.sizeHistogram.Record(t.ctx, t.size, metricAttrOpt)
	t.instr.timeHistogram.Record(t.ctx, secs, metricAttrOpt)

	t.span.SetAttributes(
		attribute.Int64(t.instr.traceSizeAttrName, t.size),
		attribute.Float64(t.instr.traceTimeAttrName, secs))
	t.span.End()

	if t.done != nil {
		t.done(err == io.EOF, t.gotError)
	}
}
