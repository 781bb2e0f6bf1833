package capio

import (
	"context"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var _ io.ReadCloser = (*Reader)(nil)

// Reader wraps a body stream: every byte read by the consumer is copied
// into the accumulator, and the transfer ends either with io.EOF (the
// full body was read) or with a Close call (the consumer gave up early).
// Whichever terminal signal arrives first fires the DoneFn; the other
// one is a no-op.
type Reader struct {
	reader io.ReadCloser
	acc    *Accumulator
	track  ioTracking
}

// NewReaderFactory creates a function that wraps body streams for one
// configured capture point, so the instruments are only created once.
func NewReaderFactory(prefix string, attrT []attribute.KeyValue, attrM []attribute.KeyValue,
	tracer trace.Tracer, meter metric.Meter,
) func(io.Reader, context.Context, *Accumulator, DoneFn) *Reader {
	instr := newInstruments(prefix, attrT, attrM, tracer, meter)

	return func(r io.Reader, ctx context.Context, acc *Accumulator, done DoneFn) *Reader {
		rc, ok := r.(io.ReadCloser)
		if !ok {
			rc = io.NopCloser(r)
		}
		return &Reader{
			reader: rc,
			acc:    acc,
			track: ioTracking{
				instr: instr,
				ctx:   ctx,
				done:  done,
			},
		}
	}
}

// NewReader wraps a single body stream. Prefer [NewReaderFactory] when
// wrapping many streams for the same capture point.
func NewReader(prefix string, r io.Reader, ctx context.Context, acc *Accumulator, done DoneFn,
	attrT []attribute.KeyValue, attrM []attribute.KeyValue,
	tracer trace.Tracer, meter metric.Meter,
) *Reader {
	return NewReaderFactory(prefix, attrT, attrM, tracer, meter)(r, ctx, acc, done)
}

// Read copies the bytes handed to the consumer into the accumulator.
// On any error (io.EOF included) the transfer is ended.
func (t *Reader) Read(b []byte) (int, error) {
	t.track.start()
	n, err := t.reader.Read(b)
	if n > 0 && t.acc != nil {
		t.acc.Write(b[:n])
	}
	t.track.incSize(int64(n), err)
	return n, err
}

// Close closes the underlying body and ends the transfer if the EOF
// path did not get there first.
func (t *Reader) Close() error {
	err := t.reader.Close()
	t.track.end(nil)
	return err
}

// Accumulator exposes the capture backing this reader.
func (t *Reader) Accumulator() *Accumulator {
	return t.acc
}
