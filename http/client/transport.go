package client

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/luraproject/lura/v2/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	csconfig "github.com/callsight/callsight/config"
	capio "github.com/callsight/callsight/io"
	"github.com/callsight/callsight/record"
	"github.com/callsight/callsight/state"
)

// CaptureOptions controls the per-call record detail.
type CaptureOptions struct {
	// BodyLimit caps the captured bytes per body.
	BodyLimit int64
	// VerboseErrors makes error paths dump the full in-progress
	// record before the error text.
	VerboseErrors bool
}

// TransportOptions defines the detail we want for the capture, the
// metrics and the traces.
//
// The Collector member defines a function to obtain the record sink of
// the current unit of work; it defaults to the process-wide collector.
// The OTELInstance member may be nil: capture works without it, only
// the observability side channel is disabled.
type TransportOptions struct {
	Capture     CaptureOptions
	MetricsOpts TransportMetricsOptions
	TracesOpts  TransportTracesOptions

	Logger       logging.Logger
	Collector    func() *state.Collector
	OTELInstance state.OTEL
}

type bodyWrapperFn func(r io.Reader, ctx context.Context, acc *capio.Accumulator, done capio.DoneFn) *capio.Reader

// Transport is an http.RoundTripper that assembles one telemetry
// record per outgoing request without altering its behavior: the
// request and the response reach the caller exactly as the base round
// tripper produced them, and every functional error propagates
// unchanged.
type Transport struct {
	// base does the actual requests; http.DefaultTransport when unset.
	base http.RoundTripper

	propagator propagation.TextMapPropagator

	capture   CaptureOptions
	logger    logging.Logger
	collector func() *state.Collector

	metrics *transportMetrics
	traces  *transportTraces

	wrapRequestBody  bodyWrapperFn
	wrapResponseBody bodyWrapperFn
}

// NewRoundTripper creates a round tripper that captures every call
// dispatched through it.
func NewRoundTripper(base http.RoundTripper, opts TransportOptions, clientName string) http.RoundTripper {
	return newTransport(base, opts, clientName)
}

func newTransport(base http.RoundTripper, opts TransportOptions, clientName string) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOp
	}
	collector := opts.Collector
	if collector == nil {
		collector = state.GlobalCollector
	}
	if opts.Capture.BodyLimit == 0 {
		opts.Capture.BodyLimit = csconfig.DefaultBodyLimit
	}

	var metrics *transportMetrics
	var traces *transportTraces
	if opts.OTELInstance != nil {
		if opts.MetricsOpts.Enabled() {
			metrics = newTransportMetrics(&opts.MetricsOpts, opts.OTELInstance.Meter(), clientName)
		}
		if opts.TracesOpts.Enabled() {
			traces = newTransportTraces(&opts.TracesOpts, opts.OTELInstance.Tracer(), clientName)
		}
	}

	return &Transport{
		base:             base,
		propagator:       otel.GetTextMapPropagator(),
		capture:          opts.Capture,
		logger:           logger,
		collector:        collector,
		metrics:          metrics,
		traces:           traces,
		wrapRequestBody:  newBodyWrapper("http.call.request.read.", &opts),
		wrapResponseBody: newBodyWrapper("http.call.response.read.", &opts),
	}
}

func newBodyWrapper(prefix string, opts *TransportOptions) bodyWrapperFn {
	if opts.OTELInstance == nil || (!opts.MetricsOpts.ReadPayload && !opts.TracesOpts.ReadPayload) {
		return capio.NewReaderFactory(prefix, nil, nil, nil, nil)
	}
	return capio.NewReaderFactory(prefix,
		opts.TracesOpts.FixedAttributes, opts.MetricsOpts.FixedAttributes,
		opts.OTELInstance.Tracer(), opts.OTELInstance.Meter())
}

// RoundTrip implements http.RoundTripper, delegating to the base round
// tripper and tracking the full lifecycle of the call.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	opts, err := record.Normalize(record.Target{URL: req.URL})
	if err != nil {
		// no tracking is possible without a call identity, but the
		// call itself must behave exactly as if unwrapped
		t.logger.Error("[callsight]", "cannot derive call options:", err.Error())
		return t.base.RoundTrip(req)
	}

	seq := state.NextSequence()
	rec := record.New(seq, req.Method, opts)
	ct := newCallTracking(req, rec, t.collector(), t.logger, t.capture.VerboseErrors)
	ct.withClientTrace()

	if ct.req.Body != nil {
		ct.reqAcc = capio.NewAccumulator(t.capture.BodyLimit)
		ct.req.Body = t.wrapRequestBody(ct.req.Body, ct.req.Context(), ct.reqAcc, nil)
	}

	t.traces.start(ct, t.propagator)

	requestSentAt := time.Now()
	ct.resp, ct.err = t.base.RoundTrip(ct.req)
	ct.latencyInSecs = float64(time.Since(requestSentAt)) / float64(time.Second)

	t.metrics.report(ct)
	t.traces.end(ct)

	if ct.err != nil {
		ct.fail(ct.err)
		return nil, ct.err
	}

	ct.observeResponse(ct.resp)
	ct.respAcc = capio.NewAccumulator(t.capture.BodyLimit)
	if ct.resp.Body != nil {
		ct.resp.Body = t.wrapResponseBody(ct.resp.Body, ct.req.Context(), ct.respAcc, ct.finishResponse)
	} else {
		// bodyless responses have nothing left to wait for
		ct.finishResponse(true, nil)
	}
	return ct.resp, nil
}
