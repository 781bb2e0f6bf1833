package client

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	cshttp "github.com/callsight/callsight/http"
)

// TransportTracesOptions defines what information is enabled, and
// extra fixed attributes to add to the trace.
type TransportTracesOptions struct {
	RoundTrip          bool                 // use a span for the round trip
	ReadPayload        bool                 // use a span for the process of reading the full body
	DetailedConnection bool                 // add the milestone costs: dns lookup, connect, tls...
	FixedAttributes    []attribute.KeyValue // "static" attributes set at config time.
	ReportHeaders      bool
}

// Enabled returns if the transport should create a trace.
func (o *TransportTracesOptions) Enabled() bool {
	return o.RoundTrip || o.ReadPayload
}

type transportTraces struct {
	tracer             trace.Tracer
	spanName           string
	fixedAttrs         []attribute.KeyValue
	detailedConnection bool
	reportHeaders      bool
}

func newTransportTraces(tracesOpts *TransportTracesOptions, tracer trace.Tracer, spanName string) *transportTraces {
	if tracer == nil {
		return nil
	}
	if spanName == "" {
		spanName = "http.call"
	}
	return &transportTraces{
		tracer:             tracer,
		spanName:           spanName,
		fixedAttrs:         tracesOpts.FixedAttributes,
		detailedConnection: tracesOpts.DetailedConnection,
		reportHeaders:      tracesOpts.ReportHeaders,
	}
}

func (t *transportTraces) start(ct *callTracking, propagator propagation.TextMapPropagator) {
	if t == nil || ct.req == nil {
		return
	}

	ctx, span := t.tracer.Start(ct.req.Context(), t.spanName, trace.WithSpanKind(trace.SpanKindClient))
	if span == nil || !span.IsRecording() {
		// we might not be recording because of sampling
		return
	}
	ct.span = span
	ct.req = ct.req.WithContext(ctx)

	reqAttrs := cshttp.TraceRequestAttrs(ct.req)
	reqAttrs = append(reqAttrs, attribute.Int64("call.sequence", int64(ct.rec.Sequence)))

	// injecting the propagation headers mutates the request, which is
	// contrary to the contract for http.RoundTripper: the Request
	// struct itself was already copied by the WithContext calls, so we
	// just need to copy the header map.
	header := make(http.Header, len(ct.req.Header)+1)
	for k, v := range ct.req.Header {
		header[k] = v
		if t.reportHeaders {
			reqAttrs = append(reqAttrs,
				attribute.StringSlice("http.request.header."+strings.ToLower(k), v))
		}
	}
	ct.req.Header = header
	if propagator != nil {
		propagator.Inject(ct.req.Context(), propagation.HeaderCarrier(ct.req.Header))
	}

	ct.span.SetAttributes(t.fixedAttrs...)
	ct.span.SetAttributes(reqAttrs...)
}

func (t *transportTraces) end(ct *callTracking) {
	if t == nil || ct.span == nil || !ct.span.IsRecording() {
		return
	}

	if ct.err != nil {
		ct.span.RecordError(ct.err)
		ct.span.SetStatus(codes.Error, ct.err.Error())
	} else {
		respAttrs := cshttp.TraceResponseAttrs(ct.resp)
		if t.reportHeaders {
			for k, v := range ct.resp.Header {
				respAttrs = append(respAttrs,
					attribute.StringSlice("http.response.header."+strings.ToLower(k), v))
			}
		}
		ct.span.SetAttributes(respAttrs...)
		ct.span.SetAttributes(attribute.Float64("response-duration", ct.latencyInSecs))
		if t.detailedConnection {
			ct.span.SetAttributes(
				attribute.Float64("dns-duration", ct.dnsLatency),
				attribute.Float64("connect-duration", ct.connectLatency),
				attribute.Float64("tls-duration", ct.tlsLatency),
				attribute.Bool("connection-reused", ct.rec.Times.SocketReused),
			)
			if !ct.firstByteTime.IsZero() {
				ct.span.AddEvent("first-byte-time", trace.WithTimestamp(ct.firstByteTime))
			}
		}
		ct.span.SetStatus(codes.Ok, "")
	}

	ct.span.End()
}
