package client

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/semconv/v1.21.0"

	csconfig "github.com/callsight/callsight/config"
)

// TransportMetricsOptions contains the options to enable / disable
// for reporting metrics, and a set of fixed attributes to add
// to all metrics.
type TransportMetricsOptions struct {
	RoundTrip          bool                 // provide the round trip metrics
	ReadPayload        bool                 // provide metrics for reading the full body
	DetailedConnection bool                 // provide the milestone costs: dns lookup, connect, tls...
	FixedAttributes    []attribute.KeyValue // "static" attributes set at config time.
}

// Enabled tells if metrics should be reported for the transport.
func (o *TransportMetricsOptions) Enabled() bool {
	return o.RoundTrip || o.ReadPayload
}

// transportMetrics holds the metric instruments for the round trip.
type transportMetrics struct {
	callsStarted  metric.Int64Counter
	callsFailed   metric.Int64Counter
	callsCanceled metric.Int64Counter
	callsTimedOut metric.Int64Counter

	// the value of the Content-Length header of the request, not the
	// actual written bytes: the call might be canceled in flight
	requestContentLength metric.Int64Counter

	responseLatency metric.Float64Histogram

	// the response content length comes from the server provided
	// header and might differ from the number of bytes actually read
	responseContentLength   metric.Int64Histogram
	responseNoContentLength metric.Int64Counter

	// from the lifecycle milestone details
	detailsEnabled bool
	dnsLatency     metric.Float64Histogram
	connectLatency metric.Float64Histogram
	tlsLatency     metric.Float64Histogram
	reusedConns    metric.Int64Counter

	fixedAttrs []attribute.KeyValue

	// to identify the source of the calls
	clientName string
}

func newTransportMetrics(metricsOpts *TransportMetricsOptions, meter metric.Meter, clientName string) *transportMetrics {
	if meter == nil {
		return nil
	}

	tm := transportMetrics{
		detailsEnabled: metricsOpts.DetailedConnection,
		fixedAttrs:     metricsOpts.FixedAttributes,
		clientName:     clientName,
	}
	tm.callsStarted, _ = meter.Int64Counter("http.call.started.count")
	tm.callsFailed, _ = meter.Int64Counter("http.call.failed.count")
	tm.callsCanceled, _ = meter.Int64Counter("http.call.canceled.count")
	tm.callsTimedOut, _ = meter.Int64Counter("http.call.timedout.count")

	tm.requestContentLength, _ = meter.Int64Counter("http.call.request.size")

	tm.responseLatency, _ = meter.Float64Histogram("http.call.duration", csconfig.TimeBucketsOpt)
	tm.responseContentLength, _ = meter.Int64Histogram("http.call.response.size", csconfig.SizeBucketsOpt)
	tm.responseNoContentLength, _ = meter.Int64Counter("http.call.response.no-content-length")

	tm.dnsLatency, _ = meter.Float64Histogram("http.call.dns.duration", csconfig.TimeBucketsOpt)
	tm.connectLatency, _ = meter.Float64Histogram("http.call.connect.duration", csconfig.TimeBucketsOpt)
	tm.tlsLatency, _ = meter.Float64Histogram("http.call.tls.duration", csconfig.TimeBucketsOpt)
	tm.reusedConns, _ = meter.Int64Counter("http.call.connection.reused.count")

	return &tm
}

func (m *transportMetrics) report(ct *callTracking) {
	if m == nil || m.callsStarted == nil {
		return
	}

	attrM := make([]attribute.KeyValue, len(m.fixedAttrs), len(m.fixedAttrs)+4)
	copy(attrM, m.fixedAttrs)
	if len(m.clientName) > 0 {
		attrM = append(attrM, attribute.Key("clientname").String(m.clientName))
	}
	attrM = append(attrM, semconv.HTTPRequestMethodKey.String(ct.req.Method))
	attrM = append(attrM, semconv.ServerAddress(ct.rec.Host))

	statusCode := 0
	if ct.err == nil {
		// a client side failure has no status code, but we want it
		// set to 0 to be displayed on the dashboard
		statusCode = ct.resp.StatusCode
	}
	attrM = append(attrM, semconv.HTTPResponseStatusCode(statusCode))
	attrOpt := metric.WithAttributeSet(attribute.NewSet(attrM...))

	ctx := ct.req.Context()

	m.callsStarted.Add(ctx, 1, attrOpt)
	if ct.req.ContentLength >= 0 {
		m.requestContentLength.Add(ctx, ct.req.ContentLength, attrOpt)
	}

	if ct.err != nil {
		var ctxErr error
		if reqCtx := ct.req.Context(); reqCtx != nil {
			ctxErr = reqCtx.Err()
		}
		if errors.Is(ctxErr, context.Canceled) {
			// a canceled call is not considered failed
			m.callsCanceled.Add(ctx, 1, attrOpt)
		} else if errors.Is(ctxErr, context.DeadlineExceeded) {
			m.callsTimedOut.Add(ctx, 1, attrOpt)
			m.callsFailed.Add(ctx, 1, attrOpt)
		} else {
			m.callsFailed.Add(ctx, 1, attrOpt)
		}
	}

	m.responseLatency.Record(ctx, ct.latencyInSecs, attrOpt)
	if ct.req.Method != "HEAD" && ct.resp != nil {
		if ct.resp.ContentLength >= 0 {
			m.responseContentLength.Record(ctx, ct.resp.ContentLength, attrOpt)
		} else {
			// chunked responses do not state their length up front
			m.responseNoContentLength.Add(ctx, 1, attrOpt)
		}
	}

	if m.detailsEnabled {
		m.dnsLatency.Record(ctx, ct.dnsLatency, attrOpt)
		m.connectLatency.Record(ctx, ct.connectLatency, attrOpt)
		m.tlsLatency.Record(ctx, ct.tlsLatency, attrOpt)
		if ct.rec.Times.SocketReused {
			m.reusedConns.Add(ctx, 1, attrOpt)
		}
	}
}
