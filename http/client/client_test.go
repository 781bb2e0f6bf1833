package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/luraproject/lura/v2/logging"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	sdktracetest "go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/callsight/callsight/state"
)

type testOTEL struct {
	tracer         trace.Tracer
	tracerProvider trace.TracerProvider
	meter          metric.Meter
	metricProvider metric.MeterProvider

	metricReader *sdkmetric.ManualReader
	spanRecorder *sdktracetest.SpanRecorder
}

func newTestOTEL() *testOTEL {
	spanRecorder := sdktracetest.NewSpanRecorder()
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	tracer := tracerProvider.Tracer("testotel-tracer")

	metricReader := sdkmetric.NewManualReader()
	metricProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader))

	return &testOTEL{
		tracer:         tracer,
		tracerProvider: tracerProvider,
		meter:          metricProvider.Meter("io.callsight"),
		metricProvider: metricProvider,
		metricReader:   metricReader,
		spanRecorder:   spanRecorder,
	}
}

func (o *testOTEL) Tracer() trace.Tracer                      { return o.tracer }
func (o *testOTEL) TracerProvider() trace.TracerProvider      { return o.tracerProvider }
func (o *testOTEL) MeterProvider() metric.MeterProvider       { return o.metricProvider }
func (o *testOTEL) Meter() metric.Meter                       { return o.meter }
func (*testOTEL) Propagator() propagation.TextMapPropagator   { return nil }
func (*testOTEL) Shutdown(_ context.Context)                  {}

func testClient(t *testing.T, opts TransportOptions) (*http.Client, *state.Collector) {
	t.Helper()
	coll := state.NewCollector()
	opts.Collector = func() *state.Collector { return coll }
	return InstrumentedHTTPClient(&http.Client{}, &opts, "test-http-client"), coll
}

func doAndDrain(t *testing.T, c *http.Client, url string) (*http.Response, string) {
	t.Helper()
	resp, err := c.Get(url)
	if err != nil {
		t.Fatalf("unexpected client error: %s", err.Error())
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("unexpected read error: %s", err.Error())
	}
	resp.Body.Close()
	return resp, string(body)
}

func TestChunkedResponseIsNormalizedToContentLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		// flushing between the writes forces a chunked transfer
		w.Write([]byte("o"))
		w.(http.Flusher).Flush()
		w.Write([]byte("k"))
	}))
	defer server.Close()

	c, coll := testClient(t, TransportOptions{})
	resp, body := doAndDrain(t, c, server.URL+"/a?x=1")

	if resp.StatusCode != 200 || body != "ok" {
		t.Fatalf("the wrapped call misbehaved: status=%d body=%q", resp.StatusCode, body)
	}

	records := coll.Snapshot()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]

	if rec.Protocol != "http" {
		t.Errorf("unexpected protocol: %s", rec.Protocol)
	}
	if rec.Path != "/a?x=1" {
		t.Errorf("unexpected path: %s", rec.Path)
	}
	if rec.Status != 200 {
		t.Errorf("unexpected status: %d", rec.Status)
	}
	if rec.ContentType != "text/plain" {
		t.Errorf("unexpected content type: %s", rec.ContentType)
	}
	decoded, err := base64.StdEncoding.DecodeString(rec.ResponseBody)
	if err != nil || string(decoded) != "ok" {
		t.Errorf("response body must decode to %q, got %q (err: %v)", "ok", decoded, err)
	}
	if rec.ResponseBodySize != 2 {
		t.Errorf("unexpected response body size: %d", rec.ResponseBodySize)
	}
	if !strings.Contains(rec.ResponseHeaders, "content-length: 2") {
		t.Errorf("synthesized headers must state the body length:\n%s", rec.ResponseHeaders)
	}
	if strings.Contains(rec.ResponseHeaders, "transfer-encoding") {
		t.Errorf("synthesized headers must not keep the chunked marker:\n%s", rec.ResponseHeaders)
	}
	if !strings.HasPrefix(rec.RequestHeaders, "GET /a?x=1 HTTP/1.1\r\n") {
		t.Errorf("unexpected request line:\n%s", rec.RequestHeaders)
	}
	if !strings.Contains(rec.RequestHeaders, "Host: ") {
		t.Errorf("the request header text must hold the headers as written:\n%s", rec.RequestHeaders)
	}

	times := rec.Times
	if times.Start.IsZero() || times.SocketAcquired.IsZero() || times.RequestSent.IsZero() ||
		times.ResponseReceived.IsZero() || times.Ended.IsZero() {
		t.Errorf("missing milestones: %+v", times)
	}
	if times.Ended.Before(times.ResponseReceived) || times.ResponseReceived.Before(times.SocketAcquired) {
		t.Errorf("milestones out of order: %+v", times)
	}
}

func TestConcurrentCallsGetUniqueSequences(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("foo bar"))
	}))
	defer server.Close()

	c, coll := testClient(t, TransportOptions{})

	const calls = 50
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Get(server.URL)
			if err != nil {
				t.Errorf("unexpected error: %s", err.Error())
				return
			}
			io.ReadAll(resp.Body)
			resp.Body.Close()
		}()
	}
	wg.Wait()

	records := coll.Snapshot()
	if len(records) != calls {
		t.Fatalf("expected %d records, got %d", calls, len(records))
	}
	seen := make(map[uint64]bool, calls)
	for _, r := range records {
		if seen[r.Sequence] {
			t.Fatalf("sequence %d assigned twice", r.Sequence)
		}
		seen[r.Sequence] = true
	}
}

func TestEndAndCloseRaceFinalizesOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("some payload"))
	}))
	defer server.Close()

	c, coll := testClient(t, TransportOptions{})

	// read to EOF, then close: both terminal signals fire
	resp, err := c.Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body.Close()

	// close without reading: only the close signal fires
	resp, err = c.Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	resp.Body.Close()

	if n := coll.Len(); n != 2 {
		t.Errorf("expected exactly 2 records, got %d", n)
	}
}

func TestReusedConnectionCollapsesMilestones(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	var logBuf bytes.Buffer
	logger, err := logging.NewLogger("DEBUG", &logBuf, "")
	if err != nil {
		t.Fatalf("cannot create the logger: %s", err.Error())
	}

	c, coll := testClient(t, TransportOptions{Logger: logger})
	doAndDrain(t, c, server.URL)
	doAndDrain(t, c, server.URL)

	records := coll.Snapshot()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	second := records[1]
	if !second.Times.SocketReused {
		t.Fatal("the second call must reuse the pooled connection")
	}
	if !second.Times.DNSResolved.Equal(second.Times.SocketAcquired) ||
		!second.Times.Connected.Equal(second.Times.SocketAcquired) {
		t.Errorf("reused milestones must collapse onto the acquisition: %+v", second.Times)
	}
	if !strings.Contains(logBuf.String(), "reused connection") {
		t.Errorf("missing the reused log line:\n%s", logBuf.String())
	}
}

func TestRequestBodyAboveLimitStoresPlaceholder(t *testing.T) {
	var received int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c, coll := testClient(t, TransportOptions{
		Capture: CaptureOptions{BodyLimit: 8},
	})

	payload := strings.Repeat("z", 100)
	resp, err := c.Post(server.URL, "text/plain", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	io.ReadAll(resp.Body)
	resp.Body.Close()

	if received != int64(len(payload)) {
		t.Fatalf("the capture must not eat the request body: server saw %d bytes", received)
	}

	records := coll.Snapshot()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.RequestBodySize != int64(len(payload)) {
		t.Errorf("unexpected request body size: %d", rec.RequestBodySize)
	}
	expected := fmt.Sprintf("[truncated request body: %d bytes]", len(payload))
	if rec.RequestBody != expected {
		t.Errorf("expected placeholder %q, got %q", expected, rec.RequestBody)
	}
}

func TestSmallRequestBodyIsCaptured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Write([]byte("done"))
	}))
	defer server.Close()

	c, coll := testClient(t, TransportOptions{})
	resp, err := c.Post(server.URL, "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	io.ReadAll(resp.Body)
	resp.Body.Close()

	rec := coll.Snapshot()[0]
	decoded, _ := base64.StdEncoding.DecodeString(rec.RequestBody)
	if string(decoded) != "hello" {
		t.Errorf("request body must decode to %q, got %q", "hello", decoded)
	}
	if rec.RequestBodySize != 5 {
		t.Errorf("unexpected request body size: %d", rec.RequestBodySize)
	}
}

func TestDNSFailureStillFinalizes(t *testing.T) {
	var logBuf bytes.Buffer
	logger, _ := logging.NewLogger("DEBUG", &logBuf, "")

	c, coll := testClient(t, TransportOptions{Logger: logger})
	if _, err := c.Get("http://nonexistent.invalid/"); err == nil {
		t.Fatal("the lookup failure must reach the caller")
	}

	records := coll.Snapshot()
	if len(records) != 1 {
		t.Fatalf("a failed call must still finalize: got %d records", len(records))
	}
	rec := records[0]
	if rec.Error == "" {
		t.Error("the record must carry the failure")
	}
	if rec.Times.Ended.IsZero() {
		t.Error("the record must carry a terminal timestamp")
	}
	if !strings.Contains(logBuf.String(), "nonexistent.invalid") {
		t.Errorf("the error log must name the host:\n%s", logBuf.String())
	}
}

func TestVerboseErrorsDumpTheRecord(t *testing.T) {
	var logBuf bytes.Buffer
	logger, _ := logging.NewLogger("DEBUG", &logBuf, "")

	c, coll := testClient(t, TransportOptions{
		Capture: CaptureOptions{VerboseErrors: true},
		Logger:  logger,
	})
	c.Get("http://nonexistent.invalid/")

	if coll.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", coll.Len())
	}
	if !strings.Contains(logBuf.String(), `"sequence"`) {
		t.Errorf("verbose mode must dump the in-progress record:\n%s", logBuf.String())
	}
}

func TestFunctionalErrorsPropagateUnchanged(t *testing.T) {
	base := &failingRoundTripper{}
	rt := NewRoundTripper(base, TransportOptions{
		Collector: func() *state.Collector { return state.NewCollector() },
	}, "test")

	req, _ := http.NewRequest("GET", "http://example.com/", nil)
	_, err := rt.RoundTrip(req)
	if err != base.err {
		t.Errorf("the base error must propagate unchanged, got %v", err)
	}
}

type failingRoundTripper struct{ err error }

func (f *failingRoundTripper) RoundTrip(_ *http.Request) (*http.Response, error) {
	if f.err == nil {
		f.err = fmt.Errorf("connection refused")
	}
	return nil, f.err
}

func TestSpansAndMetricsAreReported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("foo bar"))
	}))
	defer server.Close()

	otelInstance := newTestOTEL()
	c, coll := testClient(t, TransportOptions{
		OTELInstance: otelInstance,
		TracesOpts: TransportTracesOptions{
			RoundTrip:          true,
			ReadPayload:        true,
			DetailedConnection: true,
		},
		MetricsOpts: TransportMetricsOptions{
			RoundTrip:          true,
			ReadPayload:        true,
			DetailedConnection: true,
		},
	})

	doAndDrain(t, c, server.URL)

	if coll.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", coll.Len())
	}

	// one span for the round trip, one for reading the response body
	endedSpans := otelInstance.spanRecorder.Ended()
	if len(endedSpans) != 2 {
		t.Errorf("num ended spans, want: 2, got: %d", len(endedSpans))
	}
}
