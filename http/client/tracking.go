package client

import (
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"time"

	"github.com/luraproject/lura/v2/logging"
	"go.opentelemetry.io/otel/trace"

	capio "github.com/callsight/callsight/io"
	"github.com/callsight/callsight/record"
	"github.com/callsight/callsight/state"
)

// callTracking drives the state of one intercepted call from dispatch
// to its finalized record. It is attached to the request through an
// httptrace.ClientTrace, so every lifecycle signal of the underlying
// transport lands here, and it owns the single-fire finalization gate
// shared by the error, end and close paths.
type callTracking struct {
	req  *http.Request
	resp *http.Response
	err  error

	rec     *record.Record
	sink    *state.Collector
	logger  logging.Logger
	verbose bool
	prefix  string

	reqAcc  *capio.Accumulator
	respAcc *capio.Accumulator

	span          trace.Span
	latencyInSecs float64

	headerText strings.Builder

	dnsStart       time.Time
	connectStart   time.Time
	tlsStart       time.Time
	dnsLatency     float64
	connectLatency float64
	tlsLatency     float64
	firstByteTime  time.Time

	finalized sync.Once
}

func newCallTracking(req *http.Request, rec *record.Record, sink *state.Collector,
	logger logging.Logger, verbose bool,
) *callTracking {
	if logger == nil {
		logger = logging.NoOp
	}
	return &callTracking{
		req:     req,
		rec:     rec,
		sink:    sink,
		logger:  logger,
		verbose: verbose,
		prefix:  fmt.Sprintf("[call #%d]", rec.Sequence),
	}
}

// withClientTrace rebinds the request to a context carrying the
// lifecycle hooks. Hooks the transport offers but the record does not
// need (1xx responses, idle pool returns, 100-continue waits) are left
// out on purpose.
func (t *callTracking) withClientTrace() {
	httpTrace := &httptrace.ClientTrace{
		GetConn:              t.getConn,
		GotConn:              t.gotConn,
		DNSStart:             t.dnsStartHook,
		DNSDone:              t.dnsDone,
		ConnectStart:         t.connectStartHook,
		ConnectDone:          t.connectDone,
		TLSHandshakeStart:    t.tlsHandshakeStart,
		TLSHandshakeDone:     t.tlsHandshakeDone,
		WroteHeaderField:     t.wroteHeaderField,
		WroteRequest:         t.wroteRequest,
		GotFirstResponseByte: t.gotFirstResponseByte,
	}
	t.req = t.req.WithContext(httptrace.WithClientTrace(t.req.Context(), httpTrace))
}

// getConn marks the socket acquisition: the instant this call asked for
// a connection, pooled or fresh.
func (t *callTracking) getConn(_ string) {
	t.rec.Times.SocketAcquired = time.Now()
}

// gotConn fires once a connection is bound to the call. For a reused
// connection there is no lookup or dial to wait for, so the resolution
// and connection milestones collapse onto the acquisition instant.
func (t *callTracking) gotConn(info httptrace.GotConnInfo) {
	times := &t.rec.Times
	if times.SocketAcquired.IsZero() {
		times.SocketAcquired = time.Now()
	}
	if info.Conn != nil {
		t.rec.LocalAddr = info.Conn.LocalAddr().String()
		t.rec.RemoteAddr = info.Conn.RemoteAddr().String()
	}
	if info.Reused {
		times.SocketReused = true
		times.DNSResolved = times.SocketAcquired
		times.Connected = times.SocketAcquired
		t.logger.Debug(t.prefix, "reused connection to", t.rec.RemoteAddr)
	}
}

func (t *callTracking) dnsStartHook(_ httptrace.DNSStartInfo) {
	t.dnsStart = time.Now()
}

// dnsDone records the resolution milestone. A failed lookup is logged
// (with the full in-progress record first, in verbose mode) but does
// not finalize here: the transport surfaces the same failure as the
// round trip error, and that path owns finalization.
func (t *callTracking) dnsDone(info httptrace.DNSDoneInfo) {
	if info.Err != nil {
		t.dumpRecord()
		t.logger.Error(t.prefix, fmt.Sprintf("cannot resolve %s: %s", t.rec.Host, info.Err.Error()))
		return
	}
	now := time.Now()
	t.rec.Times.DNSResolved = now
	if !t.dnsStart.IsZero() {
		t.dnsLatency = float64(now.Sub(t.dnsStart)) / float64(time.Second)
	}
	addrs := make([]string, 0, len(info.Addrs))
	for _, a := range info.Addrs {
		addrs = append(addrs, a.String())
	}
	t.logger.Debug(t.prefix, fmt.Sprintf("resolved %s -> %s in %.3fs",
		t.rec.Host, strings.Join(addrs, ","), t.dnsLatency))
}

func (t *callTracking) connectStartHook(_, _ string) {
	t.connectStart = time.Now()
}

func (t *callTracking) connectDone(_, addr string, err error) {
	if err != nil {
		t.logger.Error(t.prefix, fmt.Sprintf("cannot connect to %s: %s", addr, err.Error()))
		return
	}
	now := time.Now()
	t.rec.Times.Connected = now
	if !t.connectStart.IsZero() {
		t.connectLatency = float64(now.Sub(t.connectStart)) / float64(time.Second)
	}
	since := now.Sub(t.rec.Times.SocketAcquired)
	t.logger.Debug(t.prefix, fmt.Sprintf("connected to %s in %.3fs", addr, float64(since)/float64(time.Second)))
}

func (t *callTracking) tlsHandshakeStart() {
	t.tlsStart = time.Now()
}

func (t *callTracking) tlsHandshakeDone(_ tls.ConnectionState, err error) {
	if err != nil {
		t.logger.Error(t.prefix, "tls handshake failed:", err.Error())
		return
	}
	now := time.Now()
	t.rec.Times.TLSDone = now
	if !t.tlsStart.IsZero() {
		t.tlsLatency = float64(now.Sub(t.tlsStart)) / float64(time.Second)
	}
}

// wroteHeaderField accumulates the outbound header text exactly as the
// transport writes it on the wire.
func (t *callTracking) wroteHeaderField(key string, values []string) {
	for _, v := range values {
		t.headerText.WriteString(key)
		t.headerText.WriteString(": ")
		t.headerText.WriteString(v)
		t.headerText.WriteString("\r\n")
	}
}

// wroteRequest marks the request as fully sent and pulls the outbound
// capture: a body above the limit is stored as a placeholder naming its
// original size instead of the truncated bytes.
func (t *callTracking) wroteRequest(info httptrace.WroteRequestInfo) {
	t.rec.Times.RequestSent = time.Now()
	t.rec.RequestHeaders = requestLine(t.req) + t.headerText.String() + "\r\n"
	if t.reqAcc != nil {
		t.rec.RequestBodySize = t.reqAcc.Size()
		if t.reqAcc.Truncated() {
			t.rec.RequestBody = fmt.Sprintf("[truncated request body: %d bytes]", t.reqAcc.Size())
		} else if size := t.reqAcc.Size(); size > 0 {
			t.rec.RequestBody = base64.StdEncoding.EncodeToString(t.reqAcc.Bytes())
		}
	}
	if info.Err != nil {
		t.logger.Error(t.prefix, "request write failed:", info.Err.Error())
	}
}

func (t *callTracking) gotFirstResponseByte() {
	t.firstByteTime = time.Now()
	t.rec.Times.ResponseReceived = t.firstByteTime
}

// observeResponse copies the response identity once the round trip
// returned a response handle.
func (t *callTracking) observeResponse(resp *http.Response) {
	t.resp = resp
	if t.rec.Times.ResponseReceived.IsZero() {
		t.rec.Times.ResponseReceived = time.Now()
	}
	t.rec.Status = resp.StatusCode
	t.rec.ContentType = resp.Header.Get("Content-Type")
}

// fail is the terminal path for calls whose round trip errored: dial
// failures, lookup failures, aborted writes. In verbose mode the full
// in-progress record is dumped before the error text.
func (t *callTracking) fail(err error) {
	t.err = err
	t.dumpRecord()
	t.logger.Error(t.prefix, fmt.Sprintf("%s %s://%s%s failed: %s",
		t.rec.Method, t.rec.Protocol, t.rec.Host, t.rec.Path, err.Error()))
	t.finalize(false, err)
}

// finishResponse is the terminal path driven by the response body:
// it is fired exactly once by the capture reader, on end or on close,
// whichever comes first.
func (t *callTracking) finishResponse(complete bool, err error) {
	if err != nil {
		t.dumpRecord()
		t.logger.Error(t.prefix, "response read failed:", err.Error())
	}
	t.finalize(complete, err)
}

// finalize completes the record and appends it to the sink. It runs at
// most once per call no matter how many terminal signals race, and a
// defect inside it must never reach the application, so the body is
// guarded against panics.
func (t *callTracking) finalize(bodyComplete bool, cause error) {
	t.finalized.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error(t.prefix, fmt.Sprintf("finalization defect: %v", r))
			}
		}()

		times := &t.rec.Times
		if times.Ended.IsZero() {
			times.Ended = time.Now()
		}
		if cause != nil && t.rec.Error == "" {
			t.rec.Error = cause.Error()
		}

		var bodyBytes int64
		if t.respAcc != nil {
			bodyBytes = t.respAcc.Size()
			t.rec.ResponseBodySize = bodyBytes
			t.rec.ResponseBody = base64.StdEncoding.EncodeToString(t.respAcc.Bytes())
		}
		if t.resp != nil {
			bodyLen := int64(-1)
			if bodyComplete {
				bodyLen = bodyBytes
			}
			t.rec.ResponseHeaders = synthesizeResponseHeaders(t.resp, bodyLen)
		}

		t.sink.Append(t.rec)
		t.logger.Debug(t.prefix, fmt.Sprintf("finalized %s %s://%s%s: status=%d bytes=%d elapsed=%s",
			t.rec.Method, t.rec.Protocol, t.rec.Host, t.rec.Path,
			t.rec.Status, bodyBytes, times.Elapsed()))
	})
}

// dumpRecord writes the full in-progress record before error text when
// the verbose error mode is on; with clean logs it does nothing.
func (t *callTracking) dumpRecord() {
	if !t.verbose {
		return
	}
	b, err := json.Marshal(t.rec)
	if err != nil {
		return
	}
	t.logger.Error(t.prefix, string(b))
}
