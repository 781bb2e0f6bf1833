// Package client provides the per-call interception for an http
// client.
//
// Every request dispatched through the instrumented round tripper
// produces exactly one finalized telemetry record in the configured
// collector, holding:
//
//   - the call identity: sequence number, protocol, host, path, port,
//     auth, local / remote endpoints;
//   - the serialized request header text as written on the wire, and
//     the captured request body (or a placeholder naming its size when
//     it exceeds the capture limit);
//   - the response status, content type, synthesized response header
//     text (chunked transfers normalized to an equivalent
//     content-length form) and the captured response body;
//   - the milestone timestamps: call start, socket acquisition, dns
//     resolution, connection, tls, request sent, response received and
//     the terminal instant.
//
// The wrapped call keeps its exact behavior: bodies stream through
// untouched, functional errors propagate unchanged, and a defect in
// the capture only degrades the record, never the call.
package client

import (
	"net/http"
)

// InstrumentedHTTPClient creates a new instrumented http client with
// the options provided. If the provided options are nil, the client is
// returned untouched.
func InstrumentedHTTPClient(c *http.Client, t *TransportOptions, clientName string) *http.Client {
	if t == nil {
		return c
	}

	transport := c.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &http.Client{
		Transport:     NewRoundTripper(transport, *t, clientName),
		CheckRedirect: c.CheckRedirect,
		Jar:           c.Jar,
		Timeout:       c.Timeout,
	}
}
