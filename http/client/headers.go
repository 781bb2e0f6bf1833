package client

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// requestLine rebuilds the first line of the outbound request as the
// transport sends it.
func requestLine(req *http.Request) string {
	uri := req.URL.RequestURI()
	if uri == "" {
		uri = "/"
	}
	return fmt.Sprintf("%s %s HTTP/1.1\r\n", req.Method, uri)
}

// synthesizeResponseHeaders rebuilds the status line plus each header
// of the response. The record is meant to be inspectable, not
// re-streamed, so a chunked response whose full body length is known
// (bodyLen >= 0) is normalized into an equivalent fixed-length
// representation: any transfer-encoding marker is dropped and a
// content-length header reflecting the known body length is injected
// when the server did not send one. Header names are emitted lowercase
// and the text ends with the blank line that closes a header block.
func synthesizeResponseHeaders(resp *http.Response, bodyLen int64) string {
	var b strings.Builder

	proto := resp.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	status := resp.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	b.WriteString(proto)
	b.WriteString(" ")
	b.WriteString(status)
	b.WriteString("\r\n")

	knownLen := bodyLen
	if knownLen < 0 {
		knownLen = resp.ContentLength
	}
	hasContentLength := resp.Header.Get("Content-Length") != ""
	injectContentLength := !hasContentLength && knownLen >= 0

	keys := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := strings.ToLower(k)
		if name == "transfer-encoding" && injectContentLength {
			continue
		}
		for _, v := range resp.Header[k] {
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}

	if injectContentLength {
		b.WriteString("content-length: ")
		b.WriteString(strconv.FormatInt(knownLen, 10))
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")
	return b.String()
}
