package client

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestRequestLine(t *testing.T) {
	u, _ := url.Parse("http://example.com/a/b?x=1")
	req := &http.Request{Method: "POST", URL: u}
	if got := requestLine(req); got != "POST /a/b?x=1 HTTP/1.1\r\n" {
		t.Errorf("unexpected request line: %q", got)
	}

	u, _ = url.Parse("http://example.com")
	req = &http.Request{Method: "GET", URL: u}
	if got := requestLine(req); got != "GET / HTTP/1.1\r\n" {
		t.Errorf("an empty target must fall back to the root: %q", got)
	}
}

func TestSynthesizeResponseHeaders(t *testing.T) {
	for _, tc := range []struct {
		name     string
		resp     *http.Response
		bodyLen  int64
		want     []string
		wantMiss []string
	}{
		{
			name: "chunked with fully read body",
			resp: &http.Response{
				Proto:         "HTTP/1.1",
				Status:        "200 OK",
				StatusCode:    200,
				ContentLength: -1,
				Header: http.Header{
					"Transfer-Encoding": {"chunked"},
					"Content-Type":      {"text/plain"},
				},
			},
			bodyLen:  2,
			want:     []string{"HTTP/1.1 200 OK\r\n", "content-length: 2\r\n", "content-type: text/plain\r\n"},
			wantMiss: []string{"transfer-encoding"},
		},
		{
			name: "explicit content-length is left alone",
			resp: &http.Response{
				Proto:         "HTTP/1.1",
				Status:        "200 OK",
				StatusCode:    200,
				ContentLength: 7,
				Header: http.Header{
					"Content-Length": {"7"},
				},
			},
			bodyLen: 7,
			want:    []string{"content-length: 7\r\n"},
		},
		{
			name: "unknown length stays chunked",
			resp: &http.Response{
				Proto:         "HTTP/1.1",
				Status:        "200 OK",
				StatusCode:    200,
				ContentLength: -1,
				Header: http.Header{
					"Transfer-Encoding": {"chunked"},
				},
			},
			bodyLen:  -1,
			want:     []string{"transfer-encoding: chunked\r\n"},
			wantMiss: []string{"content-length"},
		},
		{
			name: "missing status line pieces are rebuilt",
			resp: &http.Response{
				StatusCode:    204,
				ContentLength: 0,
				Header:        http.Header{},
			},
			bodyLen: 0,
			want:    []string{"HTTP/1.1 204 No Content\r\n", "content-length: 0\r\n"},
		},
		{
			name: "multi-valued headers keep every value",
			resp: &http.Response{
				Proto:         "HTTP/1.1",
				Status:        "200 OK",
				StatusCode:    200,
				ContentLength: 3,
				Header: http.Header{
					"Content-Length": {"3"},
					"Set-Cookie":     {"a=1", "b=2"},
				},
			},
			bodyLen: 3,
			want:    []string{"set-cookie: a=1\r\n", "set-cookie: b=2\r\n"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := synthesizeResponseHeaders(tc.resp, tc.bodyLen)
			for _, w := range tc.want {
				if !strings.Contains(got, w) {
					t.Errorf("missing %q in:\n%s", w, got)
				}
			}
			for _, m := range tc.wantMiss {
				if strings.Contains(got, m) {
					t.Errorf("unexpected %q in:\n%s", m, got)
				}
			}
			if !strings.HasSuffix(got, "\r\n\r\n") {
				t.Errorf("the header block must end with a blank line:\n%q", got)
			}
		})
	}
}

func TestHeaderKeysComeOutSorted(t *testing.T) {
	resp := &http.Response{
		Proto:         "HTTP/1.1",
		Status:        "200 OK",
		StatusCode:    200,
		ContentLength: 0,
		Header: http.Header{
			"Content-Length": {"0"},
			"X-Zed":          {"z"},
			"Accept-Ranges":  {"bytes"},
		},
	}
	got := synthesizeResponseHeaders(resp, 0)
	a := strings.Index(got, "accept-ranges")
	c := strings.Index(got, "content-length")
	z := strings.Index(got, "x-zed")
	if a == -1 || c == -1 || z == -1 || !(a < c && c < z) {
		t.Errorf("headers must be sorted by name:\n%s", got)
	}
}
