// Package record defines the call options and the telemetry record
// assembled for every intercepted outbound HTTP/HTTPS call.
package record

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Options is the canonical identity of an outbound call, derived once
// at call start and immutable afterwards.
type Options struct {
	Protocol string `json:"protocol"` // "http" or "https"
	Hostname string `json:"hostname"`
	Path     string `json:"path"` // path plus raw query
	Port     int    `json:"port,omitempty"`
	Auth     string `json:"auth,omitempty"` // "user:pass" when credentials are present
}

// Target is the variant input a caller can provide to identify a call:
// a raw URL string, an already parsed URL, an explicit Options record,
// or a URL plus an Options override.
type Target struct {
	Raw  string
	URL  *url.URL
	Opts *Options
}

// Normalize resolves a Target into a single Options record. When both a
// URL (raw or parsed) and an explicit Options record are given, the
// non-zero fields of the Options record win over the decomposed URL
// fields. A malformed raw URL makes Normalize fail with the parse error
// untouched, so the caller observes the same failure the plain client
// would have produced.
func Normalize(t Target) (*Options, error) {
	var base *Options
	switch {
	case t.Raw != "":
		u, err := url.Parse(t.Raw)
		if err != nil {
			return nil, err
		}
		base = FromURL(u)
	case t.URL != nil:
		base = FromURL(t.URL)
	case t.Opts != nil:
		o := *t.Opts
		return &o, nil
	default:
		return nil, fmt.Errorf("normalize: empty call target")
	}

	if t.Opts != nil {
		if t.Opts.Protocol != "" {
			base.Protocol = t.Opts.Protocol
		}
		if t.Opts.Hostname != "" {
			base.Hostname = t.Opts.Hostname
		}
		if t.Opts.Path != "" {
			base.Path = t.Opts.Path
		}
		if t.Opts.Port != 0 {
			base.Port = t.Opts.Port
		}
		if t.Opts.Auth != "" {
			base.Auth = t.Opts.Auth
		}
	}
	return base, nil
}

// FromURL decomposes a parsed URL into an Options record: the port is
// kept only when it differs from the protocol default, brackets around
// IPv6 literals are stripped, and credentials are joined as "user:pass"
// when either part is present.
func FromURL(u *url.URL) *Options {
	o := &Options{
		Protocol: u.Scheme,
		Hostname: u.Hostname(),
		Path:     u.Path,
	}
	if o.Path == "" {
		o.Path = "/"
	}
	if u.RawQuery != "" {
		o.Path += "?" + u.RawQuery
	}
	if p := u.Port(); p != "" {
		port, _ := strconv.Atoi(p)
		if port != defaultPort(u.Scheme) {
			o.Port = port
		}
	}
	if u.User != nil {
		pass, _ := u.User.Password()
		if u.User.Username() != "" || pass != "" {
			o.Auth = u.User.Username() + ":" + pass
		}
	}
	return o
}

func defaultPort(scheme string) int {
	switch strings.ToLower(scheme) {
	case "https":
		return 443
	default:
		return 80
	}
}

// HostPort rebuilds the "host:port" form, bracketing IPv6 literals.
func (o *Options) HostPort() string {
	host := o.Hostname
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if o.Port == 0 {
		return host
	}
	return host + ":" + strconv.Itoa(o.Port)
}
