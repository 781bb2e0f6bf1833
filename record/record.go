package record

import "time"

// Timestamps are the lifecycle milestones of one call. Each one is
// recorded at most once. When the connection was reused, DNSResolved
// and Connected collapse to the SocketAcquired instant.
type Timestamps struct {
	Start            time.Time `json:"start"`
	SocketAcquired   time.Time `json:"socket_acquired,omitempty"`
	DNSResolved      time.Time `json:"dns_resolved,omitempty"`
	Connected        time.Time `json:"connected,omitempty"`
	TLSDone          time.Time `json:"tls_done,omitempty"`
	RequestSent      time.Time `json:"request_sent,omitempty"`
	ResponseReceived time.Time `json:"response_received,omitempty"`
	Ended            time.Time `json:"ended,omitempty"`

	SocketReused bool `json:"socket_reused,omitempty"`
}

// Elapsed returns the total wall time between the socket acquisition
// and the terminal milestone. It falls back to the call start when the
// call never got a socket (pure dial or lookup failures).
func (t *Timestamps) Elapsed() time.Duration {
	from := t.SocketAcquired
	if from.IsZero() {
		from = t.Start
	}
	if t.Ended.IsZero() {
		return 0
	}
	return t.Ended.Sub(from)
}

// Record is the telemetry produced for one call. It is mutated
// incrementally while the lifecycle signals fire and becomes immutable
// once it is appended to the collector: that append happens exactly
// once per call, no matter how many terminal signals race.
type Record struct {
	Sequence uint64 `json:"sequence"`

	Protocol string `json:"protocol"`
	Method   string `json:"method"`
	Host     string `json:"host"`
	Path     string `json:"path"`
	Port     int    `json:"port,omitempty"`
	Auth     string `json:"auth,omitempty"`

	LocalAddr  string `json:"local_addr,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`

	RequestHeaders  string `json:"request_headers,omitempty"`
	RequestBody     string `json:"request_body,omitempty"` // base64, or a placeholder naming the size when truncated
	RequestBodySize int64  `json:"request_body_size"`

	Status           int    `json:"status,omitempty"`
	ContentType      string `json:"content_type,omitempty"`
	ResponseHeaders  string `json:"response_headers,omitempty"`
	ResponseBody     string `json:"response_body,omitempty"` // base64
	ResponseBodySize int64  `json:"response_body_size"`

	Error string `json:"error,omitempty"`

	Times Timestamps `json:"timestamps"`
}

// New builds the initial record for a call with its identity resolved
// and the start milestone stamped.
func New(seq uint64, method string, opts *Options) *Record {
	return &Record{
		Sequence: seq,
		Protocol: opts.Protocol,
		Method:   method,
		Host:     opts.Hostname,
		Path:     opts.Path,
		Port:     opts.Port,
		Auth:     opts.Auth,
		Times:    Timestamps{Start: time.Now()},
	}
}
