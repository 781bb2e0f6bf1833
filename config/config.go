// Package config defines the configuration of the outbound call
// interception: how much of the bodies is captured, the verbosity of
// the error reporting, and the exporters used for the observability
// side channel.
package config

import (
	"fmt"
)

// DefaultBodyLimit is the number of body bytes kept per direction when
// no explicit limit is configured.
const DefaultBodyLimit int64 = 64 * 1024

// ConfigData is the root configuration for the interception engine.
type ConfigData struct {
	ServiceName           string       `json:"service_name"`
	ServiceVersion        string       `json:"service_version"`
	Capture               *CaptureOpts `json:"capture"`
	Exporters             Exporters    `json:"exporters"`
	MetricReportingPeriod *int         `json:"metric_reporting_period"`
	TraceSampleRate       *float64     `json:"trace_sample_rate"`
}

func (c *ConfigData) Validate() error {
	if c.Capture != nil && c.Capture.BodyLimit != nil && *c.Capture.BodyLimit < 0 {
		return fmt.Errorf("negative body capture limit: %d", *c.Capture.BodyLimit)
	}
	return c.Exporters.Validate()
}

func (c *ConfigData) UnsetFieldsToDefaults() {
	if c.MetricReportingPeriod == nil {
		reportingPeriod := 30
		c.MetricReportingPeriod = &reportingPeriod
	}
	if c.TraceSampleRate == nil {
		sampleRate := float64(1.0)
		c.TraceSampleRate = &sampleRate
	}
	if c.Capture == nil {
		c.Capture = &CaptureOpts{}
	}
	if c.Capture.BodyLimit == nil {
		limit := DefaultBodyLimit
		c.Capture.BodyLimit = &limit
	}
}

// CaptureOpts controls the per-call capture detail.
type CaptureOpts struct {
	// BodyLimit caps the captured bytes per body. A request body
	// above the limit is stored as a placeholder naming its size.
	BodyLimit *int64 `json:"body_limit"`
	// VerboseErrors makes error paths dump the full in-progress
	// record before the error text. Leave unset for clean logs.
	VerboseErrors  bool       `json:"verbose_errors"`
	DisableMetrics bool       `json:"disable_metrics"`
	DisableTraces  bool       `json:"disable_traces"`
	ReportHeaders  bool       `json:"report_headers"`
	StaticAttrs    Attributes `json:"static_attributes"`
}

// Limit returns the configured body capture limit, falling back to the
// default when unset.
func (o *CaptureOpts) Limit() int64 {
	if o == nil || o.BodyLimit == nil {
		return DefaultBodyLimit
	}
	return *o.BodyLimit
}

type Exporters struct {
	OTLP       []OTLPExporter       `json:"otlp"`
	Prometheus []PrometheusExporter `json:"prometheus"`
}

func (e *Exporters) Validate() error {
	uniqueNames := make(map[string]bool, len(e.OTLP)+len(e.Prometheus))
	for idx, ecfg := range e.OTLP {
		if uniqueNames[ecfg.Name] {
			return fmt.Errorf("OTLP exporter with duplicate name: %s (at idx %d)", ecfg.Name, idx)
		}
		uniqueNames[ecfg.Name] = true
	}
	for idx, ecfg := range e.Prometheus {
		if uniqueNames[ecfg.Name] {
			return fmt.Errorf("prometheus with duplicate name: %s (at idx %d)", ecfg.Name, idx)
		}
		uniqueNames[ecfg.Name] = true
	}
	return nil
}

type OTLPExporter struct {
	Name           string `json:"name"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseHTTP        bool   `json:"use_http"`
	DisableMetrics bool   `json:"disable_metrics"`
	DisableTraces  bool   `json:"disable_traces"`
}

type PrometheusExporter struct {
	Name           string `json:"name"`
	Port           int    `json:"port"`
	Host           string `json:"host"`
	ProcessMetrics bool   `json:"process_metrics"`
	GoMetrics      bool   `json:"go_metrics"`
	DisableMetrics bool   `json:"disable_metrics"`
}

type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Attributes []KeyValue

func (a Attributes) ToMap() (map[string]string, error) {
	m := make(map[string]string, len(a))
	for _, attr := range a {
		if _, ok := m[attr.Key]; ok {
			return m, fmt.Errorf("duplicate attribute key: %s", attr.Key)
		}
		m[attr.Key] = attr.Value
	}
	return m, nil
}
