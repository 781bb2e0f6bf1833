// Package callsight intercepts the outbound HTTP and HTTPS calls of a
// process and assembles a telemetry record for each one: the timing of
// every lifecycle milestone, the endpoint identity, the headers and
// the bodies. The interception is transparent: the wrapped call keeps
// its exact behavior, and capture failures only degrade the record.
//
// The instrumentation can be adopted in two ways:
//
//   - explicitly, wrapping a client with [client.InstrumentedHTTPClient]
//     or a transport with [client.NewRoundTripper];
//   - process wide, calling [Activate] to substitute the two global
//     dispatch points of the standard library (http.DefaultTransport
//     and http.DefaultClient.Transport) with instrumented equivalents,
//     and [Deactivate] to restore the saved originals.
package callsight

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	lconfig "github.com/luraproject/lura/v2/config"
	"github.com/luraproject/lura/v2/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/callsight/callsight/config"
	"github.com/callsight/callsight/exporter"
	"github.com/callsight/callsight/http/client"
	"github.com/callsight/callsight/state"
)

// Register uses the Lura ServiceConfig to instantiate the configured
// exporters and the global state, so any Lura based service can enable
// the capture from its configuration file.
func Register(ctx context.Context, l logging.Logger, srvCfg lconfig.ServiceConfig) (func(), error) {
	cfg, err := config.FromLura(srvCfg)
	if err != nil {
		if errors.Is(err, config.ErrNoConfig) {
			return func() {}, nil
		}
		// we do not log, we leave it to the parent:
		return func() {}, err
	}
	return RegisterWithConfig(ctx, l, cfg)
}

// RegisterWithConfig instantiates the configured exporters from an
// already parsed config: sets the global exporter instances, the global
// propagation method and the global callsight state, so the process
// wide interception can be activated from anywhere.
func RegisterWithConfig(ctx context.Context, l logging.Logger, cfg *config.ConfigData) (func(), error) {
	shutdownFn := func() {}
	if cfg == nil {
		return shutdownFn, errors.New("nil callsight configuration")
	}
	cfg.UnsetFieldsToDefaults()
	if err := cfg.Validate(); err != nil {
		return shutdownFn, err
	}

	me, te, err := exporter.Instances(ctx, cfg)
	if err != nil {
		return shutdownFn, err
	}
	exporter.SetGlobalExporterInstances(me, te)

	prop := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prop)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(e error) {
		l.Error("[callsight]", e.Error())
	}))

	// only the exporters enabled for default reporting feed the
	// global instance
	mFiltered := make(map[string]exporter.MetricReader, len(me))
	for k, v := range me {
		if v.MetricDefaultReporting() {
			mFiltered[k] = v
		}
	}
	tFiltered := make(map[string]exporter.SpanExporter, len(te))
	for k, v := range te {
		if v.TraceDefaultReporting() {
			tFiltered[k] = v
		}
	}

	s, err := state.NewWithVersion(cfg.ServiceName, cfg.ServiceVersion,
		*cfg.MetricReportingPeriod, *cfg.TraceSampleRate, mFiltered, tFiltered)
	if err != nil {
		return shutdownFn, err
	}
	state.SetGlobalState(s)
	setCurrent(l, cfg)

	shutdownFn = func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.Shutdown(shutdownCtx)
		cancel()
	}
	return shutdownFn, nil
}

// current holds the pieces Activate needs to build the instrumented
// transport when no explicit wrapping is used.
var current = struct {
	mu     sync.RWMutex
	logger logging.Logger
	cfg    *config.ConfigData
}{
	logger: logging.NoOp,
	cfg:    &config.ConfigData{},
}

func setCurrent(l logging.Logger, cfg *config.ConfigData) {
	current.mu.Lock()
	if l != nil {
		current.logger = l
	}
	current.cfg = cfg
	current.mu.Unlock()
}

func currentTransportOptions() client.TransportOptions {
	current.mu.RLock()
	l := current.logger
	cfg := current.cfg
	current.mu.RUnlock()

	capture := cfg.Capture
	var staticAttrs []attribute.KeyValue
	if capture != nil {
		if m, err := capture.StaticAttrs.ToMap(); err == nil {
			for k, v := range m {
				staticAttrs = append(staticAttrs, attribute.String(k, v))
			}
		}
	}

	opts := client.TransportOptions{
		Capture: client.CaptureOptions{
			BodyLimit:     capture.Limit(),
			VerboseErrors: capture != nil && capture.VerboseErrors,
		},
		Logger:       l,
		OTELInstance: state.GlobalState(),
	}
	if capture == nil || !capture.DisableMetrics {
		opts.MetricsOpts = client.TransportMetricsOptions{
			RoundTrip:          true,
			ReadPayload:        true,
			DetailedConnection: true,
			FixedAttributes:    staticAttrs,
		}
	}
	if capture == nil || !capture.DisableTraces {
		opts.TracesOpts = client.TransportTracesOptions{
			RoundTrip:          true,
			ReadPayload:        true,
			DetailedConnection: true,
			FixedAttributes:    staticAttrs,
			ReportHeaders:      capture != nil && capture.ReportHeaders,
		}
	}
	return opts
}

// intercept is the process-wide interception state: the active flag
// and the saved originals needed for an exact restoration.
var intercept = struct {
	mu                    sync.Mutex
	active                bool
	savedDefaultTransport http.RoundTripper
	savedClientTransport  http.RoundTripper
}{}

// Activate substitutes the two global dispatch points with
// instrumented equivalents. Calling it while already active is a
// no-op, so repeated cycles never double-wrap.
func Activate() {
	intercept.mu.Lock()
	defer intercept.mu.Unlock()
	if intercept.active {
		return
	}

	intercept.savedDefaultTransport = http.DefaultTransport
	intercept.savedClientTransport = http.DefaultClient.Transport

	opts := currentTransportOptions()
	http.DefaultTransport = client.NewRoundTripper(intercept.savedDefaultTransport, opts, "default")
	if intercept.savedClientTransport != nil {
		// a nil client transport falls back to http.DefaultTransport,
		// which is already wrapped: wrapping it again would track
		// every call twice
		http.DefaultClient.Transport = client.NewRoundTripper(intercept.savedClientTransport, opts, "default-client")
	}
	intercept.active = true
}

// Deactivate restores the saved originals. A no-op when not active.
func Deactivate() {
	intercept.mu.Lock()
	defer intercept.mu.Unlock()
	if !intercept.active {
		return
	}
	http.DefaultTransport = intercept.savedDefaultTransport
	http.DefaultClient.Transport = intercept.savedClientTransport
	intercept.savedDefaultTransport = nil
	intercept.savedClientTransport = nil
	intercept.active = false
}
