package callsight

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	lconfig "github.com/luraproject/lura/v2/config"
	"github.com/luraproject/lura/v2/logging"

	"github.com/callsight/callsight/config"
	"github.com/callsight/callsight/state"
)

func TestActivateDeactivateRestoresDispatchPoints(t *testing.T) {
	origTransport := http.DefaultTransport
	origClientTransport := http.DefaultClient.Transport

	for i := 0; i < 2; i++ {
		Activate()
		if http.DefaultTransport == origTransport {
			t.Fatalf("cycle %d: http.DefaultTransport was not substituted", i)
		}

		Deactivate()
		if http.DefaultTransport != origTransport {
			t.Fatalf("cycle %d: http.DefaultTransport was not restored", i)
		}
		if http.DefaultClient.Transport != origClientTransport {
			t.Fatalf("cycle %d: http.DefaultClient.Transport was not restored", i)
		}
	}
}

func TestActivateIsIdempotent(t *testing.T) {
	origTransport := http.DefaultTransport

	Activate()
	wrapped := http.DefaultTransport
	Activate()
	if http.DefaultTransport != wrapped {
		t.Error("a second activation must not wrap again")
	}

	Deactivate()
	if http.DefaultTransport != origTransport {
		t.Error("a single deactivation must undo any number of activations")
	}
	Deactivate()
	if http.DefaultTransport != origTransport {
		t.Error("a spurious deactivation must be a no-op")
	}
}

func TestProcessWideCaptureTracksDefaultClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer server.Close()

	origCollector := state.GlobalCollector()
	coll := state.NewCollector()
	state.SetGlobalCollector(coll)
	defer state.SetGlobalCollector(origCollector)

	Activate()
	defer Deactivate()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	io.ReadAll(resp.Body)
	resp.Body.Close()

	records := coll.Snapshot()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Method != "GET" || records[0].Status != 200 {
		t.Errorf("unexpected record: %+v", records[0])
	}
}

func TestRegisterWithoutExtraConfigIsANoOp(t *testing.T) {
	shutdown, err := Register(context.Background(), logging.NoOp, lconfig.ServiceConfig{})
	if err != nil {
		t.Fatalf("a service without our namespace must not fail: %s", err.Error())
	}
	shutdown()
}

func TestRegisterFromLuraServiceConfig(t *testing.T) {
	srvCfg := lconfig.ServiceConfig{
		Name: "lura-based-service",
		ExtraConfig: map[string]interface{}{
			config.Namespace: map[string]interface{}{
				"service_name": "my-service",
				"capture": map[string]interface{}{
					"body_limit": 1024,
				},
			},
		},
	}

	shutdown, err := Register(context.Background(), logging.NoOp, srvCfg)
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	defer shutdown()

	if state.GlobalState() == nil {
		t.Error("registration must set the global state")
	}
}

func TestRegisterWithConfigRejectsBrokenConfig(t *testing.T) {
	if _, err := RegisterWithConfig(context.Background(), logging.NoOp, nil); err == nil {
		t.Error("a nil config must be rejected")
	}

	limit := int64(-1)
	cfg := &config.ConfigData{
		ServiceName: "broken",
		Capture:     &config.CaptureOpts{BodyLimit: &limit},
	}
	if _, err := RegisterWithConfig(context.Background(), logging.NoOp, cfg); err == nil {
		t.Error("a negative body limit must be rejected")
	}
}
