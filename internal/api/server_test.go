package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/storefleet/internal/admission"
	"github.com/seantiz/storefleet/internal/invoker/invokertest"
	"github.com/seantiz/storefleet/internal/orchestrator"
	"github.com/seantiz/storefleet/internal/registry"
	"github.com/seantiz/storefleet/internal/workflow"
)

type nopGuard struct{}

func (nopGuard) Apply(context.Context, string) error { return nil }

// testEnv is a server wired to an in-memory registry and a fake invoker.
type testEnv struct {
	srv  *Server
	orch *orchestrator.Orchestrator
	reg  registry.Registry
	fake *invokertest.Fake
}

func newTestEnv(t *testing.T, fake *invokertest.Fake, gateCfg admission.Config) *testEnv {
	t.Helper()
	reg, err := registry.NewSQLiteRegistry(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteRegistry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	tools := workflow.Tools{
		Invoker: fake,
		Guard:   nopGuard{},
		Sleep:   func(context.Context, time.Duration) error { return nil },
	}
	catalog := workflow.NewCatalog(
		workflow.NewWooCommerce(tools, workflow.DefaultWooCommerceConfig()),
		workflow.NewMedusa(tools, workflow.DefaultMedusaConfig()),
	)

	var n atomic.Int32
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	orch := orchestrator.New(reg, catalog, tools, logger, orchestrator.Config{
		NewName: func() string { return fmt.Sprintf("store-%02d", n.Add(1)) },
	})
	t.Cleanup(orch.Wait)

	gate, err := admission.New(gateCfg)
	if err != nil {
		t.Fatalf("admission.New: %v", err)
	}

	return &testEnv{
		srv:  NewServer(":0", orch, gate, logger),
		orch: orch,
		reg:  reg,
		fake: fake,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestEnv(t, invokertest.New(), admission.Config{}).srv
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/stores", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /stores: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	srv := newTestServer(t)
	srv.addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
