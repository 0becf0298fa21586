package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/praxishq/praxis/core/internal/api"
	"github.com/praxishq/praxis/core/internal/api/handlers"
	"github.com/praxishq/praxis/core/internal/bus"
	"github.com/praxishq/praxis/core/internal/config"
	"github.com/praxishq/praxis/core/internal/health"
	"github.com/praxishq/praxis/core/internal/intent"
	"github.com/praxishq/praxis/core/internal/plugins"
	"github.com/praxishq/praxis/core/internal/registry"
	"github.com/praxishq/praxis/core/internal/store"
	"github.com/praxishq/praxis/core/internal/synthesis"
	"github.com/praxishq/praxis/core/pkg/models"
)

// newTestServer wires a runtime with the clock plugin only, so no handler
// reaches the network. The evolution pipeline stays nil: the disabled path
// is part of what these tests cover.
func newTestServer(t *testing.T, healthLevel models.HealthLevel) http.Handler {
	t.Helper()
	cfg := &config.Config{Version: "test"}
	cfg.Routing = config.RoutingConfig{
		LowConfidence: 0.35,
		MinConfidence: 0.5,
		FusionDelta:   0.1,
		ContextWindow: 5,
		PluginTimeout: 2 * time.Second,
	}

	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	reg := registry.New(cfg.Routing.PluginTimeout, nil)
	if err := reg.Register(plugins.NewClock(), 50); err != nil {
		t.Fatalf("register clock: %v", err)
	}

	history := intent.NewContextWindow(st, cfg.Routing.ContextWindow)
	router, err := intent.NewRouter(cfg.Routing, reg, history)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	synth := synthesis.New(cfg.Routing, reg, nil, nil, history)

	events := bus.New()
	t.Cleanup(func() { events.Close() })
	monitor := health.NewMonitor(time.Minute, events)
	monitor.Register("probe", func(context.Context) models.ComponentHealth {
		return models.ComponentHealth{Level: healthLevel}
	})
	monitor.Poll(context.Background())

	h := handlers.New(cfg, st, reg, router, synth, nil, monitor)
	return api.NewRouter(h)
}

func doJSON(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestQuery_TimeAnswered(t *testing.T) {
	srv := newTestServer(t, models.HealthHealthy)

	rec := doJSON(t, srv, http.MethodPost, "/query", `{"text": "what time is it?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp struct {
		Intent     string   `json:"intent"`
		Response   string   `json:"response"`
		NoAnswer   bool     `json:"no_answer"`
		Plugins    []string `json:"plugins"`
		Candidates []string `json:"candidates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Intent != "time" || resp.NoAnswer {
		t.Errorf("intent = %q no_answer = %v, want an answered time query", resp.Intent, resp.NoAnswer)
	}
	if len(resp.Plugins) != 1 || resp.Plugins[0] != "clock" {
		t.Errorf("plugins = %v, want [clock]", resp.Plugins)
	}
}

func TestQuery_NoAnswerStillOK(t *testing.T) {
	// No fallback plugin configured and nothing matches: the pipeline
	// worked, the plugins had nothing. That is 200, not an error.
	srv := newTestServer(t, models.HealthHealthy)

	rec := doJSON(t, srv, http.MethodPost, "/query", `{"text": "xyzzy plugh"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		NoAnswer bool   `json:"no_answer"`
		Reason   string `json:"reason"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.NoAnswer || resp.Reason == "" {
		t.Errorf("body = %s, want a no-answer with reason", rec.Body)
	}
}

func TestQuery_BadRequests(t *testing.T) {
	srv := newTestServer(t, models.HealthHealthy)

	if rec := doJSON(t, srv, http.MethodPost, "/query", `{not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodPost, "/query", `{"text": "   "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("blank text: status = %d, want 400", rec.Code)
	}
}

func TestSubmitProposal_PipelineDisabled(t *testing.T) {
	srv := newTestServer(t, models.HealthHealthy)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/evolution/proposals",
		`{"description": "x", "patches": [{"path": "a.py", "content": "x"}]}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 with evolution disabled", rec.Code)
	}
}

func TestGetProposal_NotFound(t *testing.T) {
	srv := newTestServer(t, models.HealthHealthy)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/evolution/proposals/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListPlugins(t *testing.T) {
	srv := newTestServer(t, models.HealthHealthy)

	rec := doJSON(t, srv, http.MethodGet, "/plugins", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var descs []models.PluginDescriptor
	if err := json.Unmarshal(rec.Body.Bytes(), &descs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(descs) != 1 || descs[0].Name != "clock" {
		t.Errorf("descriptors = %v, want the clock plugin", descs)
	}
}

func TestHealth_StatusCodes(t *testing.T) {
	healthy := newTestServer(t, models.HealthHealthy)
	if rec := doJSON(t, healthy, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("healthy: status = %d, want 200", rec.Code)
	}

	degraded := newTestServer(t, models.HealthDegraded)
	if rec := doJSON(t, degraded, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("degraded: status = %d, want 200", rec.Code)
	}

	down := newTestServer(t, models.HealthUnhealthy)
	if rec := doJSON(t, down, http.MethodGet, "/health", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy: status = %d, want 503", rec.Code)
	}
}

func TestVersion(t *testing.T) {
	srv := newTestServer(t, models.HealthHealthy)

	rec := doJSON(t, srv, http.MethodGet, "/version", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["version"] != "test" || body["service"] == "" {
		t.Errorf("body = %v", body)
	}
}
