package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"leadlove-hq/meter/pkg/config"
	"leadlove-hq/meter/pkg/limits"
	"leadlove-hq/meter/pkg/limits/credits"
	"leadlove-hq/meter/pkg/limits/pricing"
	"leadlove-hq/meter/pkg/limits/ratelimit"
	"leadlove-hq/meter/pkg/limits/storage"
	"leadlove-hq/meter/pkg/telemetry/health"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryWindowStore) {
	t.Helper()

	windows := storage.NewMemoryWindowStore()
	registry := prometheus.NewRegistry()
	metrics := limits.NewMetrics(registry)

	limiter, err := ratelimit.NewLimiter(windows, ratelimit.Config{}, metrics)
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	ledger, err := credits.NewLedger(storage.NewMemoryLedgerStore(), credits.Config{}, metrics)
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	prices, err := pricing.NewTable(nil)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	gateway, err := limits.NewGateway(limiter, ledger, prices, metrics, limits.Config{})
	if err != nil {
		t.Fatalf("NewGateway failed: %v", err)
	}

	checker := health.New(time.Second)
	checker.Register("storage", func(ctx context.Context) error {
		_, err := windows.ActiveBlock(ctx, "probe", ratelimit.DefaultCategory, time.Now())
		return err
	})

	cfg := config.Default().Server
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second

	srv, err := NewServer(&cfg, Options{
		Gateway:  gateway,
		Health:   checker,
		Gatherer: registry,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return srv, windows
}

func TestNewServer_Validation(t *testing.T) {
	cfg := config.Default().Server

	if _, err := NewServer(nil, Options{}); err == nil {
		t.Error("Expected error for nil config")
	}
	if _, err := NewServer(&cfg, Options{}); err == nil {
		t.Error("Expected error for nil gateway")
	}
}

func TestServer_Routes(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		principal  string
		wantStatus int
		wantBody   string
	}{
		{name: "liveness", method: http.MethodGet, target: "/health", wantStatus: http.StatusOK, wantBody: `"ok"`},
		{name: "readiness", method: http.MethodGet, target: "/ready", wantStatus: http.StatusOK, wantBody: `"ready"`},
		{name: "version", method: http.MethodGet, target: "/version", wantStatus: http.StatusOK, wantBody: `"test"`},
		{name: "not found", method: http.MethodGet, target: "/nope", wantStatus: http.StatusNotFound, wantBody: `"not_found"`},
		{name: "method not allowed", method: http.MethodGet, target: "/v1/authorize", wantStatus: http.StatusMethodNotAllowed},
		{
			name:       "authorize",
			method:     http.MethodPost,
			target:     "/v1/authorize",
			body:       `{"principal":"user-1","endpoint":"/auth/login"}`,
			wantStatus: http.StatusOK,
			wantBody:   `"category":"auth"`,
		},
		{name: "quote without principal", method: http.MethodGet, target: "/v1/quote/leadlove_maps", wantStatus: http.StatusUnauthorized},
		{
			name:       "quote",
			method:     http.MethodGet,
			target:     "/v1/quote/leadlove_maps?maxResults=20",
			principal:  "user-1",
			wantStatus: http.StatusOK,
			wantBody:   `"credits":3`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.principal != "" {
				req.Header.Set("X-Principal-ID", tt.principal)
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("Expected body to contain %s, got %s", tt.wantBody, w.Body.String())
			}
			if w.Header().Get("X-Request-ID") == "" {
				t.Error("Expected X-Request-ID header")
			}
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", strings.NewReader(`{"principal":"user-1","endpoint":"/x"}`))
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "meter_gateway_decisions_total") {
		t.Error("Expected meter_gateway_decisions_total in metrics output")
	}
}

func TestServer_ReadinessFailsWithStore(t *testing.T) {
	srv, windows := newTestServer(t)
	_ = windows.Close()

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !srv.IsRunning() || srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("Server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if err := srv.Start(ctx); err == nil {
		t.Error("Expected error starting a running server")
	}

	cancel()
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down")
	}

	if srv.IsRunning() {
		t.Error("Expected server to be stopped")
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Second Shutdown failed: %v", err)
	}
}
