package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-stream/internal/config"
	"github.com/any-hub/any-stream/internal/loader"
	"github.com/any-hub/any-stream/internal/server"
)

func TestCacheRoutesReportAndPurge(t *testing.T) {
	app, manager := newDiagnosticsApp(t)

	if _, err := manager.Session("https://media.example.com/a.mp4"); err != nil {
		t.Fatalf("session error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(manager.Dir(), "extra.bin"), make([]byte, 64), 0o644); err != nil {
		t.Fatalf("write cache file: %v", err)
	}

	resp := doRequest(t, app, http.MethodGet, "/-/cache")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload cachePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Size < 64 {
		t.Fatalf("expected size >= 64, got %d", payload.Size)
	}
	if len(payload.Sessions) != 1 || payload.Sessions[0].URL != "https://media.example.com/a.mp4" {
		t.Fatalf("unexpected sessions: %+v", payload.Sessions)
	}

	resp = doRequest(t, app, http.MethodDelete, "/-/cache")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if len(manager.Sessions()) != 0 {
		t.Fatalf("purge should close sessions")
	}
	size, err := manager.CacheSize()
	if err != nil || size != 0 {
		t.Fatalf("expected empty cache, got %d (%v)", size, err)
	}
}

func TestOriginsRoute(t *testing.T) {
	app, _ := newDiagnosticsApp(t)

	resp := doRequest(t, app, http.MethodGet, "/-/origins")
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"domain":"media.local"`) {
		t.Fatalf("origins payload missing domain: %s", body)
	}
	if !strings.Contains(string(body), `"auth_mode":"anonymous"`) {
		t.Fatalf("origins payload missing auth mode: %s", body)
	}
}

func TestMetricsRoute(t *testing.T) {
	app, _ := newDiagnosticsApp(t)

	resp := doRequest(t, app, http.MethodGet, "/-/metrics")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "any_stream_sessions_active") {
		t.Fatalf("metrics output missing session gauge")
	}
}

func newDiagnosticsApp(t *testing.T) (*fiber.App, *loader.Manager) {
	t.Helper()

	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Origins: []config.OriginConfig{
			{Name: "media", Domain: "media.local", Upstream: "https://media.example.com"},
		},
	}
	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	manager, err := loader.NewManager(loader.ManagerOptions{
		Dir:       t.TempDir(),
		Transport: loader.ClientTransport(nil),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("manager error: %v", err)
	}
	t.Cleanup(func() { _ = manager.Shutdown() })

	app, err := server.NewApp(server.AppOptions{
		Logger:   logger,
		Registry: registry,
		Proxy: server.ProxyHandlerFunc(func(c fiber.Ctx, _ *server.OriginRoute) error {
			return c.SendStatus(fiber.StatusTeapot)
		}),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	RegisterDiagnosticsRoutes(app, registry, manager, logger)
	return app, manager
}

func doRequest(t *testing.T, app *fiber.App, method, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, "http://media.local"+path, nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}
