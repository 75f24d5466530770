package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/edgecache/imgcache/internal/config"
)

func TestRouterRoutesRequestWhenHostMatches(t *testing.T) {
	app := newTestApp(t, true)

	req := httptest.NewRequest("GET", "http://assets.example.com/images/logo.png", nil)
	req.Host = "assets.example.com"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s)", resp.StatusCode, string(body))
	}

	if app.recorder.routeName != "assets" {
		t.Fatalf("expected assets route, got %s", app.recorder.routeName)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if app.recorder.requestID != resp.Header.Get("X-Request-ID") {
		t.Fatalf("request id visible to handler should match response header")
	}
}

func TestRouterHonorsInboundRequestID(t *testing.T) {
	app := newTestApp(t, true)

	req := httptest.NewRequest("GET", "http://assets.example.com/logo.png", nil)
	req.Header.Set("X-Request-ID", "edge-7f3a.01")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if got := resp.Header.Get("X-Request-ID"); got != "edge-7f3a.01" {
		t.Fatalf("inbound request id should be echoed, got %q", got)
	}
	if app.recorder.requestID != "edge-7f3a.01" {
		t.Fatalf("handler should see inbound request id, got %q", app.recorder.requestID)
	}
}

func TestRouterReplacesUnsafeRequestID(t *testing.T) {
	app := newTestApp(t, true)

	for _, inbound := range []string{"bad id", "<script>", strings.Repeat("a", maxRequestIDLength+1)} {
		req := httptest.NewRequest("GET", "http://assets.example.com/logo.png", nil)
		req.Header.Set("X-Request-ID", inbound)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
		got := resp.Header.Get("X-Request-ID")
		if got == inbound || !validRequestID(got) {
			t.Fatalf("unsafe request id %q should be replaced, got %q", inbound, got)
		}
	}
}

func TestRouterFallsBackToDefaultSite(t *testing.T) {
	app := newTestApp(t, true)

	req := httptest.NewRequest("GET", "http://unknown.local/logo.png", nil)
	req.Host = "unknown.local"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent || app.recorder.routeName != "sanity" {
		t.Fatalf("expected default site, got status %d route %s", resp.StatusCode, app.recorder.routeName)
	}
}

func TestRouterReturns404WhenHostUnknownWithoutDefault(t *testing.T) {
	app := newTestApp(t, false)

	req := httptest.NewRequest("GET", "http://unknown.local/logo.png", nil)
	req.Host = "unknown.local"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"host_unmapped"`)) || !bytes.Contains(body, []byte(`"unknown.local"`)) {
		t.Fatalf("expected host_unmapped error, got %s", string(body))
	}
	if app.recorder.routeName != "" {
		t.Fatalf("proxy should not be invoked")
	}
}

func TestRouterSkipsProxyForDiagnostics(t *testing.T) {
	app := newTestApp(t, false)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	req := httptest.NewRequest("GET", "http://unknown.local/-/ping", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "pong" {
		t.Fatalf("unexpected diagnostics response %d %s", resp.StatusCode, body)
	}
	if app.recorder.routeName != "" {
		t.Fatalf("proxy should not see diagnostics paths")
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	logger := logrus.New()
	registry := &SiteRegistry{}
	proxy := ProxyHandlerFunc(func(c fiber.Ctx, _ *SiteRoute) error { return nil })

	cases := []AppOptions{
		{Registry: registry, Proxy: proxy, ListenPort: 1},
		{Logger: logger, Proxy: proxy, ListenPort: 1},
		{Logger: logger, Registry: registry, ListenPort: 1},
		{Logger: logger, Registry: registry, Proxy: proxy},
	}
	for i, opts := range cases {
		if _, err := NewApp(opts); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

type testApp struct {
	*fiber.App
	recorder *proxyRecorder
}

func newTestApp(t *testing.T, withDefault bool) *testApp {
	t.Helper()

	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 8787},
		Sites: []config.SiteConfig{
			{Name: "assets", Domain: "assets.example.com", Origin: "https://assets-origin.example.com"},
		},
	}
	if withDefault {
		cfg.Sites = append(cfg.Sites, config.SiteConfig{Name: "sanity", Origin: "https://cdn.sanity.io"})
	}

	registry, err := NewSiteRegistry(cfg)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &proxyRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      recorder,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &testApp{App: app, recorder: recorder}
}

type proxyRecorder struct {
	routeName string
	requestID string
}

func (p *proxyRecorder) Handle(c fiber.Ctx, route *SiteRoute) error {
	p.routeName = route.Config.Name
	p.requestID = RequestID(c)
	return c.SendStatus(fiber.StatusNoContent)
}
