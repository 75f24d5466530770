package server

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/edgecache/imgcache/internal/config"
)

func TestNewUpstreamClientTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{UpstreamTimeout: config.Duration(45 * time.Second)},
	}
	if got := NewUpstreamClient(cfg).Timeout; got != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", got)
	}
	if got := NewUpstreamClient(nil).Timeout; got != defaultUpstreamTimeout {
		t.Fatalf("nil config should fall back to %s, got %s", defaultUpstreamTimeout, got)
	}
}

func TestClientForProxy(t *testing.T) {
	base := NewUpstreamClient(nil)
	if got := ClientForProxy(base, nil); got != base {
		t.Fatalf("expected base client when proxy is unset")
	}

	proxyURL, err := url.Parse("http://proxy.internal:3128")
	if err != nil {
		t.Fatalf("parse proxy url: %v", err)
	}
	derived := ClientForProxy(base, proxyURL)
	if derived == base || derived.Transport == base.Transport {
		t.Fatalf("expected a derived client with its own transport")
	}
	if derived.Timeout != base.Timeout {
		t.Fatalf("derived client should keep timeout")
	}

	transport, ok := derived.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("unexpected transport %T", derived.Transport)
	}
	req, err := http.NewRequest(http.MethodGet, "https://cdn.example.com/a.png", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	got, err := transport.Proxy(req)
	if err != nil || got.String() != proxyURL.String() {
		t.Fatalf("unexpected proxy %v err=%v", got, err)
	}
	if transport.MaxIdleConnsPerHost != base.Transport.(*http.Transport).MaxIdleConnsPerHost {
		t.Fatalf("derived transport should keep pool settings")
	}
}

func TestHopByHop(t *testing.T) {
	h := http.Header{}
	h.Add("Connection", "keep-alive, X-Edge-Trace")
	h.Add("Connection", "x-debug")
	h.Set("X-Edge-Trace", "abc")
	h.Set("Content-Type", "image/png")

	drop := HopByHop(h)
	for _, name := range []string{"Connection", "Transfer-Encoding", "Keep-Alive", "X-Edge-Trace", "X-Debug"} {
		if _, ok := drop[name]; !ok {
			t.Fatalf("%s should be dropped, got %v", name, drop)
		}
	}
	if _, ok := drop["Content-Type"]; ok {
		t.Fatalf("Content-Type must be forwarded")
	}
	if _, ok := HopByHop(http.Header{})["Proxy-Connection"]; !ok {
		t.Fatalf("Proxy-Connection is always hop-by-hop")
	}
}
