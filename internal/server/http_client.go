package server

import (
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/edgecache/imgcache/internal/config"
)

const defaultUpstreamTimeout = 30 * time.Second

// newUpstreamTransport 构建回源 Transport；环境变量里的 HTTP(S)_PROXY 依旧生效，
// 站点级 Proxy 由 ClientForProxy 覆盖。
func newUpstreamTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// NewUpstreamClient 返回所有站点共享的回源 client，整体超时取自 UpstreamTimeout。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := defaultUpstreamTimeout
	if cfg != nil {
		if configured := cfg.Global.UpstreamTimeout.DurationValue(); configured > 0 {
			timeout = configured
		}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: newUpstreamTransport(),
	}
}

// ClientForProxy 派生一个经 proxyURL 转发的 client，超时与其余 Transport 参数沿用 base。
// proxyURL 为空时直接返回 base。
func ClientForProxy(base *http.Client, proxyURL *url.URL) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if proxyURL == nil {
		return base
	}

	var transport *http.Transport
	if t, ok := base.Transport.(*http.Transport); ok && t != nil {
		transport = t.Clone()
	} else {
		transport = newUpstreamTransport()
	}
	transport.Proxy = http.ProxyURL(proxyURL)

	derived := *base
	derived.Transport = transport
	return &derived
}

// RFC 7230 §6.1 列出的逐跳头，外加仍被部分代理使用的 Proxy-Connection。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// HopByHop returns the canonical names in h that a proxy must not forward:
// the fixed hop-by-hop set plus every field named by h's Connection header.
func HopByHop(h http.Header) map[string]struct{} {
	drop := make(map[string]struct{}, len(hopByHopHeaders))
	for name := range hopByHopHeaders {
		drop[name] = struct{}{}
	}
	for _, value := range h.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				drop[textproto.CanonicalMIMEHeaderKey(token)] = struct{}{}
			}
		}
	}
	return drop
}
