package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/edgecache/imgcache/internal/config"
)

// SiteRoute 聚合站点配置与启动时解析好的 URL，供路由/代理层直接复用。
type SiteRoute struct {
	// Config 是 config.toml 中 [[Site]] 的副本。
	Config config.SiteConfig
	// ListenPort 记录当前监听端口，用于日志输出。
	ListenPort int
	OriginURL  *url.URL
	ProxyURL   *url.URL
}

// StoreKey 返回写入存储时使用的 key：KeyPrefix + 请求 key。
func (r *SiteRoute) StoreKey(key string) string {
	if r == nil || r.Config.KeyPrefix == "" {
		return key
	}
	return r.Config.KeyPrefix + key
}

// SiteRegistry 提供 Host 到 SiteRoute 的查询能力；未匹配的 Host 落到默认站点。
type SiteRegistry struct {
	routes   map[string]*SiteRoute
	fallback *SiteRoute
	ordered  []*SiteRoute
}

// NewSiteRegistry 根据配置构建 Host 映射，启动阶段创建一次并复用。
func NewSiteRegistry(cfg *config.Config) (*SiteRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &SiteRegistry{
		routes: make(map[string]*SiteRoute, len(cfg.Sites)),
	}

	for _, site := range cfg.Sites {
		route, err := buildSiteRoute(cfg.Global.ListenPort, site)
		if err != nil {
			return nil, err
		}

		if site.IsDefault() {
			if registry.fallback != nil {
				return nil, fmt.Errorf("site %s: only one default site allowed (already %s)", site.Name, registry.fallback.Config.Name)
			}
			registry.fallback = route
		} else {
			host := normalizeDomain(site.Domain)
			if host == "" {
				return nil, fmt.Errorf("invalid domain for site %s", site.Name)
			}
			if _, exists := registry.routes[host]; exists {
				return nil, fmt.Errorf("duplicate domain mapping detected for %s", host)
			}
			registry.routes[host] = route
		}
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找站点，找不到时返回默认站点（若存在）。
func (r *SiteRegistry) Lookup(host string) (*SiteRoute, bool) {
	if r == nil {
		return nil, false
	}

	if normalized, _ := normalizeHost(host); normalized != "" {
		if route, ok := r.routes[normalized]; ok {
			return route, true
		}
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// List 按配置顺序返回站点副本，用于诊断输出。
func (r *SiteRegistry) List() []SiteRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]SiteRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

func buildSiteRoute(port int, site config.SiteConfig) (*SiteRoute, error) {
	originURL, err := url.Parse(site.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin for site %s: %w", site.Name, err)
	}

	var proxyURL *url.URL
	if site.Proxy != "" {
		proxyURL, err = url.Parse(site.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy for site %s: %w", site.Name, err)
		}
	}

	return &SiteRoute{
		Config:     site,
		ListenPort: port,
		OriginURL:  originURL,
		ProxyURL:   proxyURL,
	}, nil
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	return strings.ToLower(host), port
}
