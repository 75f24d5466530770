package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/edgecache/imgcache/internal/server"
	"github.com/edgecache/imgcache/internal/stats"
	"github.com/edgecache/imgcache/internal/version"
)

// DiagnosticsOptions 汇总诊断接口依赖；Stats 为空时不注册 /-/stats。
type DiagnosticsOptions struct {
	Registry     *server.SiteRegistry
	Stats        *stats.Recorder
	StoreBackend string
	// StoreFaults 非空时，/-/stats 额外输出已注入的存储故障次数。
	StoreFaults func() (gets, puts int64)
}

// RegisterDiagnosticsRoutes 暴露 /-/healthz、/-/sites、/-/stats。
// 必须在 server.NewApp 之后调用，catch-all 路由会把 /-/ 前缀交给这里。
func RegisterDiagnosticsRoutes(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Version,
			"store":   opts.StoreBackend,
		})
	})

	if opts.Registry != nil {
		app.Get("/-/sites", func(c fiber.Ctx) error {
			return c.JSON(fiber.Map{"sites": encodeSites(opts.Registry.List())})
		})
	}

	if opts.Stats != nil {
		app.Get("/-/stats", func(c fiber.Ctx) error {
			payload := statsPayload{Snapshot: opts.Stats.Snapshot()}
			if opts.StoreFaults != nil {
				gets, puts := opts.StoreFaults()
				payload.InjectedFaults = &faultPayload{Get: gets, Put: puts}
			}
			return c.JSON(payload)
		})
	}
}

type statsPayload struct {
	stats.Snapshot
	InjectedFaults *faultPayload `json:"injected_faults,omitempty"`
}

type faultPayload struct {
	Get int64 `json:"get"`
	Put int64 `json:"put"`
}

type sitePayload struct {
	Name      string `json:"name"`
	Domain    string `json:"domain"`
	Default   bool   `json:"default"`
	Origin    string `json:"origin"`
	KeyPrefix string `json:"key_prefix,omitempty"`
	Proxied   bool   `json:"proxied"`
}

// encodeSites 不输出 Proxy 地址本身，代理 URL 可能携带凭据。
func encodeSites(routes []server.SiteRoute) []sitePayload {
	result := make([]sitePayload, 0, len(routes))
	for _, route := range routes {
		origin := route.Config.Origin
		if route.OriginURL != nil {
			origin = route.OriginURL.Redacted()
		}
		result = append(result, sitePayload{
			Name:      route.Config.Name,
			Domain:    route.Config.Domain,
			Default:   route.Config.IsDefault(),
			Origin:    origin,
			KeyPrefix: route.Config.KeyPrefix,
			Proxied:   route.ProxyURL != nil,
		})
	}
	return result
}
