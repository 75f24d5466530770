package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler is the component that turns a resolved site request into an
// image response. Tests inject fakes through this interface.
type ProxyHandler interface {
	Handle(fiber.Ctx, *SiteRoute) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *SiteRoute) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *SiteRoute) error {
	return f(c, route)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *SiteRegistry
	Proxy      ProxyHandler
	ListenPort int
}

const (
	contextKeyRequestID = "_imgcache_request_id"

	headerRequestID    = "X-Request-ID"
	maxRequestIDLength = 64

	// DiagnosticsPrefix 下的路径不参与站点解析，由 routes 包注册。
	DiagnosticsPrefix = "/-/"
)

// NewApp builds a Fiber application that tags every request with an ID,
// resolves the site from the Host header and hands the request to
// opts.Proxy. Paths under DiagnosticsPrefix fall through to whatever
// routes the caller registers afterwards.
func NewApp(opts AppOptions) (*fiber.App, error) {
	switch {
	case opts.Logger == nil:
		return nil, errors.New("logger is required")
	case opts.Registry == nil:
		return nil, errors.New("site registry is required")
	case opts.Proxy == nil:
		return nil, errors.New("proxy handler is required")
	case opts.ListenPort <= 0:
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})
	app.Use(recover.New())
	app.Use(requestIDMiddleware)

	d := &dispatcher{opts: opts}
	app.All("/*", d.serve)
	return app, nil
}

// requestIDMiddleware 沿用客户端传入的合法 X-Request-ID，否则生成新的 UUID。
func requestIDMiddleware(c fiber.Ctx) error {
	reqID := strings.TrimSpace(c.Get(headerRequestID))
	if !validRequestID(reqID) {
		reqID = uuid.NewString()
	}
	c.Locals(contextKeyRequestID, reqID)
	c.Set(headerRequestID, reqID)
	return c.Next()
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

type dispatcher struct {
	opts AppOptions
}

func (d *dispatcher) serve(c fiber.Ctx) error {
	if strings.HasPrefix(string(c.Request().URI().Path()), DiagnosticsPrefix) {
		return c.Next()
	}

	host := requestHost(c)
	route, ok := d.opts.Registry.Lookup(host)
	if !ok {
		d.opts.Logger.WithFields(logrus.Fields{
			"action":     "host_lookup",
			"host":       host,
			"port":       d.opts.ListenPort,
			"request_id": RequestID(c),
		}).Warn("host_unmapped")
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "host_unmapped",
			"host":  host,
		})
	}

	return d.opts.Proxy.Handle(c, route)
}

func requestHost(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return strings.TrimSpace(string(raw))
	}
	return c.Hostname()
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	reqID, _ := c.Locals(contextKeyRequestID).(string)
	return reqID
}
