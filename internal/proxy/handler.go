package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/edgecache/imgcache/internal/config"
	"github.com/edgecache/imgcache/internal/dedupe"
	"github.com/edgecache/imgcache/internal/logging"
	"github.com/edgecache/imgcache/internal/server"
	"github.com/edgecache/imgcache/internal/stats"
	"github.com/edgecache/imgcache/internal/store"
	"github.com/edgecache/imgcache/internal/version"
)

const defaultMaxObjectSize = 64 << 20

// Options 汇总 Handler 的依赖；Client/Logger/Store 必填，其余为空时使用默认值。
type Options struct {
	Client           *http.Client
	Logger           *logrus.Logger
	Store            store.Store
	Dedupe           dedupe.Group
	Stats            *stats.Recorder
	StoreFailureMode config.StoreFailureMode
	MaxObjectSize    int64
}

// Handler 负责“查存储 → 命中直接返回 / 未命中回源写存储”的全流程。
type Handler struct {
	client        *http.Client
	logger        *logrus.Logger
	store         store.Store
	group         dedupe.Group
	stats         *stats.Recorder
	failClosed    bool
	maxObjectSize int64
	userAgent     string

	// clients 缓存配置了 Proxy 的站点各自的 client，保持连接复用。
	clients sync.Map // key: *server.SiteRoute
}

// NewHandler constructs a proxy handler from explicit dependencies.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Client == nil {
		return nil, errors.New("http client is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}

	group := opts.Dedupe
	if group == nil {
		group = dedupe.NewNoOpGroup()
	}
	maxSize := opts.MaxObjectSize
	if maxSize <= 0 {
		maxSize = defaultMaxObjectSize
	}

	return &Handler{
		client:        opts.Client,
		logger:        opts.Logger,
		store:         opts.Store,
		group:         group,
		stats:         opts.Stats,
		failClosed:    opts.StoreFailureMode == config.StoreFailureFailClosed,
		maxObjectSize: maxSize,
		userAgent:     "imgcache/" + version.Version,
	}, nil
}

// Serve 处理一次图片请求，不接触连接本身。rawPath/rawQuery 为未解码的原始值。
func (h *Handler) Serve(ctx context.Context, route *server.SiteRoute, rawPath, rawQuery string) Result {
	key, ok := CacheKey(rawPath)
	if !ok {
		return Success(notFoundResponse())
	}
	storeKey := route.StoreKey(key)

	if resp, err := h.lookup(ctx, storeKey); err != nil || resp != nil {
		if err != nil {
			return Fault(err)
		}
		return Success(resp)
	}

	fillCtx := ctx
	if dedupe.SharesResults(h.group) {
		// 结果会交给其他等待者，不能因首个请求断开而失败。
		fillCtx = context.WithoutCancel(ctx)
	}
	recheck := dedupe.Guards(h.group)

	// 排队等待随请求取消；回源本身使用 fillCtx。
	v, err, _ := h.group.Do(ctx, storeKey, func() (interface{}, error) {
		if recheck {
			if resp, err := h.lookup(fillCtx, storeKey); err != nil || resp != nil {
				return resp, err
			}
		}
		return h.fill(fillCtx, route, key, storeKey, rawQuery)
	})
	if err != nil {
		return Fault(err)
	}
	return Success(v.(*Response))
}

// lookup 命中时返回响应；未命中返回 (nil, nil)。
func (h *Handler) lookup(ctx context.Context, storeKey string) (*Response, error) {
	obj, err := h.store.Get(ctx, storeKey)
	switch {
	case err == nil:
		return hitResponse(obj), nil
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	default:
		h.stats.StoreError()
		return nil, fmt.Errorf("store get %s: %w", storeKey, err)
	}
}

// fill 回源拉取并写入存储。非 2xx 直接透传状态码，不写存储、不重试。
func (h *Handler) fill(ctx context.Context, route *server.SiteRoute, key, storeKey, rawQuery string) (*Response, error) {
	target := originURL(route, key, rawQuery)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("User-Agent", h.userAgent)

	upstream, err := h.clientFor(route).Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream fetch %s: %w", target, err)
	}
	defer upstream.Body.Close()

	if upstream.StatusCode < 200 || upstream.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(upstream.Body, 64<<10))
		return upstreamFailureResponse(upstream.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(upstream.Body, h.maxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(body)) > h.maxObjectSize {
		return nil, fmt.Errorf("upstream body for %s exceeds %d bytes", key, h.maxObjectSize)
	}

	contentType := upstream.Header.Get(fiber.HeaderContentType)
	if contentType == "" {
		contentType = store.DefaultContentType
	}

	meta := store.Metadata{ContentType: contentType, StoredAt: time.Now().UTC()}
	if err := h.store.Put(ctx, storeKey, body, meta); err != nil {
		h.stats.StoreError()
		if h.failClosed {
			return nil, fmt.Errorf("store put %s: %w", storeKey, err)
		}
		h.logger.WithError(err).WithFields(logging.RequestFields(route.Config.Name, route.Config.Domain, storeKey, false)).
			WithField("action", "store_put").
			Warn("store_put_failed")
	}

	return missResponse(upstream.StatusCode, upstream.Header, contentType, body), nil
}

func (h *Handler) clientFor(route *server.SiteRoute) *http.Client {
	if route.ProxyURL == nil {
		return h.client
	}
	if cached, ok := h.clients.Load(route); ok {
		return cached.(*http.Client)
	}
	client, _ := h.clients.LoadOrStore(route, server.ClientForProxy(h.client, route.ProxyURL))
	return client.(*http.Client)
}

// originURL 拼出 <origin>/<key><?query>，key 与 query 保持原始编码。
func originURL(route *server.SiteRoute, key, rawQuery string) string {
	target := route.Config.Origin + "/" + key
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// Handle 是 Serve 与 Fiber 之间唯一的适配层：Fault 与 panic 统一转为 500。
func (h *Handler) Handle(c fiber.Ctx, route *server.SiteRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	rawPath := string(c.Request().URI().PathOriginal())

	var result Result
	switch c.Method() {
	case fiber.MethodGet, fiber.MethodHead:
		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		result = h.serveRecovered(ctx, route, rawPath, string(c.Request().URI().QueryString()))
	default:
		result = Success(methodNotAllowedResponse())
	}

	resp, ok := result.Response()
	if !ok {
		resp = faultResponse(result.Err())
	}

	h.stats.Observe(resp.outcome, time.Since(started), len(resp.Body))
	h.logResult(c, route, rawPath, resp, result.Err(), requestID, started)
	return writeResponse(c, resp, requestID)
}

func (h *Handler) serveRecovered(ctx context.Context, route *server.SiteRoute, rawPath, rawQuery string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Fault(fmt.Errorf("panic: %v", r))
		}
	}()
	return h.Serve(ctx, route, rawPath, rawQuery)
}

// writeResponse 只读取 resp，共享的 Response 不会被修改。
func writeResponse(c fiber.Ctx, resp *Response, requestID string) error {
	header := &c.Response().Header
	for _, f := range resp.Headers.fields {
		header.Add(f.Name, f.Value)
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Status(resp.Status).Send(resp.Body)
}

func (h *Handler) logResult(
	c fiber.Ctx,
	route *server.SiteRoute,
	rawPath string,
	resp *Response,
	err error,
	requestID string,
	started time.Time,
) {
	fields := logging.RequestFields(route.Config.Name, route.Config.Domain, strings.TrimLeft(rawPath, "/"), resp.CacheHit())
	fields["action"] = "proxy"
	fields["method"] = c.Method()
	fields["status"] = resp.Status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}

	entry := h.logger.WithFields(fields)
	switch resp.outcome {
	case stats.OutcomeFault:
		entry.WithField("error", err.Error()).Error("proxy_failed")
	case stats.OutcomeUpstreamFailure:
		entry.Warn("proxy_upstream_failed")
	default:
		entry.Info("proxy_complete")
	}
}
