package proxy

import (
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/edgecache/imgcache/internal/stats"
	"github.com/edgecache/imgcache/internal/store"
)

const (
	// ImmutableCacheControl 强制写在每个成功响应上。
	ImmutableCacheControl = "public, max-age=31536000, immutable"

	headerImageCache = "X-Image-Cache"
	cacheStatusHit   = "HIT"
	cacheStatusMiss  = "MISS"

	notFoundBody        = "Not found"
	upstreamFailureBody = "Upstream fetch failed"
	faultBodyPrefix     = "image proxy error: "
	textPlain           = "text/plain; charset=utf-8"
)

// Response 是写回客户端前的完整响应。启用 singleflight 时同一个 Response
// 会交给多个请求，构造完成后不得再修改。
type Response struct {
	Status  int
	Headers Headers
	Body    []byte

	outcome stats.Outcome
}

// CacheHit 报告响应是否直接来自存储。
func (r *Response) CacheHit() bool {
	return r != nil && r.outcome == stats.OutcomeHit
}

// Result 是 Serve 的返回值：要么是 Response，要么是一个故障。
type Result struct {
	response *Response
	err      error
}

// Success 包装一个可直接写出的响应。
func Success(resp *Response) Result {
	return Result{response: resp}
}

// Fault 包装一个未处理的故障，适配层会把它转换为 500。
func Fault(err error) Result {
	return Result{err: err}
}

// Response 返回成功结果；Fault 时第二个返回值为 false。
func (r Result) Response() (*Response, bool) {
	if r.err != nil || r.response == nil {
		return nil, false
	}
	return r.response, true
}

// Err 返回故障原因，成功时为 nil。
func (r Result) Err() error {
	return r.err
}

func notFoundResponse() *Response {
	return textResponse(fiber.StatusNotFound, notFoundBody, stats.OutcomeNotFound)
}

func upstreamFailureResponse(status int) *Response {
	return textResponse(status, upstreamFailureBody, stats.OutcomeUpstreamFailure)
}

func methodNotAllowedResponse() *Response {
	resp := textResponse(fiber.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed), stats.OutcomeRejected)
	resp.Headers.Set(fiber.HeaderAllow, "GET, HEAD")
	return resp
}

// faultResponse 把故障转换为 500，正文携带故障描述。
func faultResponse(err error) *Response {
	return textResponse(fiber.StatusInternalServerError, faultBodyPrefix+err.Error(), stats.OutcomeFault)
}

func textResponse(status int, body string, outcome stats.Outcome) *Response {
	resp := &Response{Status: status, Body: []byte(body), outcome: outcome}
	resp.Headers.Set(fiber.HeaderContentType, textPlain)
	return resp
}

// hitResponse 用存储中的元数据构造命中响应。
func hitResponse(obj *store.Object) *Response {
	resp := &Response{Status: fiber.StatusOK, Body: obj.Body, outcome: stats.OutcomeHit}
	resp.Headers.Set(fiber.HeaderContentType, obj.Metadata.ContentType)
	resp.Headers.Set(headerImageCache, cacheStatusHit)
	resp.Headers.Set(fiber.HeaderCacheControl, ImmutableCacheControl)
	return resp
}

// missResponse 以上游响应头为基础，Content-Type 取最终写入存储的值，Cache-Control 最后覆盖。
func missResponse(status int, upstream http.Header, contentType string, body []byte) *Response {
	resp := &Response{Status: status, Headers: HeadersFromHTTP(upstream), Body: body, outcome: stats.OutcomeMiss}
	resp.Headers.Set(fiber.HeaderContentType, contentType)
	resp.Headers.Set(headerImageCache, cacheStatusMiss)
	resp.Headers.Set(fiber.HeaderCacheControl, ImmutableCacheControl)
	return resp
}
