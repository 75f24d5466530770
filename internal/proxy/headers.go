package proxy

import (
	"net/http"
	"net/textproto"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/edgecache/imgcache/internal/server"
)

// HeaderField 是一条响应头。
type HeaderField struct {
	Name  string
	Value string
}

// Headers 是按写入顺序保存的响应头列表，名称统一为规范形式。
// 零值可直接使用。
type Headers struct {
	fields []HeaderField
}

// CanonicalHeaderName 返回 name 的规范形式（如 content-type → Content-Type）。
func CanonicalHeaderName(name string) string {
	return textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))
}

// Add 追加一条头，不影响同名的已有值。
func (h *Headers) Add(name, value string) {
	h.fields = append(h.fields, HeaderField{Name: CanonicalHeaderName(name), Value: value})
}

// Set 删除同名的全部旧值，再把新值追加到末尾。
func (h *Headers) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Del 删除同名的全部值。
func (h *Headers) Del(name string) {
	name = CanonicalHeaderName(name)
	kept := h.fields[:0]
	for _, f := range h.fields {
		if f.Name != name {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Get 返回第一个同名值，不存在时返回空串。
func (h Headers) Get(name string) string {
	name = CanonicalHeaderName(name)
	for _, f := range h.fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func (h Headers) Values(name string) []string {
	name = CanonicalHeaderName(name)
	var values []string
	for _, f := range h.fields {
		if f.Name == name {
			values = append(values, f.Value)
		}
	}
	return values
}

// Fields 返回副本，调用方修改不会影响 h。
func (h Headers) Fields() []HeaderField {
	out := make([]HeaderField, len(h.fields))
	copy(out, h.fields)
	return out
}

func (h Headers) Len() int {
	return len(h.fields)
}

// HeadersFromHTTP 复制上游响应头：去掉 hop-by-hop 字段（含 Connection 中声明的字段）
// 与 Content-Length（正文长度由写出时重新计算），名称按字母序排列以保证输出稳定。
func HeadersFromHTTP(src http.Header) Headers {
	drop := server.HopByHop(src)
	drop[fiber.HeaderContentLength] = struct{}{}

	names := make([]string, 0, len(src))
	for name := range src {
		if _, skip := drop[CanonicalHeaderName(name)]; skip {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var out Headers
	for _, name := range names {
		for _, value := range src[name] {
			out.Add(name, value)
		}
	}
	return out
}
