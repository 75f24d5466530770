package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/edgecache/imgcache/internal/config"
	"github.com/edgecache/imgcache/internal/logging"
	"github.com/edgecache/imgcache/internal/server"
	"github.com/edgecache/imgcache/internal/stats"
	"github.com/edgecache/imgcache/internal/store"
)

// memStore 是带调用计数的内存存储，可注入 Get/Put 错误。
type memStore struct {
	mu      sync.Mutex
	objects map[string]*store.Object
	gets    int
	puts    int
	getErr  error
	putErr  error
	onGet   func(key string)
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string]*store.Object)}
}

func (m *memStore) Get(_ context.Context, key string) (*store.Object, error) {
	m.mu.Lock()
	m.gets++
	hook := m.onGet
	obj, ok := m.objects[key]
	err := m.getErr
	m.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return obj, nil
}

func (m *memStore) Put(_ context.Context, key string, body []byte, meta store.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = &store.Object{Key: key, Body: append([]byte(nil), body...), Metadata: meta}
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) counts() (gets, puts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets, m.puts
}

func (m *memStore) object(key string) (*store.Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// fakeOrigin 记录回源次数与最后一次请求的原始 URI。
type fakeOrigin struct {
	*httptest.Server
	hits       atomic.Int32
	lastURI    atomic.Value
	lastUAgent atomic.Value
}

func newFakeOrigin(t *testing.T, handler http.HandlerFunc) *fakeOrigin {
	t.Helper()
	origin := &fakeOrigin{}
	origin.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin.hits.Add(1)
		origin.lastURI.Store(r.RequestURI)
		origin.lastUAgent.Store(r.UserAgent())
		handler(w, r)
	}))
	t.Cleanup(origin.Close)
	return origin
}

func (o *fakeOrigin) requestURI() string {
	v, _ := o.lastURI.Load().(string)
	return v
}

func pngOrigin(t *testing.T) *fakeOrigin {
	return newFakeOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Origin", "cdn")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n"))
	})
}

func newTestRoute(origin, keyPrefix string) *server.SiteRoute {
	return &server.SiteRoute{
		Config:     config.SiteConfig{Name: "sanity", Origin: origin, KeyPrefix: keyPrefix},
		ListenPort: 8787,
	}
}

func newTestHandler(t *testing.T, st store.Store, mutate ...func(*Options)) *Handler {
	t.Helper()
	opts := Options{
		Client: server.NewUpstreamClient(nil),
		Logger: logging.NewDiscardLogger(),
		Store:  st,
		Stats:  stats.NewRecorder(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	handler, err := NewHandler(opts)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func mustResponse(t *testing.T, result Result) *Response {
	t.Helper()
	resp, ok := result.Response()
	if !ok {
		t.Fatalf("expected success, got fault: %v", result.Err())
	}
	return resp
}
