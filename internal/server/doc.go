// Package server hosts the Fiber HTTP service for the image cache: the
// request-ID middleware, Host based site resolution through SiteRegistry, and
// the shared upstream HTTP client. Proxy logic lives in internal/proxy and is
// injected through the ProxyHandler interface so the router can be tested
// with fakes. Diagnostics endpoints under /-/ are registered by the routes
// subpackage after NewApp returns.
package server
