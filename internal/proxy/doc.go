// Package proxy implements the read-through image cache. Serve derives the
// cache key from the raw request path, answers hits from the store and fills
// misses from the site's origin. It returns a Result instead of writing to the
// connection; Handle is the single adapter that turns a Result into a Fiber
// response, converting faults (and recovered panics) into a 500.
package proxy
