// Package dedupe collapses concurrent cache-miss fetches for the same store
// key. The proxy wraps its "re-check store, fetch origin, put" sequence in a
// Group so that only one origin request per key is in flight.
//
// Three implementations are available: a no-op group (every caller fetches),
// an in-process singleflight group (waiters share the leader's result) and a
// filesystem lock group (mutual exclusion across processes on one host).
package dedupe
