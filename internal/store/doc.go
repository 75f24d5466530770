// Package store defines the durable blob store behind the image proxy. A store
// maps a cache key to the image bytes plus a small metadata record (content
// type, write time). Entries are written once on the first successful origin
// fetch and never expire; every backend commits a Put atomically so a failed
// write leaves the key absent rather than half-written. Backends cover the
// local filesystem, a bbolt file, S3-compatible object storage (S3, R2,
// MinIO), Google Cloud Storage and Redis. Open picks one from config.
package store
