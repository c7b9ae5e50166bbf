// Package progress provides the event primitives, non-blocking hub, and emitter
// interface the crawl loop uses to report progress. The hub batches events on
// a background goroutine and fans them out to pluggable sinks such as
// Prometheus counters, a live snapshot for the status API, or a Postgres run
// history.
package progress
