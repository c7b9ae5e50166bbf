// Package sinks implements concrete progress consumers: structured logging,
// Prometheus counters, an in-memory snapshot served by the status API, and a
// repository-backed run history. Each sink satisfies progress.Sink.
package sinks
