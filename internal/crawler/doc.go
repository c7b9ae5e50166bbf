// Package crawler implements the resumable crawl engine: request pacing,
// bounded retries, listing pagination with identifier dedup, the per-work
// pipeline and the run controller that sequences them.
package crawler
