// Package api hosts the status server that runs alongside a crawl. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress and /v1/progress/{run_id} for the live run snapshot.
//   - GET /v1/runs and /v1/runs/{run_id} for run history when a RunRepository
//     is configured.
package api
