// Package api hosts the read-only HTTP interface. Notable routes:
//   - GET / and /healthz for liveness, /readyz for store connectivity.
//   - GET /releases and /stats for summarized content.
//   - GET /v1/runs, GET /v1/runs/{run_id} and POST /v1/runs for run history
//     and on-demand runs.
//   - GET /metrics for Prometheus scraping.
package api
