// Package api hosts the worker's operator HTTP surface:
//   - GET /healthz and /readyz for probes; readiness follows the coordinator
//     connection state.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/runs and /api/runs/{job_id}/{run_id} for the job run ledger.
package api
