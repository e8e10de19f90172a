// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to submit a crawl, GET /v1/jobs[/summary|/{job_id}] to
//     follow it, POST /v1/jobs/{job_id}/retry to resubmit a failed one.
//   - GET /v1/similarities and POST /v1/similarities/{id}/resolve for the
//     duplicate review queue.
//   - GET/PUT /v1/config/system for detection thresholds.
package api
