// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/watch/run to schedule a watch cycle.
//   - GET /v1/reports and /v1/digest for report and digest retrieval.
package api
