// Package api hosts the operator HTTP endpoint that runs alongside a crawl.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/crawl/status for the coordinator snapshot.
package api
