// Package api hosts the operator HTTP surface of a running worker pool.
// Routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /progress for the persisted-results counter of this run.
//
// It does not accept jobs; work arrives only through the broker.
package api
