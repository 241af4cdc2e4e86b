// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - POST /api/v1/crawler/jobs and POST /api/v1/crawler/{source}-news queue crawls.
//   - GET /api/v1/crawler/jobs and /api/v1/crawler/jobs/{jobID} report job status.
//   - GET /api/v1/articles and /api/v1/sources read persisted content.
//   - GET /healthz, /readyz for probes and /metrics for Prometheus scraping.
package api
