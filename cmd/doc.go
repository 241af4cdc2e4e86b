// Package cmd defines the CLI commands for the newscrawler executable.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, crawl job submission and status, and read-only
//     article and source listings. Submissions are validated and pushed onto the durable job queue.
//   - Queue & worker: internal/queue.Service orders jobs by priority then submission order, retries failed
//     attempts with exponential backoff, and recovers jobs left active by a crash. A single worker drains it.
//   - Scrape pipeline: the worker runs the configured external scraper for the job's source, decodes the JSON
//     array it prints, and hands the candidates to internal/ingest, which deduplicates by GUID and URL before
//     persisting. Raw scraper output can be archived to memory, local disk, or GCS.
//   - Scheduling: internal/scheduler submits cron-driven crawl jobs at low priority, skipping overlapping runs.
//   - Persistence: articles and sources live in Postgres (pgx), SQLite, or memory. The queue lives in Badger or
//     memory.
//   - Observability: zap logs, Prometheus metrics at /metrics, optional OpenTelemetry tracing, and a progress hub
//     that fans lifecycle events out to logs, metrics, and Pub/Sub, NATS, or RabbitMQ.
//
// Quick checklist:
//   - Configure via a YAML file passed with --config, a .env file, or NEWSCRAWLER_* environment variables
//     (DATABASE_URL is honoured for database.dsn).
//   - Run the service: newscrawler serve --config config.yaml
//   - Run one crawl without the queue: newscrawler crawl --source fxstreet --max-articles 10
package cmd
