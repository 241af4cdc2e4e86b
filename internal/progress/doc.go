// Package progress carries crawl job lifecycle events from the queue and
// workers to pluggable sinks. Events are buffered by a non-blocking Hub and
// flushed in batches to Prometheus, the log, or a message bus.
package progress
