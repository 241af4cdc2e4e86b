// Package crawler defines the core types shared across subsystems: sources,
// articles, crawl jobs, the collaborator interfaces the pipeline depends on,
// and the error taxonomy used to classify failures as retryable or not.
package crawler
