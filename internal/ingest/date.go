package ingest

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// NormalizeDate converts a scraper-supplied timestamp into a time.Time. It tries
// strict RFC 3339 first, then a permissive parse covering RSS/RFC 1123 and
// common "YYYY-MM-DD hh:mm:ss" forms, and finally falls back to now(). It never
// fails.
func NormalizeDate(raw string, now func() time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC()
		}
		if t, err := dateparse.ParseIn(raw, time.UTC); err == nil {
			return t.UTC()
		}
	}
	if now == nil {
		now = time.Now
	}
	return now().UTC()
}
