package server

import "github.com/JakeFAU/realtime-news-crawler/internal/scheduler"

func scheduleEntry(spec, source string) scheduler.Entry {
	return scheduler.Entry{Spec: spec, Source: source, MaxArticles: 1}
}
