package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures lifecycle events drive the counters and gauge.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{JobID: "a", TS: now, Stage: progress.StageJobQueued, Source: "fxstreet"},
		{JobID: "a", TS: now, Stage: progress.StageJobStart, Source: "fxstreet"},
		{JobID: "a", TS: now, Stage: progress.StageJobStart, Source: "fxstreet"},
		{JobID: "a", TS: now, Stage: progress.StageJobRetry, Source: "fxstreet", Note: "exit 1", Dur: time.Second},
		{JobID: "a", TS: now, Stage: progress.StageJobStart, Source: "fxstreet"},
		{JobID: "a", TS: now, Stage: progress.StageJobDone, Source: "fxstreet", Saved: 3, Skipped: 2, Dur: 2 * time.Second},
		{JobID: "b", TS: now, Stage: progress.StageJobStart, Source: "reuters"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsQueued.WithLabelValues("fxstreet")), 1e-9)
	require.InDelta(t, 3.0, testutil.ToFloat64(sink.jobsStarted.WithLabelValues("fxstreet")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsRetried.WithLabelValues("fxstreet")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("fxstreet", "success")), 1e-9)
	require.InDelta(t, 3.0, testutil.ToFloat64(sink.articles.WithLabelValues("fxstreet", "saved")), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.articles.WithLabelValues("fxstreet", "skipped")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsRunning), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.jobRuntime, "newscrawler_job_runtime_seconds"))
}

// TestPrometheusSinkDuplicateRegistration verifies registration conflicts are reported.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
