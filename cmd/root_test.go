package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

type fakeApp struct {
	served  bool
	closed  bool
	payload crawler.JobPayload
	result  crawler.JobResult
	err     error
}

func (f *fakeApp) Serve(context.Context) error {
	f.served = true
	return f.err
}

func (f *fakeApp) Crawl(_ context.Context, payload crawler.JobPayload) (crawler.JobResult, error) {
	f.payload = payload
	return f.result, f.err
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func withFakeApp(t *testing.T, app *fakeApp) *string {
	t.Helper()
	var gotConfig string
	orig := newApp
	newApp = func(_ context.Context, cfgFile string) (App, error) {
		gotConfig = cfgFile
		return app, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &gotConfig
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// TestCrawlCommandPrintsResult verifies flags reach the app and the result is printed as JSON.
func TestCrawlCommandPrintsResult(t *testing.T) {
	app := &fakeApp{result: crawler.JobResult{Success: true, Source: "fxstreet", Scraped: 3, Saved: 2, Skipped: 1}}
	cfgFile := withFakeApp(t, app)

	out, err := execute("crawl", "--config", "news.yaml", "--source", "fxstreet", "--max-articles", "3")
	require.NoError(t, err)
	require.Equal(t, "news.yaml", *cfgFile)
	require.Equal(t, crawler.JobPayload{Source: "fxstreet", MaxArticles: 3}, app.payload)
	require.Contains(t, out, `"saved": 2`)
	require.True(t, app.closed)
}

// TestCrawlCommandDefaults verifies the default source and cap.
func TestCrawlCommandDefaults(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute("crawl")
	require.NoError(t, err)
	require.Equal(t, crawler.JobPayload{Source: "fxstreet", MaxArticles: 10}, app.payload)
}

// TestCrawlCommandPropagatesError verifies a failed crawl exits with an error and still closes the app.
func TestCrawlCommandPropagatesError(t *testing.T) {
	app := &fakeApp{err: errors.New("boom")}
	withFakeApp(t, app)

	_, err := execute("crawl", "--source", "fxstreet")
	require.ErrorContains(t, err, "crawl fxstreet: boom")
	require.True(t, app.closed)
}

// TestServeCommandRunsApp verifies serve hands control to the app.
func TestServeCommandRunsApp(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute("serve")
	require.NoError(t, err)
	require.True(t, app.served)
}

// TestRootCommandInitFailure verifies factory errors surface.
func TestRootCommandInitFailure(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("no config") }
	t.Cleanup(func() { newApp = orig })

	_, err := execute("crawl")
	require.ErrorContains(t, err, "failed to initialize application services: no config")
}
