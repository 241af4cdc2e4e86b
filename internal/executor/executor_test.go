package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/hash/sha256"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func shellExecutor(script string, mutate func(*Config)) *Executor {
	cfg := Config{Command: []string{"sh", "-c", script, "scraper"}}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, nil, nil, nil)
}

type recordingBlobStore struct {
	mu    sync.Mutex
	paths []string
	data  map[string][]byte
	err   error
}

func (r *recordingBlobStore) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		r.data = make(map[string][]byte)
	}
	r.paths = append(r.paths, path)
	r.data[path] = body
	return "mem://" + path, nil
}

// TestExecuteIgnoresLogNoise verifies the first JSON array is extracted from noisy stdout.
func TestExecuteIgnoresLogNoise(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ex := shellExecutor(`echo "[INFO] starting scraper"; echo '[{"title":"A","url":"https://example.com/a","publishedAt":"2024-01-01T00:00:00Z"}]'; echo "done"`, nil)
	got, err := ex.Execute(context.Background(), "fxstreet", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "A", got[0].Title)
	require.Equal(t, "https://example.com/a", got[0].URL)
	require.Equal(t, "2024-01-01T00:00:00Z", got[0].PublishedAt)
}

// TestExecutePassesMaxArticles verifies the cap is the scraper's final argument.
func TestExecutePassesMaxArticles(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ex := shellExecutor(`printf '[{"title":"n%s","url":"u"}]' "$1"`, nil)
	got, err := ex.Execute(context.Background(), "fxstreet", 7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "n7", got[0].Title)
}

// TestExecutePerSourceCommand verifies source-specific commands override the default.
func TestExecutePerSourceCommand(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ex := shellExecutor(`echo '[]'`, func(cfg *Config) {
		cfg.Commands = map[string][]string{
			"reuters": {"sh", "-c", `echo '[{"title":"r","url":"u"}]'`, "scraper"},
		}
	})
	got, err := ex.Execute(context.Background(), "reuters", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = ex.Execute(context.Background(), "fxstreet", 1)
	require.NoError(t, err)
	require.Empty(t, got)
}

// TestExecuteRejectsOutOfRangeCap verifies maxArticles bounds are enforced before spawning.
func TestExecuteRejectsOutOfRangeCap(t *testing.T) {
	t.Parallel()

	ex := New(Config{Command: []string{"/does/not/exist"}}, nil, nil, nil)
	for _, n := range []int{0, -1, 101} {
		_, err := ex.Execute(context.Background(), "fxstreet", n)
		var valErr *crawler.ValidationError
		require.ErrorAs(t, err, &valErr, "maxArticles=%d", n)
		require.Equal(t, "maxArticles", valErr.Field)
	}
}

// TestExecuteUnknownSource verifies a missing command is a configuration error.
func TestExecuteUnknownSource(t *testing.T) {
	t.Parallel()

	ex := New(Config{}, nil, nil, nil)
	_, err := ex.Execute(context.Background(), "nope", 1)
	var cfgErr *crawler.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.False(t, crawler.IsRetryable(err))
}

// TestExecuteNonZeroExit verifies exit codes and stderr surface in ExecutionError.
func TestExecuteNonZeroExit(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ex := shellExecutor(`echo "site unreachable" >&2; exit 3`, nil)
	_, err := ex.Execute(context.Background(), "fxstreet", 1)
	var execErr *crawler.ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, 3, execErr.ExitCode)
	require.Equal(t, "site unreachable", execErr.Stderr)
	require.True(t, crawler.IsRetryable(err))
}

// TestExecuteSpawnFailure verifies a missing binary is an ExecutionError.
func TestExecuteSpawnFailure(t *testing.T) {
	t.Parallel()

	ex := New(Config{Command: []string{"/definitely/not/a/scraper"}}, nil, nil, nil)
	_, err := ex.Execute(context.Background(), "fxstreet", 1)
	var execErr *crawler.ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, "spawn failed", execErr.Reason)
}

// TestExecuteMalformedOutput verifies stdout without an array is rejected.
func TestExecuteMalformedOutput(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ex := shellExecutor(`echo "[WARN] nothing scraped"; echo '{"title":"not an array"}'`, nil)
	_, err := ex.Execute(context.Background(), "fxstreet", 1)
	var malformed *crawler.MalformedOutputError
	require.ErrorAs(t, err, &malformed)
}

// TestExecuteTruncatedArrayIsMalformed verifies a cut-off article array fails instead of yielding partial junk.
func TestExecuteTruncatedArrayIsMalformed(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ex := shellExecutor(`echo "warmup pages: []"; printf '[\n {"title":"A","url":"u","content":"rates rose [1] sharply"},\n {"title":"B","url":'`, nil)
	_, err := ex.Execute(context.Background(), "fxstreet", 2)
	var malformed *crawler.MalformedOutputError
	require.ErrorAs(t, err, &malformed)
	require.True(t, crawler.IsRetryable(err))
}

// TestExecuteOutputLimit verifies runaway output is cut off and reported.
func TestExecuteOutputLimit(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ex := shellExecutor(`while :; do echo "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"; done`, func(cfg *Config) {
		cfg.MaxOutputBytes = 1024
	})
	done := make(chan error, 1)
	go func() {
		_, err := ex.Execute(context.Background(), "fxstreet", 1)
		done <- err
	}()

	select {
	case err := <-done:
		var execErr *crawler.ExecutionError
		require.ErrorAs(t, err, &execErr)
		require.Contains(t, execErr.Reason, "exceeded 1024 bytes")
	case <-time.After(10 * time.Second):
		t.Fatal("executor did not stop runaway scraper")
	}
}

// TestExecuteTimeout verifies the configured timeout kills the scraper.
func TestExecuteTimeout(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ex := shellExecutor(`exec sleep 5`, func(cfg *Config) {
		cfg.Timeout = 100 * time.Millisecond
	})
	_, err := ex.Execute(context.Background(), "fxstreet", 1)
	var execErr *crawler.ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Contains(t, execErr.Reason, "deadline exceeded")
}

// TestExecuteArchivesRawOutput verifies stdout lands in the blob store under a content hash.
func TestExecuteArchivesRawOutput(t *testing.T) {
	t.Parallel()
	requireShell(t)

	blobs := &recordingBlobStore{}
	hasher := sha256.New()
	ex := New(Config{
		Command:       []string{"sh", "-c", `echo '[{"title":"A","url":"u"}]'`, "scraper"},
		ArchivePrefix: "/raw/",
	}, blobs, hasher, nil)

	_, err := ex.Execute(context.Background(), "fxstreet", 1)
	require.NoError(t, err)

	want := []byte("[{\"title\":\"A\",\"url\":\"u\"}]\n")
	sum, err := hasher.Hash(want)
	require.NoError(t, err)
	require.Equal(t, []string{"raw/fxstreet/" + sum + ".json"}, blobs.paths)
	require.True(t, bytes.Equal(want, blobs.data[blobs.paths[0]]))
}

// TestExecuteArchiveFailureIsNotFatal verifies a blob outage does not fail the crawl.
func TestExecuteArchiveFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	requireShell(t)

	blobs := &recordingBlobStore{err: errors.New("bucket gone")}
	ex := New(Config{
		Command:       []string{"sh", "-c", `echo '[{"title":"A","url":"u"}]'`, "scraper"},
		ArchivePrefix: "raw",
	}, blobs, sha256.New(), nil)

	got, err := ex.Execute(context.Background(), "fxstreet", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

// TestExecuteHonoursCancellation verifies a cancelled context stops the scraper.
func TestExecuteHonoursCancellation(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ex := shellExecutor(`exec sleep 5`, nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := ex.Execute(ctx, "fxstreet", 1)
	var execErr *crawler.ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.True(t, strings.Contains(execErr.Reason, "canceled"))
}
