// Package executor runs external scraper processes and extracts the candidate
// list they print to stdout.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

// DefaultMaxOutputBytes caps captured stdout at 10 MiB.
const DefaultMaxOutputBytes int64 = 10 << 20

const stderrTailBytes = 64 << 10

// Config controls how scraper processes are launched.
type Config struct {
	// Command is used for any source without an entry in Commands. The article
	// cap is appended as the final argument.
	Command []string
	// Commands maps source keys to their scraper command line.
	Commands       map[string][]string
	WorkDir        string
	MaxOutputBytes int64
	Timeout        time.Duration
	// ArchivePrefix is the blob path prefix for raw stdout; empty disables archiving.
	ArchivePrefix string
}

// Executor launches scrapers.
type Executor struct {
	cfg    Config
	blobs  crawler.BlobStore
	hasher crawler.Hasher
	logger *zap.Logger
}

// New constructs an Executor. blobs and hasher may be nil when archiving is off.
func New(cfg Config, blobs crawler.BlobStore, hasher crawler.Hasher, logger *zap.Logger) *Executor {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:    cfg,
		blobs:  blobs,
		hasher: hasher,
		logger: logger,
	}
}

// Execute runs the scraper for source with maxArticles as its only argument and
// returns the decoded candidates.
func (e *Executor) Execute(ctx context.Context, source string, maxArticles int) ([]crawler.Candidate, error) {
	if maxArticles < 1 || maxArticles > crawler.MaxArticlesLimit {
		return nil, &crawler.ValidationError{
			Field:   "maxArticles",
			Message: fmt.Sprintf("must be between 1 and %d", crawler.MaxArticlesLimit),
		}
	}
	argv, err := e.command(source)
	if err != nil {
		return nil, err
	}
	argv = append(argv, strconv.Itoa(maxArticles))
	logger := e.logger.With(zap.String("source", source), zap.Strings("argv", argv))

	if e.cfg.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancelTimeout()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stdout := newBoundedBuffer(e.cfg.MaxOutputBytes, cancel)
	stderr := &tailBuffer{limit: stderrTailBytes}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...) // #nosec G204 -- argv comes from operator config.
	cmd.Dir = e.cfg.WorkDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	logger.Debug("scraper starting")
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if msg := stderr.String(); msg != "" {
		logger.Warn("scraper wrote to stderr", zap.String("stderr", msg))
	}
	if stdout.Overflowed() {
		return nil, &crawler.ExecutionError{
			Command: argv[0],
			Reason:  fmt.Sprintf("stdout exceeded %d bytes", e.cfg.MaxOutputBytes),
		}
	}
	if runErr != nil {
		return nil, e.executionError(ctx, argv[0], stderr.String(), runErr)
	}

	out := stdout.Bytes()
	logger.Info("scraper finished", zap.Duration("duration", elapsed), zap.Int("stdout_bytes", len(out)))
	e.archive(ctx, source, out, logger)

	candidates, invalid, err := ParseCandidates(out)
	if err != nil {
		return nil, err
	}
	if invalid > 0 {
		logger.Warn("scraper emitted non-candidate elements", zap.Int("invalid", invalid))
	}
	return candidates, nil
}

func (e *Executor) command(source string) ([]string, error) {
	argv := e.cfg.Commands[source]
	if len(argv) == 0 {
		argv = e.cfg.Command
	}
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, &crawler.ConfigurationError{Key: source}
	}
	return append([]string(nil), argv...), nil
}

func (e *Executor) executionError(ctx context.Context, name, stderr string, err error) error {
	execErr := &crawler.ExecutionError{Command: name, Stderr: stderr, Err: err}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		execErr.ExitCode = exitErr.ExitCode()
		execErr.Err = nil
		if ctx.Err() != nil {
			execErr.Reason = ctx.Err().Error()
		}
	case ctx.Err() != nil:
		execErr.Reason = ctx.Err().Error()
	default:
		execErr.Reason = "spawn failed"
	}
	return execErr
}

func (e *Executor) archive(ctx context.Context, source string, out []byte, logger *zap.Logger) {
	if e.cfg.ArchivePrefix == "" || e.blobs == nil || e.hasher == nil || len(out) == 0 {
		return
	}
	sum, err := e.hasher.Hash(out)
	if err != nil {
		logger.Warn("hash scraper output failed", zap.Error(err))
		return
	}
	key := path.Join(strings.Trim(e.cfg.ArchivePrefix, "/"), source, sum+".json")
	uri, err := e.blobs.PutObject(ctx, key, "application/json", bytes.NewReader(out))
	if err != nil {
		logger.Warn("archive scraper output failed", zap.String("path", key), zap.Error(err))
		return
	}
	logger.Debug("scraper output archived", zap.String("uri", uri))
}
