// Package badger persists crawl job records in an embedded BadgerDB so queued
// and in-flight jobs survive a restart.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

const keyPrefix = "crawl:job:"

// Options configures the database.
type Options struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
}

// Store is a BadgerDB-backed queue.Store.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

// Open opens or creates the database described by opts.
func Open(opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !opts.InMemory && opts.Path == "" {
		return nil, errors.New("badger path is required")
	}
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites).WithLogger(badgerLogger{logger.Sugar()})
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func jobKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// Save inserts or replaces job.
func (s *Store) Save(_ context.Context, job crawler.CrawlJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(job.ID), data)
	}); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the job with id or crawler.ErrJobNotFound.
func (s *Store) Get(_ context.Context, id string) (crawler.CrawlJob, error) {
	var job crawler.CrawlJob
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return crawler.CrawlJob{}, crawler.ErrJobNotFound
	}
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// Delete removes the job with id.
func (s *Store) Delete(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(jobKey(id)); err != nil {
			return err
		}
		return txn.Delete(jobKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return crawler.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// List scans every job and returns those in state, or all when state is empty.
func (s *Store) List(ctx context.Context, state crawler.JobState) ([]crawler.CrawlJob, error) {
	var jobs []crawler.CrawlJob
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var job crawler.CrawlJob
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				s.logger.Warn("skipping undecodable job record",
					zap.ByteString("key", it.Item().KeyCopy(nil)), zap.Error(err))
				continue
			}
			if state == "" || job.State == state {
				jobs = append(jobs, job)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Ping reports whether the database is open.
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database closed")
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

// badgerLogger routes badger's logging through zap, demoting its chatty info
// output to debug.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.SugaredLogger.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.SugaredLogger.Debugf(format, args...) }
