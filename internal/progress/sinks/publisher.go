package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/progress"
)

// PublisherSink forwards lifecycle events to a message bus topic.
type PublisherSink struct {
	publisher crawler.Publisher
	topic     string
	// Stages limits which stages are published; empty publishes everything.
	stages map[progress.Stage]struct{}
}

// NewPublisherSink publishes events to topic. When stages is non-empty only
// those stages are forwarded.
func NewPublisherSink(pub crawler.Publisher, topic string, stages ...progress.Stage) *PublisherSink {
	filter := make(map[progress.Stage]struct{}, len(stages))
	for _, stage := range stages {
		filter[stage] = struct{}{}
	}
	return &PublisherSink{publisher: pub, topic: topic, stages: filter}
}

// Consume publishes every matching event and returns the joined failures.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if len(s.stages) > 0 {
			if _, ok := s.stages[evt.Stage]; !ok {
				continue
			}
		}
		if _, err := s.publisher.Publish(ctx, s.topic, evt); err != nil {
			errs = append(errs, fmt.Errorf("publish %s for job %s: %w", evt.Stage, evt.JobID, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the publisher when it supports closing.
func (s *PublisherSink) Close(context.Context) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	if closer, ok := s.publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close publisher: %w", err)
		}
	}
	return nil
}
