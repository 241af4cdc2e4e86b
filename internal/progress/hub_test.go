package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestHubBatchBySize verifies the hub flushes once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageJobStart))
	hub.Emit(sampleEvent(StageJobProgress))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies partial batches flush on the ticker.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageJobQueued))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlocking asserts Emit never blocks callers when nothing drains the channel.
func TestHubEmitNonBlocking(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	for range 10 {
		hub.Emit(sampleEvent(StageJobStart))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 9, hub.dropped.Load())
}

// TestHubDropsInvalidEvents verifies malformed events never reach sinks.
func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)

	hub.Emit(Event{Stage: StageJobStart, TS: time.Now()})
	hub.Emit(Event{JobID: "j", Stage: StageJobError, TS: time.Now()})
	hub.Emit(Event{JobID: "j", Stage: "BOGUS", TS: time.Now()})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

// TestHubFlushOnClose ensures Close drains buffered events and closes sinks.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StageJobDone))
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.Closed())

	hub.Emit(sampleEvent(StageJobDone))
	require.Len(t, sink.Batches(), 1)
}

// TestHubSinkErrorsDoNotStopDelivery verifies a failing sink does not starve the others.
func TestHubSinkErrorsDoNotStopDelivery(t *testing.T) {
	t.Parallel()

	good := newStubSink()
	bad := sinkFunc(func(context.Context, []Event) error { return errors.New("down") })
	hub := NewHub(Config{MaxBatchEvents: 1}, bad, good)

	hub.Emit(sampleEvent(StageJobStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, good.Batches(), 1)
}

// TestEventTerminal verifies which stages end an attempt.
func TestEventTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, sampleEvent(StageJobQueued).Terminal())
	require.False(t, sampleEvent(StageJobProgress).Terminal())
	require.True(t, sampleEvent(StageJobDone).Terminal())
	require.True(t, sampleEvent(StageJobRetry).Terminal())
	require.True(t, sampleEvent(StageJobError).Terminal())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	evt := Event{
		JobID:  "job-1",
		TS:     time.Now().UTC(),
		Stage:  stage,
		Source: "fxstreet",
	}
	if stage == StageJobError || stage == StageJobRetry {
		evt.Note = "scraper exited 1"
	}
	return evt
}
