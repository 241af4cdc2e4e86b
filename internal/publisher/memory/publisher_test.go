package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPublisherStoresMessages verifies publishes are recorded in order and copied on read.
func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "jobs", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "articles", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "jobs", msgs[0].Topic)
	require.Equal(t, []any{"payload"}, pub.Topic("articles"))

	msgs[0].Topic = "modified"
	require.Equal(t, "jobs", pub.Messages()[0].Topic)
}

// TestPublisherFailureAndClose verifies injected failures and post-close rejection.
func TestPublisherFailureAndClose(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("broker down")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "jobs", 1)
	require.ErrorIs(t, err, boom)

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "jobs", 1)
	require.NoError(t, err)

	require.NoError(t, pub.Close())
	_, err = pub.Publish(context.Background(), "jobs", 1)
	require.ErrorIs(t, err, ErrClosed)
}
