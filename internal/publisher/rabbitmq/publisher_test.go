package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type publishing struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	sent     []publishing
	failWith error
	closed   bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.sent = append(f.sent, publishing{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

// TestPublishRoutesByTopic verifies routing key, persistence, and message metadata.
func TestPublishRoutesByTopic(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	p := newPublisher(ch, "newscrawler.events")
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	id, err := p.Publish(context.Background(), "crawl-events", map[string]int{"saved": 3})
	require.NoError(t, err)

	require.Len(t, ch.sent, 1)
	got := ch.sent[0]
	require.Equal(t, "newscrawler.events", got.exchange)
	require.Equal(t, "crawl-events", got.key)
	require.Equal(t, id, got.msg.MessageId)
	require.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	require.Equal(t, "application/json", got.msg.ContentType)
	require.Equal(t, fixed, got.msg.Timestamp)
	require.JSONEq(t, `{"saved":3}`, string(got.msg.Body))

	require.NoError(t, p.Close())
	require.True(t, ch.closed)
}

// TestPublishFailures verifies broker errors and empty topics are returned.
func TestPublishFailures(t *testing.T) {
	t.Parallel()

	p := newPublisher(&fakeChannel{failWith: errors.New("channel closed")}, "x")
	_, err := p.Publish(context.Background(), "", nil)
	require.ErrorContains(t, err, "topic is required")

	_, err = p.Publish(context.Background(), "crawl-events", nil)
	require.ErrorContains(t, err, "channel closed")
}

// TestDialRequiresURL verifies configuration is checked before dialing.
func TestDialRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := Dial(Config{}, nil)
	require.ErrorContains(t, err, "url is required")
}
