package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	msgs     []*nats.Msg
	failWith error
	drained  bool
}

func (f *fakeConn) PublishMsg(msg *nats.Msg) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeConn) FlushWithContext(context.Context) error { return nil }

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

// TestPublishSendsJSONOnPrefixedSubject verifies subject naming, headers, and body.
func TestPublishSendsJSONOnPrefixedSubject(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{}
	p := newPublisher(fc, "news.")
	id, err := p.Publish(context.Background(), "crawl-events", map[string]any{"stage": "JOB_DONE"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Len(t, fc.msgs, 1)
	msg := fc.msgs[0]
	require.Equal(t, "news.crawl-events", msg.Subject)
	require.Equal(t, id, msg.Header.Get(nats.MsgIdHdr))
	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	require.Equal(t, "JOB_DONE", body["stage"])

	require.NoError(t, p.Close())
	require.True(t, fc.drained)
}

// TestPublishWithoutPrefix verifies topics map directly to subjects.
func TestPublishWithoutPrefix(t *testing.T) {
	t.Parallel()

	p := newPublisher(&fakeConn{}, "")
	require.Equal(t, "crawl-events", p.Subject("crawl-events"))
}

// TestPublishErrors verifies missing topics and connection failures are reported.
func TestPublishErrors(t *testing.T) {
	t.Parallel()

	p := newPublisher(&fakeConn{failWith: errors.New("no responders")}, "")
	_, err := p.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")

	_, err = p.Publish(context.Background(), "crawl-events", "x")
	require.ErrorContains(t, err, "no responders")

	_, err = p.Publish(context.Background(), "crawl-events", func() {})
	require.ErrorContains(t, err, "marshal payload")
}
