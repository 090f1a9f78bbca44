package services

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/znsio/pubsub-relay-go/internal/buffer"
	"github.com/znsio/pubsub-relay-go/internal/models"
)

func received(id, body string) models.ReceivedMessage {
	return models.ReceivedMessage{
		AckID: "ack-" + id,
		Message: models.PubsubMessage{
			Data:        base64.StdEncoding.EncodeToString([]byte(body)),
			MessageID:   id,
			Attributes:  map[string]string{"n": id},
			PublishTime: "2022-05-06T07:08:09Z",
		},
	}
}

func newTestSource(url string) *PubsubSource {
	return NewPubsubSource(NewPubsubClient(url, "testproject", ""), PubsubSourceConfig{
		Subscription: "subscription1",
		MaxMessages:  10,
		RetryDelay:   10 * time.Millisecond,
		IdleDelay:    10 * time.Millisecond,
	})
}

func TestPullDecodesMessages(t *testing.T) {
	fake, srv := newFakePubsub(t)
	fake.enqueue(received("1", "first"))
	fake.enqueue(received("2", "second"))

	source := newTestSource(srv.URL)
	evs, err := source.Pull(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	assert.Equal(t, "first", evs[0].Message())
	assert.Equal(t, "ack-1", evs[0].AckID)
	assert.Equal(t, map[string]string{"n": "1"}, evs[0].Attributes())
	assert.Equal(t, "1", evs[0].Fields[models.FieldMessageID])
	assert.Contains(t, fake.requestPaths()[0], "/v1/projects/testproject/subscriptions/subscription1:pull")
}

func TestPullAcknowledgesUndecodableMessages(t *testing.T) {
	fake, srv := newFakePubsub(t)
	bad := received("9", "x")
	bad.Message.Data = "not base64!"
	fake.enqueue(bad)
	fake.enqueue(received("10", "ok"))

	source := newTestSource(srv.URL)
	evs, err := source.Pull(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	_, _, acked, _ := fake.snapshot()
	assert.Equal(t, []string{"ack-9"}, acked)
	assert.Equal(t, uint64(1), source.Stats().DecodeErrors)
}

func TestParseReceivedMessagesEmptyBody(t *testing.T) {
	assert.Empty(t, parseReceivedMessages([]byte(`{}`)))
}

type collector struct {
	mu     sync.Mutex
	events []models.Event
	limit  int
}

func (c *collector) Push(_ context.Context, ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit > 0 && len(c.events) >= c.limit {
		return buffer.ErrClosed
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestSourceRunDeliversAndAcks(t *testing.T) {
	fake, srv := newFakePubsub(t)
	fake.failPull = 1
	for _, id := range []string{"1", "2", "3"} {
		fake.enqueue(received(id, "body-"+id))
	}

	source := newTestSource(srv.URL)
	out := &collector{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx, out) }()

	assert.Eventually(t, func() bool { return out.count() == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	_, _, acked, _ := fake.snapshot()
	assert.ElementsMatch(t, []string{"ack-1", "ack-2", "ack-3"}, acked)
	assert.Equal(t, uint64(1), source.Stats().PullErrors)
}

func TestSourceRunNacksWhenDownstreamCloses(t *testing.T) {
	fake, srv := newFakePubsub(t)
	for _, id := range []string{"1", "2", "3"} {
		fake.enqueue(received(id, "body-"+id))
	}

	source := newTestSource(srv.URL)
	out := &collector{limit: 1}
	require.NoError(t, source.Run(context.Background(), out))

	pending, _, acked, nacked := fake.snapshot()
	assert.Equal(t, []string{"ack-1"}, acked)
	assert.Equal(t, []string{"ack-2", "ack-3"}, nacked)
	assert.Equal(t, 2, pending, "nacked messages are redelivered")
}
