//go:build pubsub_integration

package tests

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/znsio/pubsub-relay-go/internal/api"
	"github.com/znsio/pubsub-relay-go/internal/buffer"
	"github.com/znsio/pubsub-relay-go/internal/codec"
	"github.com/znsio/pubsub-relay-go/internal/emulator"
	"github.com/znsio/pubsub-relay-go/internal/models"
	"github.com/znsio/pubsub-relay-go/internal/relay"
	"github.com/znsio/pubsub-relay-go/internal/services"
	"github.com/znsio/pubsub-relay-go/internal/test"
)

const projectID = "testproject"

type pubsubFixture struct {
	host   string
	client *services.PubsubClient
	topic  string
	sub    string
}

// setUpPubSub provisions a topic and subscription unique to the calling
// test on the emulator.
func setUpPubSub(t *testing.T) pubsubFixture {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	printHeader(t, 1, "Starting Pub/Sub emulator")
	env := &test.TestEnvironment{Ctx: ctx}
	container, host, err := test.StartEmulator(t, env)
	require.NoError(t, err)
	if container != nil {
		t.Cleanup(func() {
			if err := container.Terminate(context.Background()); err != nil {
				t.Logf("Failed to terminate emulator container: %v", err)
			}
		})
	}

	printHeader(t, 2, "Waiting for emulator and provisioning")
	require.NoError(t, emulator.WaitReachable(ctx, host))

	suffix := strings.ToLower(strings.ReplaceAll(t.Name(), "/", "-"))
	fx := pubsubFixture{
		host:   host,
		client: services.NewPubsubClient("http://"+host, projectID, ""),
		topic:  "topic-" + suffix,
		sub:    "sub-" + suffix,
	}
	project := emulator.Project{ID: projectID, Topics: []emulator.TopicSpec{{Name: fx.topic, Subscriptions: []string{fx.sub}}}}
	require.NoError(t, emulator.Provision(ctx, host, project))
	// Provisioning twice must be harmless.
	require.NoError(t, emulator.Provision(ctx, host, project))
	return fx
}

func (fx pubsubFixture) sink(enc codec.Encoding) *services.PubsubSink {
	return services.NewPubsubSink(fx.client, services.PubsubSinkConfig{
		Topic:        fx.topic,
		Encoding:     enc,
		MaxEvents:    2,
		BatchTimeout: 100 * time.Millisecond,
	})
}

func (fx pubsubFixture) source() *services.PubsubSource {
	return services.NewPubsubSource(fx.client, services.PubsubSourceConfig{
		Subscription: fx.sub,
		MaxMessages:  10,
		RetryDelay:   100 * time.Millisecond,
		IdleDelay:    100 * time.Millisecond,
	})
}

func pullAtLeast(t *testing.T, source *services.PubsubSource, n int) []models.Event {
	t.Helper()
	var got []models.Event
	deadline := time.Now().Add(30 * time.Second)
	for len(got) < n && time.Now().Before(deadline) {
		evs, err := source.Pull(context.Background(), n-len(got))
		require.NoError(t, err)
		ids := make([]string, 0, len(evs))
		for _, ev := range evs {
			ids = append(ids, ev.AckID)
		}
		require.NoError(t, source.Acknowledge(context.Background(), ids))
		got = append(got, evs...)
		if len(evs) == 0 {
			time.Sleep(100 * time.Millisecond)
		}
	}
	return got
}

func TestPubSubPublishAndPull(t *testing.T) {
	fx := setUpPubSub(t)

	printHeader(t, 3, "Publishing events")
	events := make([]models.Event, 0, 5)
	for i := 0; i < 5; i++ {
		ev := models.NewEvent(fmt.Sprintf("message %d", i))
		ev.Set(models.FieldAttributes, map[string]string{"index": fmt.Sprint(i)})
		events = append(events, ev)
	}
	sent, err := fx.sink(codec.Text).Publish(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 5, sent)

	printHeader(t, 4, "Pulling events")
	got := pullAtLeast(t, fx.source(), 5)
	require.Len(t, got, 5)

	messages := make([]string, 0, len(got))
	for _, ev := range got {
		messages = append(messages, ev.Message())
		assert.Equal(t, "gcp_pubsub", ev.Fields[models.FieldSourceType])
		assert.NotEmpty(t, ev.Fields[models.FieldMessageID])
		assert.Contains(t, ev.Attributes(), "index")
	}
	assert.ElementsMatch(t, []string{"message 0", "message 1", "message 2", "message 3", "message 4"}, messages)
}

func TestPubSubJSONEncoding(t *testing.T) {
	fx := setUpPubSub(t)

	ev := models.NewEvent("structured")
	ev.Set("level", "warn")
	_, err := fx.sink(codec.JSON).Publish(context.Background(), []models.Event{ev})
	require.NoError(t, err)

	got := pullAtLeast(t, fx.source(), 1)
	require.Len(t, got, 1)
	body := got[0].Message()
	assert.Equal(t, "structured", gjson.Get(body, "message").String())
	assert.Equal(t, "warn", gjson.Get(body, "level").String())
}

type collectingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *collectingSink) Run(ctx context.Context, in services.EventPopper) error {
	for {
		ev, err := in.Pop(ctx)
		if err != nil {
			return nil
		}
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	}
}

func (c *collectingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestPubSubRelayRoundTrip(t *testing.T) {
	fx := setUpPubSub(t)

	buf, err := buffer.New(buffer.DefaultMaxEvents, buffer.Block)
	require.NoError(t, err)
	sink := &collectingSink{}
	r := &relay.Relay{Source: fx.source(), Sink: sink, Buffer: buf}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	printHeader(t, 3, "Publishing through the sink buffer")
	in, err := buffer.New(10, buffer.Block)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, in.Push(context.Background(), models.NewEvent(fmt.Sprintf("relay %d", i))))
	}
	in.Close()
	pubsubSink := fx.sink(codec.Text)
	require.NoError(t, pubsubSink.Run(context.Background(), in))
	assert.Equal(t, uint64(3), pubsubSink.Stats().Published)

	assert.Eventually(t, func() bool { return sink.count() == 3 }, 30*time.Second, 100*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, uint64(3), r.Stats().Accepted)
}

func TestPubSubHTTPRoutes(t *testing.T) {
	fx := setUpPubSub(t)

	gin.SetMode(gin.TestMode)
	router := api.SetupRouter(api.Dependencies{
		Publisher: fx.sink(codec.Text),
		Puller:    fx.source(),
	})

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`[{"message":"via http"}]`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body string
	assert.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/messages", nil)
		req.Header.Set("maxMessages", "5")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		body = w.Body.String()
		return w.Code == http.StatusOK && len(gjson.Parse(body).Array()) == 1
	}, 30*time.Second, 200*time.Millisecond)
	assert.Equal(t, "via http", gjson.Get(body, "0.message").String())
}

func printHeader(t *testing.T, stepNum int, title string) {
	t.Log("")
	t.Logf("======== STEP %d =========", stepNum)
	t.Log(title)
	t.Log("=========================")
	t.Log("")
}
