package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Naeem401/sport-server/internal/cache"
	"github.com/Naeem401/sport-server/internal/fetcher"
	"github.com/Naeem401/sport-server/internal/model"
	"github.com/Naeem401/sport-server/internal/subscription"
)

// fakeActivator records topic activations.
type fakeActivator struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakeActivator) TopicActivated(topic model.Topic) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic.String())
}

func (f *fakeActivator) activated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.topics...)
}

// fakeUpstream serves one fixed payload for any topic.
type fakeUpstream struct {
	payload []model.Record
}

func (f *fakeUpstream) Fetch(context.Context, model.Topic, map[string]string) ([]model.Record, error) {
	return f.payload, nil
}

func newTestNotifier(t *testing.T) (*Notifier, *subscription.Registry, *fetcher.Coordinator, *fakeActivator) {
	t.Helper()

	c, err := cache.New(cache.DefaultConfig())
	require.NoError(t, err)
	f := fetcher.New(fetcher.Config{TTL: time.Minute}, c, &fakeUpstream{payload: []model.Record{{"id": "1"}}})
	registry := subscription.NewRegistry()

	n := NewNotifier(Config{SendBufferSize: 8}, registry, f)
	activator := &fakeActivator{}
	n.SetActivator(activator)
	return n, registry, f, activator
}

func withSequentialIDs(t *testing.T) {
	t.Helper()
	original := generateID
	counter := 0
	generateID = func() string {
		counter++
		return fmt.Sprintf("client-%d", counter)
	}
	t.Cleanup(func() { generateID = original })
}

func drain(client *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-client.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestSubscribeActivatesFirstSubscriberOnly(t *testing.T) {
	withSequentialIDs(t)
	n, registry, _, activator := newTestNotifier(t)

	a := n.registerClient(nil, false)
	b := n.registerClient(nil, false)

	n.subscribeClient(a, "football")
	n.subscribeClient(b, "football")

	assert.Equal(t, []string{"football"}, activator.activated())
	assert.Equal(t, 2, registry.Count(model.NewTopic("football")))
}

func TestSubscribeReplaysCachedSnapshot(t *testing.T) {
	withSequentialIDs(t)
	n, _, f, _ := newTestNotifier(t)

	// warm the canonical cache entry first
	_, err := f.Resolve(context.Background(), model.NewTopic("football"), nil)
	require.NoError(t, err)

	client := n.registerClient(nil, false)
	n.subscribeClient(client, "football")

	messages := drain(client)
	require.Len(t, messages, 1, "a new subscriber gets the cached dataset immediately")

	var update model.Update
	require.NoError(t, json.Unmarshal(messages[0], &update))
	assert.Equal(t, "football", update.Topic)
	require.Len(t, update.Records, 1)
}

func TestSubscribeColdTopicSendsNothing(t *testing.T) {
	withSequentialIDs(t)
	n, _, _, _ := newTestNotifier(t)

	client := n.registerClient(nil, false)
	n.subscribeClient(client, "football")

	assert.Empty(t, drain(client), "no snapshot exists yet, nothing to replay")
}

func TestPublishTopicTargetsSubscribersOnly(t *testing.T) {
	withSequentialIDs(t)
	n, _, _, _ := newTestNotifier(t)

	football := n.registerClient(nil, false)
	tennis := n.registerClient(nil, false)
	n.subscribeClient(football, "football")
	n.subscribeClient(tennis, "tennis")

	n.PublishTopic("football", model.Update{
		Topic:     "football",
		Records:   []model.Record{{"id": "1"}},
		UpdatedAt: time.Now(),
	})

	require.Len(t, drain(football), 1)
	assert.Empty(t, drain(tennis))
}

func TestPublishTopicDropsWhenBufferFull(t *testing.T) {
	withSequentialIDs(t)
	n, _, _, _ := newTestNotifier(t)

	client := n.registerClient(nil, false)
	n.subscribeClient(client, "football")
	drain(client)

	update := model.Update{Topic: "football", Records: []model.Record{{"id": "1"}}}
	for i := 0; i < 20; i++ {
		n.PublishTopic("football", update)
	}

	// buffer size is 8: overflow is dropped, never blocks the publisher
	assert.Len(t, drain(client), 8)
}

func TestProcessClientMessageSubscribeUnsubscribe(t *testing.T) {
	withSequentialIDs(t)
	n, registry, _, _ := newTestNotifier(t)

	client := n.registerClient(nil, false)
	topic := model.NewTopic("football")

	n.processClientMessage(client, []byte(`{"action":"subscribe","topic":"football"}`))
	assert.Equal(t, 1, registry.Count(topic))
	assert.True(t, client.subscribedTo("football"))

	n.processClientMessage(client, []byte(`{"action":"unsubscribe","topic":"football"}`))
	assert.Equal(t, 0, registry.Count(topic))
	assert.False(t, client.subscribedTo("football"))

	// garbage and unknown actions are ignored
	n.processClientMessage(client, []byte(`{not json`))
	n.processClientMessage(client, []byte(`{"action":"dance"}`))
	n.processClientMessage(client, []byte(`{"action":"ping"}`))
	assert.Equal(t, 0, registry.Count(topic))
}

func TestRemoveClientCleansRegistry(t *testing.T) {
	withSequentialIDs(t)
	n, registry, _, _ := newTestNotifier(t)

	client := n.registerClient(nil, false)
	n.subscribeClient(client, "football")
	n.subscribeClient(client, "football:42")

	n.removeClient(client.ID)

	assert.True(t, registry.IsEmpty(model.NewTopic("football")))
	assert.True(t, registry.IsEmpty(model.NewEventTopic("football", "42")))

	// the send channel is closed
	_, open := <-client.send
	assert.False(t, open)

	// removing twice is harmless
	n.removeClient(client.ID)
}

func TestEventLevelSubscription(t *testing.T) {
	withSequentialIDs(t)
	n, registry, _, activator := newTestNotifier(t)

	client := n.registerClient(nil, false)
	n.subscribeClient(client, "football:1553")

	assert.Equal(t, []string{"football:1553"}, activator.activated())
	assert.Equal(t, []string{"1553"}, registry.SubscribedEventIDs("football"))
}

func TestIdleClientCleanup(t *testing.T) {
	withSequentialIDs(t)
	n, registry, _, _ := newTestNotifier(t)
	n.config.MaxIdleTime = 10 * time.Millisecond

	stale := n.registerClient(nil, false)
	n.subscribeClient(stale, "football")
	fresh := n.registerClient(nil, false)
	n.subscribeClient(fresh, "tennis")

	time.Sleep(15 * time.Millisecond)
	fresh.touch()

	n.performClientCleanup()

	assert.True(t, registry.IsEmpty(model.NewTopic("football")))
	assert.Equal(t, 1, registry.Count(model.NewTopic("tennis")))
}

func TestShutdownClosesAllClients(t *testing.T) {
	withSequentialIDs(t)
	n, registry, _, _ := newTestNotifier(t)

	conn := &fakeConn{}
	a := n.registerClient(conn, false)
	b := n.registerClient(nil, true)
	n.subscribeClient(a, "football")
	n.subscribeClient(b, "tennis")

	require.NoError(t, n.Shutdown(context.Background()))

	assert.True(t, registry.IsEmpty(model.NewTopic("football")))
	assert.True(t, registry.IsEmpty(model.NewTopic("tennis")))
	assert.True(t, conn.isClosed())
	_, open := <-a.send
	assert.False(t, open)
	_, open = <-b.send
	assert.False(t, open)
}

// fakeConn stands in for a client socket.
type fakeConn struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRemoveClientClosesConnection(t *testing.T) {
	withSequentialIDs(t)
	n, _, _, _ := newTestNotifier(t)

	conn := &fakeConn{}
	client := n.registerClient(conn, false)
	n.subscribeClient(client, "football")

	n.removeClient(client.ID)

	// the connection's reader loop only unblocks when the socket closes
	assert.True(t, conn.isClosed())
}

func TestIdleCleanupClosesConnection(t *testing.T) {
	withSequentialIDs(t)
	n, _, _, _ := newTestNotifier(t)
	n.config.MaxIdleTime = 10 * time.Millisecond

	conn := &fakeConn{}
	client := n.registerClient(conn, false)
	n.subscribeClient(client, "football")

	time.Sleep(15 * time.Millisecond)
	n.performClientCleanup()

	assert.True(t, conn.isClosed(), "an idle client's socket must be torn down, not just its send channel")
}

func TestPublishDuringDisconnectIsSafe(t *testing.T) {
	n, _, _, _ := newTestNotifier(t)

	update := model.Update{
		Topic:   "football",
		Records: []model.Record{{"id": "1"}},
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					n.PublishTopic("football", update)
				}
			}
		}()
	}

	// publishes racing connect/disconnect cycles must never send on a
	// closed channel
	for i := 0; i < 2000; i++ {
		client := n.registerClient(&fakeConn{}, false)
		n.subscribeClient(client, "football")
		n.removeClient(client.ID)
	}

	close(stop)
	wg.Wait()
}
