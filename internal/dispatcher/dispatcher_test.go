package dispatcher

import (
	"context"
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
	"github.com/Naeem401/sport-server/internal/upstream"
)

// fakeTransport records every publish.
type fakeTransport struct {
	mu      sync.Mutex
	updates []model.Update
}

func (f *fakeTransport) PublishTopic(_ string, update model.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
}

func (f *fakeTransport) published() []model.Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Update(nil), f.updates...)
}

// fakeUpstream serves scripted payloads keyed by topic string.
type fakeUpstream struct {
	payloads map[string][]model.Record
	errors   map[string]error
}

func (f *fakeUpstream) Fetch(_ context.Context, topic model.Topic, _ map[string]string) ([]model.Record, error) {
	if err, ok := f.errors[topic.String()]; ok {
		return nil, err
	}
	return f.payloads[topic.String()], nil
}

func newTestDispatcher(t *testing.T, client upstream.Client, registry *subscription.Registry) (*Dispatcher, *fakeTransport) {
	t.Helper()
	c, err := cache.New(cache.DefaultConfig())
	require.NoError(t, err)
	f := fetcher.New(fetcher.Config{TTL: time.Minute}, c, client)
	transport := &fakeTransport{}
	return New(f, registry, transport), transport
}

func TestRefreshAndBroadcastPublishesOnce(t *testing.T) {
	client := &fakeUpstream{payloads: map[string][]model.Record{
		"football": {{"id": "1"}, {"id": "2"}},
	}}
	registry := subscription.NewRegistry()
	d, transport := newTestDispatcher(t, client, registry)

	d.RefreshAndBroadcast(context.Background(), model.NewTopic("football"))

	updates := transport.published()
	require.Len(t, updates, 1)
	assert.Equal(t, "football", updates[0].Topic)
	assert.Len(t, updates[0].Records, 2)
	assert.False(t, updates[0].UpdatedAt.IsZero())
}

func TestRefreshFailurePublishesNothing(t *testing.T) {
	client := &fakeUpstream{errors: map[string]error{
		"football": fmt.Errorf("%w: down", upstream.ErrTimeout),
	}}
	registry := subscription.NewRegistry()
	d, transport := newTestDispatcher(t, client, registry)

	d.RefreshAndBroadcast(context.Background(), model.NewTopic("football"))

	assert.Empty(t, transport.published())
}

func TestEventSubscribersGetTargetedDetail(t *testing.T) {
	client := &fakeUpstream{payloads: map[string][]model.Record{
		"football":    {{"id": "1"}, {"id": "2"}, {"id": "3"}},
		"football:2":  {{"id": "2", "score": "1-0", "minute": float64(71)}},
		"football:99": {{"id": "99"}},
	}}
	registry := subscription.NewRegistry()
	registry.Subscribe(model.NewEventTopic("football", "2"), "client-a")
	// subscribed but absent from the fetched collection: no publish for it
	registry.Subscribe(model.NewEventTopic("football", "99"), "client-b")

	d, transport := newTestDispatcher(t, client, registry)
	d.RefreshAndBroadcast(context.Background(), model.NewTopic("football"))

	updates := transport.published()
	require.Len(t, updates, 2)
	assert.Equal(t, "football", updates[0].Topic)

	assert.Equal(t, "football:2", updates[1].Topic)
	require.Len(t, updates[1].Records, 1)
	assert.Equal(t, "1-0", updates[1].Records[0]["score"])
}

func TestDetailFetchFailureFallsBackToListView(t *testing.T) {
	client := &fakeUpstream{
		payloads: map[string][]model.Record{
			"football": {{"id": "7", "status": "live"}},
		},
		errors: map[string]error{
			"football:7": fmt.Errorf("%w: down", upstream.ErrTimeout),
		},
	}
	registry := subscription.NewRegistry()
	registry.Subscribe(model.NewEventTopic("football", "7"), "client-a")

	d, transport := newTestDispatcher(t, client, registry)
	d.RefreshAndBroadcast(context.Background(), model.NewTopic("football"))

	updates := transport.published()
	require.Len(t, updates, 2)

	// the event subscriber still gets the record from the list fetch
	assert.Equal(t, "football:7", updates[1].Topic)
	require.Len(t, updates[1].Records, 1)
	assert.Equal(t, "live", updates[1].Records[0]["status"])
}

func TestEventTopicRefreshPublishesDetailOnly(t *testing.T) {
	client := &fakeUpstream{payloads: map[string][]model.Record{
		"football:5": {{"id": "5"}},
	}}
	registry := subscription.NewRegistry()
	registry.Subscribe(model.NewEventTopic("football", "5"), "client-a")

	d, transport := newTestDispatcher(t, client, registry)
	d.RefreshAndBroadcast(context.Background(), model.NewEventTopic("football", "5"))

	updates := transport.published()
	require.Len(t, updates, 1)
	assert.Equal(t, "football:5", updates[0].Topic)
}

func TestNoEventSubscribersNoDetailFetch(t *testing.T) {
	client := &fakeUpstream{payloads: map[string][]model.Record{
		"football": {{"id": "1"}},
	}}
	registry := subscription.NewRegistry()
	registry.Subscribe(model.NewTopic("football"), "client-a")

	d, transport := newTestDispatcher(t, client, registry)
	d.RefreshAndBroadcast(context.Background(), model.NewTopic("football"))

	require.Len(t, transport.published(), 1)
}
