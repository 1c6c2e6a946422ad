package subscription

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Naeem401/sport-server/internal/model"
)

func TestSubscribeFirstSubscriberSignal(t *testing.T) {
	r := NewRegistry()
	topic := model.NewTopic("football")

	assert.True(t, r.Subscribe(topic, "client-1"), "first subscriber must signal the empty-to-non-empty transition")
	assert.False(t, r.Subscribe(topic, "client-2"))
	assert.False(t, r.Subscribe(topic, "client-1"), "re-subscribing must not signal again")
	assert.Equal(t, 2, r.Count(topic))
}

func TestUnsubscribeStampsIdleOnLastLeave(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	original := timeNow
	timeNow = func() time.Time { return now }
	defer func() { timeNow = original }()

	r := NewRegistry()
	topic := model.NewTopic("football")

	r.Subscribe(topic, "client-1")
	r.Subscribe(topic, "client-2")

	r.Unsubscribe(topic, "client-1")
	_, idle := r.IdleFor(topic)
	assert.False(t, idle, "idle stamp must not be set while subscribers remain")

	r.Unsubscribe(topic, "client-2")
	require.True(t, r.IsEmpty(topic))

	now = now.Add(3 * time.Minute)
	d, idle := r.IdleFor(topic)
	require.True(t, idle)
	assert.Equal(t, 3*time.Minute, d)
}

func TestResubscribeClearsIdleStamp(t *testing.T) {
	r := NewRegistry()
	topic := model.NewTopic("tennis")

	r.Subscribe(topic, "client-1")
	r.Unsubscribe(topic, "client-1")
	_, idle := r.IdleFor(topic)
	require.True(t, idle)

	assert.True(t, r.Subscribe(topic, "client-1"))
	_, idle = r.IdleFor(topic)
	assert.False(t, idle)
}

func TestUnsubscribeUnknown(t *testing.T) {
	r := NewRegistry()
	topic := model.NewTopic("football")

	// neither the topic nor the subscriber exists; both must be no-ops
	r.Unsubscribe(topic, "ghost")

	r.Subscribe(topic, "client-1")
	r.Unsubscribe(topic, "ghost")
	assert.Equal(t, 1, r.Count(topic))
	_, idle := r.IdleFor(topic)
	assert.False(t, idle, "removing a non-member must not stamp the topic idle")
}

func TestOnDisconnectRemovesEverywhere(t *testing.T) {
	r := NewRegistry()
	football := model.NewTopic("football")
	detail := model.NewEventTopic("football", "42")
	tennis := model.NewTopic("tennis")

	r.Subscribe(football, "client-1")
	r.Subscribe(detail, "client-1")
	r.Subscribe(tennis, "client-1")
	r.Subscribe(tennis, "client-2")

	r.OnDisconnect("client-1")

	assert.True(t, r.IsEmpty(football))
	assert.True(t, r.IsEmpty(detail))
	assert.Equal(t, 1, r.Count(tennis))

	_, idle := r.IdleFor(football)
	assert.True(t, idle)
	_, idle = r.IdleFor(tennis)
	assert.False(t, idle)
}

func TestSubscribedEventIDs(t *testing.T) {
	r := NewRegistry()

	r.Subscribe(model.NewTopic("football"), "client-1")
	r.Subscribe(model.NewEventTopic("football", "42"), "client-1")
	r.Subscribe(model.NewEventTopic("football", "77"), "client-2")
	r.Subscribe(model.NewEventTopic("tennis", "9"), "client-3")

	// an event topic whose last subscriber left must not be reported
	r.Subscribe(model.NewEventTopic("football", "100"), "client-4")
	r.Unsubscribe(model.NewEventTopic("football", "100"), "client-4")

	ids := r.SubscribedEventIDs("football")
	sort.Strings(ids)
	assert.Equal(t, []string{"42", "77"}, ids)
	assert.Empty(t, r.SubscribedEventIDs("hockey"))
}

func TestDropIfEmpty(t *testing.T) {
	r := NewRegistry()
	detail := model.NewEventTopic("football", "42")

	assert.True(t, r.DropIfEmpty(detail), "unknown topics drop trivially")

	r.Subscribe(detail, "client-1")
	assert.False(t, r.DropIfEmpty(detail))

	r.Unsubscribe(detail, "client-1")
	assert.True(t, r.DropIfEmpty(detail))

	// dropped state is gone entirely, including the idle stamp
	_, idle := r.IdleFor(detail)
	assert.False(t, idle)
}

func TestMarkInactiveNow(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	original := timeNow
	timeNow = func() time.Time { return now }
	defer func() { timeNow = original }()

	r := NewRegistry()
	topic := model.NewTopic("cricket")

	r.MarkInactiveNow(topic)
	now = now.Add(time.Minute)

	d, idle := r.IdleFor(topic)
	require.True(t, idle)
	assert.Equal(t, time.Minute, d)
}
