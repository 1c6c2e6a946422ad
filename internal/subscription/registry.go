package subscription

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Naeem401/sport-server/internal/model"
)

// timeNow is swappable in tests for deterministic idle stamps.
var timeNow = time.Now

// state tracks one topic's subscribers. lastActiveAt is stamped the moment
// the set becomes empty and cleared again on the next subscribe.
type state struct {
	subscribers  map[string]struct{}
	lastActiveAt time.Time
}

// Registry tracks which subscriber identities are interested in which
// topics. Set membership is the single source of truth for "who currently
// cares"; the scheduler and sweep consult nothing else.
type Registry struct {
	topics map[string]*state
	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		topics: make(map[string]*state),
		logger: log.With().Str("component", "subscriptions").Logger(),
	}
}

// Subscribe adds a subscriber to a topic and reports whether it was the
// topic's first, i.e. the set transitioned from empty to non-empty.
func (r *Registry) Subscribe(topic model.Topic, subscriberID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := topic.String()
	st, ok := r.topics[key]
	if !ok {
		st = &state{subscribers: make(map[string]struct{})}
		r.topics[key] = st
	}

	wasEmpty := len(st.subscribers) == 0
	st.subscribers[subscriberID] = struct{}{}
	st.lastActiveAt = time.Time{}

	r.logger.Debug().
		Str("topic", key).
		Str("subscriber_id", subscriberID).
		Int("subscribers", len(st.subscribers)).
		Msg("Subscriber added")

	return wasEmpty
}

// Unsubscribe removes a subscriber from a topic, stamping lastActiveAt if
// the set became empty.
func (r *Registry) Unsubscribe(topic model.Topic, subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(topic.String(), subscriberID)
}

// OnDisconnect removes the subscriber from every topic it belongs to.
// Topics whose sets became empty are stamped with the disconnect time.
func (r *Registry) OnDisconnect(subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.topics {
		r.removeLocked(key, subscriberID)
	}
}

func (r *Registry) removeLocked(key, subscriberID string) {
	st, ok := r.topics[key]
	if !ok {
		return
	}
	if _, member := st.subscribers[subscriberID]; !member {
		return
	}

	delete(st.subscribers, subscriberID)
	if len(st.subscribers) == 0 {
		st.lastActiveAt = timeNow()
	}

	r.logger.Debug().
		Str("topic", key).
		Str("subscriber_id", subscriberID).
		Int("subscribers", len(st.subscribers)).
		Msg("Subscriber removed")
}

// IsEmpty reports whether a topic currently has no subscribers. Unknown
// topics are empty.
func (r *Registry) IsEmpty(topic model.Topic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.topics[topic.String()]
	return !ok || len(st.subscribers) == 0
}

// Count returns the number of subscribers for a topic.
func (r *Registry) Count(topic model.Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.topics[topic.String()]
	if !ok {
		return 0
	}
	return len(st.subscribers)
}

// MarkInactiveNow stamps a topic's lastActiveAt, treating it as having just
// lost its last subscriber.
func (r *Registry) MarkInactiveNow(topic model.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := topic.String()
	st, ok := r.topics[key]
	if !ok {
		st = &state{subscribers: make(map[string]struct{})}
		r.topics[key] = st
	}
	st.lastActiveAt = timeNow()
}

// IdleFor returns how long a topic's subscriber set has been empty. The
// second result is false while the topic has subscribers or has never had
// its idle stamp set.
func (r *Registry) IdleFor(topic model.Topic) (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.topics[topic.String()]
	if !ok || len(st.subscribers) > 0 || st.lastActiveAt.IsZero() {
		return 0, false
	}
	return timeNow().Sub(st.lastActiveAt), true
}

// SubscribedEventIDs returns the event ids with live event-level
// subscribers for a sport, used for targeted detail broadcasts.
func (r *Registry) SubscribedEventIDs(sport string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for key, st := range r.topics {
		if len(st.subscribers) == 0 {
			continue
		}
		topic := model.ParseTopic(key)
		if topic.Sport == sport && topic.IsEvent() {
			ids = append(ids, topic.EventID)
		}
	}
	return ids
}

// DropIfEmpty removes a topic's state entirely when its set is empty,
// reporting whether it was dropped. The sweep uses this for event-level
// sub-topics, which are created lazily and not kept around.
func (r *Registry) DropIfEmpty(topic model.Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := topic.String()
	st, ok := r.topics[key]
	if !ok {
		return true
	}
	if len(st.subscribers) > 0 {
		return false
	}
	delete(r.topics, key)
	return true
}
