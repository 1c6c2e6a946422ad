package dispatcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Naeem401/sport-server/internal/fetcher"
	"github.com/Naeem401/sport-server/internal/metrics"
	"github.com/Naeem401/sport-server/internal/model"
	"github.com/Naeem401/sport-server/internal/subscription"
	"github.com/Naeem401/sport-server/internal/upstream"
)

// Transport is the topic-publish primitive updates are handed to. The
// notifier implements it over WebSocket/SSE connections.
type Transport interface {
	PublishTopic(topic string, update model.Update)
}

// Dispatcher pushes coordinator output to all subscribers of a topic:
// exactly one publish per successful fetch, plus targeted per-event
// publishes for event-level sub-topics with live subscribers.
type Dispatcher struct {
	fetcher   *fetcher.Coordinator
	registry  *subscription.Registry
	transport Transport
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// New creates a broadcast dispatcher.
func New(f *fetcher.Coordinator, registry *subscription.Registry, transport Transport) *Dispatcher {
	return &Dispatcher{
		fetcher:   f,
		registry:  registry,
		transport: transport,
		logger:    log.With().Str("component", "dispatcher").Logger(),
		metrics:   metrics.GetMetrics(),
	}
}

// RefreshAndBroadcast runs one fetch-and-broadcast cycle for a topic. The
// coordinator writes the cache before this returns the payload, so any
// client that reads the cache after receiving the broadcast sees data at
// least as fresh.
func (d *Dispatcher) RefreshAndBroadcast(ctx context.Context, topic model.Topic) {
	records, err := d.fetcher.Resolve(ctx, topic, nil)
	if err != nil {
		// transient outages are expected noise, everything else is not
		evt := d.logger.Error()
		if upstream.IsUnavailable(err) {
			evt = d.logger.Warn()
		}
		evt.Err(err).
			Str("topic", topic.String()).
			Msg("Refresh failed, nothing broadcast")
		return
	}

	kind := "list"
	if topic.IsEvent() {
		kind = "detail"
	}
	d.publish(topic.String(), records, kind)

	if !topic.IsEvent() {
		d.broadcastEventDetails(ctx, topic.Sport, records)
	}
}

// broadcastEventDetails issues one targeted publish per event-level
// sub-topic whose id appears in the just-fetched collection. Full detail
// comes from a second, finer-grained fetch, cached under the same TTL
// policy as any other entry.
func (d *Dispatcher) broadcastEventDetails(ctx context.Context, sport string, records []model.Record) {
	subscribed := d.registry.SubscribedEventIDs(sport)
	if len(subscribed) == 0 {
		return
	}

	byID := make(map[string]model.Record, len(records))
	for _, record := range records {
		if id := record.ID(); id != "" {
			byID[id] = record
		}
	}

	for _, eventID := range subscribed {
		listView, inCollection := byID[eventID]
		if !inCollection {
			continue
		}

		eventTopic := model.NewEventTopic(sport, eventID)
		detail, err := d.fetcher.Resolve(ctx, eventTopic, nil)
		if err != nil {
			// the list view is still current data for this event
			d.logger.Warn().
				Err(err).
				Str("topic", eventTopic.String()).
				Msg("Detail fetch failed, publishing list view")
			detail = []model.Record{listView}
		}

		d.publish(eventTopic.String(), detail, "detail")
	}
}

func (d *Dispatcher) publish(topic string, records []model.Record, kind string) {
	d.transport.PublishTopic(topic, model.Update{
		Topic:     topic,
		Records:   records,
		UpdatedAt: time.Now(),
	})
	d.metrics.BroadcastsTotal.WithLabelValues(kind).Inc()
}
