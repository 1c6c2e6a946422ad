package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Naeem401/sport-server/internal/metrics"
	"github.com/Naeem401/sport-server/internal/model"
	"github.com/Naeem401/sport-server/internal/subscription"
)

// Refresher is what a timer tick runs: one fetch-and-broadcast cycle for a
// topic. The broadcast dispatcher implements it.
type Refresher interface {
	RefreshAndBroadcast(ctx context.Context, topic model.Topic)
}

// Config contains refresh scheduler configuration
type Config struct {
	// Interval between refreshes of an active topic
	UpdateInterval time.Duration

	// How often the sweep looks for long-empty topics
	SweepInterval time.Duration

	// How long a topic may sit without subscribers before its timer is
	// disarmed by the sweep
	InactivityTimeout time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		UpdateInterval:    15 * time.Second,
		SweepInterval:     time.Minute,
		InactivityTimeout: 5 * time.Minute,
	}
}

// Scheduler owns one recurring timer per active topic. A topic is Active
// while its timer entry exists and Idle otherwise; Idle is re-enterable.
type Scheduler struct {
	config    Config
	registry  *subscription.Registry
	refresher Refresher

	timers map[string]chan struct{}
	mu     sync.Mutex

	ctx     context.Context
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a refresh scheduler.
func New(config Config, registry *subscription.Registry, refresher Refresher) *Scheduler {
	defaults := DefaultConfig()
	if config.UpdateInterval == 0 {
		config.UpdateInterval = defaults.UpdateInterval
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.InactivityTimeout == 0 {
		config.InactivityTimeout = defaults.InactivityTimeout
	}

	return &Scheduler{
		config:    config,
		registry:  registry,
		refresher: refresher,
		timers:    make(map[string]chan struct{}),
		ctx:       context.Background(),
		logger:    log.With().Str("component", "scheduler").Logger(),
		metrics:   metrics.GetMetrics(),
	}
}

// Start begins the inactivity sweep and anchors the context used by timer
// goroutines.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info().
		Dur("update_interval", s.config.UpdateInterval).
		Dur("inactivity_timeout", s.config.InactivityTimeout).
		Msg("Starting refresh scheduler")

	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	go s.sweepLoop(ctx)
	return nil
}

// TopicActivated transitions a topic Idle -> Active: one immediate
// fetch-and-broadcast, then a recurring timer. Called when a topic gains
// its first subscriber. Re-activating an already-Active topic is a no-op;
// at most one timer exists per topic.
func (s *Scheduler) TopicActivated(topic model.Topic) {
	key := topic.String()

	s.mu.Lock()
	if _, exists := s.timers[key]; exists {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.timers[key] = stop
	ctx := s.ctx
	s.mu.Unlock()

	s.metrics.ActiveTopics.Inc()
	s.logger.Info().Str("topic", key).Msg("Topic activated, arming refresh timer")

	go s.runTimer(ctx, topic, stop)
}

// Active reports whether a topic currently has an armed timer.
func (s *Scheduler) Active(topic model.Topic) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.timers[topic.String()]
	return exists
}

// runTimer is the per-topic refresh loop.
func (s *Scheduler) runTimer(ctx context.Context, topic model.Topic, stop <-chan struct{}) {
	s.refresher.RefreshAndBroadcast(ctx, topic)

	ticker := time.NewTicker(s.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// A tick must never fetch for a topic nobody is watching.
			if s.registry.IsEmpty(topic) {
				s.metrics.SchedulerTicks.WithLabelValues("self_disarm").Inc()
				s.logger.Debug().Str("topic", topic.String()).Msg("Tick with no subscribers, disarming")
				s.deactivate(topic)
				return
			}
			s.metrics.SchedulerTicks.WithLabelValues("refresh").Inc()
			s.refresher.RefreshAndBroadcast(ctx, topic)

		case <-stop:
			return

		case <-ctx.Done():
			return
		}
	}
}

// deactivate transitions a topic Active -> Idle, disarming its timer.
// Safe to call from the sweep and from a self-disarming tick.
func (s *Scheduler) deactivate(topic model.Topic) {
	key := topic.String()

	s.mu.Lock()
	stop, exists := s.timers[key]
	if exists {
		delete(s.timers, key)
		close(stop)
	}
	s.mu.Unlock()

	if exists {
		s.metrics.ActiveTopics.Dec()
	}
}

// sweepLoop periodically demotes topics whose subscriber sets have been
// empty past the inactivity timeout.
func (s *Scheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one inactivity pass.
func (s *Scheduler) Sweep() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.timers))
	for key := range s.timers {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		topic := model.ParseTopic(key)

		idle, ok := s.registry.IdleFor(topic)
		if !ok || idle < s.config.InactivityTimeout {
			continue
		}

		s.deactivate(topic)
		s.metrics.TopicsSweptTotal.Inc()
		s.logger.Info().
			Str("topic", key).
			Dur("idle", idle).
			Msg("Swept inactive topic")

		// event sub-topic states are created lazily and dropped once swept
		if topic.IsEvent() {
			s.registry.DropIfEmpty(topic)
		}
	}
}

// Shutdown disarms every timer.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down refresh scheduler")

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, stop := range s.timers {
		close(stop)
		delete(s.timers, key)
		s.metrics.ActiveTopics.Dec()
	}
	return nil
}
