package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Naeem401/sport-server/internal/api"
	"github.com/Naeem401/sport-server/internal/cache"
	"github.com/Naeem401/sport-server/internal/config"
	"github.com/Naeem401/sport-server/internal/dispatcher"
	"github.com/Naeem401/sport-server/internal/fetcher"
	"github.com/Naeem401/sport-server/internal/logging"
	"github.com/Naeem401/sport-server/internal/metrics"
	"github.com/Naeem401/sport-server/internal/notifier"
	"github.com/Naeem401/sport-server/internal/scheduler"
	"github.com/Naeem401/sport-server/internal/subscription"
	"github.com/Naeem401/sport-server/internal/telemetry"
	"github.com/Naeem401/sport-server/internal/upstream"
)

// Engine is the main coordinator of all sport-server components. All
// shared state (cache, registry, timers) hangs off this one owned object,
// so isolated instances can be built in tests.
type Engine struct {
	config *config.Config

	cache      *cache.Cache
	upstream   upstream.Client
	fetcher    *fetcher.Coordinator
	registry   *subscription.Registry
	notifier   *notifier.Notifier
	dispatcher *dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	api        *api.API

	logger      zerolog.Logger
	metrics     *metrics.Metrics
	telemetryFn func(context.Context) error
}

// New builds an engine with all components wired from the given config.
func New(cfg *config.Config) (*Engine, error) {
	c, err := cache.New(cfg.ToCacheConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	client := upstream.NewHTTPClient(cfg.ToUpstreamConfig())
	f := fetcher.New(cfg.ToFetcherConfig(), c, client)
	registry := subscription.NewRegistry()

	n := notifier.NewNotifier(cfg.ToNotifierConfig(), registry, f)
	d := dispatcher.New(f, registry, n)
	s := scheduler.New(cfg.ToSchedulerConfig(), registry, d)

	// the refresh path runs scheduler -> dispatcher -> notifier, so the
	// notifier learns about the scheduler after construction
	n.SetActivator(s)

	a := api.NewAPI(cfg.ToAPIConfig(), f, n)

	return &Engine{
		config:     cfg,
		cache:      c,
		upstream:   client,
		fetcher:    f,
		registry:   registry,
		notifier:   n,
		dispatcher: d,
		scheduler:  s,
		api:        a,
		logger:     log.With().Str("component", "engine").Logger(),
		metrics:    metrics.GetMetrics(),
	}, nil
}

// Start initializes and runs all components until ctx is canceled.
func (e *Engine) Start(ctx context.Context) error {
	// Structured logging first so every component logs consistently
	loggingConfig := logging.DefaultConfig()
	loggingConfig.Level = logging.LogLevel(e.config.Logging.Level)
	loggingConfig.Format = logging.LogFormat(e.config.Logging.Format)
	loggingConfig.IncludeCaller = e.config.Logging.IncludeCaller
	loggingConfig.GlobalFields = e.config.Logging.GlobalFields
	if err := logging.Setup(loggingConfig); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	ctx = log.Logger.WithContext(ctx)

	e.logger.Info().Msg("Starting sport server engine")

	telConfig := telemetry.DefaultConfig()
	telConfig.Enabled = e.config.Telemetry.Enabled
	telConfig.ServiceName = e.config.Telemetry.ServiceName
	telConfig.Endpoint = e.config.Telemetry.Endpoint
	telConfig.SamplingRatio = e.config.Telemetry.SamplingRatio
	telConfig.Attributes = e.config.Telemetry.Attributes

	telShutdown, err := telemetry.Setup(ctx, telConfig)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to set up telemetry, continuing without it")
	} else {
		e.telemetryFn = telShutdown
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.notifier.Start(ctx)
	})

	g.Go(func() error {
		return e.scheduler.Start(ctx)
	})

	g.Go(func() error {
		return e.api.Start(ctx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("error running engine: %w", err)
	}

	e.logger.Info().Msg("Sport server engine shut down successfully")
	return nil
}

// Shutdown stops the engine: the API first so no new work arrives, then
// the refresh timers, then subscriber connections.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info().Msg("Shutting down sport server engine")

	if err := e.api.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down API")
	}

	if err := e.scheduler.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down scheduler")
	}

	if err := e.notifier.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down notifier")
	}

	if e.telemetryFn != nil {
		if err := e.telemetryFn(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Failed to shut down telemetry")
		}
	}

	return nil
}
