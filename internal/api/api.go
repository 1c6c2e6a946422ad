package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/Naeem401/sport-server/internal/fetcher"
	"github.com/Naeem401/sport-server/internal/metrics"
	"github.com/Naeem401/sport-server/internal/model"
	"github.com/Naeem401/sport-server/internal/notifier"
	"github.com/Naeem401/sport-server/internal/upstream"
)

// Config contains API configuration
type Config struct {
	// Server address
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// API handles HTTP endpoints
type API struct {
	config   Config
	app      *fiber.App
	fetcher  *fetcher.Coordinator
	notifier *notifier.Notifier
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewAPI creates a new API instance
func NewAPI(config Config, f *fetcher.Coordinator, n *notifier.Notifier) *API {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}

	return &API{
		config:   config,
		fetcher:  f,
		notifier: n,
		logger:   log.With().Str("component", "api").Logger(),
		metrics:  metrics.GetMetrics(),
	}
}

// Start initializes and runs the API server
func (a *API) Start(ctx context.Context) error {
	a.logger.Info().Str("addr", a.config.Addr).Msg("Starting API server")

	app := fiber.New(fiber.Config{
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	a.registerRoutes(app)
	a.app = app

	go func() {
		if err := app.Listen(a.config.Addr); err != nil {
			a.logger.Error().Err(err).Msg("API server error")
		}
	}()

	<-ctx.Done()
	return nil
}

// registerRoutes sets up all API endpoints
func (a *API) registerRoutes(app *fiber.App) {
	app.Use(a.recordRequestMetrics)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	app.Get("/readyz", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
		handler(c.Context())
		return nil
	})

	// dataset endpoints
	app.Get("/api/:sport", a.handleResolve)
	app.Get("/api/:sport/:eventId", a.handleResolveEvent)
	app.Get("/snapshot/:sport", a.handleSnapshot)

	// streaming endpoints
	a.notifier.RegisterWebSocketHandler(app)
	a.notifier.RegisterSSEHandler(app)
}

// recordRequestMetrics observes request counts and latency per route.
func (a *API) recordRequestMetrics(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	route := c.Route().Path
	a.metrics.APIRequestDuration.
		WithLabelValues(c.Method(), route).
		Observe(time.Since(start).Seconds())
	a.metrics.APIRequestsTotal.
		WithLabelValues(c.Method(), route, strconv.Itoa(c.Response().StatusCode())).
		Inc()

	return err
}

// handleResolve serves a sport-level dataset, fetching if the cache is
// stale.
func (a *API) handleResolve(c *fiber.Ctx) error {
	topic := model.NewTopic(c.Params("sport"))

	records, err := a.fetcher.Resolve(c.Context(), topic, c.Queries())
	if err != nil {
		return a.renderError(c, topic, err)
	}

	return c.JSON(fiber.Map{
		"topic":   topic.String(),
		"count":   len(records),
		"records": records,
	})
}

// handleResolveEvent serves a single event's detail.
func (a *API) handleResolveEvent(c *fiber.Ctx) error {
	topic := model.NewEventTopic(c.Params("sport"), c.Params("eventId"))

	records, err := a.fetcher.Resolve(c.Context(), topic, nil)
	if err != nil {
		return a.renderError(c, topic, err)
	}

	return c.JSON(fiber.Map{
		"topic":   topic.String(),
		"count":   len(records),
		"records": records,
	})
}

// handleSnapshot answers from the cache without forcing a fetch.
func (a *API) handleSnapshot(c *fiber.Ctx) error {
	topic := model.NewTopic(c.Params("sport"))

	entry, ok := a.fetcher.Snapshot(topic)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no cached dataset for topic",
			"topic": topic.String(),
		})
	}

	return c.JSON(fiber.Map{
		"topic":      topic.String(),
		"count":      len(entry.Payload),
		"records":    entry.Payload,
		"fetched_at": entry.FetchedAt,
	})
}

// renderError maps the upstream error taxonomy onto HTTP statuses.
func (a *API) renderError(c *fiber.Ctx, topic model.Topic, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, upstream.ErrInvalidTopic):
		status = fiber.StatusNotFound
	case errors.Is(err, upstream.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, upstream.ErrRateLimited):
		status = fiber.StatusServiceUnavailable
	case errors.Is(err, upstream.ErrTimeout):
		status = fiber.StatusGatewayTimeout
	case errors.Is(err, upstream.ErrProviderError), errors.Is(err, upstream.ErrMalformed):
		status = fiber.StatusBadGateway
	}

	a.logger.Error().
		Err(err).
		Str("topic", topic.String()).
		Int("status", status).
		Msg("Request failed")

	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"topic": topic.String(),
	})
}

// Shutdown stops the API server
func (a *API) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down API server")
	if a.app != nil {
		return a.app.ShutdownWithContext(ctx)
	}
	return nil
}
